package pipeline

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
)

// Runner runs the pipeline once.
type Runner interface {
	Run(ctx context.Context) (*Summary, error)
}

type pipelineResult struct {
	CompletedSteps []pipelineStep `json:"completed_steps"`
	Errors         []string       `json:"errors"`
}

// Handler triggers pipeline runs over HTTP.
type Handler struct {
	runner Runner

	// pipelineCanRun holds a token while no run is in progress.
	pipelineCanRun chan struct{}
}

// NewHandler returns a Handler running the given pipeline.
func NewHandler(runner Runner) *Handler {
	h := &Handler{
		runner:         runner,
		pipelineCanRun: make(chan struct{}, 1),
	}
	h.pipelineCanRun <- struct{}{}
	return h
}

// ServeHTTP handles requests to the /v0/pipeline endpoint.
// This endpoint runs the entire export pipeline: the source table is read,
// filtered and deduplicated, written to the output path and replicated to
// the destination bucket.
//
// Only one run can happen at a time; concurrent requests get a 409.
// This endpoint accepts only POST requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendResponse(w, http.StatusMethodNotAllowed, &pipelineResult{
			CompletedSteps: []pipelineStep{},
			Errors:         []string{errMethodNotAllowed.Error()},
		})
		return
	}

	select {
	case <-h.pipelineCanRun:
		defer func() { h.pipelineCanRun <- struct{}{} }()
	default:
		sendResponse(w, http.StatusConflict, &pipelineResult{
			CompletedSteps: []pipelineStep{},
			Errors:         []string{errAlreadyRunning.Error()},
		})
		return
	}

	result := &pipelineResult{
		CompletedSteps: []pipelineStep{},
		Errors:         []string{},
	}
	summary, err := h.runner.Run(r.Context())
	if summary != nil {
		result.CompletedSteps = summary.CompletedSteps
	}
	status := http.StatusOK
	if err != nil {
		log.Printf("Error: pipeline run failed: %v", err)
		result.Errors = append(result.Errors, err.Error())
		status = http.StatusInternalServerError
	}
	sendResponse(w, status, result)
}

func sendResponse(w http.ResponseWriter, status int, result *pipelineResult) {
	b, err := json.Marshal(result)
	if err != nil {
		log.Printf("Error: cannot marshal response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
