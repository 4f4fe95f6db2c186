package pipeline

import "errors"

var (
	errAlreadyRunning   = errors.New("the pipeline is running already")
	errMethodNotAllowed = errors.New("method not allowed")
)
