package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"runtime"

	"github.com/m-lab/bq-export-pipeline/config"
	"github.com/m-lab/bq-export-pipeline/exporter"
	"github.com/m-lab/bq-export-pipeline/formatter"
	"github.com/m-lab/bq-export-pipeline/output"
	"github.com/m-lab/bq-export-pipeline/pipeline"
	"github.com/m-lab/bq-export-pipeline/replicator"
	"github.com/m-lab/bq-export-pipeline/session"
	"github.com/m-lab/bq-export-pipeline/warehouse"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
)

var (
	conf       = config.Default()
	listenAddr string

	configFile = flagx.File{}
	mainCtx    = context.Background()
)

func init() {
	flag.StringVar(&listenAddr, "listenaddr", "",
		"Address to serve /v0/pipeline on. If empty, run once and exit")
	flag.Var(&configFile, "config", "JSON configuration file, overrides flags")

	flag.StringVar(&conf.AppName, "app", conf.AppName, "Application name")
	flag.StringVar(&conf.Project, "project", conf.Project, "GCP Project ID to use")
	flag.StringVar(&conf.TableID, "table", conf.TableID,
		"Source table (project.dataset.table)")
	flag.StringVar(&conf.FilterField, "filter.field", conf.FilterField,
		"Column rows are filtered on")
	flag.StringVar(&conf.FilterValue, "filter.value", conf.FilterValue,
		"Value the filter column must have")
	flag.StringVar(&conf.SourceBucket, "source.bucket", conf.SourceBucket,
		"GCS bucket shards are written to and replicated from")
	flag.StringVar(&conf.DestBucket, "dest.bucket", conf.DestBucket,
		"GCS bucket shards are replicated to")
	flag.StringVar(&conf.OutputPath, "output", conf.OutputPath,
		"Output path (gs://, s3://, file:// or a local directory)")
	flag.IntVar(&conf.Partitions, "partitions", conf.Partitions, "Number of shards")
	flag.StringVar(&conf.Suffix, "suffix", conf.Suffix,
		"Only objects whose name contains this are replicated")
	flag.StringVar(&conf.Codec, "codec", conf.Codec, "Compression codec (gzip, none)")
	flag.BoolVar(&conf.Header, "header", conf.Header, "Write a header line in every shard")
}

func makeHTTPServer(listenAddr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:    listenAddr,
		Handler: h,
	}
}

func main() {
	flag.Parse()
	log.SetFlags(log.LUTC | log.Lshortfile | log.LstdFlags)
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")

	// Try parsing provided config file.
	if len(configFile.Get()) > 0 {
		err := json.Unmarshal(configFile.Get(), &conf)
		rtx.Must(err, "cannot parse configuration file")
	}
	rtx.Must(conf.Validate(), "invalid configuration")

	sess, err := session.New(mainCtx, conf.AppName, conf.Project)
	rtx.Must(err, "cannot create session")
	defer sess.Close()

	loc, err := config.ParseLocation(conf.OutputPath)
	rtx.Must(err, "invalid output path")
	out, err := output.NewWriter(mainCtx, loc, sess.Storage)
	rtx.Must(err, "cannot create output writer")
	codec, err := formatter.GetCodec(conf.Codec)
	rtx.Must(err, "cannot create codec")

	p := pipeline.New(conf,
		warehouse.NewReader(sess.BigQuery),
		exporter.New(out, conf.OutputPath, formatter.NewCSVFormatter(conf.Header), codec),
		replicator.New(sess.Storage))

	if listenAddr == "" {
		_, err := p.Run(mainCtx)
		rtx.Must(err, "pipeline failed")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/v0/pipeline", pipeline.NewHandler(p))

	log.Printf("GOMAXPROCS is %d", runtime.GOMAXPROCS(0))

	// Start main HTTP server.
	s := makeHTTPServer(listenAddr, mux)
	rtx.Must(httpx.ListenAndServeAsync(s), "Could not start HTTP server")
	defer s.Close()

	// Start Prometheus server for monitoring.
	promServer := prometheusx.MustServeMetrics()
	defer promServer.Close()

	// Keep serving until the context is canceled.
	<-mainCtx.Done()
}
