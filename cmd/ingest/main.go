// Command ingest indexes research-paper CSVs into Qdrant. It can index a
// file directly, run as a NATS consumer for asynchronous ingest jobs, or
// publish a file as a job for a running consumer.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/net4cleanair/litreview/engine/embed"
	"github.com/net4cleanair/litreview/engine/ingest"
	"github.com/net4cleanair/litreview/engine/semantic"
	"github.com/net4cleanair/litreview/pkg/metrics"
	"github.com/net4cleanair/litreview/pkg/natsutil"
	"github.com/net4cleanair/litreview/pkg/ollama"
)

var met = metrics.New()

var (
	mJobsTotal   = met.Counter("litreview_ingest_jobs_total", "Ingest jobs processed")
	mRowsTotal   = met.Counter("litreview_ingest_rows_total", "Rows indexed")
	mErrorsTotal = met.Counter("litreview_ingest_errors_total", "Ingest errors")
	mJobDur      = met.Histogram("litreview_ingest_job_duration_seconds", "Per-job pipeline time", nil)
)

func main() {
	var (
		file        = flag.String("file", "", "CSV file to index directly")
		encoding    = flag.String("encoding", "utf-8", "CSV encoding (utf-8 or latin-1)")
		publish     = flag.String("publish", "", "CSV file to publish as an ingest job")
		serve       = flag.Bool("serve", false, "run as a NATS ingest consumer")
		natsURL     = flag.String("nats", nats.DefaultURL, "NATS server URL")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		embedModel  = flag.String("model", "all-minilm", "embedding model name")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "papers_poc", "Qdrant collection name")
		metricsPort = flag.Int("metrics-port", 9091, "metrics server port in serve mode")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case *publish != "":
		if err := publishJob(ctx, *natsURL, *publish, *encoding); err != nil {
			logger.Error("publish failed", "error", err)
			os.Exit(1)
		}
		logger.Info("job published", "file", *publish)

	case *file != "":
		deps := connect(ctx, *qdrantAddr, *collection, *ollamaURL, *embedModel, logger)
		defer deps.close()
		if err := indexFile(ctx, deps, *file, *encoding, logger); err != nil {
			logger.Error("indexing failed", "error", err)
			os.Exit(1)
		}

	case *serve:
		deps := connect(ctx, *qdrantAddr, *collection, *ollamaURL, *embedModel, logger)
		defer deps.close()
		if err := serveConsumer(ctx, deps, *natsURL, *metricsPort, logger); err != nil {
			logger.Error("consumer failed", "error", err)
			os.Exit(1)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

type wired struct {
	store    *semantic.VectorStore
	embedder *embed.Service
}

func (w wired) close() {
	w.store.Close()
}

func connect(ctx context.Context, qdrantAddr, collection, ollamaURL, embedModel string, logger *slog.Logger) wired {
	store, err := semantic.New(qdrantAddr, collection)
	if err != nil {
		logger.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to qdrant", "collection", collection)

	embedder := embed.New(ollama.NewEmbedClient(ollamaURL, embedModel), embedModel, met,
		embed.WithLogger(logger))
	return wired{store: store, embedder: embedder}
}

func indexFile(ctx context.Context, deps wired, path, encoding string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	pipeline := ingest.NewPipeline(ingest.Deps{
		Embedder: deps.embedder,
		Store:    deps.store,
		Logger:   logger,
	})

	start := time.Now()
	result := pipeline(ctx, ingest.Upload{
		Name:     filepath.Base(path),
		Encoding: encoding,
		CSV:      data,
	})
	mJobDur.Since(start)

	count, err := result.Unwrap()
	if err != nil {
		mErrorsTotal.Inc()
		return err
	}
	mJobsTotal.Inc()
	mRowsTotal.Add(int64(count))
	logger.Info("indexed file", "file", path, "rows", count, "took", time.Since(start))
	return nil
}

func publishJob(ctx context.Context, natsURL, path, encoding string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	return natsutil.Publish(ctx, nc, ingest.Subject, ingest.Job{
		Upload: ingest.Upload{
			Name:     filepath.Base(path),
			Encoding: encoding,
			CSV:      data,
		},
	})
}

func serveConsumer(ctx context.Context, deps wired, natsURL string, metricsPort int, logger *slog.Logger) error {
	met.ServeAsync(metricsPort)

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	sub, err := ingest.StartConsumer(nc, ingest.Deps{
		Embedder: deps.embedder,
		Store:    deps.store,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	logger.Info("ingest consumer running", "subject", ingest.Subject, "nats", natsURL)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
