// Package ingest assembles the indexing pipeline: CSV normalization,
// document embedding, and vector-store upsert. Stages run sequentially
// within one call; there is no internal parallelism or retry.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/net4cleanair/litreview/engine/dataset"
	"github.com/net4cleanair/litreview/engine/domain"
	"github.com/net4cleanair/litreview/engine/semantic"
	"github.com/net4cleanair/litreview/pkg/fn"
)

const (
	// Subject is the NATS subject for incoming ingest jobs.
	Subject = "litreview.ingest"
	// DLQSubject receives jobs that failed MaxRetries times.
	DLQSubject = "litreview.ingest.dlq"
	// MaxRetries before a job is dead-lettered.
	MaxRetries = 3
)

// Embedder turns documents into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the store surface the pipeline writes to.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, dims int) error
	Upsert(ctx context.Context, points []semantic.Point) error
}

// Deps holds the external dependencies of the pipeline.
type Deps struct {
	Embedder Embedder
	Store    VectorIndex
	Logger   *slog.Logger
}

// Normalize parses an upload into records.
var Normalize fn.Stage[Upload, []domain.Record] = func(_ context.Context, up Upload) fn.Result[[]domain.Record] {
	records, err := dataset.NewLoader(up.CSV, up.Encoding).Load()
	if err != nil {
		return fn.Err[[]domain.Record](err)
	}
	return fn.Ok(records)
}

// NewEmbed creates the embedding stage. The output vectors are one-to-one
// and in order with the input records.
func NewEmbed(embedder Embedder) fn.Stage[[]domain.Record, embeddedSet] {
	return func(ctx context.Context, records []domain.Record) fn.Result[embeddedSet] {
		if len(records) == 0 {
			return fn.Ok(embeddedSet{})
		}
		vectors, err := embedder.Embed(ctx, dataset.Documents(records))
		if err != nil {
			return fn.Err[embeddedSet](err)
		}
		return fn.Ok(embeddedSet{Records: records, Vectors: vectors})
	}
}

// NewStore creates the storage stage. The collection dimensionality is taken
// from the first embedding of the batch; it is not re-validated against an
// existing collection.
func NewStore(store VectorIndex) fn.Stage[embeddedSet, int] {
	return func(ctx context.Context, set embeddedSet) fn.Result[int] {
		if len(set.Records) == 0 {
			return fn.Ok(0)
		}
		if err := store.EnsureCollection(ctx, len(set.Vectors[0])); err != nil {
			return fn.Err[int](err)
		}

		points := make([]semantic.Point, len(set.Records))
		for i, r := range set.Records {
			points[i] = semantic.Point{
				ID:      r.ID,
				Vector:  set.Vectors[i],
				Payload: r.Payload,
			}
		}
		if err := store.Upsert(ctx, points); err != nil {
			return fn.Err[int](err)
		}
		return fn.Ok(len(points))
	}
}

// NewPipeline wires normalize, embed, and store into one traced stage that
// returns the number of indexed records.
func NewPipeline(deps Deps) fn.Stage[Upload, int] {
	normalized := fn.TracedStage("ingest.normalize", Normalize)
	embedded := fn.TracedStage("ingest.embed", NewEmbed(deps.Embedder))
	stored := fn.TracedStage("ingest.store", NewStore(deps.Store))
	return fn.Then(fn.Then(normalized, embedded), stored)
}

// dlqMessage is published to the DLQ after repeated failure.
type dlqMessage struct {
	Job     Job    `json:"job"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// StartConsumer subscribes to the ingest subject and runs each job through
// the pipeline. A failed job is re-published with an incremented retry
// header; after MaxRetries it is dead-lettered. Re-running a partially
// committed job is safe because upsert is idempotent by id.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(Subject, func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Error("ingest: unmarshal job failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		result := pipeline(context.Background(), job.Upload)
		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			retries++
			log.Error("ingest: pipeline failed", "error", pipeErr, "name", job.Name, "retry", retries)

			if retries >= MaxRetries {
				dlq := dlqMessage{Job: job, Error: pipeErr.Error(), Retries: retries}
				data, _ := json.Marshal(dlq)
				if err := nc.Publish(DLQSubject, data); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
				return
			}

			retryMsg := nats.NewMsg(Subject)
			retryMsg.Data = msg.Data
			retryMsg.Header = nats.Header{}
			retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
			if err := nc.PublishMsg(retryMsg); err != nil {
				log.Error("ingest: retry publish failed", "error", err)
			}
			return
		}

		count, _ := result.Unwrap()
		log.Info("ingest: job done", "name", job.Name, "indexed", count)
	})
}
