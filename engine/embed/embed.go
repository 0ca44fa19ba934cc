// Package embed wraps an embedding backend with lazy warm-up, batching, and
// operational metrics. One Service instance owns one model.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/net4cleanair/litreview/engine/domain"
	"github.com/net4cleanair/litreview/pkg/metrics"
)

// DefaultBatchSize is the number of texts sent to the backend per request.
const DefaultBatchSize = 32

// canary is encoded once at warm-up so a backend that cannot actually run
// fails on the first call instead of mid-upload.
const canary = "warmup"

// Encoder is the embedding backend capability.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// Service computes embeddings through an Encoder. The backend is warmed up
// once, on first use; the warm-up is mutex-guarded so concurrent first
// callers trigger it at most once, and a failed warm-up is retried on the
// next call.
type Service struct {
	encoder   Encoder
	model     string
	batchSize int
	logger    *slog.Logger

	mu    sync.Mutex
	ready bool
	dims  int

	requests   *metrics.Counter
	errors     *metrics.Counter
	duration   *metrics.Histogram
	inProgress *metrics.Gauge
}

// Option configures a Service.
type Option func(*Service)

// WithBatchSize overrides the backend batch size.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service for the given backend and model name. Metrics are
// registered on reg, keyed by model name.
func New(encoder Encoder, model string, reg *metrics.Registry, opts ...Option) *Service {
	s := &Service{
		encoder:   encoder,
		model:     model,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),

		requests:   reg.Counter(metrics.WithLabels("embedder_requests_total", "model_name", model), "Total number of embedding requests"),
		errors:     reg.Counter(metrics.WithLabels("embedder_errors_total", "model_name", model), "Total number of embedding errors"),
		duration:   reg.Histogram(metrics.WithLabels("embedder_duration_seconds", "model_name", model), "Time spent generating embeddings", nil),
		inProgress: reg.Gauge(metrics.WithLabels("embedder_in_progress", "model_name", model), "Embedding operations currently running"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the model name the service embeds with.
func (s *Service) Model() string { return s.model }

// Dimensions returns the embedding dimensionality, or 0 before warm-up.
func (s *Service) Dimensions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dims
}

// ensureReady performs the one-time warm-up encode of the canary string.
func (s *Service) ensureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	s.logger.Info("warming up embedding model", "model", s.model)
	vecs, err := s.encoder.Encode(ctx, []string{canary})
	if err != nil {
		return fmt.Errorf("embed: warm up model %s: %v: %w", s.model, err, domain.ErrEmbedding)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return fmt.Errorf("embed: warm up model %s: empty canary vector: %w", s.model, domain.ErrEmbedding)
	}
	s.dims = len(vecs[0])
	s.ready = true
	s.logger.Info("embedding model ready", "model", s.model, "dims", s.dims)
	return nil
}

// Embed computes one vector per input text, preserving order. On error no
// partial result is returned. The request counter and duration histogram
// fire exactly once per call; the in-progress gauge brackets the call.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.requests.Inc()
	s.inProgress.Inc()
	start := time.Now()
	defer func() {
		s.inProgress.Dec()
		s.duration.Since(start)
	}()

	vecs, err := s.embed(ctx, texts)
	if err != nil {
		s.errors.Inc()
		return nil, err
	}
	return vecs, nil
}

func (s *Service) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := s.encoder.Encode(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed: batch at %d: %v: %w", start, err, domain.ErrEmbedding)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embed: batch at %d: got %d vectors for %d texts: %w", start, len(vecs), end-start, domain.ErrEmbedding)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedOne embeds a single text, typically a query.
func (s *Service) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
