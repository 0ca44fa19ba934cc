// Package main implements the literature review API server: CSV upload and
// indexing, semantic search, and retrieval-augmented chat.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/net4cleanair/litreview/engine/domain"
	"github.com/net4cleanair/litreview/engine/embed"
	"github.com/net4cleanair/litreview/engine/history"
	"github.com/net4cleanair/litreview/engine/ingest"
	"github.com/net4cleanair/litreview/engine/rag"
	"github.com/net4cleanair/litreview/engine/semantic"
	"github.com/net4cleanair/litreview/pkg/fn"
	"github.com/net4cleanair/litreview/pkg/metrics"
	"github.com/net4cleanair/litreview/pkg/mid"
	"github.com/net4cleanair/litreview/pkg/ollama"
)

const (
	defaultTopK     = 5
	maxUploadBytes  = 32 << 20
	historyTokens   = 2048
	historyMessages = 20
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	OllamaURL  string
	EmbedModel string
	ChatModel  string
	QdrantURL  string
	Collection string
	RedisAddr  string
	CORSOrigin string
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		OllamaURL:  envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel: envOr("EMBED_MODEL", "all-minilm"),
		ChatModel:  envOr("CHAT_MODEL", "llama3.1:8b"),
		QdrantURL:  envOr("QDRANT_URL", "localhost:6334"),
		Collection: envOr("QDRANT_COLLECTION", "papers_poc"),
		RedisAddr:  envOr("REDIS_ADDR", ""),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// app bundles the wired services for the handlers.
type app struct {
	pipeline fn.Stage[ingest.Upload, int]
	embedder *embed.Service
	store    *semantic.VectorStore
	answerer *rag.Service
	history  history.Store
	met      *metrics.Registry
	logger   *slog.Logger

	upserts       *metrics.Counter
	searches      *metrics.Counter
	searchLatency *metrics.Histogram
	upsertLatency *metrics.Histogram
	chatRequests  *metrics.Counter
	chatLatency   *metrics.Histogram
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New()

	// --- Connect to Qdrant ---
	store, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	// --- Embedding and chat backends ---
	embedder := embed.New(ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel), cfg.EmbedModel, met,
		embed.WithLogger(logger))
	chatter := ollama.NewChatClient(cfg.OllamaURL, cfg.ChatModel)

	// --- Conversation history ---
	var hist history.Store = history.NewMemoryStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		hist = history.NewRedisStore(client, 0)
		logger.Info("using redis conversation history", "addr", cfg.RedisAddr)
	}

	a := &app{
		pipeline: ingest.NewPipeline(ingest.Deps{Embedder: embedder, Store: store, Logger: logger}),
		embedder: embedder,
		store:    store,
		answerer: rag.New(embedder, store, chatter, rag.DefaultOptions(), logger),
		history:  hist,
		met:      met,
		logger:   logger,

		upserts:       met.Counter("qdrant_upsert_total", "Total number of points upserted into Qdrant"),
		searches:      met.Counter("qdrant_search_total", "Total number of search queries to Qdrant"),
		searchLatency: met.Histogram("qdrant_search_latency_seconds", "Latency of Qdrant search queries in seconds", nil),
		upsertLatency: met.Histogram("qdrant_upsert_latency_seconds", "Latency of upsert operations in seconds", nil),
		chatRequests:  met.Counter(metrics.WithLabels("chatservice_requests_total", "model", cfg.ChatModel), "Total number of chat questions received"),
		chatLatency:   met.Histogram(metrics.WithLabels("chatservice_request_duration_seconds", "model", cfg.ChatModel), "Time taken to process a chat question end-to-end", nil),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/upload", a.handleUpload)
	mux.HandleFunc("POST /api/search", a.handleSearch)
	mux.HandleFunc("POST /api/chat", a.handleChat)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.Trace("litreview-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "collection", cfg.Collection)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *app) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("csv_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file part")
		return
	}
	defer file.Close()

	if err := domain.ValidateUpload(header.Filename, header.Size); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read upload failed")
		return
	}

	start := time.Now()
	result := a.pipeline(r.Context(), ingest.Upload{
		Name:     header.Filename,
		Encoding: r.FormValue("encoding"),
		CSV:      data,
	})
	count, err := result.Unwrap()
	if err != nil {
		a.logger.Error("upload processing failed", "file", header.Filename, "err", err)
		writeError(w, statusFor(err), fmt.Sprintf("error processing file: %v", err))
		return
	}
	a.upserts.Add(int64(count))
	a.upsertLatency.Since(start)

	a.logger.Info("indexed upload", "file", header.Filename, "rows", count)
	writeJSON(w, http.StatusOK, map[string]any{"indexed": count})
}

type searchRequest struct {
	Query string          `json:"query"`
	TopK  json.RawMessage `json:"top_k"`
}

func (a *app) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.ValidateQuestion(req.Query); err != nil {
		writeError(w, http.StatusBadRequest, "please enter a query")
		return
	}
	topK := parseTopK(req.TopK, a.logger)

	vector, err := a.embedder.EmbedOne(r.Context(), req.Query)
	if err != nil {
		a.logger.Error("search embed failed", "err", err)
		writeError(w, http.StatusInternalServerError, "embedding failed")
		return
	}

	a.searches.Inc()
	start := time.Now()
	hits, err := a.store.Search(r.Context(), vector, topK, true)
	a.searchLatency.Since(start)
	if err != nil {
		a.logger.Error("search failed", "err", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": hits,
		"top_k":   topK,
	})
}

type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

func (a *app) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.ValidateQuestion(req.Question); err != nil {
		writeError(w, http.StatusBadRequest, "question required")
		return
	}

	a.chatRequests.Inc()
	start := time.Now()
	answer, err := a.answerer.Answer(r.Context(), req.Question)
	a.chatLatency.Since(start)
	if err != nil {
		a.logger.Error("chat failed", "err", err)
		writeError(w, statusFor(err), "answer failed")
		return
	}

	if req.SessionID != "" {
		ctx := r.Context()
		if err := a.history.Append(ctx, req.SessionID, history.NewMessage("user", req.Question)); err != nil {
			a.logger.Warn("history append failed", "err", err)
		} else if err := a.history.Append(ctx, req.SessionID, history.NewMessage("assistant", answer.Text)); err != nil {
			a.logger.Warn("history append failed", "err", err)
		}
	}

	writeJSON(w, http.StatusOK, answer)
}

func (a *app) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	msgs, err := a.history.Load(r.Context(), sessionID)
	if err != nil {
		a.logger.Error("history load failed", "err", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": history.Truncate(msgs, historyTokens, historyMessages),
	})
}

// parseTopK coerces the requested top_k, falling back to the default on
// anything non-numeric and clamping to at least 1.
func parseTopK(raw json.RawMessage, logger *slog.Logger) int {
	if len(raw) == 0 {
		return defaultTopK
	}

	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			logger.Warn("invalid top_k value, using default", "raw", string(raw))
			return defaultTopK
		}
		parsed, err := strconv.Atoi(s)
		if err != nil {
			logger.Warn("invalid top_k value, using default", "raw", s)
			return defaultTopK
		}
		n = parsed
	}
	if n < 1 {
		return 1
	}
	return n
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case isAny(err, domain.ErrMalformedInput, domain.ErrInvalidUpload, domain.ErrInvalidQuestion):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
