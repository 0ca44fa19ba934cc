// Package rag orchestrates the retrieval-augmented answer pipeline: embed
// the question, search the vector store, format the retrieved papers into a
// context block, and ask the LLM for an answer grounded in that context.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/net4cleanair/litreview/engine/domain"
	"github.com/net4cleanair/litreview/engine/semantic"
)

// Embedder turns a question into a query vector.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Searcher abstracts vector similarity search.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, withPayload bool) ([]semantic.SearchHit, error)
}

// Chatter is the LLM chat-completion capability.
type Chatter interface {
	Chat(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// Options configures the answer pipeline.
type Options struct {
	TopK         int
	MaxTokens    int
	SystemPrompt string
}

// DefaultOptions returns the fixed defaults: top-k 5, 200 output tokens.
func DefaultOptions() Options {
	return Options{
		TopK:         5,
		MaxTokens:    200,
		SystemPrompt: defaultSystemPrompt,
	}
}

const defaultSystemPrompt = "You are a helpful research assistant."

const promptTemplate = "Answer the following question based on the provided literature.\n\n" +
	"Literature:\n%s\n\n" +
	"Question: %s\nAnswer:"

// Service runs the answer pipeline.
type Service struct {
	embed  Embedder
	search Searcher
	chat   Chatter
	opts   Options
	logger *slog.Logger
}

// New creates a Service.
func New(embed Embedder, search Searcher, chat Chatter, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 200
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	return &Service{embed: embed, search: search, chat: chat, opts: opts, logger: logger}
}

// Answer is the structured response: the generated text plus the retrieved
// documents backing it.
type Answer struct {
	Text    string               `json:"answer"`
	Context []semantic.SearchHit `json:"context_docs"`
}

// Answer runs the pipeline for a question. Embedding and search failures
// propagate and abort the call: an answer without retrieved context is worse
// than no answer. An LLM failure, by contrast, is converted into a
// displayable answer string so the caller always gets a renderable result at
// the final stage. That asymmetry is deliberate.
func (s *Service) Answer(ctx context.Context, question string) (*Answer, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return nil, err
	}
	s.logger.Info("answering question", "top_k", s.opts.TopK, "question_len", len(question))

	vector, err := s.embed.EmbedOne(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("rag: embed question: %w", err)
	}

	hits, err := s.search.Search(ctx, vector, s.opts.TopK, true)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	s.logger.Debug("retrieved context documents", "count", len(hits))

	prompt := fmt.Sprintf(promptTemplate, buildContext(hits), question)

	text, err := s.chat.Chat(ctx, s.opts.SystemPrompt, prompt, s.opts.MaxTokens)
	if err != nil {
		genErr := fmt.Errorf("rag: chat: %v: %w", err, domain.ErrAnswerGeneration)
		s.logger.Error("answer generation failed", "err", genErr)
		return &Answer{Text: "Error: " + err.Error(), Context: hits}, nil
	}

	return &Answer{Text: strings.TrimSpace(text), Context: hits}, nil
}

// buildContext formats the retrieved hits into labeled blocks separated by
// blank lines, in search order.
func buildContext(hits []semantic.SearchHit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("Title: %s\nAim: %s\nFindings: %s",
			payloadString(h.Payload, domain.ColumnTitle),
			payloadString(h.Payload, domain.ColumnAim),
			payloadString(h.Payload, domain.ColumnFindings),
		)
	}
	return strings.Join(parts, "\n\n")
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
