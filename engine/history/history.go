// Package history stores per-session chat conversations so follow-up
// questions can be rendered with their preceding exchanges.
package history

import (
	"context"
	"time"
)

// Message is one conversation turn.
type Message struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store persists conversation history keyed by session id.
type Store interface {
	Append(ctx context.Context, sessionID string, msg Message) error
	Load(ctx context.Context, sessionID string) ([]Message, error)
	Clear(ctx context.Context, sessionID string) error
}

// NewMessage builds a Message with an estimated token count.
func NewMessage(role, content string) Message {
	return Message{
		Role:       role,
		Content:    content,
		TokenCount: EstimateTokens(content),
		Timestamp:  time.Now(),
	}
}

// EstimateTokens estimates the token count of text with a Unicode-aware
// heuristic: ~4 ASCII characters per token, ~1 non-ASCII character per
// token.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}

// Truncate trims a conversation to the given limits, keeping the most
// recent messages. The message limit applies first, then the token limit.
func Truncate(msgs []Message, tokenLimit, messageLimit int) []Message {
	if len(msgs) == 0 {
		return msgs
	}

	if messageLimit > 0 && len(msgs) > messageLimit {
		msgs = msgs[len(msgs)-messageLimit:]
	}

	total := 0
	for _, m := range msgs {
		total += m.TokenCount
	}
	for tokenLimit > 0 && total > tokenLimit && len(msgs) > 0 {
		total -= msgs[0].TokenCount
		msgs = msgs[1:]
	}
	return msgs
}
