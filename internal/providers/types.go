package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyResponse is returned when the model produced no usable reply.
var ErrEmptyResponse = errors.New("provider returned empty response")

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// GenerateRequest carries everything a reply generation needs. The final
// entry of History is the message being answered; earlier entries are the
// prior-turns context.
type GenerateRequest struct {
	History      []ChatMessage
	SystemPrompt string
	RAGContext   string // optional grounding block; empty = no retrieval
}

// Provider is the conversational LLM backend used by the responder.
type Provider interface {
	// Generate returns a single reply string. ErrEmptyResponse when the
	// model produced nothing.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// Sentiment scores a message 1 (very negative) to 10 (very positive).
	// Callers treat any error as neutral; never on the critical path.
	Sentiment(ctx context.Context, text string) (int, error)
	// Summarize compresses a conversation into a short synopsis.
	// Best-effort: returns "" on failure.
	Summarize(ctx context.Context, history []ChatMessage) (string, error)
	// Name returns the provider identifier.
	Name() string
}

// Embedder produces query embeddings for retrieval. Must be the same
// model family the ingestion worker used, or similarity ranking breaks.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPError is a non-2xx provider response. Status drives retry decisions.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider HTTP %d: %s", e.Status, e.Body)
}

// AugmentSystemPrompt appends a delimited reference block to the system
// prompt when retrieval produced context. The instruction set keeps the
// model inside the reference material.
func AugmentSystemPrompt(systemPrompt, ragContext string) string {
	if ragContext == "" {
		return systemPrompt
	}
	return systemPrompt + "\n\n" +
		"--- REFERENCE INFORMATION ---\n" +
		ragContext + "\n" +
		"--- END REFERENCE INFORMATION ---\n\n" +
		"Use the reference information above when it is relevant to the " +
		"user's question. If the answer is not in the reference " +
		"information, say so politely instead of inventing details. Never " +
		"state facts that contradict the reference information."
}

// ClampSentiment forces a raw score into the 1..10 range.
func ClampSentiment(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}
