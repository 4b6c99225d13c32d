package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const defaultGeminiBase = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements Provider and Embedder against the Google
// Generative Language API.
type GeminiProvider struct {
	apiKey         string
	apiBase        string
	model          string
	embeddingModel string
	client         *http.Client
	retryConfig    RetryConfig
}

// NewGeminiProvider creates a Gemini client. Empty model names fall back
// to the defaults used at ingestion time; changing the embedding model
// invalidates every stored vector.
func NewGeminiProvider(apiKey, model, embeddingModel string) *GeminiProvider {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}
	return &GeminiProvider{
		apiKey:         apiKey,
		apiBase:        defaultGeminiBase,
		model:          model,
		embeddingModel: embeddingModel,
		client:         &http.Client{Timeout: 60 * time.Second},
		retryConfig:    DefaultRetryConfig(),
	}
}

// WithAPIBase overrides the API endpoint (tests).
func (p *GeminiProvider) WithAPIBase(base string) *GeminiProvider {
	p.apiBase = strings.TrimRight(base, "/")
	return p
}

// WithKey returns a copy using a different API key. Tenants can bring
// their own key; the zero-allocation copy keeps the shared http.Client.
func (p *GeminiProvider) WithKey(apiKey string) *GeminiProvider {
	cp := *p
	cp.apiKey = apiKey
	return &cp
}

func (p *GeminiProvider) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerateRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate produces a single reply from the conversation history. History
// maps onto Gemini's user/model alternating-turn format; the final
// history entry is the message being answered.
func (p *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if len(req.History) == 0 {
		return "", fmt.Errorf("gemini: empty history")
	}

	contents := make([]geminiContent, 0, len(req.History))
	for _, msg := range req.History {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}

	body := geminiGenerateRequest{
		Contents: contents,
		GenerationConfig: geminiGenConfig{
			Temperature:     0.7,
			MaxOutputTokens: 500,
		},
	}
	systemPrompt := AugmentSystemPrompt(req.SystemPrompt, req.RAGContext)
	if systemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}

	text, err := RetryDo(ctx, p.retryConfig, func() (string, error) {
		return p.generateContent(ctx, p.model, body)
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

var sentimentNumber = regexp.MustCompile(`-?\d+`)

// Sentiment asks the model for a 1..10 score. The raw answer is parsed
// leniently and clamped; parse failures surface as errors so the caller
// can apply its neutral default.
func (p *GeminiProvider) Sentiment(ctx context.Context, text string) (int, error) {
	prompt := "Rate the sentiment of the following customer message on a " +
		"scale from 1 (very negative) to 10 (very positive). Reply with " +
		"only the number.\n\nMessage: " + text

	body := geminiGenerateRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenConfig{
			Temperature:     0,
			MaxOutputTokens: 8,
		},
	}

	raw, err := p.generateContent(ctx, p.model, body)
	if err != nil {
		return 0, err
	}
	match := sentimentNumber.FindString(raw)
	if match == "" {
		return 0, fmt.Errorf("gemini: non-numeric sentiment %q", raw)
	}
	score, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("gemini: parse sentiment %q: %w", raw, err)
	}
	return ClampSentiment(score), nil
}

// Summarize compresses the conversation into two or three sentences.
// Failures are swallowed: summaries are decoration, not state.
func (p *GeminiProvider) Summarize(ctx context.Context, history []ChatMessage) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarize this conversation in 2-3 sentences, capturing the key points and current state:\n\n")
	for _, msg := range history {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}

	body := geminiGenerateRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: sb.String()}}}},
		GenerationConfig: geminiGenConfig{
			Temperature:     0.3,
			MaxOutputTokens: 150,
		},
	}

	summary, err := p.generateContent(ctx, p.model, body)
	if err != nil {
		slog.Warn("gemini summarize failed", "error", err)
		return "", nil
	}
	return summary, nil
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed returns the query embedding from the ingestion-time model.
func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body := geminiEmbedRequest{
		Model:   "models/" + p.embeddingModel,
		Content: geminiContent{Parts: []geminiPart{{Text: text}}},
	}

	respBody, err := p.doRequest(ctx, fmt.Sprintf("/models/%s:embedContent", p.embeddingModel), body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var resp geminiEmbedResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("gemini: decode embedding: %w", err)
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Embedding.Values, nil
}

func (p *GeminiProvider) generateContent(ctx context.Context, model string, body geminiGenerateRequest) (string, error) {
	respBody, err := p.doRequest(ctx, fmt.Sprintf("/models/%s:generateContent", model), body)
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	var resp geminiGenerateResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

func (p *GeminiProvider) doRequest(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := p.apiBase + path + "?key=" + p.apiKey
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}
