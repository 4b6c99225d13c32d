package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func geminiTextResponse(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":` + mustJSON(text) + `}]}}]}`
}

func mustJSON(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func TestGeminiGenerate(t *testing.T) {
	var captured geminiGenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in query")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(geminiTextResponse("Hola! Como puedo ayudarte?")))
	}))
	defer server.Close()

	p := NewGeminiProvider("test-key", "", "").WithAPIBase(server.URL)
	reply, err := p.Generate(context.Background(), GenerateRequest{
		SystemPrompt: "You are a sales assistant.",
		RAGContext:   "Shipping takes 3 days.",
		History: []ChatMessage{
			{Role: "user", Content: "hola"},
			{Role: "assistant", Content: "buenas!"},
			{Role: "user", Content: "cuanto tarda el envio?"},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "Hola! Como puedo ayudarte?" {
		t.Errorf("reply = %q", reply)
	}

	if captured.SystemInstruction == nil {
		t.Fatal("system instruction not sent")
	}
	sys := captured.SystemInstruction.Parts[0].Text
	if !strings.Contains(sys, "Shipping takes 3 days.") {
		t.Errorf("RAG context missing from system instruction: %q", sys)
	}
	if len(captured.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(captured.Contents))
	}
	if captured.Contents[1].Role != "model" {
		t.Errorf("assistant turn mapped to %q, want model", captured.Contents[1].Role)
	}
	if captured.GenerationConfig.Temperature != 0.7 || captured.GenerationConfig.MaxOutputTokens != 500 {
		t.Errorf("generation config = %+v", captured.GenerationConfig)
	}
}

func TestGeminiGenerateEmptyCandidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	p := NewGeminiProvider("k", "", "").WithAPIBase(server.URL)
	_, err := p.Generate(context.Background(), GenerateRequest{
		History: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != ErrEmptyResponse {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestGeminiSentiment(t *testing.T) {
	cases := []struct {
		name    string
		answer  string
		want    int
		wantErr bool
	}{
		{"plain number", "7", 7, false},
		{"with whitespace", " 3\n", 3, false},
		{"above range clamps", "15", 10, false},
		{"negative clamps", "-3", 1, false},
		{"embedded in prose", "The score is 8.", 8, false},
		{"non-numeric", "positive", 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(geminiTextResponse(tc.answer)))
			}))
			defer server.Close()

			p := NewGeminiProvider("k", "", "").WithAPIBase(server.URL)
			got, err := p.Sentiment(context.Background(), "the product arrived")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got score %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Sentiment: %v", err)
			}
			if got != tc.want {
				t.Errorf("score = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestGeminiSummarizeSwallowsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewGeminiProvider("k", "", "").WithAPIBase(server.URL)
	summary, err := p.Summarize(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if summary != "" {
		t.Errorf("summary = %q, want empty", summary)
	}
}

func TestGeminiEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "text-embedding-004:embedContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"embedding":{"values":[0.1,0.2,0.3]}}`))
	}))
	defer server.Close()

	p := NewGeminiProvider("k", "", "").WithAPIBase(server.URL)
	vec, err := p.Embed(context.Background(), "shipping policy")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("len(vec) = %d, want 3", len(vec))
	}
}

func TestGeminiRetriesOn429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(geminiTextResponse("ok")))
	}))
	defer server.Close()

	p := NewGeminiProvider("k", "", "").WithAPIBase(server.URL)
	reply, err := p.Generate(context.Background(), GenerateRequest{
		History: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply != "ok" {
		t.Errorf("reply = %q", reply)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
