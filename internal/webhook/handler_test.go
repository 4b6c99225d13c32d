package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/firesend/engine/internal/config"
	"github.com/firesend/engine/internal/store"
	"github.com/firesend/engine/internal/store/mem"
)

type fakeScheduler struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeScheduler) Schedule(tenantID, conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, conversationID)
}

func (f *fakeScheduler) scheduled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func testHandler(t *testing.T) (*Handler, *mem.Stores, *fakeScheduler) {
	t.Helper()
	cfg := config.Default()
	cfg.Webhook.VerifyToken = "verify-me"
	cfg.Webhook.AppSecret = "app-secret"

	stores := mem.New()
	stores.PutTenant(&store.Tenant{
		ID:             "tenant-1",
		PageID:         "page-1",
		IsBotActive:    true,
		OAuthConnected: true,
	})
	sched := &fakeScheduler{}
	return NewHandler(cfg, stores.Container(), sched, nil), stores, sched
}

const instagramEvent = `{
	"object": "instagram",
	"entry": [{
		"id": "page-1",
		"time": 1700000000000,
		"messaging": [{
			"sender": {"id": "user-9"},
			"recipient": {"id": "page-1"},
			"timestamp": 1700000000000,
			"message": {"mid": "mid.1", "text": "hola, precios?"}
		}]
	}]
}`

func TestVerifyHandshake(t *testing.T) {
	h, _, _ := testHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)

	t.Run("token match echoes challenge", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Body.String() != "12345" {
			t.Errorf("body = %q, want challenge echo", rec.Body.String())
		}
	})

	t.Run("token mismatch forbidden", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})
}

func TestEventSignature(t *testing.T) {
	h, _, _ := testHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)
	body := []byte(instagramEvent)

	t.Run("valid signature accepted", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", sign("app-secret", body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", sign("other-secret", body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("missing header rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("tampered body rejected", func(t *testing.T) {
		tampered := bytes.Replace(body, []byte("precios"), []byte("gratis!"), 1)
		req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(tampered))
		req.Header.Set("X-Hub-Signature-256", sign("app-secret", body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})
}

func TestEventMissingAppSecret(t *testing.T) {
	h, _, _ := testHandler(t)
	h.cfg.Webhook.AppSecret = ""
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader([]byte(instagramEvent)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestEventUnknownObject(t *testing.T) {
	h, _, _ := testHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)

	body := []byte(`{"object": "whatsapp_business_account", "entry": []}`)
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("app-secret", body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestIngestPersistsAndSchedules(t *testing.T) {
	h, stores, sched := testHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)
	body := []byte(instagramEvent)

	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("app-secret", body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	convID := store.ConversationID("page-1", "user-9")
	msgs := stores.Messages(convID)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Status != store.StatusPending {
		t.Errorf("status = %q, want pending", msgs[0].Status)
	}
	if msgs[0].PlatformMID != "mid.1" {
		t.Errorf("mid = %q", msgs[0].PlatformMID)
	}

	conv, err := stores.Container().Conversations.GetConversation(context.Background(), convID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", conv.UnreadCount)
	}
	if conv.Stage != store.StageActive {
		t.Errorf("stage = %q, want active on first contact", conv.Stage)
	}

	day := store.DayKey(time.UnixMilli(1700000000000))
	stats, err := stores.Container().Stats.Get(context.Background(), "tenant-1", day)
	if err != nil {
		t.Fatalf("stats Get: %v", err)
	}
	if stats.MessagesReceived != 1 {
		t.Errorf("received = %d, want 1", stats.MessagesReceived)
	}

	if got := sched.scheduled(); len(got) != 1 || got[0] != convID {
		t.Errorf("scheduled = %v", got)
	}
}

func TestIngestRedeliveryIsIdempotent(t *testing.T) {
	h, stores, sched := testHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)
	body := []byte(instagramEvent)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", sign("app-secret", body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d", i, rec.Code)
		}
	}

	convID := store.ConversationID("page-1", "user-9")
	if msgs := stores.Messages(convID); len(msgs) != 1 {
		t.Errorf("messages = %d, want 1 after redelivery", len(msgs))
	}
	conv, _ := stores.Container().Conversations.GetConversation(context.Background(), convID)
	if conv.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 after redelivery", conv.UnreadCount)
	}
	if got := sched.scheduled(); len(got) != 1 {
		t.Errorf("scheduled %d times, want 1", len(got))
	}
}

func TestIngestDropsUnmappedPage(t *testing.T) {
	h, stores, sched := testHandler(t)
	mux := http.NewServeMux()
	h.Register(mux)

	body := []byte(`{
		"object": "instagram",
		"entry": [{"id": "page-x", "time": 1, "messaging": [{
			"sender": {"id": "user-9"},
			"recipient": {"id": "page-x"},
			"timestamp": 1700000000000,
			"message": {"mid": "mid.2", "text": "hi"}
		}]}]
	}`)
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("app-secret", body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even when dropped", rec.Code)
	}
	if msgs := stores.Messages(store.ConversationID("page-x", "user-9")); len(msgs) != 0 {
		t.Errorf("messages = %d, want 0", len(msgs))
	}
	if got := sched.scheduled(); len(got) != 0 {
		t.Errorf("scheduled = %v, want none", got)
	}
}

func TestNormalize(t *testing.T) {
	base := func() *MessagingEvent {
		return &MessagingEvent{
			Sender:    Party{ID: "user-9"},
			Recipient: Party{ID: "page-1"},
			Timestamp: 1700000000000,
		}
	}

	t.Run("echo dropped", func(t *testing.T) {
		ev := base()
		ev.Message = &Message{MID: "m", Text: "our own reply", IsEcho: true}
		if Normalize(ev) != nil {
			t.Error("echo should normalize to nil")
		}
	})

	t.Run("read receipt dropped", func(t *testing.T) {
		ev := base()
		ev.Read = &Read{MID: "m"}
		if Normalize(ev) != nil {
			t.Error("read receipt should normalize to nil")
		}
	})

	t.Run("story reply", func(t *testing.T) {
		ev := base()
		ev.Message = &Message{
			MID:     "m",
			Text:    "nice story!",
			ReplyTo: &ReplyTo{Story: &Story{ID: "story-5", URL: "https://cdn/story.mp4"}},
		}
		msg := Normalize(ev)
		if msg == nil {
			t.Fatal("nil message")
		}
		if msg.Subtype != store.SubtypeStoryReply {
			t.Errorf("subtype = %q", msg.Subtype)
		}
		if msg.StoryID != "story-5" {
			t.Errorf("story id = %q", msg.StoryID)
		}
	})

	t.Run("story mention", func(t *testing.T) {
		ev := base()
		ev.Message = &Message{
			MID:         "m",
			Attachments: []Attachment{{Type: "story_mention", Payload: AttachmentPayload{URL: "https://cdn/s"}}},
		}
		msg := Normalize(ev)
		if msg == nil || msg.Subtype != store.SubtypeStoryMention {
			t.Fatalf("msg = %+v", msg)
		}
		if msg.Text != "[Story mention]" {
			t.Errorf("text = %q", msg.Text)
		}
	})

	t.Run("image attachment", func(t *testing.T) {
		ev := base()
		ev.Message = &Message{
			MID:         "m",
			Attachments: []Attachment{{Type: "image", Payload: AttachmentPayload{URL: "https://cdn/i.jpg"}}},
		}
		msg := Normalize(ev)
		if msg == nil || msg.Subtype != store.SubtypeAttachment {
			t.Fatalf("msg = %+v", msg)
		}
	})

	t.Run("empty text no attachment dropped", func(t *testing.T) {
		ev := base()
		ev.Message = &Message{MID: "m"}
		if Normalize(ev) != nil {
			t.Error("empty message should normalize to nil")
		}
	})
}
