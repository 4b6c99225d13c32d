package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/firesend/engine/internal/config"
	"github.com/firesend/engine/internal/store"
)

// Scheduler wakes the responder for a conversation. Implemented by the
// pipeline's debounce scheduler.
type Scheduler interface {
	Schedule(tenantID, conversationID string)
}

// Publisher fans an event out to a tenant's dashboard listeners.
// Best-effort; delivery failures never affect ingestion.
type Publisher interface {
	Publish(tenantID string, event any)
}

// Handler terminates Meta webhook traffic: subscription verification on
// GET, signed event delivery on POST.
type Handler struct {
	cfg       *config.Config
	stores    *store.Stores
	scheduler Scheduler
	publisher Publisher
}

func NewHandler(cfg *config.Config, stores *store.Stores, scheduler Scheduler, publisher Publisher) *Handler {
	return &Handler{cfg: cfg, stores: stores, scheduler: scheduler, publisher: publisher}
}

// Register mounts the webhook endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhook", h.handleVerify)
	mux.HandleFunc("POST /webhook", h.handleEvent)
}

// handleVerify answers the Meta subscription handshake: echo the
// challenge when mode and token match, 403 otherwise.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.cfg.Webhook.VerifyToken {
		slog.Info("webhook verified")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	http.Error(w, "Forbidden", http.StatusForbidden)
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Webhook.AppSecret == "" {
		// Without the secret every payload would be accepted unsigned.
		slog.Error("webhook app secret not configured, rejecting event")
		http.Error(w, "Server misconfigured", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.cfg.Webhook.AppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		slog.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	payload, err := ParsePayload(body)
	if err != nil {
		slog.Warn("webhook payload unparsable", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if payload.Object != "instagram" && payload.Object != "page" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// Meta redelivers on non-200; from here on we always acknowledge and
	// handle failures internally.
	for _, entry := range payload.Entry {
		for i := range entry.Messaging {
			h.ingest(r.Context(), &entry.Messaging[i])
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))
}

// ingest runs one messaging event through normalization, tenant
// resolution, and durable append, then wakes the responder.
func (h *Handler) ingest(ctx context.Context, ev *MessagingEvent) {
	msg := Normalize(ev)
	if msg == nil {
		return
	}

	tenantID, err := h.stores.Tenants.ResolvePage(ctx, msg.RecipientID)
	if errors.Is(err, store.ErrNotFound) {
		// Page not connected to any tenant; drop silently.
		slog.Debug("webhook event for unmapped page", "page_id", msg.RecipientID)
		return
	}
	if err != nil {
		slog.Error("page resolution failed", "page_id", msg.RecipientID, "error", err)
		return
	}

	if err := h.stores.Conversations.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicateMessage) {
			slog.Debug("webhook redelivery ignored", "mid", msg.PlatformMID)
			return
		}
		slog.Error("message append failed", "conversation_id", msg.ConversationID, "error", err)
		return
	}

	if err := h.stores.Conversations.UpsertSummary(ctx, &store.Conversation{
		ID:            msg.ConversationID,
		TenantID:      tenantID,
		PageID:        msg.RecipientID,
		UserID:        msg.SenderID,
		LastMessage:   msg.Text,
		LastMessageAt: msg.Timestamp,
	}); err != nil {
		slog.Error("conversation upsert failed", "conversation_id", msg.ConversationID, "error", err)
	}

	if err := h.stores.Stats.IncrReceived(ctx, tenantID, msg.Timestamp); err != nil {
		slog.Warn("stats increment failed", "tenant_id", tenantID, "error", err)
	}

	if h.publisher != nil {
		h.publisher.Publish(tenantID, map[string]any{
			"type":            "message.received",
			"conversation_id": msg.ConversationID,
			"text":            msg.Text,
			"subtype":         msg.Subtype,
		})
	}

	slog.Info("message ingested",
		"tenant_id", tenantID,
		"conversation_id", msg.ConversationID,
		"subtype", msg.Subtype,
		"mid", msg.PlatformMID)

	if h.scheduler != nil {
		h.scheduler.Schedule(tenantID, msg.ConversationID)
	}
}
