// Package httpapi serves the dashboard REST surface: conversation
// listing, manual sends, stage and pause management, and stats.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/firesend/engine/internal/pipeline"
	"github.com/firesend/engine/internal/store"
)

// ConversationsHandler handles the dashboard conversation endpoints.
type ConversationsHandler struct {
	stores    *store.Stores
	sender    pipeline.Sender
	publisher pipeline.Publisher // nil = no event fan-out
	token     string
}

func NewConversationsHandler(stores *store.Stores, sender pipeline.Sender, publisher pipeline.Publisher, token string) *ConversationsHandler {
	return &ConversationsHandler{stores: stores, sender: sender, publisher: publisher, token: token}
}

// RegisterRoutes registers the conversation management routes on the given mux.
func (h *ConversationsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/conversations", h.authMiddleware(h.handleList))
	mux.HandleFunc("GET /v1/conversations/{id}", h.authMiddleware(h.handleGet))
	mux.HandleFunc("POST /v1/conversations/{id}/messages", h.authMiddleware(h.handleSend))
	mux.HandleFunc("PUT /v1/conversations/{id}/stage", h.authMiddleware(h.handleSetStage))
	mux.HandleFunc("PUT /v1/conversations/{id}/pause", h.authMiddleware(h.handleSetPause))
	mux.HandleFunc("POST /v1/conversations/{id}/read", h.authMiddleware(h.handleMarkRead))
	mux.HandleFunc("GET /v1/stats/{tenantID}", h.authMiddleware(h.handleStats))
}

func (h *ConversationsHandler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			if extractBearerToken(r) != h.token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (h *ConversationsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant_id query parameter required"})
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	convs, err := h.stores.Conversations.ListByTenant(r.Context(), tenantID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *ConversationsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := h.stores.Conversations.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := h.stores.Conversations.History(r.Context(), id, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv, "messages": msgs})
}

type sendRequest struct {
	Text string `json:"text"`
}

// handleSend delivers an operator-written message. The reply pipeline is
// bypassed entirely; the message is recorded with manual provenance.
func (h *ConversationsHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	conv, err := h.stores.Conversations.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	tenant, err := h.stores.Tenants.GetTenant(r.Context(), conv.TenantID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	mid, err := h.sender.Send(r.Context(), tenant.InstagramToken, conv.UserID, req.Text)
	if err != nil {
		slog.Error("manual send failed", "conversation_id", id, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	msg := &store.Message{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: id,
		Text:           req.Text,
		Type:           store.TypeAssistant,
		Subtype:        store.SubtypeText,
		Status:         store.StatusSent,
		SenderID:       conv.PageID,
		RecipientID:    conv.UserID,
		Source:         store.SourceManual,
		PlatformMID:    mid,
		Timestamp:      now,
	}
	if err := h.stores.Conversations.AppendMessage(r.Context(), msg); err != nil {
		slog.Error("manual message append failed", "conversation_id", id, "error", err)
	}
	if err := h.stores.Conversations.UpdateAfterSend(r.Context(), id, req.Text, now); err != nil {
		slog.Error("summary update after manual send failed", "conversation_id", id, "error", err)
	}
	if err := h.stores.Stats.IncrSent(r.Context(), conv.TenantID, now); err != nil {
		slog.Warn("sent counter failed", "tenant_id", conv.TenantID, "error", err)
	}
	if h.publisher != nil {
		h.publisher.Publish(conv.TenantID, map[string]any{
			"type":            "message.sent",
			"conversation_id": id,
			"text":            req.Text,
			"source":          store.SourceManual,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

type stageRequest struct {
	Stage string `json:"stage"`
}

func (h *ConversationsHandler) handleSetStage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req stageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	err := h.stores.Conversations.SetStage(r.Context(), id, req.Stage, store.SourceManual)
	var stageErr *store.InvalidStageError
	if errors.As(err, &stageErr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": stageErr.Error()})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stage": req.Stage})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (h *ConversationsHandler) handleSetPause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	err := h.stores.Conversations.SetPaused(r.Context(), id, req.Paused, store.PauseManual)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

func (h *ConversationsHandler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.stores.Conversations.MarkRead(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": 0})
}

func (h *ConversationsHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	day := r.URL.Query().Get("day")
	if day == "" {
		day = store.DayKey(time.Now())
	}

	stats, err := h.stores.Stats.Get(r.Context(), tenantID, day)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, &store.DailyStats{TenantID: tenantID, Day: day})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
