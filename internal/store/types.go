package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conversation lifecycle stages. The set is closed: any other value is
// rejected at the store surface.
const (
	StageActive      = "active"
	StageNegotiation = "negotiation"
	StageQualified   = "qualified"
	StageClosed      = "closed"
)

var validStages = map[string]bool{
	StageActive:      true,
	StageNegotiation: true,
	StageQualified:   true,
	StageClosed:      true,
}

// ValidStage reports whether s is a member of the stage enumeration.
func ValidStage(s string) bool { return validStages[s] }

// ValidStages returns the allowed stage values, for error messages.
func ValidStages() []string {
	return []string{StageActive, StageNegotiation, StageQualified, StageClosed}
}

// Message direction/type.
const (
	TypeUser      = "user"
	TypeAssistant = "assistant"
)

// Message processing statuses. Pending is the only non-terminal status;
// every inbound message reaches exactly one terminal status and never
// reverts (enforced by UpdateMessageStatus).
const (
	StatusPending            = "pending"
	StatusProcessed          = "processed"
	StatusSent               = "sent"
	StatusFailed             = "failed"
	StatusSkippedBotPaused   = "skipped_bot_paused"
	StatusSkippedBotDisabled = "skipped_bot_disabled"
	StatusProcessedByTrigger = "processed_by_trigger"
)

// TerminalStatus reports whether a status ends a message's lifecycle.
func TerminalStatus(s string) bool { return s != StatusPending }

// Message subtypes, set by the webhook normalizer.
const (
	SubtypeText         = "text"
	SubtypeStoryReply   = "story_reply"
	SubtypeStoryMention = "story_mention"
	SubtypeAttachment   = "attachment"
)

// Message sources.
const (
	SourceAuto   = "auto"
	SourceManual = "manual"
)

// Pause provenance for Conversation.BotPaused.
const (
	PauseManual  = "manual"
	PauseTrigger = "trigger"
)

// Trigger action kinds.
const (
	ActionPauseBot    = "pause_bot"
	ActionSendMessage = "send_message"
	ActionChangeStage = "change_stage"
	ActionNotify      = "notify"
)

// Tenant is one customer account with its Instagram connection and bot
// configuration. Never hard-deleted; disconnecting clears the page link.
type Tenant struct {
	ID             string
	InstagramToken string
	TokenExpiresAt time.Time
	PageID         string
	SystemPrompt   string
	GeminiKey      string
	IsBotActive    bool
	OAuthConnected bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PageMapping is the reverse index from an Instagram page id to the tenant
// owning it. Webhook-time tenant resolution must be a point lookup on this
// entity, never a scan over tenants.
type PageMapping struct {
	PageID    string
	TenantID  string
	CreatedAt time.Time
}

// Conversation is the thread between one connected page and one end user.
type Conversation struct {
	ID            string // "{pageID}_{userID}"
	TenantID      string
	PageID        string
	UserID        string
	LastMessage   string
	LastMessageAt time.Time
	UnreadCount   int
	Stage         string
	StageSource   string // "manual" or "trigger"
	BotPaused     bool
	PauseSource   string // "manual" or "trigger", empty when not paused
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ConversationID builds the deterministic composite conversation key.
func ConversationID(pageID, userID string) string {
	return pageID + "_" + userID
}

// Message is an append-only child record of a Conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID string
	Text           string
	Type           string // user | assistant
	Subtype        string
	Status         string
	SenderID       string
	RecipientID    string
	StoryID        string
	AttachmentURL  string
	Source         string // auto | manual
	PlatformMID    string // Instagram message id; dedupe key for inbound, send confirmation for outbound
	Sentiment      int    // 0 = not scored, otherwise 1..10
	Error          string // populated when Status == failed
	Timestamp      time.Time
}

// Trigger is a tenant-scoped keyword automation rule.
type Trigger struct {
	ID       uuid.UUID
	TenantID string
	Name     string
	Keywords []string // stored lowercase
	Action   string
	Message  string // canned reply for pause_bot / send_message
	Stage    string // target stage for change_stage
	Enabled  bool
	Position int // storage iteration order
}

// Validate checks that action-specific fields are present for the action
// kind. Called by the dashboard write path; the pipeline reads triggers
// as-is.
func (t *Trigger) Validate() error {
	switch t.Action {
	case ActionPauseBot, ActionSendMessage:
		if t.Message == "" {
			return fmt.Errorf("trigger %q: action %s requires a message", t.Name, t.Action)
		}
	case ActionChangeStage:
		if !ValidStage(t.Stage) {
			return fmt.Errorf("trigger %q: invalid stage %q (valid: %v)", t.Name, t.Stage, ValidStages())
		}
	case ActionNotify:
	default:
		return fmt.Errorf("trigger %q: unknown action %q", t.Name, t.Action)
	}
	if len(t.Keywords) == 0 {
		return fmt.Errorf("trigger %q: at least one keyword required", t.Name)
	}
	return nil
}

// KnowledgeChunk is a fragment of an ingested tenant document plus its
// embedding. Written by the ingestion worker, read-only for the pipeline.
type KnowledgeChunk struct {
	ID         uuid.UUID
	TenantID   string
	DocumentID string
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// DailyStats aggregates per-tenant message counters for one UTC day.
// All increments are atomic at the storage layer.
type DailyStats struct {
	TenantID         string
	Day              string // YYYY-MM-DD (UTC)
	MessagesReceived int
	MessagesSent     int
	ByHour           [24]int
}

// DayKey returns the UTC day bucket for t.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
