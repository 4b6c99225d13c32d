package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// ErrTerminalStatus is returned when a status update would overwrite a
// message that already reached a terminal status. Status transitions are
// monotone: pending → exactly one terminal status, no reverts.
var ErrTerminalStatus = errors.New("message already in terminal status")

// ErrDuplicateMessage is returned by AppendMessage when the platform
// message id was already ingested (webhook redelivery).
var ErrDuplicateMessage = errors.New("duplicate platform message id")

// InvalidStageError is returned by stage writes outside the closed
// enumeration; the message names the valid set.
type InvalidStageError struct {
	Stage string
}

func (e *InvalidStageError) Error() string {
	return fmt.Sprintf("invalid stage %q (valid: %s)", e.Stage, strings.Join(ValidStages(), ", "))
}

// TenantStore holds tenant documents and the page reverse index.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	// ResolvePage maps an Instagram page id to its owning tenant id.
	// Point lookup against the page_mappings entity.
	ResolvePage(ctx context.Context, pageID string) (string, error)
	// UpdateToken replaces a tenant's access token and expiry (token
	// refresh job). Scoped field update.
	UpdateToken(ctx context.Context, tenantID, token string, expiresAt time.Time) error
	// ExpiringTenants lists connected tenants whose token expires before
	// the cutoff.
	ExpiringTenants(ctx context.Context, cutoff time.Time) ([]*Tenant, error)
}

// ConversationStore is the durable per-tenant conversation log: the single
// source of truth for stage, pause flags, and unread counts. Updates are
// scoped to named fields so concurrent dashboard edits are never clobbered.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// UpsertSummary creates or updates a conversation summary for an
	// inbound message: last_message, last_message_at, atomic unread
	// increment, stage defaulted to active on first contact.
	UpsertSummary(ctx context.Context, conv *Conversation) error
	// AppendMessage appends a message row. For inbound messages with a
	// platform mid it is idempotent: a replayed mid returns
	// ErrDuplicateMessage and writes nothing.
	AppendMessage(ctx context.Context, msg *Message) error
	// UpdateMessageStatus moves a message from pending to a terminal
	// status, optionally attaching an error text. Returns
	// ErrTerminalStatus if the message already left pending.
	UpdateMessageStatus(ctx context.Context, conversationID string, messageID string, status, errText string) error
	// SetSentiment records the detached sentiment score (1..10).
	SetSentiment(ctx context.Context, conversationID string, messageID string, score int) error
	// History returns the most recent limit messages in chronological
	// order.
	History(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	// NewerUserMessageExists reports whether a user-authored message with
	// a strictly later timestamp exists (freshness gate).
	NewerUserMessageExists(ctx context.Context, conversationID string, after time.Time) (bool, error)
	// LatestMessage returns the most recent message of any type
	// (anti-loop guard).
	LatestMessage(ctx context.Context, conversationID string) (*Message, error)
	// MarkRead resets the unread counter to zero.
	MarkRead(ctx context.Context, conversationID string) error
	// SetStage updates the lifecycle stage with provenance.
	SetStage(ctx context.Context, conversationID, stage, source string) error
	// SetPaused sets or clears the conversation-scoped pause flag.
	SetPaused(ctx context.Context, conversationID string, paused bool, source string) error
	// UpdateAfterSend records an outbound delivery on the summary:
	// last_message, last_message_at, unread reset to zero.
	UpdateAfterSend(ctx context.Context, conversationID, lastMessage string, at time.Time) error
	// ListByTenant returns a tenant's conversations, most recent first.
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Conversation, error)
}

// TriggerStore serves tenant automation rules. Read-only for the pipeline;
// the dashboard owns mutation.
type TriggerStore interface {
	EnabledTriggers(ctx context.Context, tenantID string) ([]*Trigger, error)
}

// KnowledgeStore serves tenant knowledge chunks for retrieval. Read-only
// for the pipeline; the ingestion worker owns writes.
type KnowledgeStore interface {
	CountChunks(ctx context.Context, tenantID string) (int, error)
	Chunks(ctx context.Context, tenantID string) ([]*KnowledgeChunk, error)
}

// StatsStore accumulates per-day counters. Implementations must use atomic
// increments, never read-modify-write.
type StatsStore interface {
	IncrReceived(ctx context.Context, tenantID string, at time.Time) error
	IncrSent(ctx context.Context, tenantID string, at time.Time) error
	Get(ctx context.Context, tenantID, day string) (*DailyStats, error)
}

// Stores is the top-level container handed to components at process start.
// Explicit construction, no lazy singletons.
type Stores struct {
	Tenants       TenantStore
	Conversations ConversationStore
	Triggers      TriggerStore
	Knowledge     KnowledgeStore
	Stats         StatsStore
}
