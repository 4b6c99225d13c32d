package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/firesend/engine/internal/store"
)

// PGConversationStore implements store.ConversationStore backed by Postgres.
// All summary mutations are scoped single-field UPDATEs; counters use SQL
// increments so concurrent webhook deliveries never lose updates.
type PGConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *PGConversationStore {
	return &PGConversationStore{db: db}
}

func (s *PGConversationStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, page_id, user_id, last_message, last_message_at,
		        unread_count, stage, stage_source, bot_paused, pause_source,
		        created_at, updated_at
		 FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func scanConversation(row *sql.Row) (*store.Conversation, error) {
	c := &store.Conversation{}
	var lastAt, created, updated sql.NullTime
	err := row.Scan(&c.ID, &c.TenantID, &c.PageID, &c.UserID, &c.LastMessage, &lastAt,
		&c.UnreadCount, &c.Stage, &c.StageSource, &c.BotPaused, &c.PauseSource,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.LastMessageAt = lastAt.Time
	c.CreatedAt = created.Time
	c.UpdatedAt = updated.Time
	return c, nil
}

// UpsertSummary inserts the conversation on first contact (stage active)
// or bumps last_message and the unread counter atomically. Stage and pause
// flags are never touched here: they belong to the dashboard and the
// trigger engine.
func (s *PGConversationStore) UpsertSummary(ctx context.Context, conv *store.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations
		   (id, tenant_id, page_id, user_id, last_message, last_message_at,
		    unread_count, stage, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, $7, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		   last_message    = EXCLUDED.last_message,
		   last_message_at = EXCLUDED.last_message_at,
		   unread_count    = conversations.unread_count + 1,
		   updated_at      = now()`,
		conv.ID, conv.TenantID, conv.PageID, conv.UserID,
		conv.LastMessage, conv.LastMessageAt, store.StageActive)
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (s *PGConversationStore) AppendMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.Must(uuid.NewV7())
	}
	var mid any
	if msg.PlatformMID != "" {
		mid = msg.PlatformMID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages
		   (id, conversation_id, text, type, subtype, status, sender_id,
		    recipient_id, story_id, attachment_url, source, platform_mid, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (conversation_id, platform_mid) WHERE platform_mid IS NOT NULL DO NOTHING`,
		msg.ID, msg.ConversationID, msg.Text, msg.Type, msg.Subtype, msg.Status,
		msg.SenderID, msg.RecipientID, msg.StoryID, msg.AttachmentURL,
		msg.Source, mid, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrDuplicateMessage
	}
	return nil
}

// UpdateMessageStatus enforces monotone transitions: only a pending row
// can move, and it moves exactly once.
func (s *PGConversationStore) UpdateMessageStatus(ctx context.Context, conversationID, messageID, status, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $3, error = NULLIF($4, '')
		 WHERE conversation_id = $1 AND id = $2 AND status = $5`,
		conversationID, messageID, status, errText, store.StatusPending)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either missing or already terminal; distinguish for the caller.
		var existing string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM messages WHERE conversation_id = $1 AND id = $2`,
			conversationID, messageID).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check message status: %w", err)
		}
		return store.ErrTerminalStatus
	}
	return nil
}

func (s *PGConversationStore) SetSentiment(ctx context.Context, conversationID, messageID string, score int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET sentiment = $3
		 WHERE conversation_id = $1 AND id = $2`,
		conversationID, messageID, score)
	if err != nil {
		return fmt.Errorf("set sentiment: %w", err)
	}
	return nil
}

// History returns the latest limit messages in chronological order.
func (s *PGConversationStore) History(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, text, type, subtype, status, sender_id,
		        recipient_id, story_id, attachment_url, source,
		        COALESCE(platform_mid, ''), COALESCE(sentiment, 0),
		        COALESCE(error, ''), ts
		 FROM (
		   SELECT * FROM messages WHERE conversation_id = $1
		   ORDER BY ts DESC LIMIT $2
		 ) recent
		 ORDER BY ts ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		m := &store.Message{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Text, &m.Type, &m.Subtype,
			&m.Status, &m.SenderID, &m.RecipientID, &m.StoryID, &m.AttachmentURL,
			&m.Source, &m.PlatformMID, &m.Sentiment, &m.Error, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PGConversationStore) NewerUserMessageExists(ctx context.Context, conversationID string, after time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM messages
		   WHERE conversation_id = $1 AND type = $2 AND ts > $3
		 )`, conversationID, store.TypeUser, after).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("freshness check: %w", err)
	}
	return exists, nil
}

func (s *PGConversationStore) LatestMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, text, type, subtype, status, sender_id,
		        recipient_id, story_id, attachment_url, source,
		        COALESCE(platform_mid, ''), COALESCE(sentiment, 0),
		        COALESCE(error, ''), ts
		 FROM messages WHERE conversation_id = $1
		 ORDER BY ts DESC LIMIT 1`, conversationID)

	m := &store.Message{}
	err := row.Scan(&m.ID, &m.ConversationID, &m.Text, &m.Type, &m.Subtype,
		&m.Status, &m.SenderID, &m.RecipientID, &m.StoryID, &m.AttachmentURL,
		&m.Source, &m.PlatformMID, &m.Sentiment, &m.Error, &m.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	return m, nil
}

func (s *PGConversationStore) MarkRead(ctx context.Context, conversationID string) error {
	return s.scopedUpdate(ctx, conversationID, `unread_count = 0`)
}

func (s *PGConversationStore) SetStage(ctx context.Context, conversationID, stage, source string) error {
	if !store.ValidStage(stage) {
		return &store.InvalidStageError{Stage: stage}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET stage = $2, stage_source = $3, updated_at = now()
		 WHERE id = $1`, conversationID, stage, source)
	if err != nil {
		return fmt.Errorf("set stage: %w", err)
	}
	return nil
}

func (s *PGConversationStore) SetPaused(ctx context.Context, conversationID string, paused bool, source string) error {
	if !paused {
		source = ""
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET bot_paused = $2, pause_source = $3, updated_at = now()
		 WHERE id = $1`, conversationID, paused, source)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}

func (s *PGConversationStore) UpdateAfterSend(ctx context.Context, conversationID, lastMessage string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET last_message = $2, last_message_at = $3, unread_count = 0, updated_at = now()
		 WHERE id = $1`, conversationID, lastMessage, at)
	if err != nil {
		return fmt.Errorf("update after send: %w", err)
	}
	return nil
}

func (s *PGConversationStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*store.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, page_id, user_id, last_message, last_message_at,
		        unread_count, stage, stage_source, bot_paused, pause_source,
		        created_at, updated_at
		 FROM conversations WHERE tenant_id = $1
		 ORDER BY last_message_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*store.Conversation
	for rows.Next() {
		c := &store.Conversation{}
		var lastAt, created, updated sql.NullTime
		if err := rows.Scan(&c.ID, &c.TenantID, &c.PageID, &c.UserID, &c.LastMessage,
			&lastAt, &c.UnreadCount, &c.Stage, &c.StageSource, &c.BotPaused,
			&c.PauseSource, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.LastMessageAt = lastAt.Time
		c.CreatedAt = created.Time
		c.UpdatedAt = updated.Time
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *PGConversationStore) scopedUpdate(ctx context.Context, id, setClause string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET `+setClause+`, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", id, err)
	}
	return nil
}
