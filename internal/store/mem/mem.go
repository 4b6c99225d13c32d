// Package mem provides in-memory store implementations used by tests.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/firesend/engine/internal/store"
)

// New returns a full in-memory store set.
func New() *Stores {
	s := &Stores{
		tenants:       make(map[string]*store.Tenant),
		pages:         make(map[string]string),
		conversations: make(map[string]*store.Conversation),
		messages:      make(map[string][]*store.Message),
		triggers:      make(map[string][]*store.Trigger),
		chunks:        make(map[string][]*store.KnowledgeChunk),
		stats:         make(map[string]*store.DailyStats),
	}
	return s
}

// Stores implements every store interface behind one mutex. Good enough
// for tests; the pg package is the production backend.
type Stores struct {
	mu            sync.Mutex
	tenants       map[string]*store.Tenant
	pages         map[string]string
	conversations map[string]*store.Conversation
	messages      map[string][]*store.Message // conversationID → append order
	triggers      map[string][]*store.Trigger
	chunks        map[string][]*store.KnowledgeChunk
	stats         map[string]*store.DailyStats // tenantID|day
}

// Container wraps the single backend into the store.Stores shape.
func (s *Stores) Container() *store.Stores {
	return &store.Stores{
		Tenants:       s,
		Conversations: s,
		Triggers:      s,
		Knowledge:     s,
		Stats:         s,
	}
}

// --- seeding helpers ---

func (s *Stores) PutTenant(t *store.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.ID] = &cp
	if t.PageID != "" {
		s.pages[t.PageID] = t.ID
	}
}

func (s *Stores) PutTrigger(t *store.Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	if cp.ID == uuid.Nil {
		cp.ID = uuid.Must(uuid.NewV7())
	}
	s.triggers[t.TenantID] = append(s.triggers[t.TenantID], &cp)
}

func (s *Stores) PutChunk(c *store.KnowledgeChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	if cp.ID == uuid.Nil {
		cp.ID = uuid.Must(uuid.NewV7())
	}
	s.chunks[c.TenantID] = append(s.chunks[c.TenantID], &cp)
}

// Messages returns a copy of a conversation's message log (test helper).
func (s *Stores) Messages(conversationID string) []*store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Message, 0, len(s.messages[conversationID]))
	for _, m := range s.messages[conversationID] {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

// --- TenantStore ---

func (s *Stores) GetTenant(_ context.Context, id string) (*store.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Stores) ResolvePage(_ context.Context, pageID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenantID, ok := s.pages[pageID]
	if !ok {
		return "", store.ErrNotFound
	}
	return tenantID, nil
}

func (s *Stores) UpdateToken(_ context.Context, tenantID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return store.ErrNotFound
	}
	t.InstagramToken = token
	t.TokenExpiresAt = expiresAt
	t.UpdatedAt = time.Now()
	return nil
}

func (s *Stores) ExpiringTenants(_ context.Context, cutoff time.Time) ([]*store.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Tenant
	for _, t := range s.tenants {
		if t.OAuthConnected && !t.TokenExpiresAt.After(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- ConversationStore ---

func (s *Stores) GetConversation(_ context.Context, id string) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Stores) UpsertSummary(_ context.Context, conv *store.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.conversations[conv.ID]; ok {
		existing.LastMessage = conv.LastMessage
		existing.LastMessageAt = conv.LastMessageAt
		existing.UnreadCount++
		existing.UpdatedAt = now
		return nil
	}
	cp := *conv
	cp.Stage = store.StageActive
	cp.UnreadCount = 1
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.conversations[conv.ID] = &cp
	return nil
}

func (s *Stores) AppendMessage(_ context.Context, msg *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.PlatformMID != "" {
		for _, m := range s.messages[msg.ConversationID] {
			if m.PlatformMID == msg.PlatformMID {
				return store.ErrDuplicateMessage
			}
		}
	}
	cp := *msg
	if cp.ID == uuid.Nil {
		cp.ID = uuid.Must(uuid.NewV7())
		msg.ID = cp.ID
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &cp)
	return nil
}

func (s *Stores) UpdateMessageStatus(_ context.Context, conversationID, messageID, status, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[conversationID] {
		if m.ID.String() == messageID {
			if store.TerminalStatus(m.Status) {
				return store.ErrTerminalStatus
			}
			m.Status = status
			m.Error = errText
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Stores) SetSentiment(_ context.Context, conversationID, messageID string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[conversationID] {
		if m.ID.String() == messageID {
			m.Sentiment = score
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Stores) History(_ context.Context, conversationID string, limit int) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]*store.Message, 0, len(s.messages[conversationID]))
	for _, m := range s.messages[conversationID] {
		cp := *m
		msgs = append(msgs, &cp)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *Stores) NewerUserMessageExists(_ context.Context, conversationID string, after time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[conversationID] {
		if m.Type == store.TypeUser && m.Timestamp.After(after) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Stores) LatestMessage(_ context.Context, conversationID string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *store.Message
	for _, m := range s.messages[conversationID] {
		if latest == nil || m.Timestamp.After(latest.Timestamp) {
			latest = m
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Stores) MarkRead(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	c.UnreadCount = 0
	return nil
}

func (s *Stores) SetStage(_ context.Context, conversationID, stage, source string) error {
	if !store.ValidStage(stage) {
		return &store.InvalidStageError{Stage: stage}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	c.Stage = stage
	c.StageSource = source
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Stores) SetPaused(_ context.Context, conversationID string, paused bool, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	c.BotPaused = paused
	if !paused {
		source = ""
	}
	c.PauseSource = source
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Stores) UpdateAfterSend(_ context.Context, conversationID, lastMessage string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	c.LastMessage = lastMessage
	c.LastMessageAt = at
	c.UnreadCount = 0
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Stores) ListByTenant(_ context.Context, tenantID string, limit int) ([]*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Conversation
	for _, c := range s.conversations {
		if c.TenantID == tenantID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- TriggerStore ---

func (s *Stores) EnabledTriggers(_ context.Context, tenantID string) ([]*store.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Trigger
	for _, t := range s.triggers[tenantID] {
		if t.Enabled {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// --- KnowledgeStore ---

func (s *Stores) CountChunks(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[tenantID]), nil
}

func (s *Stores) Chunks(_ context.Context, tenantID string) ([]*store.KnowledgeChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.KnowledgeChunk, 0, len(s.chunks[tenantID]))
	for _, c := range s.chunks[tenantID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// --- StatsStore ---

func (s *Stores) IncrReceived(_ context.Context, tenantID string, at time.Time) error {
	s.incr(tenantID, at, func(st *store.DailyStats) { st.MessagesReceived++ })
	return nil
}

func (s *Stores) IncrSent(_ context.Context, tenantID string, at time.Time) error {
	s.incr(tenantID, at, func(st *store.DailyStats) { st.MessagesSent++ })
	return nil
}

func (s *Stores) incr(tenantID string, at time.Time, bump func(*store.DailyStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := store.DayKey(at)
	key := tenantID + "|" + day
	st, ok := s.stats[key]
	if !ok {
		st = &store.DailyStats{TenantID: tenantID, Day: day}
		s.stats[key] = st
	}
	bump(st)
	st.ByHour[at.UTC().Hour()]++
}

func (s *Stores) Get(_ context.Context, tenantID, day string) (*store.DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[tenantID+"|"+day]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *st
	return &cp, nil
}
