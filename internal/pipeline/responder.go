// Package pipeline runs the inbound-message-to-reply flow: debounce,
// policy gates, trigger rules, retrieval, generation, and delivery.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/firesend/engine/internal/providers"
	"github.com/firesend/engine/internal/store"
	"github.com/firesend/engine/internal/triggers"
)

// Sender delivers outbound messages and sender actions. Implemented by
// the Graph API client.
type Sender interface {
	Send(ctx context.Context, token, userID, text string) (string, error)
	SendTyping(ctx context.Context, token, userID string) error
	MarkSeen(ctx context.Context, token, userID string) error
}

// Retriever produces grounding context for a query. Implemented by the
// rag searcher.
type Retriever interface {
	Search(ctx context.Context, tenantID, query string) (string, error)
}

// Publisher fans events out to dashboard listeners. Best-effort.
type Publisher interface {
	Publish(tenantID string, event any)
}

// ProviderFactory returns the LLM provider for a tenant key. An empty
// key means the platform-level provider.
type ProviderFactory func(tenantKey string) providers.Provider

// Responder executes one pipeline run per debounce firing.
type Responder struct {
	stores      *store.Stores
	providerFor ProviderFactory
	retriever   Retriever
	sender      Sender
	rules       *triggers.Engine
	publisher   Publisher

	historyLimit int
	tracer       trace.Tracer
}

func NewResponder(stores *store.Stores, providerFor ProviderFactory, retriever Retriever, sender Sender, rules *triggers.Engine, publisher Publisher, historyLimit int) *Responder {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Responder{
		stores:       stores,
		providerFor:  providerFor,
		retriever:    retriever,
		sender:       sender,
		rules:        rules,
		publisher:    publisher,
		historyLimit: historyLimit,
		tracer:       otel.Tracer("firesend/pipeline"),
	}
}

// Run processes the most recent pending user message of a conversation.
// Called by the debounce scheduler; every exit path is terminal for this
// run, a later webhook schedules the next one.
func (r *Responder) Run(ctx context.Context, tenantID, conversationID string) {
	ctx, span := r.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("conversation_id", conversationID),
	))
	step, outcome := r.run(ctx, tenantID, conversationID)
	span.SetAttributes(
		attribute.String("pipeline.step", step.String()),
		attribute.String("pipeline.outcome", string(outcome)),
	)
	span.End()

	slog.Info("pipeline run finished",
		"tenant_id", tenantID,
		"conversation_id", conversationID,
		"step", step.String(),
		"outcome", outcome)
}

func (r *Responder) run(ctx context.Context, tenantID, conversationID string) (Step, Outcome) {
	log := slog.With("tenant_id", tenantID, "conversation_id", conversationID)

	msg, err := r.stores.Conversations.LatestMessage(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return StepDebounce, OutcomeSkipped
	}
	if err != nil {
		log.Error("latest message load failed", "error", err)
		return StepDebounce, OutcomeFailed
	}

	// A latest assistant message means we already answered everything;
	// running again would have the bot talk to itself.
	if msg.Type != store.TypeUser {
		return StepLoopGuard, OutcomeSkipped
	}
	if msg.Status != store.StatusPending {
		return StepLoopGuard, OutcomeSkipped
	}

	tenant, err := r.stores.Tenants.GetTenant(ctx, tenantID)
	if err != nil {
		log.Error("tenant load failed", "error", err)
		return StepPolicy, OutcomeFailed
	}
	conv, err := r.stores.Conversations.GetConversation(ctx, conversationID)
	if err != nil {
		log.Error("conversation load failed", "error", err)
		return StepPolicy, OutcomeFailed
	}

	if !tenant.IsBotActive {
		r.setStatus(ctx, log, conversationID, msg.ID.String(), store.StatusSkippedBotDisabled, "")
		return StepPolicy, OutcomeSkipped
	}
	if conv.BotPaused {
		r.setStatus(ctx, log, conversationID, msg.ID.String(), store.StatusSkippedBotPaused, "")
		return StepPolicy, OutcomeSkipped
	}

	history, err := r.stores.Conversations.History(ctx, conversationID, r.historyLimit)
	if err != nil {
		log.Error("history load failed", "error", err)
		return StepContext, OutcomeFailed
	}

	// Read receipt and typing indicator are cosmetic; off the hot path.
	token, userID := tenant.InstagramToken, conv.UserID
	detach("sender_actions", func() {
		actx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.sender.MarkSeen(actx, token, userID); err != nil {
			slog.Debug("mark_seen failed", "error", err)
		}
		if err := r.sender.SendTyping(actx, token, userID); err != nil {
			slog.Debug("typing_on failed", "error", err)
		}
	})

	if step, outcome, done := r.applyTriggers(ctx, log, tenant, conv, msg); done {
		return step, outcome
	}

	ragContext := ""
	if r.retriever != nil {
		ragContext, err = r.retriever.Search(ctx, tenantID, msg.Text)
		if err != nil {
			// Retrieval is an enrichment; generation proceeds without it.
			log.Warn("retrieval failed, continuing without context", "error", err)
			ragContext = ""
		}
	}

	provider := r.providerFor(tenant.GeminiKey)
	reply, err := provider.Generate(ctx, providers.GenerateRequest{
		History:      toChatHistory(history),
		SystemPrompt: tenant.SystemPrompt,
		RAGContext:   ragContext,
	})
	if err != nil {
		log.Error("generation failed", "error", err)
		r.setStatus(ctx, log, conversationID, msg.ID.String(), store.StatusFailed, err.Error())
		return StepGenerate, OutcomeFailed
	}

	// Generation takes seconds; if the user wrote again meanwhile, the
	// reply is stale and the newer run owns the conversation.
	newer, err := r.stores.Conversations.NewerUserMessageExists(ctx, conversationID, msg.Timestamp)
	if err != nil {
		log.Warn("freshness check failed", "error", err)
	}
	if newer {
		r.setStatus(ctx, log, conversationID, msg.ID.String(), store.StatusProcessed, "")
		return StepFreshness, OutcomeSkipped
	}

	mid, err := r.sender.Send(ctx, token, userID, reply)
	if err != nil {
		log.Error("delivery failed", "error", err)
		r.setStatus(ctx, log, conversationID, msg.ID.String(), store.StatusFailed, err.Error())
		return StepDeliver, OutcomeFailed
	}

	r.recordOutbound(ctx, log, tenant, conv, reply, mid, store.SourceAuto)
	r.setStatus(ctx, log, conversationID, msg.ID.String(), store.StatusProcessed, "")

	r.publish(tenantID, map[string]any{
		"type":            "message.sent",
		"conversation_id": conversationID,
		"text":            reply,
	})

	r.scoreSentiment(tenant.GeminiKey, conversationID, msg.ID.String(), msg.Text)

	return StepDone, OutcomeReplied
}

// applyTriggers evaluates keyword rules against the inbound text. done
// reports whether the run is finished (canned reply sent or failure);
// change_stage and notify annotate and let the run continue.
func (r *Responder) applyTriggers(ctx context.Context, log *slog.Logger, tenant *store.Tenant, conv *store.Conversation, msg *store.Message) (Step, Outcome, bool) {
	match, err := r.rules.Evaluate(ctx, tenant.ID, msg.Text)
	if err != nil {
		// A broken rule store never blocks the reply.
		log.Warn("trigger evaluation failed, continuing", "error", err)
		return 0, "", false
	}
	if match == nil {
		return 0, "", false
	}

	rule := match.Trigger
	log.Info("trigger matched", "rule", rule.Name, "action", rule.Action, "keyword", match.Keyword)

	switch rule.Action {
	case store.ActionChangeStage:
		if err := r.stores.Conversations.SetStage(ctx, conv.ID, rule.Stage, store.PauseTrigger); err != nil {
			log.Error("trigger stage change failed", "rule", rule.Name, "error", err)
		} else {
			r.publish(tenant.ID, map[string]any{
				"type":            "conversation.stage_changed",
				"conversation_id": conv.ID,
				"stage":           rule.Stage,
				"rule":            rule.Name,
			})
		}
		return 0, "", false

	case store.ActionNotify:
		r.publish(tenant.ID, map[string]any{
			"type":            "trigger.notify",
			"conversation_id": conv.ID,
			"rule":            rule.Name,
			"keyword":         match.Keyword,
			"text":            msg.Text,
		})
		return 0, "", false

	case store.ActionPauseBot:
		if err := r.stores.Conversations.SetPaused(ctx, conv.ID, true, store.PauseTrigger); err != nil {
			log.Error("trigger pause failed", "rule", rule.Name, "error", err)
		}
		fallthrough

	case store.ActionSendMessage:
		mid, err := r.sender.Send(ctx, tenant.InstagramToken, conv.UserID, rule.Message)
		if err != nil {
			log.Error("trigger reply delivery failed", "rule", rule.Name, "error", err)
			r.setStatus(ctx, log, conv.ID, msg.ID.String(), store.StatusFailed, err.Error())
			return StepTriggers, OutcomeFailed, true
		}
		r.recordOutbound(ctx, log, tenant, conv, rule.Message, mid, store.SourceAuto)
		r.setStatus(ctx, log, conv.ID, msg.ID.String(), store.StatusProcessedByTrigger, "")
		r.publish(tenant.ID, map[string]any{
			"type":            "message.sent",
			"conversation_id": conv.ID,
			"text":            rule.Message,
			"rule":            rule.Name,
		})
		return StepTriggers, OutcomeTriggered, true
	}
	return 0, "", false
}

// recordOutbound appends the assistant message row and refreshes the
// conversation summary and counters after a successful send.
func (r *Responder) recordOutbound(ctx context.Context, log *slog.Logger, tenant *store.Tenant, conv *store.Conversation, text, mid, source string) {
	now := time.Now().UTC()
	out := &store.Message{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: conv.ID,
		Text:           text,
		Type:           store.TypeAssistant,
		Subtype:        store.SubtypeText,
		Status:         store.StatusSent,
		SenderID:       conv.PageID,
		RecipientID:    conv.UserID,
		Source:         source,
		PlatformMID:    mid,
		Timestamp:      now,
	}
	if err := r.stores.Conversations.AppendMessage(ctx, out); err != nil {
		log.Error("outbound message append failed", "error", err)
	}
	if err := r.stores.Conversations.UpdateAfterSend(ctx, conv.ID, text, now); err != nil {
		log.Error("summary update after send failed", "error", err)
	}
	if err := r.stores.Stats.IncrSent(ctx, tenant.ID, now); err != nil {
		log.Warn("sent counter failed", "error", err)
	}
}

// scoreSentiment runs sentiment analysis detached from the reply path.
// Any failure degrades to the neutral score.
func (r *Responder) scoreSentiment(tenantKey, conversationID, messageID, text string) {
	detach("sentiment", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		score, err := r.providerFor(tenantKey).Sentiment(ctx, text)
		if err != nil {
			slog.Debug("sentiment scoring failed, recording neutral", "error", err)
			score = 5
		}
		if err := r.stores.Conversations.SetSentiment(ctx, conversationID, messageID, score); err != nil {
			slog.Warn("sentiment write failed", "conversation_id", conversationID, "error", err)
		}
	})
}

func (r *Responder) setStatus(ctx context.Context, log *slog.Logger, conversationID, messageID, status, errText string) {
	err := r.stores.Conversations.UpdateMessageStatus(ctx, conversationID, messageID, status, errText)
	if err != nil && !errors.Is(err, store.ErrTerminalStatus) {
		log.Error("message status update failed", "message_id", messageID, "status", status, "error", err)
	}
}

func (r *Responder) publish(tenantID string, event any) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(tenantID, event)
}

func toChatHistory(msgs []*store.Message) []providers.ChatMessage {
	out := make([]providers.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Type == store.TypeAssistant {
			role = "assistant"
		}
		out = append(out, providers.ChatMessage{Role: role, Content: m.Text})
	}
	return out
}
