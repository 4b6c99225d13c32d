// Package triggers evaluates tenant keyword rules against inbound
// messages before any model call. First match wins; matching is
// case-insensitive substring over stored-lowercase keywords.
package triggers

import (
	"context"
	"fmt"
	"strings"

	"github.com/firesend/engine/internal/store"
)

// Match is the outcome of a successful evaluation.
type Match struct {
	Trigger *store.Trigger
	Keyword string
	// SkipAI is true for actions that replace the model reply
	// (pause_bot, send_message). change_stage and notify annotate the
	// conversation and let generation continue.
	SkipAI bool
}

// Engine evaluates rules in tenant storage order.
type Engine struct {
	triggers store.TriggerStore
}

func NewEngine(triggers store.TriggerStore) *Engine {
	return &Engine{triggers: triggers}
}

// Evaluate returns the first enabled trigger whose keyword appears in
// text, or nil when nothing matches. Rule-fetch failures propagate; the
// caller decides whether to continue without triggers.
func (e *Engine) Evaluate(ctx context.Context, tenantID, text string) (*Match, error) {
	rules, err := e.triggers.EnabledTriggers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("triggers: load rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	lower := strings.ToLower(text)
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, kw) {
				return &Match{
					Trigger: rule,
					Keyword: kw,
					SkipAI:  rule.Action == store.ActionPauseBot || rule.Action == store.ActionSendMessage,
				}, nil
			}
		}
	}
	return nil, nil
}
