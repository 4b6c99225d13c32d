package triggers

import (
	"context"
	"errors"
	"testing"

	"github.com/firesend/engine/internal/store"
	"github.com/firesend/engine/internal/store/mem"
)

func seedEngine(t *testing.T) (*Engine, *mem.Stores) {
	t.Helper()
	stores := mem.New()
	stores.PutTrigger(&store.Trigger{
		TenantID: "t1",
		Name:     "human handoff",
		Keywords: []string{"soporte", "humano"},
		Action:   store.ActionPauseBot,
		Message:  "Un agente te atendera en breve.",
		Enabled:  true,
		Position: 0,
	})
	stores.PutTrigger(&store.Trigger{
		TenantID: "t1",
		Name:     "pricing",
		Keywords: []string{"precio"},
		Action:   store.ActionSendMessage,
		Message:  "Nuestros planes empiezan en $10/mes.",
		Enabled:  true,
		Position: 1,
	})
	stores.PutTrigger(&store.Trigger{
		TenantID: "t1",
		Name:     "hot lead",
		Keywords: []string{"comprar"},
		Action:   store.ActionChangeStage,
		Stage:    store.StageQualified,
		Enabled:  true,
		Position: 2,
	})
	stores.PutTrigger(&store.Trigger{
		TenantID: "t1",
		Name:     "disabled rule",
		Keywords: []string{"hola"},
		Action:   store.ActionSendMessage,
		Message:  "never",
		Enabled:  false,
		Position: 3,
	})
	return NewEngine(stores.Container().Triggers), stores
}

func TestEvaluate(t *testing.T) {
	engine, _ := seedEngine(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		text     string
		wantRule string
		skipAI   bool
	}{
		{"substring match", "necesito soporte urgente", "human handoff", true},
		{"case insensitive", "Quiero hablar con un HUMANO", "human handoff", true},
		{"send_message skips ai", "cual es el precio?", "pricing", true},
		{"change_stage continues", "quiero comprar ya", "hot lead", false},
		{"no match", "gracias por todo", "", false},
		{"disabled rule ignored", "hola", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := engine.Evaluate(ctx, "t1", tc.text)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if tc.wantRule == "" {
				if m != nil {
					t.Fatalf("matched %q, want no match", m.Trigger.Name)
				}
				return
			}
			if m == nil {
				t.Fatal("no match")
			}
			if m.Trigger.Name != tc.wantRule {
				t.Errorf("rule = %q, want %q", m.Trigger.Name, tc.wantRule)
			}
			if m.SkipAI != tc.skipAI {
				t.Errorf("SkipAI = %v, want %v", m.SkipAI, tc.skipAI)
			}
		})
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	engine, _ := seedEngine(t)
	// Text hits both "soporte" (position 0) and "precio" (position 1).
	m, err := engine.Evaluate(context.Background(), "t1", "soporte con el precio")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if m == nil || m.Trigger.Name != "human handoff" {
		t.Fatalf("match = %+v, want first rule by position", m)
	}
}

func TestEvaluateOtherTenantIsolated(t *testing.T) {
	engine, _ := seedEngine(t)
	m, err := engine.Evaluate(context.Background(), "t2", "necesito soporte")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if m != nil {
		t.Errorf("matched %q across tenants", m.Trigger.Name)
	}
}

type failingTriggerStore struct{}

func (failingTriggerStore) EnabledTriggers(context.Context, string) ([]*store.Trigger, error) {
	return nil, errors.New("backend down")
}

func TestEvaluateStoreFailure(t *testing.T) {
	engine := NewEngine(failingTriggerStore{})
	m, err := engine.Evaluate(context.Background(), "t1", "soporte")
	if err == nil {
		t.Fatal("expected error")
	}
	if m != nil {
		t.Errorf("match = %+v, want nil on failure", m)
	}
}
