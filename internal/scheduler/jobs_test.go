package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firesend/engine/internal/store"
	"github.com/firesend/engine/internal/store/mem"
)

type fakeRefresher struct {
	failFor map[string]bool
	calls   []string
}

func (f *fakeRefresher) RefreshToken(_ context.Context, _, _, token string) (string, time.Time, error) {
	f.calls = append(f.calls, token)
	if f.failFor[token] {
		return "", time.Time{}, errors.New("session expired")
	}
	return "fresh-" + token, time.Now().Add(60 * 24 * time.Hour), nil
}

func TestTokenRefreshJob(t *testing.T) {
	stores := mem.New()
	stores.PutTenant(&store.Tenant{
		ID:             "expiring",
		InstagramToken: "old-a",
		TokenExpiresAt: time.Now().Add(2 * 24 * time.Hour),
		OAuthConnected: true,
	})
	stores.PutTenant(&store.Tenant{
		ID:             "healthy",
		InstagramToken: "old-b",
		TokenExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		OAuthConnected: true,
	})
	stores.PutTenant(&store.Tenant{
		ID:             "disconnected",
		InstagramToken: "old-c",
		TokenExpiresAt: time.Now().Add(time.Hour),
		OAuthConnected: false,
	})

	refresher := &fakeRefresher{}
	job := TokenRefreshJob(stores.Container().Tenants, refresher, "app-1", "secret")
	job(context.Background())

	if len(refresher.calls) != 1 || refresher.calls[0] != "old-a" {
		t.Fatalf("refreshed tokens = %v, want only the expiring one", refresher.calls)
	}

	tenant, err := stores.GetTenant(context.Background(), "expiring")
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if tenant.InstagramToken != "fresh-old-a" {
		t.Errorf("token = %q, not persisted", tenant.InstagramToken)
	}
}

func TestTokenRefreshJobFailureIsolated(t *testing.T) {
	stores := mem.New()
	stores.PutTenant(&store.Tenant{
		ID:             "broken",
		InstagramToken: "bad",
		TokenExpiresAt: time.Now().Add(time.Hour),
		OAuthConnected: true,
	})
	stores.PutTenant(&store.Tenant{
		ID:             "fine",
		InstagramToken: "good",
		TokenExpiresAt: time.Now().Add(2 * time.Hour),
		OAuthConnected: true,
	})

	refresher := &fakeRefresher{failFor: map[string]bool{"bad": true}}
	job := TokenRefreshJob(stores.Container().Tenants, refresher, "app-1", "secret")
	job(context.Background())

	tenant, _ := stores.GetTenant(context.Background(), "fine")
	if tenant.InstagramToken != "fresh-good" {
		t.Errorf("token = %q, healthy tenant should still refresh", tenant.InstagramToken)
	}
	broken, _ := stores.GetTenant(context.Background(), "broken")
	if broken.InstagramToken != "bad" {
		t.Errorf("token = %q, failed refresh must not overwrite", broken.InstagramToken)
	}
}

func TestTokenRefreshJobNoCredentials(t *testing.T) {
	stores := mem.New()
	refresher := &fakeRefresher{}
	job := TokenRefreshJob(stores.Container().Tenants, refresher, "", "")
	job(context.Background())
	if len(refresher.calls) != 0 {
		t.Errorf("calls = %v, want none without app credentials", refresher.calls)
	}
}

func TestStatsRollupJob(t *testing.T) {
	stores := mem.New()
	stores.PutTenant(&store.Tenant{
		ID:             "t1",
		TokenExpiresAt: time.Now().Add(time.Hour),
		OAuthConnected: true,
	})
	yesterday := time.Now().AddDate(0, 0, -1)
	stores.IncrReceived(context.Background(), "t1", yesterday)
	stores.IncrSent(context.Background(), "t1", yesterday)

	var events []map[string]any
	job := StatsRollupJob(stores.Container().Tenants, stores.Container().Stats, func(tenantID string, event any) {
		if tenantID == "t1" {
			events = append(events, event.(map[string]any))
		}
	})
	job(context.Background())

	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0]["received"] != 1 || events[0]["sent"] != 1 {
		t.Errorf("event = %v", events[0])
	}
}

func TestStartDropsInvalidExpression(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := New(
		Job{Name: "broken", Expr: "not a cron", Run: func(context.Context) { ran <- struct{}{} }},
	)
	s.Start(context.Background())
	defer s.Stop()

	if len(s.jobs) != 0 {
		t.Errorf("jobs = %d, want invalid expression dropped", len(s.jobs))
	}
}
