package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/firesend/engine/internal/store"
)

// tokenRefreshWindow is how far ahead of expiry tokens are renewed. The
// job runs weekly, so the window must exceed one week.
const tokenRefreshWindow = 7 * 24 * time.Hour

// TokenRefresher exchanges a page token for a fresh long-lived one.
// Implemented by the Graph API client.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, appID, appSecret, token string) (string, time.Time, error)
}

// TokenRefreshJob renews Instagram tokens expiring within the window.
// One tenant's failure never blocks the rest.
func TokenRefreshJob(tenants store.TenantStore, refresher TokenRefresher, appID, appSecret string) func(ctx context.Context) {
	return func(ctx context.Context) {
		if appID == "" || appSecret == "" {
			slog.Warn("token refresh skipped, app credentials not configured")
			return
		}

		expiring, err := tenants.ExpiringTenants(ctx, time.Now().Add(tokenRefreshWindow))
		if err != nil {
			slog.Error("expiring tenant scan failed", "error", err)
			return
		}
		if len(expiring) == 0 {
			return
		}
		slog.Info("refreshing expiring tokens", "count", len(expiring))

		for _, tenant := range expiring {
			token, expiresAt, err := refresher.RefreshToken(ctx, appID, appSecret, tenant.InstagramToken)
			if err != nil {
				slog.Error("token refresh failed", "tenant_id", tenant.ID, "error", err)
				continue
			}
			if err := tenants.UpdateToken(ctx, tenant.ID, token, expiresAt); err != nil {
				slog.Error("token persist failed", "tenant_id", tenant.ID, "error", err)
				continue
			}
			slog.Info("token refreshed", "tenant_id", tenant.ID, "expires_at", expiresAt)
		}
	}
}

// StatsRollupJob logs yesterday's per-tenant volumes shortly after
// midnight and pushes a summary event to connected dashboards.
func StatsRollupJob(tenants store.TenantStore, stats store.StatsStore, publish func(tenantID string, event any)) func(ctx context.Context) {
	return func(ctx context.Context) {
		yesterday := store.DayKey(time.Now().AddDate(0, 0, -1))

		// Far-future cutoff: every connected tenant.
		all, err := tenants.ExpiringTenants(ctx, time.Now().AddDate(100, 0, 0))
		if err != nil {
			slog.Error("tenant scan failed", "error", err)
			return
		}

		for _, tenant := range all {
			day, err := stats.Get(ctx, tenant.ID, yesterday)
			if err != nil {
				continue // no traffic that day
			}
			slog.Info("daily rollup",
				"tenant_id", tenant.ID,
				"day", yesterday,
				"received", day.MessagesReceived,
				"sent", day.MessagesSent)
			if publish != nil {
				publish(tenant.ID, map[string]any{
					"type":     "stats.rollup",
					"day":      yesterday,
					"received": day.MessagesReceived,
					"sent":     day.MessagesSent,
				})
			}
		}
	}
}
