package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firesend/engine/internal/store"
)

// PGStatsStore accumulates per-tenant daily counters. Increments run as a
// single upsert with SQL arithmetic so concurrent events on the same day
// document never lose updates.
type PGStatsStore struct {
	db *sql.DB
}

func NewStatsStore(db *sql.DB) *PGStatsStore {
	return &PGStatsStore{db: db}
}

func (s *PGStatsStore) IncrReceived(ctx context.Context, tenantID string, at time.Time) error {
	return s.incr(ctx, tenantID, at, "messages_received")
}

func (s *PGStatsStore) IncrSent(ctx context.Context, tenantID string, at time.Time) error {
	return s.incr(ctx, tenantID, at, "messages_sent")
}

func (s *PGStatsStore) incr(ctx context.Context, tenantID string, at time.Time, column string) error {
	day := store.DayKey(at)
	hour := at.UTC().Hour()
	// column is one of two compile-time constants, never user input.
	query := fmt.Sprintf(
		`INSERT INTO daily_stats (tenant_id, day, %[1]s, by_hour)
		 VALUES ($1, $2, 1, jsonb_build_object($3::text, 1))
		 ON CONFLICT (tenant_id, day) DO UPDATE SET
		   %[1]s = daily_stats.%[1]s + 1,
		   by_hour = jsonb_set(daily_stats.by_hour, ARRAY[$3::text],
		     (COALESCE(daily_stats.by_hour->>$3::text, '0')::int + 1)::text::jsonb)`,
		column)
	if _, err := s.db.ExecContext(ctx, query, tenantID, day, fmt.Sprintf("%d", hour)); err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}

func (s *PGStatsStore) Get(ctx context.Context, tenantID, day string) (*store.DailyStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, day, messages_received, messages_sent, by_hour
		 FROM daily_stats WHERE tenant_id = $1 AND day = $2`, tenantID, day)

	st := &store.DailyStats{}
	var byHourJSON []byte
	err := row.Scan(&st.TenantID, &st.Day, &st.MessagesReceived, &st.MessagesSent, &byHourJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	var byHour map[string]int
	if err := json.Unmarshal(byHourJSON, &byHour); err != nil {
		return nil, fmt.Errorf("decode by_hour: %w", err)
	}
	for k, v := range byHour {
		var h int
		if _, err := fmt.Sscanf(k, "%d", &h); err == nil && h >= 0 && h < 24 {
			st.ByHour[h] = v
		}
	}
	return st, nil
}
