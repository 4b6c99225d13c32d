package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/firesend/engine/internal/store"
)

// Open connects to Postgres and returns the full store set backed by it.
func Open(ctx context.Context, dsn string) (*sql.DB, *store.Stores, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, NewStores(db), nil
}

// NewStores wires all pg-backed stores over one shared pool.
func NewStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Tenants:       NewTenantStore(db),
		Conversations: NewConversationStore(db),
		Triggers:      NewTriggerStore(db),
		Knowledge:     NewKnowledgeStore(db),
		Stats:         NewStatsStore(db),
	}
}
