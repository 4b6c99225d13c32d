package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/firesend/engine/internal/store"
)

// PGTriggerStore reads tenant automation rules. The pipeline only ever
// lists enabled triggers; rule CRUD belongs to the dashboard API.
type PGTriggerStore struct {
	db *sql.DB
}

func NewTriggerStore(db *sql.DB) *PGTriggerStore {
	return &PGTriggerStore{db: db}
}

func (s *PGTriggerStore) EnabledTriggers(ctx context.Context, tenantID string) ([]*store.Trigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, keywords, action,
		        COALESCE(message, ''), COALESCE(stage, ''), enabled, position
		 FROM triggers
		 WHERE tenant_id = $1 AND enabled = TRUE
		 ORDER BY position ASC, id ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*store.Trigger
	for rows.Next() {
		t := &store.Trigger{}
		var keywordsJSON []byte
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &keywordsJSON, &t.Action,
			&t.Message, &t.Stage, &t.Enabled, &t.Position); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		if err := json.Unmarshal(keywordsJSON, &t.Keywords); err != nil {
			return nil, fmt.Errorf("decode trigger keywords: %w", err)
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}
