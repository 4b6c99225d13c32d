package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/firesend/engine/internal/store"
)

// PGTenantStore implements store.TenantStore backed by Postgres.
type PGTenantStore struct {
	db *sql.DB
}

func NewTenantStore(db *sql.DB) *PGTenantStore {
	return &PGTenantStore{db: db}
}

func (s *PGTenantStore) GetTenant(ctx context.Context, id string) (*store.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, instagram_token, token_expires_at, page_id, system_prompt,
		        gemini_key, is_bot_active, oauth_connected, created_at, updated_at
		 FROM tenants WHERE id = $1`, id)

	t := &store.Tenant{}
	var expires, created, updated sql.NullTime
	err := row.Scan(&t.ID, &t.InstagramToken, &expires, &t.PageID, &t.SystemPrompt,
		&t.GeminiKey, &t.IsBotActive, &t.OAuthConnected, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	t.TokenExpiresAt = expires.Time
	t.CreatedAt = created.Time
	t.UpdatedAt = updated.Time
	return t, nil
}

// ResolvePage is a primary-key point read on page_mappings.
func (s *PGTenantStore) ResolvePage(ctx context.Context, pageID string) (string, error) {
	var tenantID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM page_mappings WHERE page_id = $1`, pageID).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve page %s: %w", pageID, err)
	}
	return tenantID, nil
}

func (s *PGTenantStore) UpdateToken(ctx context.Context, tenantID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET instagram_token = $2, token_expires_at = $3, updated_at = now()
		 WHERE id = $1`, tenantID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update token for tenant %s: %w", tenantID, err)
	}
	return nil
}

func (s *PGTenantStore) ExpiringTenants(ctx context.Context, cutoff time.Time) ([]*store.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instagram_token, token_expires_at, page_id, system_prompt,
		        gemini_key, is_bot_active, oauth_connected, created_at, updated_at
		 FROM tenants
		 WHERE oauth_connected = TRUE AND token_expires_at <= $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*store.Tenant
	for rows.Next() {
		t := &store.Tenant{}
		var expires, created, updated sql.NullTime
		if err := rows.Scan(&t.ID, &t.InstagramToken, &expires, &t.PageID, &t.SystemPrompt,
			&t.GeminiKey, &t.IsBotActive, &t.OAuthConnected, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		t.TokenExpiresAt = expires.Time
		t.CreatedAt = created.Time
		t.UpdatedAt = updated.Time
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
