package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/firesend/engine/internal/store"
)

// SeedTenant inserts (or updates) a tenant and its page mapping. Used by
// the onboard command; idempotent on re-run.
func SeedTenant(ctx context.Context, db *sql.DB, t *store.Tenant) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed tenant: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tenants (id, instagram_token, token_expires_at, page_id, system_prompt, gemini_key, is_bot_active, oauth_connected, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		   instagram_token = EXCLUDED.instagram_token,
		   token_expires_at = EXCLUDED.token_expires_at,
		   page_id = EXCLUDED.page_id,
		   system_prompt = EXCLUDED.system_prompt,
		   gemini_key = EXCLUDED.gemini_key,
		   is_bot_active = EXCLUDED.is_bot_active,
		   oauth_connected = EXCLUDED.oauth_connected,
		   updated_at = now()`,
		t.ID, t.InstagramToken, t.TokenExpiresAt, t.PageID, t.SystemPrompt,
		t.GeminiKey, t.IsBotActive, t.OAuthConnected)
	if err != nil {
		return fmt.Errorf("seed tenant: upsert tenant: %w", err)
	}

	if t.PageID != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO page_mappings (page_id, tenant_id, created_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (page_id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id`,
			t.PageID, t.ID)
		if err != nil {
			return fmt.Errorf("seed tenant: upsert page mapping: %w", err)
		}
	}

	return tx.Commit()
}
