package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/firesend/engine/internal/store"
)

// PGKnowledgeStore serves tenant knowledge chunks. Embeddings are stored
// as JSONB float arrays; written by the ingestion worker, read here.
type PGKnowledgeStore struct {
	db *sql.DB
}

func NewKnowledgeStore(db *sql.DB) *PGKnowledgeStore {
	return &PGKnowledgeStore{db: db}
}

func (s *PGKnowledgeStore) CountChunks(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM knowledge_chunks WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (s *PGKnowledgeStore) Chunks(ctx context.Context, tenantID string) ([]*store.KnowledgeChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, document_id, content, embedding, created_at
		 FROM knowledge_chunks WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*store.KnowledgeChunk
	for rows.Next() {
		c := &store.KnowledgeChunk{}
		var embJSON []byte
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.Content, &embJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal(embJSON, &c.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
