package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Record is one indexed chat message.
type Record struct {
	ID        string
	Role      string
	Content   string
	Timestamp time.Time
}

// Store is the write-through interface the indexer depends on.
type Store interface {
	AddMessage(ctx context.Context, userID, chatID string, rec Record, chatTitle string) error
	Close(ctx context.Context) error
}

// PGStore persists indexed messages to Postgres, embedding each message
// body at write time. Embedding failures degrade to a row without an
// embedding rather than losing the message.
type PGStore struct {
	db         *sql.DB
	embeddings *EmbeddingClient
}

func NewPGStore(db *sql.DB, embeddings *EmbeddingClient) *PGStore {
	return &PGStore{db: db, embeddings: embeddings}
}

func (s *PGStore) AddMessage(ctx context.Context, userID, chatID string, rec Record, chatTitle string) error {
	var embeddingJSON []byte
	if s.embeddings != nil {
		if emb, err := s.embeddings.GetEmbedding(ctx, rec.Content); err == nil {
			embeddingJSON, _ = json.Marshal(emb)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, user_id, chat_id, role, content, chat_title, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, userID, chatID, rec.Role, rec.Content, chatTitle, embeddingJSON, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

// Close is a no-op for PGStore; the underlying pool is owned and closed by
// the storage layer.
func (s *PGStore) Close(ctx context.Context) error {
	return nil
}
