package vectorstore

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eternisai/enchanted-chat/internal/history"
	"github.com/eternisai/enchanted-chat/internal/logger"
	"github.com/eternisai/enchanted-chat/internal/metrics"
)

const (
	maxTitleChars = 50
	defaultTitle  = "New Chat"
	writeTimeout  = 10 * time.Second
)

// Indexer writes completed user/assistant turn pairs through to the
// retrieval store. Indexing is best-effort: failures are logged and never
// surface to the caller.
type Indexer struct {
	store  Store
	logger *logger.Logger
}

func NewIndexer(store Store, log *logger.Logger) *Indexer {
	return &Indexer{
		store:  store,
		logger: log.WithComponent("vector-indexer"),
	}
}

// IndexTurn records one completed exchange as two messages. The two writes
// run concurrently and IndexTurn waits for both.
func (ix *Indexer) IndexTurn(ctx context.Context, userID, chatID, userText, assistantText string, snapshot []history.StoredTurn) {
	title := deriveTitle(snapshot, userText)
	now := time.Now()

	records := []Record{
		{ID: uuid.New().String(), Role: "user", Content: userText, Timestamp: now},
		{ID: uuid.New().String(), Role: "assistant", Content: assistantText, Timestamp: now},
	}

	var wg sync.WaitGroup
	for _, rec := range records {
		wg.Add(1)
		go func(rec Record) {
			defer wg.Done()
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			defer cancel()

			if err := ix.store.AddMessage(wctx, userID, chatID, rec, title); err != nil {
				metrics.IndexedTurns.WithLabelValues("error").Inc()
				ix.logger.Error("failed to index chat message",
					slog.String("chat_id", chatID),
					slog.String("role", rec.Role),
					slog.String("error", err.Error()))
				return
			}
			metrics.IndexedTurns.WithLabelValues("success").Inc()
		}(rec)
	}
	wg.Wait()
}

// deriveTitle takes the first user turn in the snapshot, falling back to the
// current message, then to a default.
func deriveTitle(snapshot []history.StoredTurn, userText string) string {
	for _, turn := range snapshot {
		if turn.Role != "user" {
			continue
		}
		if s, ok := turn.Content.(string); ok && strings.TrimSpace(s) != "" {
			return truncateTitle(s)
		}
	}
	if strings.TrimSpace(userText) != "" {
		return truncateTitle(userText)
	}
	return defaultTitle
}

func truncateTitle(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= maxTitleChars {
		return s
	}
	return string(runes[:maxTitleChars])
}
