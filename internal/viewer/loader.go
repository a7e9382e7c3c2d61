// Package viewer rehydrates stored history entries into the same result
// shape a live run produces.
package viewer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/intellixa/console/internal/models"
	"github.com/intellixa/console/internal/normalize"
)

// SessionFetcher reads stored session detail from the backend.
type SessionFetcher interface {
	GetSession(ctx context.Context, sessionID string) (map[string]any, error)
}

// Loader builds ViewedSessions. It never writes to history.
type Loader struct {
	fetcher SessionFetcher
	logger  *slog.Logger

	cache    *ristretto.Cache[string, map[string]any]
	cacheTTL time.Duration
}

// maxCachedSessions bounds the detail cache; each session costs 1.
const maxCachedSessions = 64

// New creates a Loader. A positive cacheTTL keeps fetched detail in memory for
// that long; zero disables caching.
func New(fetcher SessionFetcher, cacheTTL time.Duration, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Loader{fetcher: fetcher, logger: logger}

	if cacheTTL > 0 {
		c, err := ristretto.NewCache(&ristretto.Config[string, map[string]any]{
			NumCounters: maxCachedSessions * 10,
			MaxCost:     maxCachedSessions,
			BufferItems: 64,
			// cost counts sessions, not bytes
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("create session cache: %w", err)
		}
		l.cache = c
		l.cacheTTL = cacheTTL
	}

	return l, nil
}

// LoadSession fetches the detail for entry and wraps it like a live result.
func (l *Loader) LoadSession(ctx context.Context, entry models.HistoryEntry) (*models.ViewedSession, error) {
	payload, err := l.fetch(ctx, entry.SessionID)
	if err != nil {
		l.logger.Error("failed to fetch session", "session_id", entry.SessionID, "error", err)
		return nil, fmt.Errorf("failed to fetch session from backend: %w", err)
	}

	return &models.ViewedSession{
		Entry: entry,
		Result: models.RunResult{
			Status:         models.RunStatusCompleted,
			Goal:           entry.Goal,
			AgentsExecuted: normalize.AgentsExecuted(payload),
			Timestamp:      entry.Timestamp,
			Data:           payload,
			Metrics:        normalize.Metrics(payload),
		},
		FinalDocument: normalize.FinalDocument(payload),
	}, nil
}

func (l *Loader) fetch(ctx context.Context, sessionID string) (map[string]any, error) {
	if l.cache != nil {
		if payload, ok := l.cache.Get(sessionID); ok {
			l.logger.Debug("session cache hit", "session_id", sessionID)
			return payload, nil
		}
	}

	payload, err := l.fetcher.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		l.cache.SetWithTTL(sessionID, payload, 1, l.cacheTTL)
		l.cache.Wait()
	}
	return payload, nil
}

// Close releases the detail cache.
func (l *Loader) Close() {
	if l.cache != nil {
		l.cache.Close()
	}
}
