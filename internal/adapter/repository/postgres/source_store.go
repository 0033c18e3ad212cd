package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/draw-your-dream/logflare/internal/domain"
)

type sourceCacheEntry struct {
	source    domain.Source
	expiresAt time.Time
}

// SourceStore implements domain.SourceStore against PostgreSQL, with a
// short-lived in-memory cache over GetSourceByToken the way the teacher's
// APIKeyRepository caches key validity — source lookups sit on the
// ingest hot path and must not round-trip to the database per event.
type SourceStore struct {
	db       *sql.DB
	logger   *slog.Logger
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]sourceCacheEntry
}

// NewSourceStore wraps an existing *sql.DB. cacheTTL bounds how stale a
// cached Source (and its compiled rules) can be before a restart picks up
// edits — callers that need an immediate refresh should call
// supervisor.Supervisor.Restart directly instead of waiting on the cache.
func NewSourceStore(db *sql.DB, logger *slog.Logger, cacheTTL time.Duration) *SourceStore {
	return &SourceStore{
		db:       db,
		logger:   logger.With("component", "source_store"),
		cacheTTL: cacheTTL,
		cache:    make(map[string]sourceCacheEntry),
	}
}

// GetSourceByToken returns the Source and its rules for token, consulting
// the cache first.
func (s *SourceStore) GetSourceByToken(ctx context.Context, token string) (*domain.Source, error) {
	s.mu.RLock()
	entry, found := s.cache[token]
	s.mu.RUnlock()
	if found && time.Now().Before(entry.expiresAt) {
		src := entry.source
		return &src, nil
	}

	src, err := s.queryByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[token] = sourceCacheEntry{source: *src, expiresAt: time.Now().Add(s.cacheTTL)}
	s.mu.Unlock()
	return src, nil
}

func (s *SourceStore) queryByToken(ctx context.Context, token string) (*domain.Source, error) {
	var src domain.Source
	row := s.db.QueryRowContext(ctx, `
		SELECT id, token, owner_id, name, notify_every_ms, drop_lql, log_events_updated_at
		FROM sources WHERE token = $1`, token)
	if err := row.Scan(&src.ID, &src.Token, &src.OwnerID, &src.Name, &src.NotifyEveryMs, &src.DropLQL, &src.LogEventsUpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSourceNotFound
		}
		return nil, err
	}

	rules, err := s.loadRules(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	src.Rules = rules
	return &src, nil
}

func (s *SourceStore) loadRules(ctx context.Context, sourceID int64) ([]domain.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, expression, sink_token FROM rules WHERE source_id = $1 ORDER BY id`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var r domain.Rule
		var kind int
		if err := rows.Scan(&r.ID, &kind, &r.Expression, &r.SinkToken); err != nil {
			return nil, err
		}
		r.Kind = domain.RuleKind(kind)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ListBackends returns every SourceBackend row registered for sourceID.
func (s *SourceStore) ListBackends(ctx context.Context, sourceID int64) ([]domain.SourceBackend, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, type, config FROM source_backends WHERE source_id = $1 ORDER BY id`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backends []domain.SourceBackend
	for rows.Next() {
		var b domain.SourceBackend
		var rawConfig []byte
		if err := rows.Scan(&b.ID, &b.SourceID, &b.Type, &rawConfig); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rawConfig, &b.Config); err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return backends, rows.Err()
}

// CreateBackend inserts backend and returns it with its assigned ID. The
// caller is responsible for CastConfig/ValidateConfig before calling this
// (§6 of SPEC_FULL.md: a backend row is never persisted without first
// passing its adaptor's own validation).
func (s *SourceStore) CreateBackend(ctx context.Context, backend domain.SourceBackend) (domain.SourceBackend, error) {
	rawConfig, err := json.Marshal(backend.Config)
	if err != nil {
		return domain.SourceBackend{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO source_backends (source_id, type, config) VALUES ($1, $2, $3) RETURNING id`,
		backend.SourceID, backend.Type, rawConfig)
	if err := row.Scan(&backend.ID); err != nil {
		return domain.SourceBackend{}, err
	}
	return backend, nil
}

// TouchSource updates log_events_updated_at, invalidating the cached
// Source so the next GetSourceByToken reflects the new timestamp.
func (s *SourceStore) TouchSource(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sources SET log_events_updated_at = $1 WHERE id = $2`, at, sourceID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for token, entry := range s.cache {
		if entry.source.ID == sourceID {
			delete(s.cache, token)
		}
	}
	s.mu.Unlock()
	return nil
}
