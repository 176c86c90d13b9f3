package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dotsetgreg/chatpilot/pkg/model"
)

// Manager is the fast context tier: a SQLite-backed key/value table with
// per-entry expiry. Entries are evicted lazily on read and in bulk by
// CleanupExpired. A miss here is never an error, only a signal to fall
// back to durable storage.
type Manager struct {
	db  *sql.DB
	ttl time.Duration
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS user_context (
	user_id    TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_context_expires ON user_context(expires_at);
`

// New opens (or creates) the cache database at path. Pass ":memory:"
// for an ephemeral cache.
func New(path string, ttl time.Duration) (*Manager, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}

	return &Manager{db: db, ttl: ttl}, nil
}

func (m *Manager) Close() error {
	return m.db.Close()
}

// Get returns the cached context for userID, or (nil, false) on a miss.
// Expired and undecodable entries are deleted and reported as misses.
func (m *Manager) Get(userID string) (*model.UserContext, bool) {
	var payload []byte
	var expiresAt int64
	err := m.db.QueryRow(
		"SELECT payload, expires_at FROM user_context WHERE user_id = ?", userID,
	).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		slog.Warn("cache read failed", "user_id", userID, "error", err)
		return nil, false
	}

	if time.Now().Unix() >= expiresAt {
		m.Delete(userID)
		return nil, false
	}

	var ctx model.UserContext
	if err := json.Unmarshal(payload, &ctx); err != nil {
		slog.Warn("evicting corrupt cache entry", "user_id", userID, "error", err)
		m.Delete(userID)
		return nil, false
	}
	return &ctx, true
}

// Set stores the context under userID with a fresh TTL.
func (m *Manager) Set(userID string, ctx *model.UserContext) error {
	payload, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	expiresAt := time.Now().Add(m.ttl).Unix()
	_, err = m.db.Exec(`
		INSERT INTO user_context (user_id, payload, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		userID, payload, expiresAt)
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (m *Manager) Delete(userID string) {
	if _, err := m.db.Exec("DELETE FROM user_context WHERE user_id = ?", userID); err != nil {
		slog.Warn("cache delete failed", "user_id", userID, "error", err)
	}
}

// CheckAndSummarize reports whether the context's history has grown past
// the summarization threshold (maxMessages + overlap, strictly). It never
// mutates the context; the caller performs the actual summarization.
func (m *Manager) CheckAndSummarize(userID string, ctx *model.UserContext, maxMessages, overlap int) (bool, *model.UserContext) {
	if ctx == nil {
		return false, nil
	}
	if len(ctx.ChatHistory) > maxMessages+overlap {
		slog.Info("summarization threshold exceeded",
			"user_id", userID,
			"history_length", len(ctx.ChatHistory),
			"threshold", maxMessages+overlap)
		return true, ctx
	}
	return false, ctx
}

// CleanupExpired removes all entries past their expiry and returns how
// many were deleted.
func (m *Manager) CleanupExpired() (int, error) {
	res, err := m.db.Exec("DELETE FROM user_context WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired cache entries: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
