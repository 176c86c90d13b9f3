package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dotsetgreg/chatpilot/pkg/model"
	"github.com/dotsetgreg/chatpilot/pkg/retry"
)

// ErrNotFound is returned when no document exists for the requested user.
var ErrNotFound = errors.New("user context not found")

// Documents is the durable context tier.
type Documents interface {
	GetUserContext(ctx context.Context, userID string) (*model.UserContext, error)
	CreateUserContext(ctx context.Context, userID string, uc *model.UserContext) error
	UpdateUserContext(ctx context.Context, userID string, uc *model.UserContext) error
	Close() error
}

// SQLiteStore persists user contexts in a single-table SQLite database.
// History and topics are stored as JSON columns; transient read/write
// failures are absorbed by the shared retry policy.
type SQLiteStore struct {
	db     *sql.DB
	policy retry.Policy
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS user_contexts (
	user_id       TEXT PRIMARY KEY,
	chat_history  TEXT NOT NULL DEFAULT '[]',
	chat_interest TEXT NOT NULL DEFAULT '',
	user_summary  TEXT NOT NULL DEFAULT '',
	birthdate     TEXT NOT NULL DEFAULT '',
	topics        TEXT NOT NULL DEFAULT '[]',
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// NewSQLiteStore opens (or creates) the store database at path. Pass
// ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize store schema: %w", err)
	}

	return &SQLiteStore{db: db, policy: retry.DefaultPolicy()}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetUserContext(ctx context.Context, userID string) (*model.UserContext, error) {
	return retry.Do(ctx, "store get", s.policy, func(ctx context.Context) (*model.UserContext, error) {
		var historyJSON, topicsJSON string
		uc := &model.UserContext{}
		err := s.db.QueryRowContext(ctx, `
			SELECT chat_history, chat_interest, user_summary, birthdate, topics
			FROM user_contexts WHERE user_id = ?`, userID,
		).Scan(&historyJSON, &uc.ChatInterest, &uc.UserSummary, &uc.Birthdate, &topicsJSON)
		if err == sql.ErrNoRows {
			return nil, retry.Permanent(ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("query user context: %w", err)
		}

		if err := json.Unmarshal([]byte(historyJSON), &uc.ChatHistory); err != nil {
			return nil, fmt.Errorf("decode chat history for %s: %w", userID, err)
		}
		if err := json.Unmarshal([]byte(topicsJSON), &uc.Topics); err != nil {
			return nil, fmt.Errorf("decode topics for %s: %w", userID, err)
		}
		return uc, nil
	})
}

func (s *SQLiteStore) CreateUserContext(ctx context.Context, userID string, uc *model.UserContext) error {
	historyJSON, topicsJSON, err := encodeContext(uc)
	if err != nil {
		return err
	}

	_, err = retry.Do(ctx, "store create", s.policy, func(ctx context.Context) (struct{}, error) {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO user_contexts (user_id, chat_history, chat_interest, user_summary, birthdate, topics)
			VALUES (?, ?, ?, ?, ?, ?)`,
			userID, historyJSON, uc.ChatInterest, uc.UserSummary, uc.Birthdate, topicsJSON)
		if err != nil {
			return struct{}{}, fmt.Errorf("insert user context: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (s *SQLiteStore) UpdateUserContext(ctx context.Context, userID string, uc *model.UserContext) error {
	historyJSON, topicsJSON, err := encodeContext(uc)
	if err != nil {
		return err
	}

	_, err = retry.Do(ctx, "store update", s.policy, func(ctx context.Context) (struct{}, error) {
		res, err := s.db.ExecContext(ctx, `
			UPDATE user_contexts
			SET chat_history = ?, chat_interest = ?, user_summary = ?, birthdate = ?, topics = ?,
			    updated_at = ?
			WHERE user_id = ?`,
			historyJSON, uc.ChatInterest, uc.UserSummary, uc.Birthdate, topicsJSON,
			time.Now().UTC(), userID)
		if err != nil {
			return struct{}{}, fmt.Errorf("update user context: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return struct{}{}, err
		}
		if affected == 0 {
			return struct{}{}, retry.Permanent(ErrNotFound)
		}
		return struct{}{}, nil
	})
	return err
}

func encodeContext(uc *model.UserContext) (historyJSON, topicsJSON string, err error) {
	history := uc.ChatHistory
	if history == nil {
		history = []model.Message{}
	}
	topics := uc.Topics
	if topics == nil {
		topics = []string{}
	}

	h, err := json.Marshal(history)
	if err != nil {
		return "", "", fmt.Errorf("encode chat history: %w", err)
	}
	t, err := json.Marshal(topics)
	if err != nil {
		return "", "", fmt.Errorf("encode topics: %w", err)
	}
	return string(h), string(t), nil
}
