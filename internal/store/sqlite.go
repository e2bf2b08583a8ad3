// ABOUTME: Local SQLite history of conversations and resolved turns
// ABOUTME: Lets the console list and reopen past conversations across runs

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/moeai/support-console/internal/conversation"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TurnRecord is one completed user/assistant exchange as persisted locally.
type TurnRecord struct {
	ID             string
	ConversationID string
	UserQuery      string
	AIResponse     string
	Citations      []conversation.Citation
	CreatedAt      time.Time
}

// SQLiteStore is the local history database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the history database at path. Parent
// directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps reads cheap while a turn is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("history store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			backend_session_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			archived INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_query TEXT NOT NULL,
			ai_response TEXT NOT NULL,
			citations TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation
			ON turns(conversation_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveConversation inserts or updates a conversation record.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *conversation.Conversation) error {
	query := `
		INSERT INTO conversations (id, mode, backend_session_id, title, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			backend_session_id = excluded.backend_session_id,
			title = excluded.title,
			archived = excluded.archived,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		string(conv.Mode),
		conv.BackendSessionID,
		conv.Title,
		boolToInt(conv.Archived),
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	return nil
}

// GetConversation loads one conversation by id.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	query := `
		SELECT id, mode, backend_session_id, title, archived, created_at, updated_at
		FROM conversations WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	return conv, err
}

// ListConversations returns conversations, newest activity first. Archived
// conversations are excluded unless includeArchived is set; they are never
// deleted.
func (s *SQLiteStore) ListConversations(ctx context.Context, includeArchived bool, limit int) ([]*conversation.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, mode, backend_session_id, title, archived, created_at, updated_at
		FROM conversations
	`
	if !includeArchived {
		query += " WHERE archived = 0"
	}
	query += " ORDER BY updated_at DESC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []*conversation.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// ArchiveConversation soft-deletes a conversation.
func (s *SQLiteStore) ArchiveConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET archived = 1, updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("archiving conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	return nil
}

// SaveTurn records one completed exchange.
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn *TurnRecord) error {
	citations, err := json.Marshal(turn.Citations)
	if err != nil {
		return fmt.Errorf("encoding citations: %w", err)
	}

	query := `
		INSERT INTO turns (id, conversation_id, user_query, ai_response, citations, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		turn.ID,
		turn.ConversationID,
		turn.UserQuery,
		turn.AIResponse,
		string(citations),
		turn.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving turn: %w", err)
	}

	s.logger.Debug("turn saved",
		"turn_id", turn.ID,
		"conversation_id", turn.ConversationID)
	return nil
}

// GetTurns returns a conversation's turns in chronological order.
func (s *SQLiteStore) GetTurns(ctx context.Context, conversationID string, limit int) ([]*TurnRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, conversation_id, user_query, ai_response, citations, created_at
		FROM turns WHERE conversation_id = ?
		ORDER BY created_at ASC LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	defer rows.Close()

	var out []*TurnRecord
	for rows.Next() {
		var (
			turn      TurnRecord
			citations string
			createdAt string
		)
		if err := rows.Scan(&turn.ID, &turn.ConversationID, &turn.UserQuery,
			&turn.AIResponse, &citations, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		if err := json.Unmarshal([]byte(citations), &turn.Citations); err != nil {
			return nil, fmt.Errorf("decoding citations: %w", err)
		}
		turn.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing turn timestamp: %w", err)
		}
		out = append(out, &turn)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*conversation.Conversation, error) {
	var (
		conv      conversation.Conversation
		mode      string
		archived  int
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&conv.ID, &mode, &conv.BackendSessionID, &conv.Title,
		&archived, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.Mode = conversation.Mode(mode)
	conv.Archived = archived != 0

	var err error
	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
