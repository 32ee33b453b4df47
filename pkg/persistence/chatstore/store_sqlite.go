package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite chat store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile turns a file path into a DSN with WAL and a busy timeout.
// Values that already look like a DSN are returned unchanged.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite chat store: empty path")
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite chat store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chats (
		  chat_id TEXT PRIMARY KEY,
		  status TEXT NOT NULL DEFAULT 'ready',
		  last_error TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL,
		  updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS chats_by_updated
		  ON chats(updated_at_ms DESC, chat_id ASC);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
		  chat_id TEXT NOT NULL REFERENCES chats(chat_id) ON DELETE CASCADE,
		  position INTEGER NOT NULL,
		  message_id TEXT NOT NULL,
		  role TEXT NOT NULL,
		  content_hash TEXT NOT NULL,
		  message_json TEXT NOT NULL,
		  updated_at_ms INTEGER NOT NULL,
		  PRIMARY KEY (chat_id, position)
		);`,
		`CREATE INDEX IF NOT EXISTS chat_messages_by_id
		  ON chat_messages(chat_id, message_id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite chat store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) SaveMessages(ctx context.Context, chatID string, status string, lastError string, msgs []uimessage.Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite chat store: db is nil")
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return errors.New("sqlite chat store: chatID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite chat store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (chat_id, status, last_error, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			status = excluded.status,
			last_error = excluded.last_error,
			updated_at_ms = excluded.updated_at_ms
	`, chatID, status, lastError, now, now); err != nil {
		return errors.Wrap(err, "sqlite chat store: upsert chat")
	}

	existing, err := loadHashes(ctx, tx, chatID)
	if err != nil {
		return err
	}

	written := 0
	for i, m := range msgs {
		hash, err := ComputeMessageHash(m)
		if err != nil {
			return errors.Wrapf(err, "sqlite chat store: hash message %s", m.ID)
		}
		if existing[i] == hash {
			continue
		}
		body, err := json.Marshal(m)
		if err != nil {
			return errors.Wrapf(err, "sqlite chat store: marshal message %s", m.ID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages (chat_id, position, message_id, role, content_hash, message_json, updated_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, position) DO UPDATE SET
				message_id = excluded.message_id,
				role = excluded.role,
				content_hash = excluded.content_hash,
				message_json = excluded.message_json,
				updated_at_ms = excluded.updated_at_ms
		`, chatID, i, m.ID, string(m.Role), hash, string(body), now); err != nil {
			return errors.Wrapf(err, "sqlite chat store: upsert message %s", m.ID)
		}
		written++
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ? AND position >= ?`, chatID, len(msgs)); err != nil {
		return errors.Wrap(err, "sqlite chat store: truncate messages")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite chat store: commit")
	}
	log.Debug().Str("component", "chatstore").Str("chat_id", chatID).Int("messages", len(msgs)).Int("written", written).Msg("saved chat")
	return nil
}

func loadHashes(ctx context.Context, tx *sql.Tx, chatID string) (map[int]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT position, content_hash FROM chat_messages WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: query hashes")
	}
	defer func() { _ = rows.Close() }()
	out := map[int]string{}
	for rows.Next() {
		var (
			pos  int
			hash string
		)
		if err := rows.Scan(&pos, &hash); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan hash")
		}
		out[pos] = hash
	}
	return out, errors.Wrap(rows.Err(), "sqlite chat store: iterate hashes")
}

func (s *SQLiteStore) LoadMessages(ctx context.Context, chatID string) ([]uimessage.Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite chat store: db is nil")
	}
	chatID = strings.TrimSpace(chatID)
	if ctx == nil {
		ctx = context.Background()
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE chat_id = ?`, chatID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(ErrChatNotFound, chatID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: get chat")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_json FROM chat_messages
		WHERE chat_id = ?
		ORDER BY position ASC
	`, chatID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: query messages")
	}
	defer func() { _ = rows.Close() }()

	out := []uimessage.Message{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan message")
		}
		var m uimessage.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: decode message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: iterate messages")
	}
	return out, nil
}

func (s *SQLiteStore) ListChats(ctx context.Context, limit int) ([]ChatRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite chat store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chat_id, c.status, c.last_error, c.created_at_ms, c.updated_at_ms,
		       (SELECT COUNT(*) FROM chat_messages m WHERE m.chat_id = c.chat_id)
		FROM chats c
		ORDER BY c.updated_at_ms DESC, c.chat_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: list chats")
	}
	defer func() { _ = rows.Close() }()

	out := []ChatRecord{}
	for rows.Next() {
		var r ChatRecord
		if err := rows.Scan(&r.ChatID, &r.Status, &r.LastError, &r.CreatedAtMs, &r.UpdatedAtMs, &r.Messages); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan chat")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: iterate chats")
	}
	return out, nil
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite chat store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID)
	if err != nil {
		return errors.Wrap(err, "sqlite chat store: delete chat")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "sqlite chat store: delete chat")
	}
	if n == 0 {
		return errors.Wrap(ErrChatNotFound, chatID)
	}
	// Cascade needs _foreign_keys=on; DSNs without it still get their rows removed.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ?`, chatID); err != nil {
		return errors.Wrap(err, "sqlite chat store: delete messages")
	}
	return nil
}
