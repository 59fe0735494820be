package sessions

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore keeps sessions and messages in a single SQLite database.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (or creates) the database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			title         TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL,
			status        TEXT NOT NULL,
			mode          TEXT NOT NULL DEFAULT '',
			model         TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			tokens_input  INTEGER NOT NULL DEFAULT 0,
			tokens_output INTEGER NOT NULL DEFAULT 0,
			metadata      TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			mode       TEXT NOT NULL DEFAULT '',
			errored    INTEGER NOT NULL DEFAULT 0,
			ts         INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// CloseDB releases the database.
func (s *SQLStore) CloseDB() error {
	return s.db.Close()
}

// Create inserts a session row. Creating an existing session returns it unchanged.
func (s *SQLStore) Create(id string) (*Session, error) {
	if id != "" {
		if existing, err := s.Get(id); err == nil {
			return existing, nil
		}
	}

	sess := newSession(id)
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, created_at, updated_at, status) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(), string(sess.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

const sessionColumns = `id, title, created_at, updated_at, status, mode, model,
	message_count, tokens_input, tokens_output, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess               Session
		created, updated   int64
		status, metaString string
	)
	err := row.Scan(&sess.ID, &sess.Title, &created, &updated, &status, &sess.Mode, &sess.Model,
		&sess.MessageCount, &sess.TokenUsage.Input, &sess.TokenUsage.Output, &metaString)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = time.Unix(0, created)
	sess.UpdatedAt = time.Unix(0, updated)
	sess.Status = SessionStatus(status)
	if metaString != "" {
		if err := json.Unmarshal([]byte(metaString), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &sess, nil
}

// Get reads session metadata by ID.
func (s *SQLStore) Get(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return sess, nil
}

// List returns all sessions sorted by UpdatedAt descending.
func (s *SQLStore) List() ([]*Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateMeta rewrites a session's metadata.
func (s *SQLStore) UpdateMeta(sess *Session) error {
	var meta string
	if len(sess.Metadata) > 0 {
		data, err := json.Marshal(sess.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = string(data)
	}

	res, err := s.db.Exec(`UPDATE sessions SET title = ?, updated_at = ?, status = ?, mode = ?, model = ?,
		message_count = ?, tokens_input = ?, tokens_output = ?, metadata = ? WHERE id = ?`,
		sess.Title, sess.UpdatedAt.UnixNano(), string(sess.Status), sess.Mode, sess.Model,
		sess.MessageCount, sess.TokenUsage.Input, sess.TokenUsage.Output, meta, sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return expectOne(res, sess.ID)
}

// Close marks a session as closed.
func (s *SQLStore) Close(id string) error {
	res, err := s.db.Exec(`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(SessionClosed), time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return expectOne(res, id)
}

// AppendMessage stores a message and bumps the session counters in one transaction.
func (s *SQLStore) AppendMessage(sessionID string, msg Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var title string
	if err := tx.QueryRow(`SELECT title FROM sessions WHERE id = ?`, sessionID).Scan(&title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return fmt.Errorf("read session: %w", err)
	}
	if title == "" && msg.Role == "user" {
		title = titleFrom(msg.Content)
	}

	ts := msg.Ts
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := tx.Exec(`INSERT INTO messages (session_id, role, content, mode, errored, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, msg.Role, msg.Content, msg.Mode, msg.Errored, ts.UnixNano()); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET message_count = message_count + 1, title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UnixNano(), sessionID); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return tx.Commit()
}

// LoadMessages returns a session's messages in insertion order.
func (s *SQLStore) LoadMessages(sessionID string) ([]Message, error) {
	rows, err := s.db.Query(`SELECT role, content, mode, errored, ts FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			msg Message
			ts  int64
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Mode, &msg.Errored, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Ts = time.Unix(0, ts)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
