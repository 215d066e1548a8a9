package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/egeucak/api-doc-gpt/pkg/types"
)

var ErrNotFound = errors.New("session not found")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Single writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			source TEXT NOT NULL,
			base_url TEXT NOT NULL,
			model TEXT NOT NULL,
			status TEXT NOT NULL,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			turn_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) CreateSession(agent, source, baseURL, model string) (*types.Session, error) {
	now := time.Now().UTC()
	sess := &types.Session{
		ID:        uuid.NewString(),
		Agent:     agent,
		Source:    source,
		BaseURL:   baseURL,
		Model:     model,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(`INSERT INTO sessions(id,agent,source,base_url,model,status,total_tokens,turn_count,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.Agent, sess.Source, sess.BaseURL, sess.Model, sess.Status, sess.TotalTokens, sess.TurnCount, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

const sessionColumns = `id,agent,source,base_url,model,status,total_tokens,turn_count,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (types.Session, error) {
	var out types.Session
	err := row.Scan(&out.ID, &out.Agent, &out.Source, &out.BaseURL, &out.Model, &out.Status, &out.TotalTokens, &out.TurnCount, &out.CreatedAt, &out.UpdatedAt)
	return out, err
}

func (s *SQLiteStore) GetSession(id string) (*types.Session, error) {
	out, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SQLiteStore) UpdateSessionStatus(id, status string) error {
	return s.touch(`UPDATE sessions SET status=?, updated_at=? WHERE id=?`, id, status)
}

func (s *SQLiteStore) AddUsage(id string, tokens int) error {
	return s.touch(`UPDATE sessions SET total_tokens=total_tokens+?, updated_at=? WHERE id=?`, id, tokens)
}

func (s *SQLiteStore) touch(query, id string, value any) error {
	res, err := s.db.Exec(query, value, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListSessions() ([]types.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.Session, 0)
	for rows.Next() {
		s1, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s1)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM turns WHERE session_id=?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// AppendTurn stores the next turn of a session and bumps its turn count.
func (s *SQLiteStore) AppendTurn(sessionID, role, content string) (*types.StoredTurn, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT turn_count FROM sessions WHERE id=?`, sessionID).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", sessionID, ErrNotFound)
		}
		return nil, err
	}
	now := time.Now().UTC()
	turn := &types.StoredTurn{SessionID: sessionID, Seq: count + 1, Role: role, Content: content, CreatedAt: now}
	res, err := tx.Exec(`INSERT INTO turns(session_id,seq,role,content,created_at) VALUES(?,?,?,?,?)`,
		turn.SessionID, turn.Seq, turn.Role, turn.Content, turn.CreatedAt)
	if err != nil {
		return nil, err
	}
	if turn.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE sessions SET turn_count=?, updated_at=? WHERE id=?`, turn.Seq, now, sessionID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return turn, nil
}

func (s *SQLiteStore) GetTurns(sessionID string) ([]types.StoredTurn, error) {
	rows, err := s.db.Query(`SELECT id,session_id,seq,role,content,created_at FROM turns WHERE session_id=? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.StoredTurn, 0)
	for rows.Next() {
		var t types.StoredTurn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("store is nil")
	}
	return s.db.Close()
}
