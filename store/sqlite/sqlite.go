// Package sqlite implements store.WorkspaceStore using SQLite.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jxucoder/botforge/model"
	"github.com/jxucoder/botforge/store"
)

// Store manages workspace, event, file, and preference persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS workspaces (
			id              TEXT PRIMARY KEY,
			prompt          TEXT NOT NULL DEFAULT '',
			library         TEXT NOT NULL DEFAULT '',
			state           TEXT NOT NULL DEFAULT 'IDLE',
			error           TEXT NOT NULL DEFAULT '',
			bot_username    TEXT NOT NULL DEFAULT '',
			additional_data TEXT NOT NULL DEFAULT '{}',
			created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS workspace_events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace_id TEXT NOT NULL,
			type         TEXT NOT NULL,
			data         TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (workspace_id) REFERENCES workspaces(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_workspace_id
			ON workspace_events(workspace_id);

		CREATE TABLE IF NOT EXISTS files (
			workspace_id TEXT NOT NULL,
			name         TEXT NOT NULL,
			position     INTEGER NOT NULL,
			code         TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (workspace_id, name),
			FOREIGN KEY (workspace_id) REFERENCES workspaces(id)
		);

		CREATE TABLE IF NOT EXISTS preferences (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateWorkspace inserts a new workspace.
func (s *Store) CreateWorkspace(ws *model.BuildSession) error {
	data, err := encodeData(ws.AdditionalData)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO workspaces (id, prompt, library, state, error, bot_username, additional_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.Prompt, ws.Library, ws.State, ws.Error, ws.BotUsername, data,
		ws.CreatedAt, ws.UpdatedAt,
	)
	return err
}

// GetWorkspace retrieves a workspace by ID.
func (s *Store) GetWorkspace(id string) (*model.BuildSession, error) {
	row := s.db.QueryRow(
		`SELECT id, prompt, library, state, error, bot_username, additional_data, created_at, updated_at
		 FROM workspaces WHERE id = ?`, id,
	)
	ws, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return ws, err
}

// ListWorkspaces returns all workspaces ordered by creation time (newest first).
func (s *Store) ListWorkspaces() ([]*model.BuildSession, error) {
	rows, err := s.db.Query(
		`SELECT id, prompt, library, state, error, bot_username, additional_data, created_at, updated_at
		 FROM workspaces ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.BuildSession
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// UpdateWorkspace updates mutable fields of a workspace.
func (s *Store) UpdateWorkspace(ws *model.BuildSession) error {
	data, err := encodeData(ws.AdditionalData)
	if err != nil {
		return err
	}
	ws.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE workspaces SET
			prompt = ?, library = ?, state = ?, error = ?, bot_username = ?,
			additional_data = ?, updated_at = ?
		 WHERE id = ?`,
		ws.Prompt, ws.Library, ws.State, ws.Error, ws.BotUsername,
		data, ws.UpdatedAt, ws.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddEvent inserts a new event and sets its ID.
func (s *Store) AddEvent(event *model.Event) error {
	result, err := s.db.Exec(
		`INSERT INTO workspace_events (workspace_id, type, data, created_at)
		 VALUES (?, ?, ?, ?)`,
		event.SessionID, event.Type, event.Data, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// GetEvents returns events for a workspace, optionally after a given event ID.
func (s *Store) GetEvents(workspaceID string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, workspace_id, type, data, created_at
		 FROM workspace_events
		 WHERE workspace_id = ? AND id > ?
		 ORDER BY id ASC`,
		workspaceID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteEvents removes a workspace's event history.
func (s *Store) DeleteEvents(workspaceID string) error {
	_, err := s.db.Exec(`DELETE FROM workspace_events WHERE workspace_id = ?`, workspaceID)
	return err
}

// PutFile inserts a file at the end of the workspace's file order, or
// overwrites the code of an existing file in place.
func (s *Store) PutFile(workspaceID string, file model.GeneratedFile) error {
	_, err := s.db.Exec(
		`INSERT INTO files (workspace_id, name, position, code)
		 VALUES (?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM files WHERE workspace_id = ?), ?)
		 ON CONFLICT (workspace_id, name) DO UPDATE SET code = excluded.code`,
		workspaceID, file.Name, workspaceID, file.Code,
	)
	return err
}

// ListFiles returns a workspace's files in insertion order.
func (s *Store) ListFiles(workspaceID string) ([]model.GeneratedFile, error) {
	rows, err := s.db.Query(
		`SELECT name, code FROM files WHERE workspace_id = ? ORDER BY position ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []model.GeneratedFile
	for rows.Next() {
		var f model.GeneratedFile
		if err := rows.Scan(&f.Name, &f.Code); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFiles removes every file of a workspace.
func (s *Store) DeleteFiles(workspaceID string) error {
	_, err := s.db.Exec(`DELETE FROM files WHERE workspace_id = ?`, workspaceID)
	return err
}

// --- Preferences ---

const (
	prefTheme     = "theme"
	prefLastToken = "telegram_bot_token"
)

// GetPreferences returns saved preferences, filling unset keys with defaults.
func (s *Store) GetPreferences() (*model.Preferences, error) {
	rows, err := s.db.Query(`SELECT key, value FROM preferences`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p := model.DefaultPreferences()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case prefTheme:
			if t := model.Theme(value); t.Valid() {
				p.Theme = t
			}
		case prefLastToken:
			p.LastToken = value
		}
	}
	return &p, rows.Err()
}

// SavePreferences writes every preference key.
func (s *Store) SavePreferences(p *model.Preferences) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`
	if _, err := tx.Exec(upsert, prefTheme, string(p.Theme)); err != nil {
		return err
	}
	if _, err := tx.Exec(upsert, prefLastToken, p.LastToken); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanWorkspace(row scannable) (*model.BuildSession, error) {
	ws := &model.BuildSession{}
	var data string
	err := row.Scan(
		&ws.ID, &ws.Prompt, &ws.Library, &ws.State, &ws.Error,
		&ws.BotUsername, &data, &ws.CreatedAt, &ws.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if data != "" && data != "{}" {
		if err := json.Unmarshal([]byte(data), &ws.AdditionalData); err != nil {
			return nil, fmt.Errorf("decoding additional data of %s: %w", ws.ID, err)
		}
	}
	return ws, nil
}

func encodeData(data map[string]string) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding additional data: %w", err)
	}
	return string(b), nil
}

var _ store.WorkspaceStore = (*Store)(nil)
