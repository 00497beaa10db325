package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	// appendMu serializes log id assignment across connections.
	appendMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			workspace_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			active_run_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			FOREIGN KEY (workspace_id) REFERENCES workspaces(workspace_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workspace ON runs(workspace_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS run_log (
			run_id TEXT NOT NULL,
			log_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, log_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			log_id INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (workspace_id) REFERENCES workspaces(workspace_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_workspace ON messages(workspace_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS stage_documents (
			workspace_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			kind TEXT NOT NULL,
			document TEXT NOT NULL,
			iteration_history TEXT,
			confirmed_at DATETIME NOT NULL,
			PRIMARY KEY (workspace_id, stage),
			FOREIGN KEY (workspace_id) REFERENCES workspaces(workspace_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const appendQuery = `INSERT INTO run_log (run_id, log_id, content, created_at)
	SELECT ?, COALESCE(MAX(log_id), 0) + 1, ?, ? FROM run_log WHERE run_id = ?
	RETURNING log_id`

func appendEntry(ctx context.Context, q rowQuerier, runID, content string, at time.Time) (int64, error) {
	var logID int64
	if err := q.QueryRowContext(ctx, appendQuery, runID, content, at, runID).Scan(&logID); err != nil {
		return 0, fmt.Errorf("append run log: %w", err)
	}
	return logID, nil
}

// Append appends one entry to a run's log and returns its log id.
func (s *SQLiteStore) Append(ctx context.Context, runID, content string) (int64, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()
	return appendEntry(ctx, s.db, runID, content, time.Now())
}

// List returns up to limit entries with log id greater than afterLogID, in
// ascending order.
func (s *SQLiteStore) List(ctx context.Context, runID string, afterLogID int64, limit int) ([]domain.RunLogEntry, error) {
	query := `SELECT log_id, run_id, content, created_at FROM run_log WHERE run_id = ? AND log_id > ? ORDER BY log_id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, runID, afterLogID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.RunLogEntry
	for rows.Next() {
		var e domain.RunLogEntry
		if err := rows.Scan(&e.LogID, &e.RunID, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateWorkspace creates a workspace together with its first run.
func (s *SQLiteStore) CreateWorkspace(ctx context.Context, ws *domain.Workspace, run *domain.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workspaces (workspace_id, tenant_id, stage, active_run_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		ws.WorkspaceID, ws.TenantID, ws.Stage, nullString(ws.ActiveRunID), ws.CreatedAt); err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	if run != nil {
		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetWorkspace retrieves a workspace by ID.
func (s *SQLiteStore) GetWorkspace(ctx context.Context, workspaceID string) (*domain.Workspace, error) {
	var ws domain.Workspace
	var activeRunID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT workspace_id, tenant_id, stage, active_run_id, created_at FROM workspaces WHERE workspace_id = ?`,
		workspaceID).Scan(&ws.WorkspaceID, &ws.TenantID, &ws.Stage, &activeRunID, &ws.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if activeRunID.Valid {
		ws.ActiveRunID = activeRunID.String
	}
	return &ws, nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run *domain.Run) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, workspace_id, stage, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.WorkspaceID, run.Stage, run.Status, run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, workspace_id, stage, status, started_at, ended_at FROM runs WHERE run_id = ?`,
		runID).Scan(&run.RunID, &run.WorkspaceID, &run.Stage, &run.Status, &run.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}

// UpdateRunCompleted moves a run to a final status. Runs that already
// finished keep their status.
func (s *SQLiteStore) UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ? WHERE run_id = ? AND status = ?`,
		status, time.Now(), runID, domain.RunStatusRunning)
	return err
}

// AppendMessage appends the turn's envelope and records its transcript row.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message, content string) (int64, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	logID, err := appendEntry(ctx, tx, msg.RunID, content, msg.CreatedAt)
	if err != nil {
		return 0, err
	}
	msg.LogID = logID
	if err := insertMessage(ctx, tx, msg); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return logID, nil
}

// CreateMessage records a transcript row without touching the run log.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}
	return tx.Commit()
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *domain.Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, workspace_id, run_id, role, content, log_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.WorkspaceID, msg.RunID, msg.Role, msg.Content, msg.LogID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessages retrieves the transcript of a workspace, oldest first.
func (s *SQLiteStore) GetMessages(ctx context.Context, workspaceID string, limit int) ([]domain.Message, error) {
	query := `SELECT message_id, workspace_id, run_id, role, content, log_id, created_at FROM messages WHERE workspace_id = ? ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.MessageID, &msg.WorkspaceID, &msg.RunID, &msg.Role, &msg.Content, &msg.LogID, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AdvanceStage persists the confirmed document, closes the old run, opens
// the next one and moves the workspace pointer. It fails with ErrConflict if
// the workspace is no longer at p.From.
func (s *SQLiteStore) AdvanceStage(ctx context.Context, p AdvanceParams) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var newRunID sql.NullString
	if p.NewRun != nil {
		newRunID = sql.NullString{String: p.NewRun.RunID, Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE workspaces SET stage = ?, active_run_id = ? WHERE workspace_id = ? AND stage = ?`,
		p.To, newRunID, p.WorkspaceID, p.From)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrConflict
	}

	if p.Document != nil {
		history, err := json.Marshal(p.Document.IterationHistory)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stage_documents (workspace_id, stage, kind, document, iteration_history, confirmed_at) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(workspace_id, stage) DO UPDATE SET kind = excluded.kind, document = excluded.document,
				iteration_history = excluded.iteration_history, confirmed_at = excluded.confirmed_at`,
			p.Document.WorkspaceID, p.Document.Stage, p.Document.Kind, string(p.Document.Document), string(history), p.Document.ConfirmedAt); err != nil {
			return fmt.Errorf("save document: %w", err)
		}
	}

	if p.OldRunID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE runs SET status = ?, ended_at = ? WHERE run_id = ? AND status = ?`,
			domain.RunStatusDone, p.At, p.OldRunID, domain.RunStatusRunning); err != nil {
			return fmt.Errorf("close run: %w", err)
		}
	}

	if p.NewRun != nil {
		if err := insertRun(ctx, tx, p.NewRun); err != nil {
			return err
		}
		if p.Announcement != "" {
			if _, err := appendEntry(ctx, tx, p.NewRun.RunID, p.Announcement, p.At); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// GetStageDocument returns the confirmed document of a stage.
func (s *SQLiteStore) GetStageDocument(ctx context.Context, workspaceID string, stage domain.Stage) (*domain.StageDocument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT workspace_id, stage, kind, document, iteration_history, confirmed_at FROM stage_documents WHERE workspace_id = ? AND stage = ?`,
		workspaceID, stage)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return doc, err
}

// ListStageDocuments returns every confirmed document of a workspace.
func (s *SQLiteStore) ListStageDocuments(ctx context.Context, workspaceID string) ([]domain.StageDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workspace_id, stage, kind, document, iteration_history, confirmed_at FROM stage_documents WHERE workspace_id = ? ORDER BY confirmed_at ASC`,
		workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.StageDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*domain.StageDocument, error) {
	var doc domain.StageDocument
	var body string
	var history sql.NullString
	if err := row.Scan(&doc.WorkspaceID, &doc.Stage, &doc.Kind, &body, &history, &doc.ConfirmedAt); err != nil {
		return nil, err
	}
	doc.Document = json.RawMessage(body)
	if history.Valid && history.String != "" && history.String != "null" {
		if err := json.Unmarshal([]byte(history.String), &doc.IterationHistory); err != nil {
			return nil, fmt.Errorf("decode iteration history: %w", err)
		}
	}
	return &doc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
