package ledger

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aiops-tools/toolexec/internal/protocol"
)

// ErrNotFound reports that no execution record matches the requested id.
var ErrNotFound = errors.New("execution not found")

// ErrBadFilter reports an unusable List filter, e.g. an unknown status or
// a corrupt cursor.
var ErrBadFilter = errors.New("bad list filter")

const schema = `
	CREATE TABLE IF NOT EXISTS executions (
		id           TEXT PRIMARY KEY,
		tool_name    TEXT NOT NULL,
		tool_version INTEGER NOT NULL,
		status       TEXT NOT NULL,
		caller_id    TEXT NOT NULL DEFAULT '',
		trace_id     TEXT NOT NULL DEFAULT '',
		input_json   TEXT NOT NULL,
		output_json  TEXT,
		error_json   TEXT,
		created_at   TEXT NOT NULL,
		started_at   TEXT,
		completed_at TEXT,
		duration_ms  INTEGER,

		CHECK (status IN ('pending', 'running', 'success', 'failed', 'timeout', 'cancelled'))
	);

	CREATE INDEX IF NOT EXISTS idx_executions_tool ON executions(tool_name, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at DESC, id DESC);
`

// Store persists execution records in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the execution ledger at path, creating parent directories and
// the schema as needed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{db: db, logger: logger}
	s.logger.Info("execution ledger opened", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRecord inserts a new execution record. A zero CreatedAt is stamped
// with the current time and an empty Status becomes pending.
func (s *Store) CreateRecord(ctx context.Context, r *Record) error {
	if r.ID == "" {
		return errors.New("record id is required")
	}
	if r.ToolName == "" {
		return errors.New("record tool name is required")
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if !r.Status.Valid() {
		return fmt.Errorf("unknown status %s", r.Status)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	inputJSON, err := json.Marshal(inputOrEmpty(r.Input))
	if err != nil {
		return fmt.Errorf("marshaling input: %w", err)
	}
	outputJSON, err := marshalNullable(r.Output)
	if err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}
	errorJSON, err := marshalError(r.Error)
	if err != nil {
		return fmt.Errorf("marshaling error detail: %w", err)
	}

	query := `
		INSERT INTO executions (
			id, tool_name, tool_version, status, caller_id, trace_id,
			input_json, output_json, error_json, created_at, started_at, completed_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID,
		r.ToolName,
		r.ToolVersion,
		string(r.Status),
		r.CallerID,
		r.TraceID,
		string(inputJSON),
		outputJSON,
		errorJSON,
		r.CreatedAt.UTC().Format(time.RFC3339),
		formatNullableTime(r.StartedAt),
		formatNullableTime(r.CompletedAt),
		r.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}

	s.logger.Debug("execution record created", "execution_id", r.ID, "tool", r.ToolName, "status", r.Status)
	return nil
}

const recordColumns = `
	id, tool_name, tool_version, status, caller_id, trace_id,
	input_json, output_json, error_json, created_at, started_at, completed_at, duration_ms
`

// GetRecord retrieves a single execution record by id.
func (s *Store) GetRecord(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM executions WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MarkRunning moves a pending execution to running and stamps its start
// time. Returns a TransitionError when the record is not pending.
func (s *Store) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(StatusRunning),
		startedAt.UTC().Format(time.RFC3339),
		id,
		string(StatusPending),
	)
	if err != nil {
		return fmt.Errorf("marking execution running: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking execution running: %w", err)
	}
	if affected == 0 {
		return s.transitionConflict(ctx, id, StatusRunning)
	}
	return nil
}

// Complete moves an execution to a terminal status and stamps its result
// fields. Returns a TransitionError when the lifecycle forbids the change.
func (s *Store) Complete(ctx context.Context, id string, c Completion) error {
	if !c.Status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", c.Status)
	}

	outputJSON, err := marshalNullable(c.Output)
	if err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}
	errorJSON, err := marshalError(c.Error)
	if err != nil {
		return fmt.Errorf("marshaling error detail: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("reading execution status: %w", err)
	}
	if !CanTransition(Status(current), c.Status) {
		return &TransitionError{From: Status(current), To: c.Status}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE executions
		 SET status = ?, output_json = ?, error_json = ?, completed_at = ?, duration_ms = ?
		 WHERE id = ? AND status = ?`,
		string(c.Status),
		outputJSON,
		errorJSON,
		c.CompletedAt.UTC().Format(time.RFC3339),
		c.DurationMS,
		id,
		current,
	)
	if err != nil {
		return fmt.Errorf("completing execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("completing execution: %w", err)
	}
	if affected == 0 {
		return &TransitionError{From: Status(current), To: c.Status}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("execution record completed", "execution_id", id, "status", c.Status, "duration_ms", c.DurationMS)
	return nil
}

// transitionConflict distinguishes a missing record from an illegal status
// change after a guarded update matched no rows.
func (s *Store) transitionConflict(ctx context.Context, id string, to Status) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("reading execution status: %w", err)
	}
	return &TransitionError{From: Status(current), To: to}
}

// List returns executions matching the filter, newest first, with opaque
// cursor pagination.
func (s *Store) List(ctx context.Context, f Filter) (*Page, error) {
	limit := normalizeLimit(f.Limit)

	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %s", ErrBadFilter, f.Status)
	}

	var args []any
	query := `SELECT ` + recordColumns + ` FROM executions WHERE 1=1`
	if f.Tool != "" {
		query += ` AND tool_name = ?`
		args = append(args, f.Tool)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Cursor != "" {
		cursorTS, cursorID, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadFilter, err)
		}
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		ts := cursorTS.Format(time.RFC3339)
		args = append(args, ts, ts, cursorID)
	}

	// Newest first, id as tiebreaker for deterministic pagination.
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	page := &Page{Records: records, HasMore: hasMore}
	if page.Records == nil {
		page.Records = []Record{}
	}
	if hasMore && len(page.Records) > 0 {
		last := page.Records[len(page.Records)-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

// normalizeLimit applies the default (20) and cap (100) to a page size.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}

// encodeCursor creates an opaque cursor from a timestamp and execution id.
// Format is base64(timestamp_rfc3339|id).
func encodeCursor(ts time.Time, id string) string {
	data := fmt.Sprintf("%s|%s", ts.UTC().Format(time.RFC3339), id)
	return base64.StdEncoding.EncodeToString([]byte(data))
}

// decodeCursor parses an opaque cursor back into its timestamp and id.
func decodeCursor(cursor string) (time.Time, string, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor encoding: %w", err)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid cursor format: expected timestamp|id")
	}
	ts, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	return ts, parts[1], nil
}

// scanRecord scans a row into a Record.
func scanRecord(scanner interface{ Scan(dest ...any) error }) (Record, error) {
	var (
		r           Record
		status      string
		inputJSON   string
		outputJSON  *string
		errorJSON   *string
		createdAt   string
		startedAt   *string
		completedAt *string
	)
	if err := scanner.Scan(
		&r.ID,
		&r.ToolName,
		&r.ToolVersion,
		&status,
		&r.CallerID,
		&r.TraceID,
		&inputJSON,
		&outputJSON,
		&errorJSON,
		&createdAt,
		&startedAt,
		&completedAt,
		&r.DurationMS,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scanning execution: %w", err)
	}

	r.Status = Status(status)
	if err := json.Unmarshal([]byte(inputJSON), &r.Input); err != nil {
		return r, fmt.Errorf("unmarshaling input: %w", err)
	}
	if outputJSON != nil {
		if err := json.Unmarshal([]byte(*outputJSON), &r.Output); err != nil {
			return r, fmt.Errorf("unmarshaling output: %w", err)
		}
	}
	if errorJSON != nil {
		var detail protocol.ErrorDetail
		if err := json.Unmarshal([]byte(*errorJSON), &detail); err != nil {
			return r, fmt.Errorf("unmarshaling error detail: %w", err)
		}
		r.Error = &detail
	}

	var err error
	r.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return r, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return r, fmt.Errorf("parsing started_at: %w", err)
	}
	if r.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return r, fmt.Errorf("parsing completed_at: %w", err)
	}
	return r, nil
}

func inputOrEmpty(input map[string]any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	return input
}

func marshalNullable(value any) (*string, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	str := string(data)
	return &str, nil
}

func marshalError(detail *protocol.ErrorDetail) (*string, error) {
	if detail == nil {
		return nil, nil
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}
	str := string(data)
	return &str, nil
}

func formatNullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	str := t.UTC().Format(time.RFC3339)
	return &str
}

func parseNullableTime(str *string) (*time.Time, error) {
	if str == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *str)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
