// Package sqlite is the embedded store driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sekretaria/agenda/internal/model"
	"github.com/sekretaria/agenda/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Open opens (or creates) a SQLite database at path with WAL enabled and
// applies the embedded schema.
func Open(path string) (*sql.DB, error) {
	inMemory := path == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	if inMemory {
		dsn = "file::memory:?cache=shared&_pragma=foreign_keys(ON)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if inMemory {
		// A pooled connection closing would drop the shared in-memory DB.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func applySchema(db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// NewWithDB wraps an already-open connection.
func NewWithDB(db *sql.DB) store.Store { return &sqlStore{db: db} }

type sqlStore struct{ db *sql.DB }

func (s *sqlStore) Users() store.Users           { return &users{db: s.db} }
func (s *sqlStore) Tokens() store.Tokens         { return &tokens{db: s.db} }
func (s *sqlStore) Attempts() store.Attempts     { return &attempts{db: s.db} }
func (s *sqlStore) Directives() store.Directives { return &directives{db: s.db} }
func (s *sqlStore) Audit() store.Audit           { return &audit{db: s.db} }

// HealthPing implements health.HealthPinger.
func (s *sqlStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- Users ---

type users struct{ db *sql.DB }

func (u *users) Create(ctx context.Context, m *model.User) (*model.User, error) {
	out := *m
	if out.CalendarID == "" {
		out.CalendarID = "primary"
	}
	out.Status = "ACTIVE"
	out.CreationTime = time.Now().UTC()
	_, err := u.db.ExecContext(ctx, `
        INSERT INTO users (user_id, email, display_name, time_zone, calendar_id, status, creation_time)
        VALUES (?,?,?,?,?,?,?)`,
		out.UserID, out.Email, out.DisplayName, out.TimeZone, out.CalendarID, out.Status, out.CreationTime)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (u *users) Get(ctx context.Context, userID string) (*model.User, error) {
	var out model.User
	row := u.db.QueryRowContext(ctx, `
        SELECT user_id, email, display_name, time_zone, calendar_id, status, creation_time
        FROM users WHERE user_id = ?`, userID)
	if err := row.Scan(&out.UserID, &out.Email, &out.DisplayName, &out.TimeZone, &out.CalendarID, &out.Status, &out.CreationTime); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (u *users) Delete(ctx context.Context, userID string) error {
	res, err := u.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- Tokens ---

type tokens struct{ db *sql.DB }

func (t *tokens) Create(ctx context.Context, m *model.ConfirmationToken) (*model.ConfirmationToken, error) {
	out := *m
	if out.TokenID == "" {
		out.TokenID = uuid.New().String()
	}
	out.State = model.TokenAwaiting
	reqJSON, err := json.Marshal(out.Request)
	if err != nil {
		return nil, err
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// A new pending action supersedes any prior unconfirmed one.
	if _, err := tx.ExecContext(ctx, `
        UPDATE confirmation_tokens SET state = ? WHERE user_id = ? AND state = ?`,
		model.TokenExpired, out.UserID, model.TokenAwaiting); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO confirmation_tokens (token_id, user_id, request_json, summary, issued_at, expires_at, state)
        VALUES (?,?,?,?,?,?,?)`,
		out.TokenID, out.UserID, string(reqJSON), out.Summary, out.IssuedAt.UTC(), out.ExpiresAt.UTC(), out.State); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (t *tokens) Get(ctx context.Context, tokenID string) (*model.ConfirmationToken, error) {
	row := t.db.QueryRowContext(ctx, `
        SELECT token_id, user_id, request_json, summary, issued_at, expires_at, state
        FROM confirmation_tokens WHERE token_id = ?`, tokenID)
	return scanToken(row)
}

func (t *tokens) Live(ctx context.Context, userID string) (*model.ConfirmationToken, error) {
	row := t.db.QueryRowContext(ctx, `
        SELECT token_id, user_id, request_json, summary, issued_at, expires_at, state
        FROM confirmation_tokens
        WHERE user_id = ? AND state = ?
        ORDER BY issued_at DESC LIMIT 1`, userID, model.TokenAwaiting)
	return scanToken(row)
}

func (t *tokens) SetState(ctx context.Context, tokenID string, state model.TokenState) error {
	res, err := t.db.ExecContext(ctx, `
        UPDATE confirmation_tokens SET state = ? WHERE token_id = ?`, state, tokenID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanToken(row rowScanner) (*model.ConfirmationToken, error) {
	var out model.ConfirmationToken
	var reqJSON string
	if err := row.Scan(&out.TokenID, &out.UserID, &reqJSON, &out.Summary, &out.IssuedAt, &out.ExpiresAt, &out.State); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(reqJSON), &out.Request); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Attempts ---

type attempts struct{ db *sql.DB }

func (a *attempts) Record(ctx context.Context, m *model.ExecutionAttempt) error {
	ct := m.CreationTime
	if ct.IsZero() {
		ct = time.Now().UTC()
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO execution_attempts (fingerprint, user_id, attempt_number, outcome, error_detail, event_ref, creation_time)
        VALUES (?,?,?,?,?,?,?)`,
		m.Fingerprint, m.UserID, m.AttemptNumber, m.Outcome, m.ErrorDetail, m.EventRef, ct.UTC())
	return err
}

func (a *attempts) ListByFingerprint(ctx context.Context, fingerprint string) ([]*model.ExecutionAttempt, error) {
	rows, err := a.db.QueryContext(ctx, `
        SELECT fingerprint, user_id, attempt_number, outcome, error_detail, event_ref, creation_time
        FROM execution_attempts WHERE fingerprint = ? ORDER BY attempt_number`, fingerprint)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.ExecutionAttempt
	for rows.Next() {
		var m model.ExecutionAttempt
		if err := rows.Scan(&m.Fingerprint, &m.UserID, &m.AttemptNumber, &m.Outcome, &m.ErrorDetail, &m.EventRef, &m.CreationTime); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (a *attempts) LastSuccess(ctx context.Context, fingerprint string) (*model.ExecutionAttempt, error) {
	row := a.db.QueryRowContext(ctx, `
        SELECT fingerprint, user_id, attempt_number, outcome, error_detail, event_ref, creation_time
        FROM execution_attempts
        WHERE fingerprint = ? AND outcome = ?
        ORDER BY attempt_number DESC LIMIT 1`, fingerprint, model.AttemptSuccess)
	var m model.ExecutionAttempt
	if err := row.Scan(&m.Fingerprint, &m.UserID, &m.AttemptNumber, &m.Outcome, &m.ErrorDetail, &m.EventRef, &m.CreationTime); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// --- Directives ---

type directives struct{ db *sql.DB }

func (d *directives) Propose(ctx context.Context, procedureName, content, rationale string) (*model.DirectiveVersion, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
        SELECT MAX(version) FROM directive_versions WHERE procedure_name = ?`, procedureName).Scan(&maxVersion); err != nil {
		return nil, err
	}
	out := model.DirectiveVersion{
		ProcedureName: procedureName,
		Version:       int(maxVersion.Int64) + 1,
		Content:       content,
		Rationale:     rationale,
		ProposedAt:    time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO directive_versions (procedure_name, version, content, rationale, active, proposed_at)
        VALUES (?,?,?,?,0,?)`,
		out.ProcedureName, out.Version, out.Content, out.Rationale, out.ProposedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *directives) Approve(ctx context.Context, procedureName string, version int, approvedBy string) (*model.DirectiveVersion, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `
        SELECT COUNT(1) FROM directive_versions WHERE procedure_name = ? AND version = ?`,
		procedureName, version).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, model.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
        UPDATE directive_versions SET active = 0 WHERE procedure_name = ?`, procedureName); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
        UPDATE directive_versions SET active = 1, approved_by = ?, approved_at = ?
        WHERE procedure_name = ? AND version = ?`, approvedBy, now, procedureName, version); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d.Get(ctx, procedureName, version)
}

func (d *directives) Get(ctx context.Context, procedureName string, version int) (*model.DirectiveVersion, error) {
	row := d.db.QueryRowContext(ctx, `
        SELECT procedure_name, version, content, rationale, active, flagged_reason, proposed_at, approved_by, approved_at
        FROM directive_versions WHERE procedure_name = ? AND version = ?`, procedureName, version)
	return scanDirective(row)
}

func (d *directives) Active(ctx context.Context, procedureName string) (*model.DirectiveVersion, error) {
	row := d.db.QueryRowContext(ctx, `
        SELECT procedure_name, version, content, rationale, active, flagged_reason, proposed_at, approved_by, approved_at
        FROM directive_versions WHERE procedure_name = ? AND active = 1`, procedureName)
	return scanDirective(row)
}

func (d *directives) List(ctx context.Context, procedureName string) ([]*model.DirectiveVersion, error) {
	rows, err := d.db.QueryContext(ctx, `
        SELECT procedure_name, version, content, rationale, active, flagged_reason, proposed_at, approved_by, approved_at
        FROM directive_versions WHERE procedure_name = ? ORDER BY version`, procedureName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.DirectiveVersion
	for rows.Next() {
		dv, err := scanDirective(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dv)
	}
	return out, rows.Err()
}

func (d *directives) Flag(ctx context.Context, procedureName string, version int, reason string) error {
	res, err := d.db.ExecContext(ctx, `
        UPDATE directive_versions SET flagged_reason = ? WHERE procedure_name = ? AND version = ?`,
		reason, procedureName, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func scanDirective(row rowScanner) (*model.DirectiveVersion, error) {
	var out model.DirectiveVersion
	var active int
	var approvedBy sql.NullString
	var approvedAt sql.NullTime
	if err := row.Scan(&out.ProcedureName, &out.Version, &out.Content, &out.Rationale, &active, &out.FlaggedReason, &out.ProposedAt, &approvedBy, &approvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	out.Active = active == 1
	if approvedBy.Valid {
		out.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		out.ApprovedAt = &t
	}
	return &out, nil
}

// --- Audit ---

type audit struct{ db *sql.DB }

func (a *audit) Append(ctx context.Context, e *model.AuditEntry) error {
	id := e.EntryID
	if id == "" {
		id = uuid.New().String()
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var payload interface{}
	if e.Payload != nil {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO audit_entries (entry_id, user_id, event_kind, payload, timestamp)
        VALUES (?,?,?,?,?)`, id, e.UserID, e.EventKind, payload, ts.UTC())
	return err
}

func (a *audit) List(ctx context.Context, userID string, limit int) ([]*model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
        SELECT entry_id, user_id, event_kind, payload, timestamp
        FROM audit_entries WHERE user_id = ? ORDER BY timestamp DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var payload sql.NullString
		if err := rows.Scan(&e.EntryID, &e.UserID, &e.EventKind, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
