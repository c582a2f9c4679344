// Package postgres is the deployment store driver, backed by pgx.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sekretaria/agenda/internal/model"
	"github.com/sekretaria/agenda/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and
// verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Users() store.Users           { return &users{db: s.db} }
func (s *pgStore) Tokens() store.Tokens         { return &tokens{db: s.db} }
func (s *pgStore) Attempts() store.Attempts     { return &attempts{db: s.db} }
func (s *pgStore) Directives() store.Directives { return &directives{db: s.db} }
func (s *pgStore) Audit() store.Audit           { return &audit{db: s.db} }

// HealthPing implements health.HealthPinger.
func (s *pgStore) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureSchema creates the tables when they do not exist yet. Deployments
// that run migrations separately can skip this.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            user_id       TEXT PRIMARY KEY,
            email         TEXT NOT NULL UNIQUE,
            display_name  TEXT,
            time_zone     TEXT NOT NULL DEFAULT '',
            calendar_id   TEXT NOT NULL DEFAULT 'primary',
            status        TEXT NOT NULL DEFAULT 'ACTIVE',
            creation_time TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS confirmation_tokens (
            token_id     TEXT PRIMARY KEY,
            user_id      TEXT NOT NULL,
            request_json JSONB NOT NULL,
            summary      TEXT NOT NULL DEFAULT '',
            issued_at    TIMESTAMPTZ NOT NULL,
            expires_at   TIMESTAMPTZ NOT NULL,
            state        TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_user_state
            ON confirmation_tokens (user_id, state, issued_at)`,
		`CREATE TABLE IF NOT EXISTS execution_attempts (
            fingerprint    TEXT NOT NULL,
            user_id        TEXT NOT NULL,
            attempt_number INTEGER NOT NULL,
            outcome        TEXT NOT NULL,
            error_detail   TEXT NOT NULL DEFAULT '',
            event_ref      TEXT NOT NULL DEFAULT '',
            creation_time  TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (fingerprint, attempt_number)
        )`,
		`CREATE TABLE IF NOT EXISTS directive_versions (
            procedure_name TEXT NOT NULL,
            version        INTEGER NOT NULL,
            content        TEXT NOT NULL,
            rationale      TEXT NOT NULL DEFAULT '',
            active         BOOLEAN NOT NULL DEFAULT FALSE,
            flagged_reason TEXT NOT NULL DEFAULT '',
            proposed_at    TIMESTAMPTZ NOT NULL,
            approved_by    TEXT,
            approved_at    TIMESTAMPTZ,
            PRIMARY KEY (procedure_name, version)
        )`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
            entry_id   TEXT PRIMARY KEY,
            user_id    TEXT NOT NULL,
            event_kind TEXT NOT NULL,
            payload    JSONB,
            timestamp  TIMESTAMPTZ NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_audit_user_time
            ON audit_entries (user_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

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
        VALUES ($1,$2,$3,$4,$5,$6,$7)`,
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
        FROM users WHERE user_id=$1`, userID)
	if err := row.Scan(&out.UserID, &out.Email, &out.DisplayName, &out.TimeZone, &out.CalendarID, &out.Status, &out.CreationTime); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (u *users) Delete(ctx context.Context, userID string) error {
	res, err := u.db.ExecContext(ctx, `DELETE FROM users WHERE user_id=$1`, userID)
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

	if _, err := tx.ExecContext(ctx, `
        UPDATE confirmation_tokens SET state=$1 WHERE user_id=$2 AND state=$3`,
		model.TokenExpired, out.UserID, model.TokenAwaiting); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO confirmation_tokens (token_id, user_id, request_json, summary, issued_at, expires_at, state)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`,
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
        FROM confirmation_tokens WHERE token_id=$1`, tokenID)
	return scanToken(row)
}

func (t *tokens) Live(ctx context.Context, userID string) (*model.ConfirmationToken, error) {
	row := t.db.QueryRowContext(ctx, `
        SELECT token_id, user_id, request_json, summary, issued_at, expires_at, state
        FROM confirmation_tokens
        WHERE user_id=$1 AND state=$2
        ORDER BY issued_at DESC LIMIT 1`, userID, model.TokenAwaiting)
	return scanToken(row)
}

func (t *tokens) SetState(ctx context.Context, tokenID string, state model.TokenState) error {
	res, err := t.db.ExecContext(ctx, `
        UPDATE confirmation_tokens SET state=$1 WHERE token_id=$2`, state, tokenID)
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
        VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.Fingerprint, m.UserID, m.AttemptNumber, m.Outcome, m.ErrorDetail, m.EventRef, ct.UTC())
	return err
}

func (a *attempts) ListByFingerprint(ctx context.Context, fingerprint string) ([]*model.ExecutionAttempt, error) {
	rows, err := a.db.QueryContext(ctx, `
        SELECT fingerprint, user_id, attempt_number, outcome, error_detail, event_ref, creation_time
        FROM execution_attempts WHERE fingerprint=$1 ORDER BY attempt_number`, fingerprint)
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
        WHERE fingerprint=$1 AND outcome=$2
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
        SELECT MAX(version) FROM directive_versions WHERE procedure_name=$1`, procedureName).Scan(&maxVersion); err != nil {
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
        VALUES ($1,$2,$3,$4,FALSE,$5)`,
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
        SELECT COUNT(1) FROM directive_versions WHERE procedure_name=$1 AND version=$2`,
		procedureName, version).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, model.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
        UPDATE directive_versions SET active=FALSE WHERE procedure_name=$1`, procedureName); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
        UPDATE directive_versions SET active=TRUE, approved_by=$1, approved_at=$2
        WHERE procedure_name=$3 AND version=$4`, approvedBy, now, procedureName, version); err != nil {
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
        FROM directive_versions WHERE procedure_name=$1 AND version=$2`, procedureName, version)
	return scanDirective(row)
}

func (d *directives) Active(ctx context.Context, procedureName string) (*model.DirectiveVersion, error) {
	row := d.db.QueryRowContext(ctx, `
        SELECT procedure_name, version, content, rationale, active, flagged_reason, proposed_at, approved_by, approved_at
        FROM directive_versions WHERE procedure_name=$1 AND active=TRUE`, procedureName)
	return scanDirective(row)
}

func (d *directives) List(ctx context.Context, procedureName string) ([]*model.DirectiveVersion, error) {
	rows, err := d.db.QueryContext(ctx, `
        SELECT procedure_name, version, content, rationale, active, flagged_reason, proposed_at, approved_by, approved_at
        FROM directive_versions WHERE procedure_name=$1 ORDER BY version`, procedureName)
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
        UPDATE directive_versions SET flagged_reason=$1 WHERE procedure_name=$2 AND version=$3`,
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
	var approvedBy sql.NullString
	var approvedAt sql.NullTime
	if err := row.Scan(&out.ProcedureName, &out.Version, &out.Content, &out.Rationale, &out.Active, &out.FlaggedReason, &out.ProposedAt, &approvedBy, &approvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
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
        VALUES ($1,$2,$3,$4,$5)`, id, e.UserID, e.EventKind, payload, ts.UTC())
	return err
}

func (a *audit) List(ctx context.Context, userID string, limit int) ([]*model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
        SELECT entry_id, user_id, event_kind, payload, timestamp
        FROM audit_entries WHERE user_id=$1 ORDER BY timestamp DESC LIMIT $2`, userID, limit)
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
