package store

import (
	"context"

	"github.com/sekretaria/agenda/internal/model"
)

// Store exposes the persistence operations required by the orchestration
// core: the user registry, the confirmation-token table, the execution
// attempt log, the directive ledger, and the audit log.
// Implementations live under internal/store/<driver>/.
type Store interface {
	Users() Users
	Tokens() Tokens
	Attempts() Attempts
	Directives() Directives
	Audit() Audit
}

type Users interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
	Delete(ctx context.Context, userID string) error
}

// Tokens persists confirmation tokens. Create atomically invalidates any
// prior AWAITING token for the same user so at most one live token exists.
type Tokens interface {
	Create(ctx context.Context, t *model.ConfirmationToken) (*model.ConfirmationToken, error)
	Get(ctx context.Context, tokenID string) (*model.ConfirmationToken, error)
	Live(ctx context.Context, userID string) (*model.ConfirmationToken, error)
	SetState(ctx context.Context, tokenID string, state model.TokenState) error
}

// Attempts is the per-fingerprint execution history.
type Attempts interface {
	Record(ctx context.Context, a *model.ExecutionAttempt) error
	ListByFingerprint(ctx context.Context, fingerprint string) ([]*model.ExecutionAttempt, error)
	LastSuccess(ctx context.Context, fingerprint string) (*model.ExecutionAttempt, error)
}

// Directives is the append-and-approve procedure ledger. Propose assigns the
// next version for the procedure; Approve moves the active pointer; prior
// versions are never mutated or deleted.
type Directives interface {
	Propose(ctx context.Context, procedureName, content, rationale string) (*model.DirectiveVersion, error)
	Approve(ctx context.Context, procedureName string, version int, approvedBy string) (*model.DirectiveVersion, error)
	Get(ctx context.Context, procedureName string, version int) (*model.DirectiveVersion, error)
	Active(ctx context.Context, procedureName string) (*model.DirectiveVersion, error)
	List(ctx context.Context, procedureName string) ([]*model.DirectiveVersion, error)
	Flag(ctx context.Context, procedureName string, version int, reason string) error
}

// Audit is append-only; entries are never rewritten or deleted.
type Audit interface {
	Append(ctx context.Context, e *model.AuditEntry) error
	List(ctx context.Context, userID string, limit int) ([]*model.AuditEntry, error)
}
