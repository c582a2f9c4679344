// Package directive wraps the directive store with per-procedure locking
// so version assignment and active-pointer moves for one procedure are
// serialized within the process.
package directive

import (
	"context"
	"sync"

	"github.com/sekretaria/agenda/internal/model"
	"github.com/sekretaria/agenda/internal/store"
)

// Ledger is the service-level view of the versioned procedure ledger.
// Versions are append-only; approval moves the active pointer and never
// rewrites a prior version.
type Ledger struct {
	directives store.Directives

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLedger(directives store.Directives) *Ledger {
	return &Ledger{directives: directives, locks: make(map[string]*sync.Mutex)}
}

func (l *Ledger) procLock(procedureName string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[procedureName]
	if !ok {
		m = &sync.Mutex{}
		l.locks[procedureName] = m
	}
	return m
}

// Propose appends a new version for the procedure. The new version is not
// active until approved.
func (l *Ledger) Propose(ctx context.Context, procedureName, content, rationale string) (*model.DirectiveVersion, error) {
	m := l.procLock(procedureName)
	m.Lock()
	defer m.Unlock()
	return l.directives.Propose(ctx, procedureName, content, rationale)
}

// Approve makes the given version the active one for its procedure.
func (l *Ledger) Approve(ctx context.Context, procedureName string, version int, approvedBy string) (*model.DirectiveVersion, error) {
	m := l.procLock(procedureName)
	m.Lock()
	defer m.Unlock()
	return l.directives.Approve(ctx, procedureName, version, approvedBy)
}

// Flag marks a version as implicated in a fatal execution failure.
func (l *Ledger) Flag(ctx context.Context, procedureName string, version int, reason string) error {
	m := l.procLock(procedureName)
	m.Lock()
	defer m.Unlock()
	return l.directives.Flag(ctx, procedureName, version, reason)
}

func (l *Ledger) Active(ctx context.Context, procedureName string) (*model.DirectiveVersion, error) {
	return l.directives.Active(ctx, procedureName)
}

func (l *Ledger) Get(ctx context.Context, procedureName string, version int) (*model.DirectiveVersion, error) {
	return l.directives.Get(ctx, procedureName, version)
}

func (l *Ledger) List(ctx context.Context, procedureName string) ([]*model.DirectiveVersion, error) {
	return l.directives.List(ctx, procedureName)
}
