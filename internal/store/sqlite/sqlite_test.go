package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/sekretaria/agenda/internal/store"
	"github.com/sekretaria/agenda/internal/store/storetest"
)

func makeSqliteStore(t *testing.T) store.Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "agenda.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db)
}

func TestSqliteStore_Compliance(t *testing.T) {
	storetest.Run(t, makeSqliteStore)
}
