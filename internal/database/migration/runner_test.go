package migration

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"casewatch/internal/database"
)

type fakeDB struct {
	execs   []string
	applied map[int64]string
	batches [][]string
}

func newFakeDB() *fakeDB {
	return &fakeDB{applied: map[int64]string{}}
}

func (f *fakeDB) Ping(context.Context) error { return nil }
func (f *fakeDB) Close() error               { return nil }
func (f *fakeDB) SQLDB() *sql.DB             { return nil }

func (f *fakeDB) Exec(_ context.Context, query string, _ ...any) (int64, error) {
	f.execs = append(f.execs, strings.TrimSpace(query))
	return 0, nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (database.Rows, error) {
	rows := make([][2]any, 0, len(f.applied))
	for v, sum := range f.applied {
		rows = append(rows, [2]any{v, sum})
	}
	return &fakeRows{rows: rows}, nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) database.Row { return nil }

func (f *fakeDB) Begin(context.Context) (database.Tx, error) {
	return &fakeTx{db: f}, nil
}

type fakeRows struct {
	rows [][2]any
	i    int
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	*dest[0].(*int64) = row[0].(int64)
	*dest[1].(*string) = row[1].(string)
	return nil
}

type fakeTx struct {
	db    *fakeDB
	stmts []string

	version  int64
	checksum string
}

func (t *fakeTx) Exec(_ context.Context, query string, args ...any) (int64, error) {
	t.stmts = append(t.stmts, strings.TrimSpace(query))
	if strings.HasPrefix(query, "INSERT INTO schema_migrations") {
		t.version = args[0].(int64)
		t.checksum = args[2].(string)
	}
	return 0, nil
}

func (t *fakeTx) Query(context.Context, string, ...any) (database.Rows, error) { return nil, nil }
func (t *fakeTx) QueryRow(context.Context, string, ...any) database.Row        { return nil }

func (t *fakeTx) Commit(context.Context) error {
	t.db.batches = append(t.db.batches, t.stmts)
	if t.version != 0 {
		t.db.applied[t.version] = t.checksum
	}
	return nil
}

func (t *fakeTx) Rollback(context.Context) error { return nil }

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRunner_AppliesInVersionOrder(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"0002_add_runs.sql": "CREATE TABLE collection_runs (id UUID);",
		"0001_init.sql":     "CREATE TABLE cases (id UUID);",
		"README.md":         "not a migration",
	})

	db := newFakeDB()
	r := Runner{Dir: dir}
	if err := r.Run(context.Background(), db); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(db.batches) != 2 {
		t.Fatalf("expected 2 applied migrations, got %d", len(db.batches))
	}
	if !strings.Contains(db.batches[0][0], "cases") || !strings.Contains(db.batches[1][0], "collection_runs") {
		t.Fatalf("migrations applied out of version order: %v", db.batches)
	}

	// A second run has nothing left to apply.
	if err := r.Run(context.Background(), db); err != nil {
		t.Fatalf("rerun failed: %v", err)
	}
	if len(db.batches) != 2 {
		t.Fatalf("rerun must be a no-op, got %d batches", len(db.batches))
	}
}

func TestRunner_ChecksumMismatchFails(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"0001_init.sql": "CREATE TABLE cases (id UUID);",
	})

	db := newFakeDB()
	db.applied[1] = "not-the-real-checksum"

	err := Runner{Dir: dir}.Run(context.Background(), db)
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("edited applied migration must fail the run, got %v", err)
	}
}

func TestRunner_EmptyDirIsNoop(t *testing.T) {
	db := newFakeDB()
	if err := (Runner{Dir: filepath.Join(t.TempDir(), "missing")}).Run(context.Background(), db); err != nil {
		t.Fatalf("missing dir should be a no-op: %v", err)
	}
	if len(db.execs) != 0 {
		t.Fatalf("no statements expected, got %v", db.execs)
	}
}
