package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"miraqua/internal/types"
)

// ============================================================
// Mock Implementations
// ============================================================

type fakeRow struct{ err error }

func (r fakeRow) Scan(_ ...any) error { return r.err }

// fakeTx records the statements a repository runs inside a transaction.
// Embedding pgx.Tx satisfies the interface; only the methods ReplaceRules
// touches are implemented.
type fakeTx struct {
	pgx.Tx

	execSQL    []string
	execTags   []pgconn.CommandTag
	inserts    int
	scanErr    error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.execSQL = append(t.execSQL, sql)
	if len(t.execTags) > 0 {
		tag := t.execTags[0]
		t.execTags = t.execTags[1:]
		return tag, nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (t *fakeTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	t.inserts++
	return fakeRow{err: t.scanErr}
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// fakePool hands out the transaction. Statements issued directly on the pool
// during a rule replacement fail the test.
type fakePool struct {
	t  *testing.T
	tx *fakeTx
}

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) { return p.tx, nil }

func (p *fakePool) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	p.t.Errorf("statement executed outside the transaction: %s", sql)
	return pgconn.CommandTag{}, nil
}

func (p *fakePool) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	p.t.Errorf("query executed outside the transaction: %s", sql)
	return nil, errors.New("unexpected query")
}

func (p *fakePool) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	p.t.Errorf("query executed outside the transaction: %s", sql)
	return fakeRow{err: errors.New("unexpected query")}
}

func testRules() []*types.ScheduleRule {
	return []*types.ScheduleRule{
		{Days: types.Weekdays{"monday"}, StartTime: "06:30", DurationMin: 20},
		{Days: types.Weekdays{"thursday"}, StartTime: "18:00", DurationMin: 15, Flexible: true},
	}
}

// ============================================================
// Test: ReplaceRules
// ============================================================

func TestReplaceRules_RunsInsideOneTransaction(t *testing.T) {
	tx := &fakeTx{}
	repo := NewScheduleRepository(&fakePool{t: t, tx: tx})

	if err := repo.ReplaceRules(context.Background(), "plot_1", 3, testRules()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Version bump, delete, then one insert per rule, all on the tx.
	if len(tx.execSQL) != 2 {
		t.Fatalf("exec statements = %d, want bump + delete", len(tx.execSQL))
	}
	if tx.inserts != 2 {
		t.Errorf("inserts = %d, want 2", tx.inserts)
	}
	if !tx.committed {
		t.Error("transaction not committed")
	}
}

func TestReplaceRules_VersionConflictRollsBack(t *testing.T) {
	tx := &fakeTx{execTags: []pgconn.CommandTag{pgconn.NewCommandTag("UPDATE 0")}}
	repo := NewScheduleRepository(&fakePool{t: t, tx: tx})

	err := repo.ReplaceRules(context.Background(), "plot_1", 3, testRules())
	if !types.HasCode(err, types.ErrCodeConflictScheduleVersion) {
		t.Fatalf("expected conflict_schedule_version, got %v", err)
	}
	if tx.committed {
		t.Error("conflicting replacement must not commit")
	}
	if !tx.rolledBack {
		t.Error("conflicting replacement must roll back")
	}
	if tx.inserts != 0 {
		t.Errorf("inserts = %d after version conflict, want 0", tx.inserts)
	}
}

func TestReplaceRules_InsertFailureRollsBack(t *testing.T) {
	tx := &fakeTx{scanErr: errors.New("connection reset")}
	repo := NewScheduleRepository(&fakePool{t: t, tx: tx})

	err := repo.ReplaceRules(context.Background(), "plot_1", 3, testRules())
	if err == nil {
		t.Fatal("expected insert failure to propagate")
	}
	if tx.committed {
		t.Error("failed replacement must not commit the version bump")
	}
	if !tx.rolledBack {
		t.Error("failed replacement must roll back")
	}
}
