package localbase

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// testOptions uses a clock that ticks one second per call and sequential ids,
// so results are deterministic.
func testOptions() Options {
	now := testStart
	var seq int
	return Options{
		IsTesting: true,
		Verbose:   true,
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("id%03d", seq)
		},
	}
}

func setup(t testing.TB) *DB {
	t.Helper()
	return setupWith(t, testOptions())
}

func setupWith(t testing.TB, opt Options) *DB {
	t.Helper()

	dbFile := must(os.CreateTemp("", "db_test_*.db"))
	t.Logf("DB: %s", dbFile.Name())
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db := must(Open(dbFile.Name(), opt))
	t.Cleanup(func() { db.Close() })
	return db
}

func setupMem(t testing.TB) *DB {
	t.Helper()
	db := must(OpenMemory(testOptions()))
	t.Cleanup(func() { db.Close() })
	return db
}

// reopen closes db and opens the same file again with opt.
func reopen(t testing.TB, db *DB, opt Options) *DB {
	t.Helper()
	ensure(db.Close())
	db2 := must(Open(db.Path(), opt))
	t.Cleanup(func() { db2.Close() })
	return db2
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isnonnil[T any](t testing.TB, a *T) {
	if a == nil {
		t.Helper()
		t.Errorf("** got nil %T, wanted non-nil", a)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

// ids returns the id of every row.
func ids(rows []Record) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID())
	}
	return out
}

// field returns the given field of every row.
func field(rows []Record, name string) []any {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r[name])
	}
	return out
}
