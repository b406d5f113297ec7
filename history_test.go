package localbase

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func historyOf(t testing.TB, db *DB) changeLog {
	t.Helper()
	var log changeLog
	ensure(db.History(func(chg *Change) error {
		log.add(chg)
		return nil
	}))
	return log
}

func TestHistory_recordsCommittedChanges(t *testing.T) {
	opt := testOptions()
	opt.JournalDir = t.TempDir()
	db := setupWith(t, opt)

	q := db.From("videos")
	rows := must(q.Insert(Record{"title": "a"}, Record{"title": "b"})).Data
	a, b := rows[0].ID(), rows[1].ID()
	must(q.Eq("id", b).Update(Record{"title": "bb"}))
	ensure(q.Eq("id", a).Delete())

	want := changeLog{"INSERT videos " + a, "INSERT videos " + b, "UPDATE videos " + b, "DELETE videos " + a}
	deepEqual(t, historyOf(t, db), want)

	db = reopen(t, db, opt)
	must(db.From("videos").Eq("id", "nothing").Update(Record{"title": "x"}))
	deepEqual(t, historyOf(t, db), want)

	rows = must(db.From("videos").Insert(Record{"title": "c"})).Data
	deepEqual(t, historyOf(t, db), append(want, "INSERT videos "+rows[0].ID()))
}

func TestHistory_decodesRows(t *testing.T) {
	opt := testOptions()
	opt.JournalDir = t.TempDir()
	db := setupWith(t, opt)

	row := must(db.From("videos").Insert(Record{"title": "a", "views": 3})).Data[0]
	must(db.From("videos").Update(Record{"views": 4}))

	var changes []*Change
	ensure(db.History(func(chg *Change) error {
		changes = append(changes, chg)
		return nil
	}))
	deepEqual(t, len(changes), 2)
	deepEqual(t, changes[0].Op, OpInsert)
	deepEqual(t, changes[0].Row, row)
	deepEqual(t, changes[0].HasOldRow(), false)
	deepEqual(t, changes[1].OldRow, row)
	deepEqual(t, changes[1].Row["views"], any(4.0))
	deepEqual(t, changes[1].Row.String("title"), "a")
}

func TestHistory_stopsOnCallbackError(t *testing.T) {
	opt := testOptions()
	opt.JournalDir = t.TempDir()
	db := setupWith(t, opt)
	must(db.From("t").Insert(Record{}, Record{}, Record{}))

	stop := errors.New("stop")
	var n int
	err := db.History(func(chg *Change) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("History = %v, wanted %v", err, stop)
	}
	deepEqual(t, n, 1)
}

func TestHistory_disabled(t *testing.T) {
	db := setup(t)
	must(db.From("t").Insert(Record{}))
	err := db.History(func(*Change) error { return nil })
	if !errors.Is(err, ErrNoJournal) {
		t.Fatalf("History = %v, wanted ErrNoJournal", err)
	}
}

func TestHistory_concurrentWritersKeepBatchesTogether(t *testing.T) {
	opt := testOptions()
	opt.JournalDir = t.TempDir()
	db := setupWith(t, opt)

	var observed []string
	var observedLock sync.Mutex
	db.Observe(func(changes []*Change) {
		observedLock.Lock()
		defer observedLock.Unlock()
		for _, chg := range changes {
			observed = append(observed, chg.Row.String("w"))
		}
	})

	const writers, batches = 8, 10
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range batches {
				tag := fmt.Sprintf("w%d-%d", w, i)
				must(db.From("t").Insert(Record{"w": tag}, Record{"w": tag}, Record{"w": tag}))
			}
		}()
	}
	wg.Wait()

	var tags []string
	var lastCreated string
	ensure(db.History(func(chg *Change) error {
		tags = append(tags, chg.Row.String("w"))
		created := chg.Row.String(FieldCreatedAt)
		if created < lastCreated {
			t.Errorf("created_at went back from %s to %s", lastCreated, created)
		}
		lastCreated = created
		return nil
	}))

	deepEqual(t, len(tags), writers*batches*3)
	for i := 0; i+2 < len(tags); i += 3 {
		if tags[i] != tags[i+1] || tags[i] != tags[i+2] {
			t.Fatalf("batch at %d interleaved: %v", i, tags[i:i+3])
		}
	}
	deepEqual(t, observed, tags)
}

func TestDB_observerCanWrite(t *testing.T) {
	db := setup(t)
	var seen []string
	db.Observe(func(changes []*Change) {
		for _, chg := range changes {
			seen = append(seen, chg.Table)
			if chg.Table == "videos" {
				must(db.From("audit").Insert(Record{"video_id": chg.Key()}))
			}
		}
	})

	must(db.From("videos").Insert(Record{"title": "a"}))
	deepEqual(t, seen, []string{"videos", "audit"})
	deepEqual(t, len(must(db.From("audit").Fetch()).Data), 1)
}
