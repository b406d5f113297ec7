package journal_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/andreyvit/localbase/journal"
	"github.com/andreyvit/localbase/journal/journaltest"
)

type rec = journaltest.Record

const headerSize = 128

var ts0 = uint32(journaltest.Start.Unix())

func TestJournal_trivial(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	ensure(j.WriteRecord(0, []byte("hello")))
	ensure(j.WriteRecord(0, []byte("w")))
	j.Advance(1000 * time.Second)
	ensure(j.WriteRecord(0, []byte("orld")))
	ensure(j.Commit())
	j.FinishWriting()

	files := j.FileNames()
	deepEq(t, files, []string{"j0000000001-20240101T000000.wal"})

	data := j.Data(files[0])
	body := data[headerSize : len(data)-8]
	journaltest.BytesEq(t, body, []byte("\x0a\x00hello\x02\x00w\x08\xe8\x07orld"))
	if marker := data[len(data)-8]; marker&1 == 0 {
		t.Errorf("commit marker low bit not set: %02x", marker)
	}

	deepEq(t, j.Replayed(), []rec{
		{Timestamp: ts0, Data: "hello"},
		{Timestamp: ts0, Data: "w"},
		{Timestamp: ts0 + 1000, Data: "orld"},
	})
}

func TestJournal_emptyDir(t *testing.T) {
	j := journal.New(t.TempDir()+"/missing", journal.Options{})
	var n int
	ensure(j.Replay(func(uint32, []byte) error { n++; return nil }))
	if n != 0 {
		t.Errorf("replayed %d records from a missing directory", n)
	}
}

func TestJournal_notWritable(t *testing.T) {
	j := journal.New(t.TempDir(), journal.Options{})
	if err := j.WriteRecord(0, []byte("x")); !errors.Is(err, journal.ErrNotWritable) {
		t.Errorf("err = %v, expected ErrNotWritable", err)
	}
}

func TestJournal_uncommittedBatchIsSkipped(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	j.Write("a")
	ensure(j.WriteRecord(0, []byte("b")))
	deepEq(t, j.Replayed(), []rec{{Timestamp: ts0, Data: "a"}})
}

func TestJournal_reopenTrimsTornTail(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	j.Write("a")
	ensure(j.WriteRecord(0, []byte("b")))
	j.Reopen()

	files := j.FileNames()
	deepEq(t, len(files), 1)
	deepEq(t, len(j.Data(files[0])), headerSize+3+8)

	j.Advance(time.Minute)
	j.Write("c")
	deepEq(t, j.FileNames(), []string{
		"j0000000001-20240101T000000.wal",
		"j0000000002-20240101T000100.wal",
	})
	deepEq(t, j.Replayed(), []rec{{Timestamp: ts0, Data: "a"}, {Timestamp: ts0 + 60, Data: "c"}})
}

func TestJournal_tornCommit(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	j.Write("a")
	j.Write("b", "c")
	j.FinishWriting()

	j.Truncate(j.FileNames()[0], 3)
	deepEq(t, j.Replayed(), []rec{{Timestamp: ts0, Data: "a"}})
}

func TestJournal_corruptedRecord(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	j.Write("first")
	j.Write("second")
	j.FinishWriting()

	j.Corrupt(j.FileNames()[0], headerSize+2)
	deepEq(t, len(j.Replayed()), 0)
}

func TestJournal_corruptedHeaderIsDeletedOnReopen(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	j.Write("a")
	j.FinishWriting()
	j.Corrupt(j.FileNames()[0], 20)

	deepEq(t, len(j.Replayed()), 0)

	j.Reopen()
	deepEq(t, len(j.FileNames()), 0)
	j.Write("b")
	deepEq(t, j.FileNames(), []string{"j0000000001-20240101T000000.wal"})
	deepEq(t, j.Replayed(), []rec{{Timestamp: ts0, Data: "b"}})
}

func TestJournal_rotation(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{MaxFileSize: 200})
	payload := string(make([]byte, 50))
	j.Write(payload)
	deepEq(t, len(j.FileNames()), 1)
	j.Write(payload)
	deepEq(t, len(j.FileNames()), 1)
	j.Write(payload)
	deepEq(t, len(j.FileNames()), 2)
	deepEq(t, len(j.Replayed()), 3)
}

func TestJournal_replayStopsOnCallbackError(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	j.Write("a", "b", "c")

	stop := errors.New("stop")
	var seen []string
	err := j.Replay(func(ts uint32, data []byte) error {
		seen = append(seen, string(data))
		if len(seen) == 2 {
			return stop
		}
		return nil
	})
	if err != stop {
		t.Errorf("err = %v, expected %v", err, stop)
	}
	deepEq(t, seen, []string{"a", "b"})
}

func TestTimestamp(t *testing.T) {
	deepEq(t, journal.Timestamp(time.Unix(-5, 0)), uint32(0))
	deepEq(t, journal.Timestamp(time.Unix(1<<40, 0)), uint32(0xFFFF_FFFF))
	deepEq(t, journal.Timestamp(journaltest.Start), ts0)
}

func deepEq[T any](t testing.TB, a, e T) bool {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
		return false
	}
	return true
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
