// Package journaltest provides a journal wired to a temporary directory and
// a fake clock, plus helpers for inspecting the files it writes.
package journaltest

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/andreyvit/localbase/journal"
)

var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type TestJournal struct {
	*journal.Journal

	T   testing.TB
	Dir string

	opt journal.Options
	now time.Time
}

// Record is one replayed journal record.
type Record struct {
	Timestamp uint32
	Data      string
}

func (r Record) String() string {
	return fmt.Sprintf("%d:%s", r.Timestamp, r.Data)
}

// Writable returns a journal in a fresh temporary directory, ready to write.
func Writable(t testing.TB, o journal.Options) *TestJournal {
	j := &TestJournal{
		T:   t,
		Dir: t.TempDir(),
		now: Start,
	}
	o.FileName = "j*.wal"
	o.Now = func() time.Time { return j.now }
	o.Logger = slog.New(slog.NewTextHandler(&logWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	o.Verbose = true
	j.opt = o

	j.Journal = journal.New(j.Dir, o)
	if err := j.StartWriting(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		j.FinishWriting()
	})
	return j
}

// Reopen finishes writing and opens the same directory afresh, the way a
// restarted process would.
func (j *TestJournal) Reopen() {
	j.T.Helper()
	j.FinishWriting()
	j.Journal = journal.New(j.Dir, j.opt)
	if err := j.StartWriting(); err != nil {
		j.T.Fatal(err)
	}
}

func (j *TestJournal) Now() time.Time {
	return j.now
}

func (j *TestJournal) Advance(d time.Duration) {
	j.now = j.now.Add(d)
}

// Write writes each string as a record and commits them as one batch.
func (j *TestJournal) Write(records ...string) {
	j.T.Helper()
	for _, r := range records {
		if err := j.WriteRecord(0, []byte(r)); err != nil {
			j.T.Fatal(err)
		}
	}
	if err := j.Commit(); err != nil {
		j.T.Fatal(err)
	}
}

// Replayed returns every committed record.
func (j *TestJournal) Replayed() []Record {
	j.T.Helper()
	var recs []Record
	err := j.Replay(func(ts uint32, data []byte) error {
		recs = append(recs, Record{ts, string(data)})
		return nil
	})
	if err != nil {
		j.T.Fatal(err)
	}
	return recs
}

func (j *TestJournal) FileNames() []string {
	var names []string
	for _, ent := range must(os.ReadDir(j.Dir)) {
		names = append(names, ent.Name())
	}
	slices.Sort(names)
	return names
}

func (j *TestJournal) Data(fileName string) []byte {
	b, err := os.ReadFile(filepath.Join(j.Dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		j.T.Fatalf("when reading %v: %v", fileName, err)
	}
	return b
}

// Truncate cuts the named file down by n bytes, simulating a torn write.
func (j *TestJournal) Truncate(fileName string, n int) {
	j.T.Helper()
	fn := filepath.Join(j.Dir, fileName)
	st := must(os.Stat(fn))
	if err := os.Truncate(fn, st.Size()-int64(n)); err != nil {
		j.T.Fatal(err)
	}
}

// Corrupt flips the bits of the byte at off.
func (j *TestJournal) Corrupt(fileName string, off int) {
	j.T.Helper()
	b := j.Data(fileName)
	b[off] ^= 0xFF
	if err := os.WriteFile(filepath.Join(j.Dir, fileName), b, 0o644); err != nil {
		j.T.Fatal(err)
	}
}

type logWriter struct{ t testing.TB }

func (c *logWriter) Write(buf []byte) (int, error) {
	c.t.Log(strings.TrimSuffix(string(buf), "\n"))
	return len(buf), nil
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// HexDump formats b in rows of 8 bytes, marking the byte at highlightOff.
func HexDump(b []byte, highlightOff int) string {
	var buf strings.Builder
	for off := 0; off < len(b); off += 8 {
		fmt.Fprintf(&buf, "%08x", off)
		row := b[off:min(off+8, len(b))]
		for i, v := range row {
			if off+i == highlightOff {
				buf.WriteByte('>')
			} else {
				buf.WriteByte(' ')
			}
			fmt.Fprintf(&buf, "%02x", v)
		}
		buf.WriteString(strings.Repeat("   ", 8-len(row)))
		buf.WriteString("  |")
		for _, v := range row {
			if v >= 32 && v <= 126 {
				buf.WriteByte(v)
			} else {
				buf.WriteByte('.')
			}
		}
		buf.WriteString("|\n")
	}
	return buf.String()
}

func BytesEq(t testing.TB, a, e []byte) bool {
	if bytes.Equal(a, e) {
		return true
	}
	off := min(len(a), len(e))
	for i := range off {
		if a[i] != e[i] {
			off = i
			break
		}
	}
	t.Helper()
	t.Errorf("** got:\n%v\nwanted:\n%v\nfirst difference offset: 0x%x (%d)", HexDump(a, off), HexDump(e, off), off, off)
	return false
}
