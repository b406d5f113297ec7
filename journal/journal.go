// Package journal implements append-only, segmented change journals.
//
// A journal is a directory of segment files. Each segment starts with a
// fixed-size checksummed header, followed by records grouped into batches.
// A batch becomes durable once its commit marker is written; the marker holds
// a running xxhash of everything written to the segment so far, so a torn or
// corrupted tail is detected on replay and dropped.
//
// File format:
//
//   - segment = header (record* commit)*
//   - header = magic:64 version:8 _:8 flags:16 _:32 ordinal:32 timestamp:32 reserved:64*12 checksum:64
//   - record = sizeAndFlags:uvarint timestampDelta:uvarint data
//   - commit = runningChecksum:64 (little-endian, lowest bit set)
//
// The lowest bit of a record's first byte is always clear, which is how a
// reader tells records and commit markers apart.
package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported journal version")
	ErrNotWritable        = errors.New("journal is not open for writing")
	errCorruptedFile      = errors.New("corrupted journal segment file")
)

type Options struct {
	Context     context.Context
	FileName    string // e.g. "changes-*.wal"
	MaxFileSize int64  // new segment after this size
	DebugName   string
	Now         func() time.Time

	// Fsync makes every commit wait for the segment to reach the disk.
	Fsync bool

	Logger  *slog.Logger
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const (
	magic          = 0x4c4e524a45474843 // "CHGEJRNL" as little-endian uint64
	version0 uint8 = 0
)

const headerSize = 16 * 8

type segmentHeader struct {
	Magic     uint64
	Version   uint8
	_         uint8
	Flags     uint16
	_         uint32
	Ordinal   uint32
	Timestamp uint32
	_         [12]uint64
	Checksum  uint64
}

const (
	commitFlag  byte = 1
	sizeShift        = 1
	timestampFmt     = "20060102T150405"
)

// Journal is a set of segment files in one directory.
type Journal struct {
	context     context.Context
	maxFileSize int64
	namePrefix  string
	nameSuffix  string
	debugName   string
	dir         string
	now         func() time.Time
	fsync       bool
	logger      *slog.Logger
	verbose     bool

	writeLock sync.Mutex
	writable  bool
	writeErr  error
	lastSeg   uint32
	segWriter *segmentWriter
}

func New(dir string, o Options) *Journal {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Journal{
		context:     o.Context,
		maxFileSize: o.MaxFileSize,
		namePrefix:  prefix,
		nameSuffix:  suffix,
		debugName:   o.DebugName,
		dir:         dir,
		now:         o.Now,
		fsync:       o.Fsync,
		logger:      o.Logger,
		verbose:     o.Verbose,
	}
}

func (j *Journal) String() string {
	return j.debugName
}

func (j *Journal) Dir() string {
	return j.dir
}

// Now returns the current time as a journal timestamp.
func (j *Journal) Now() uint32 {
	return Timestamp(j.now())
}

// Timestamp converts t to seconds since the epoch, clamped to the range a
// journal can represent.
func Timestamp(t time.Time) uint32 {
	v := t.Unix()
	switch {
	case v < 0:
		return 0
	case v > 0xFFFF_FFFF:
		return 0xFFFF_FFFF
	default:
		return uint32(v)
	}
}

// StartWriting prepares the journal for appending. It creates the directory
// if needed, cuts off any torn tail of the last segment, and arranges for the
// next batch to start a fresh segment.
func (j *Journal) StartWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.writable {
		return nil
	}
	if err := j.prepareToWrite_locked(); err != nil {
		j.writeErr = err
		return fmt.Errorf("%v: %w", j.debugName, err)
	}
	j.writable = true
	j.writeErr = nil
	return nil
}

func (j *Journal) prepareToWrite_locked() error {
	if err := os.MkdirAll(j.dir, 0o777); err != nil {
		return err
	}
	for {
		segs, err := j.segments()
		if err != nil {
			return err
		}
		if len(segs) == 0 {
			j.lastSeg = 0
			return nil
		}
		last := segs[len(segs)-1]

		sr, err := j.scanSegment(last, nil)
		if err == errCorruptedFile {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: deleting corrupted file", slog.String("jrnl", j.debugName), slog.String("file", last.name))
			if err := os.Remove(filepath.Join(j.dir, last.name)); err != nil {
				return fmt.Errorf("failed to delete corrupted file: %w", err)
			}
			continue
		} else if err != nil {
			return err
		}
		if sr.torn {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: trimming torn tail", slog.String("jrnl", j.debugName), slog.String("file", last.name), slog.Int64("size", sr.size), slog.Int64("committed", sr.committed))
			if err := os.Truncate(filepath.Join(j.dir, last.name), sr.committed); err != nil {
				return err
			}
		}
		j.lastSeg = last.seq
		if j.verbose {
			j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: opened", slog.String("jrnl", j.debugName), slog.Int("segments", len(segs)), slog.Int("last_seg", int(last.seq)))
		}
		return nil
	}
}

// FinishWriting closes the current segment. Further writes fail with
// ErrNotWritable until StartWriting is called again.
func (j *Journal) FinishWriting() {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	j.finishWriting_locked()
}

func (j *Journal) finishWriting_locked() {
	j.writable = false
	if j.segWriter != nil {
		j.segWriter.close()
		j.segWriter = nil
	}
}

func (j *Journal) fail(err error) error {
	if err == nil {
		return nil
	}
	j.logger.LogAttrs(j.context, slog.LevelError, "journal: failed", slog.String("jrnl", j.debugName), slog.Any("err", err))
	j.finishWriting_locked()
	if j.writeErr == nil {
		j.writeErr = err
	}
	return err
}

// WriteRecord appends one record to the current batch. A zero timestamp means
// now. The record is not durable until Commit.
func (j *Journal) WriteRecord(timestamp uint32, data []byte) error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	if !j.writable {
		return ErrNotWritable
	}
	if timestamp == 0 {
		timestamp = j.Now()
	}

	if j.segWriter == nil {
		sw, err := j.startSegment(j.lastSeg+1, timestamp)
		if err != nil {
			return j.fail(err)
		}
		j.lastSeg++
		j.segWriter = sw
	}
	return j.fail(j.segWriter.writeRecord(timestamp, data))
}

// Commit seals the records written since the previous commit, then rotates
// to a new segment if the current one has grown past MaxFileSize.
func (j *Journal) Commit() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	if j.segWriter == nil {
		return nil
	}
	if err := j.segWriter.commit(j.fsync); err != nil {
		return j.fail(err)
	}
	if j.segWriter.size >= j.maxFileSize {
		if j.verbose {
			j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: rotating", slog.String("jrnl", j.debugName), slog.String("file", j.segWriter.name), slog.Int64("size", j.segWriter.size))
		}
		j.segWriter.close()
		j.segWriter = nil
	}
	return nil
}

// Replay calls fn for every committed record, oldest first. Records of a
// batch whose commit marker is missing or does not match are skipped, along
// with the rest of that segment. An error from fn stops the replay.
func (j *Journal) Replay(fn func(timestamp uint32, data []byte) error) error {
	segs, err := j.segments()
	if err != nil {
		return fmt.Errorf("%v: %w", j.debugName, err)
	}
	for _, seg := range segs {
		if err := j.context.Err(); err != nil {
			return err
		}
		sr, err := j.scanSegment(seg, fn)
		if err == errCorruptedFile {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: skipping corrupted file", slog.String("jrnl", j.debugName), slog.String("file", seg.name))
			continue
		} else if err != nil {
			return err
		}
		if sr.torn && j.verbose {
			j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: ignoring uncommitted tail", slog.String("jrnl", j.debugName), slog.String("file", seg.name), slog.Int64("committed", sr.committed), slog.Int64("size", sr.size))
		}
	}
	return nil
}

type segmentFile struct {
	name string
	seq  uint32
	ts   uint32
}

// segments lists segment files ordered by ordinal.
func (j *Journal) segments() ([]segmentFile, error) {
	ents, err := os.ReadDir(j.dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var segs []segmentFile
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		seq, ts, err := parseSegmentName(j.namePrefix, j.nameSuffix, ent.Name())
		if err != nil {
			continue
		}
		segs = append(segs, segmentFile{ent.Name(), seq, ts})
	}
	slices.SortFunc(segs, func(a, b segmentFile) int {
		return int(int64(a.seq) - int64(b.seq))
	})
	return segs, nil
}

type scanResult struct {
	size      int64
	committed int64
	torn      bool
}

// scanSegment validates a segment, calling fn (if non-nil) for each record of
// every intact batch.
func (j *Journal) scanSegment(seg segmentFile, fn func(uint32, []byte) error) (scanResult, error) {
	raw, err := os.ReadFile(filepath.Join(j.dir, seg.name))
	if err != nil {
		return scanResult{}, err
	}
	res := scanResult{size: int64(len(raw))}

	var h segmentHeader
	if err := decodeHeader(raw, &h, seg.seq); err != nil {
		return res, err
	}
	res.committed = headerSize

	var hash xxhash.Digest
	hash.Reset()
	hash.Write(raw[:headerSize])

	type pending struct {
		ts   uint32
		data []byte
	}
	var batch []pending
	ts := h.Timestamp
	off := headerSize
	for off < len(raw) {
		if raw[off]&commitFlag != 0 {
			if off+8 > len(raw) {
				break
			}
			marker := raw[off : off+8]
			if binary.LittleEndian.Uint64(marker) != commitMarker(hash.Sum64()) {
				break
			}
			hash.Write(marker)
			off += 8
			res.committed = int64(off)
			if fn != nil {
				for _, rec := range batch {
					if err := fn(rec.ts, rec.data); err != nil {
						return res, err
					}
				}
			}
			batch = batch[:0]
			continue
		}

		start := off
		sizeAndFlags, n := binary.Uvarint(raw[off:])
		if n <= 0 {
			break
		}
		off += n
		delta, n := binary.Uvarint(raw[off:])
		if n <= 0 || delta > 0xFFFF_FFFF {
			break
		}
		off += n
		size := sizeAndFlags >> sizeShift
		if size > uint64(len(raw)-off) {
			break
		}
		end := off + int(size)
		hash.Write(raw[start:end])
		ts += uint32(delta)
		batch = append(batch, pending{ts, raw[off:end]})
		off = end
	}
	res.torn = res.committed < res.size
	return res, nil
}

func commitMarker(sum uint64) uint64 {
	return sum | uint64(commitFlag)
}

func decodeHeader(raw []byte, h *segmentHeader, expectedSeq uint32) error {
	if len(raw) < headerSize {
		return errCorruptedFile
	}
	n, err := binary.Decode(raw[:headerSize], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != headerSize {
		panic("internal size mismatch")
	}
	if h.Magic != magic {
		return errCorruptedFile
	}
	if xxhash.Sum64(raw[:headerSize-8]) != h.Checksum {
		return errCorruptedFile
	}
	if h.Ordinal != expectedSeq {
		return errCorruptedFile
	}
	if h.Version > version0 {
		return ErrUnsupportedVersion
	}
	return nil
}

type segmentWriter struct {
	f           *os.File
	name        string
	ts          uint32
	size        int64
	hash        xxhash.Digest
	uncommitted bool
}

func (j *Journal) startSegment(seq, ts uint32) (*segmentWriter, error) {
	name := formatSegmentName(j.namePrefix, j.nameSuffix, seq, ts)
	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	sw := &segmentWriter{
		f:    f,
		name: name,
		ts:   ts,
		size: headerSize,
	}
	sw.hash.Reset()

	var hbuf [headerSize]byte
	encodeHeader(hbuf[:], seq, ts)
	sw.hash.Write(hbuf[:])
	if _, err := f.Write(hbuf[:]); err != nil {
		return nil, err
	}

	if j.verbose {
		j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: new segment", slog.String("jrnl", j.debugName), slog.String("file", name))
	}
	ok = true
	return sw, nil
}

const maxRecHeaderLen = 2 * binary.MaxVarintLen64

func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}
	sw.uncommitted = true

	var hbuf [maxRecHeaderLen]byte
	h := binary.AppendUvarint(hbuf[:0], uint64(len(data))<<sizeShift)
	h = binary.AppendUvarint(h, uint64(tsDelta))

	buf := make([]byte, 0, len(h)+len(data))
	buf = append(append(buf, h...), data...)
	sw.hash.Write(buf)
	n, err := sw.f.Write(buf)
	sw.size += int64(n)
	return err
}

func (sw *segmentWriter) commit(fsync bool) error {
	if !sw.uncommitted {
		return nil
	}
	sw.uncommitted = false

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], commitMarker(sw.hash.Sum64()))
	sw.hash.Write(buf[:])
	n, err := sw.f.Write(buf[:])
	sw.size += int64(n)
	if err != nil {
		return err
	}
	if fsync {
		return sw.f.Sync()
	}
	return nil
}

func (sw *segmentWriter) close() {
	if sw.f == nil {
		return
	}
	sw.f.Close()
	sw.f = nil
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func encodeHeader(buf []byte, seq, ts uint32) {
	h := segmentHeader{
		Magic:     magic,
		Version:   version0,
		Ordinal:   seq,
		Timestamp: ts,
	}
	n, err := binary.Encode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != headerSize {
		panic("internal size mismatch")
	}
	binary.LittleEndian.PutUint64(buf[headerSize-8:], xxhash.Sum64(buf[:headerSize-8]))
}

func formatSegmentName(prefix, suffix string, seq, ts uint32) string {
	t := time.Unix(int64(ts), 0).UTC()
	return fmt.Sprintf("%s%010d-%s%s", prefix, seq, t.Format(timestampFmt), suffix)
}

func parseSegmentName(prefix, suffix, name string) (seq, ts uint32, err error) {
	rem, ok := strings.CutPrefix(name, prefix)
	if ok {
		rem, ok = strings.CutSuffix(rem, suffix)
	}
	if !ok {
		return 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	seqStr, tsStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seq = uint32(v)
	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seq, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	return seq, Timestamp(t), nil
}
