package localbase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/andreyvit/localbase/journal"
)

const (
	// DefaultKeyPrefix namespaces every persisted key, so the store can share
	// a file with unrelated data.
	DefaultKeyPrefix = "utube_mock_"

	// rootBucket stands in for the single origin-wide local storage area.
	rootBucket = "localstorage"

	sessionKeyName = "session"
)

type DB struct {
	store   storage
	path    string
	logger  *slog.Logger
	verbose bool
	prefix  string
	codec   Codec
	now     func() time.Time
	newID   func() string
	journal *journal.Journal

	observersLock sync.Mutex
	observers     map[int]func([]*Change)
	nextObserver  int

	// publishLock orders commits with their journal batches and guards the
	// delivery queue, so observers see batches in commit order.
	publishLock sync.Mutex
	pending     [][]*Change
	delivering  bool

	closed     atomic.Bool
	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

type Options struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Codec defaults to JSON.
	Codec Codec

	// Now and NewID default to time.Now and random UUIDs.
	Now   func() time.Time
	NewID func() string

	// JournalDir, when set, records every committed change in an append-only
	// journal in that directory.
	JournalDir string
}

// Open opens (creating if needed) a Bolt-backed store at path.
func Open(path string, opt Options) (*DB, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("localbase: %w", err)
	}
	db, err := newDB(boltStorage{bdb}, path, opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory returns a store that lives only as long as the process.
func OpenMemory(opt Options) (*DB, error) {
	return newDB(newMemStorage(), ":memory:", opt)
}

func newDB(store storage, path string, opt Options) (*DB, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.KeyPrefix == "" {
		opt.KeyPrefix = DefaultKeyPrefix
	}
	if opt.Codec == nil {
		opt.Codec = JSON
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.NewID == nil {
		opt.NewID = uuid.NewString
	}

	db := &DB{
		store:     store,
		path:      path,
		logger:    opt.Logger,
		verbose:   opt.Verbose,
		prefix:    opt.KeyPrefix,
		codec:     opt.Codec,
		now:       opt.Now,
		newID:     opt.NewID,
		observers: make(map[int]func([]*Change)),
	}

	err := db.Write(func(tx *Tx) error {
		_, err := tx.stx.CreateBucket(rootBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("localbase: initializing %s: %w", path, err)
	}

	if opt.JournalDir != "" {
		j := journal.New(opt.JournalDir, journal.Options{
			FileName:  "changes-*.wal",
			DebugName: "changes",
			Now:       opt.Now,
			Fsync:     !opt.IsTesting,
			Logger:    opt.Logger,
			Verbose:   opt.Verbose,
		})
		if err := j.StartWriting(); err != nil {
			return nil, fmt.Errorf("localbase: opening journal: %w", err)
		}
		db.journal = j
	}

	if db.verbose {
		db.logger.LogAttrs(context.Background(), slog.LevelDebug, "localbase: opened", slog.String("path", path), slog.String("codec", db.codec.Name()), slog.String("prefix", db.prefix))
	}
	return db, nil
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) Codec() Codec {
	return db.codec
}

func (db *DB) KeyPrefix() string {
	return db.prefix
}

// Logger returns the logger the store and its companions log to.
func (db *DB) Logger() *slog.Logger {
	return db.logger
}

func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	if db.journal != nil {
		db.journal.FinishWriting()
	}
	return db.store.Close()
}

// Observe registers fn to receive every batch of committed changes. The
// returned function removes the observer.
func (db *DB) Observe(fn func(changes []*Change)) (remove func()) {
	db.observersLock.Lock()
	defer db.observersLock.Unlock()
	id := db.nextObserver
	db.nextObserver++
	db.observers[id] = fn
	return func() {
		db.observersLock.Lock()
		defer db.observersLock.Unlock()
		delete(db.observers, id)
	}
}

// publish_locked journals a committed batch and queues it for observers.
// Must be called with publishLock held, right after the commit.
func (db *DB) publish_locked(changes []*Change) {
	if len(changes) == 0 {
		return
	}
	ctx := context.Background()
	if db.verbose {
		for _, chg := range changes {
			db.logger.LogAttrs(ctx, slog.LevelDebug, "localbase: change", slog.String("table", chg.Table), slog.String("op", chg.Op.String()), slog.String("id", chg.Key()))
		}
	}
	if db.journal != nil {
		if err := db.appendToJournal(changes); err != nil {
			db.logger.LogAttrs(ctx, slog.LevelError, "localbase: journal write failed", slog.Any("err", err))
		}
	}
	db.pending = append(db.pending, changes)
}

// deliverPending hands queued batches to observers in commit order. Only one
// goroutine delivers at a time; the others return and leave their batches to
// it. Observers run without any lock held, so they may write to the store;
// such nested writes are delivered once the current observer returns.
func (db *DB) deliverPending() {
	db.publishLock.Lock()
	if db.delivering {
		db.publishLock.Unlock()
		return
	}
	db.delivering = true
	done := false
	defer func() {
		if !done {
			// an observer panicked
			db.publishLock.Lock()
			db.delivering = false
			db.publishLock.Unlock()
		}
	}()
	for len(db.pending) > 0 {
		batch := db.pending[0]
		db.pending[0] = nil
		db.pending = db.pending[1:]
		db.publishLock.Unlock()
		db.notify(batch)
		db.publishLock.Lock()
	}
	db.delivering = false
	done = true
	db.publishLock.Unlock()
}

func (db *DB) notify(changes []*Change) {
	db.observersLock.Lock()
	fns := make([]func([]*Change), 0, len(db.observers))
	for i := 0; i < db.nextObserver; i++ {
		if fn := db.observers[i]; fn != nil {
			fns = append(fns, fn)
		}
	}
	db.observersLock.Unlock()

	for _, fn := range fns {
		fn(changes)
	}
}

func (db *DB) tableKey(table string) string {
	return db.prefix + table
}

func (db *DB) sessionKey() string {
	return db.prefix + sessionKeyName
}

func validateTableName(name string) error {
	if name == "" || name == sessionKeyName {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return nil
}
