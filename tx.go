package localbase

import (
	"bytes"
	"fmt"
	"runtime/debug"
)

// Tx is a storage transaction. Every query terminal runs inside one; Read and
// Write let callers group several operations atomically.
type Tx struct {
	db       *DB
	stx      storageTx
	writable bool
	changes  changeSet
}

// Tx runs f inside a transaction. A writable transaction commits when f
// returns nil and rolls back otherwise; committed changes are then journaled
// and published to observers. A panic inside f is returned as an error.
func (db *DB) Tx(writable bool, f func(tx *Tx) error) error {
	if db.closed.Load() {
		return ErrClosed
	}
	stx, err := db.store.BeginTx(writable)
	if err != nil {
		return fmt.Errorf("localbase: begin: %w", err)
	}
	defer stx.Rollback()

	tx := &Tx{db: db, stx: stx, writable: writable}
	if writable {
		db.WriteCount.Add(1)
	} else {
		db.ReadCount.Add(1)
	}

	if err := safelyCall(f, tx); err != nil {
		return err
	}
	if !writable {
		return nil
	}
	db.publishLock.Lock()
	if err := stx.Commit(); err != nil {
		db.publishLock.Unlock()
		return fmt.Errorf("localbase: commit: %w", err)
	}
	db.publish_locked(tx.changes.changes)
	db.publishLock.Unlock()
	db.deliverPending()
	return nil
}

func (db *DB) Read(f func(tx *Tx) error) error {
	return db.Tx(false, f)
}

func (db *DB) Write(f func(tx *Tx) error) error {
	return db.Tx(true, f)
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) IsWritable() bool {
	return tx.writable
}

func (tx *Tx) bucket() storageBucket {
	return tx.stx.Bucket(rootBucket)
}

func (tx *Tx) writableBucket() (storageBucket, error) {
	if !tx.writable {
		return nil, ErrNotWritable
	}
	return tx.stx.CreateBucket(rootBucket)
}

// getValue decodes the value stored under key into v, reporting whether it exists.
func (tx *Tx) getValue(table, key string, v any) (bool, error) {
	b := tx.bucket()
	if b == nil {
		return false, nil
	}
	raw := b.Get([]byte(key))
	if raw == nil {
		return false, nil
	}
	if err := tx.db.codec.Unmarshal(raw, v); err != nil {
		return false, tableErrf(table, key, dataErrf(bytes.Clone(raw), 0, err, "%s decode", tx.db.codec.Name()), "reading")
	}
	return true, nil
}

func (tx *Tx) putValue(table, key string, v any) error {
	b, err := tx.writableBucket()
	if err != nil {
		return err
	}
	raw, err := tx.db.codec.Marshal(v)
	if err != nil {
		return tableErrf(table, key, err, "encoding")
	}
	if err := b.Put([]byte(key), raw); err != nil {
		return tableErrf(table, key, err, "writing")
	}
	return nil
}

func (tx *Tx) deleteValue(table, key string) error {
	b, err := tx.writableBucket()
	if err != nil {
		return err
	}
	if err := b.Delete([]byte(key)); err != nil {
		return tableErrf(table, key, err, "deleting")
	}
	return nil
}

func (tx *Tx) rawValue(key string) []byte {
	b := tx.bucket()
	if b == nil {
		return nil
	}
	return b.Get([]byte(key))
}
