package localbase

// storage is the key-value backend (Bolt or in-memory). It plays the role a
// browser's persistent local storage plays for a web client: a flat, sorted
// map of string keys to opaque values, with transactions.
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	// Bucket returns a root bucket, or nil if it doesn't exist.
	Bucket(name string) storageBucket

	// CreateBucket returns a root bucket, creating it if needed.
	CreateBucket(name string) (storageBucket, error)

	Commit() error

	// Rollback aborts the transaction. It is safe to call after Commit.
	Rollback() error
}

type storageBucket interface {
	// Get returns nil if key is missing. The returned slice is only valid for
	// the life of the transaction.
	Get(key []byte) []byte

	Put(key, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key []byte) error

	Cursor() storageCursor
}

// storageCursor iterates over keys in byte order. Both methods return a nil
// key once iteration is exhausted.
type storageCursor interface {
	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)
	Next() (key, value []byte)
}
