// Package kv is the C1 ordered KV primitive: the narrow interface the rest
// of the storage core is built against, plus memkv, a concrete in-process
// engine implementing it. Nothing outside this package depends on memkv
// directly — txn, dbiter, index and segment only see the Engine/Txn/
// Bucket/Cursor interfaces below, so a future on-disk engine can be
// substituted without touching them.
package kv

// Engine is a transactional, ordered, byte-key key-value store capable of
// namespacing data into named Buckets, each independently ordered.
type Engine interface {
	// Begin starts a transaction. parent == nil starts a root transaction;
	// otherwise the new transaction is a nested child sharing parent's
	// uncommitted writes as its base view.
	Begin(parent Txn) (Txn, error)

	// OpenBucket opens (or, if createIfMissing, creates) a named ordered
	// store visible within txn's view.
	OpenBucket(txn Txn, name string, createIfMissing bool) (Bucket, error)

	// RemoveBucket deletes a named store. Safe to call even if no bucket
	// by that name currently exists.
	RemoveBucket(txn Txn, name string) error

	// Close shuts the engine down; no further operations are valid after.
	Close() error
}

// Txn is a handle into the underlying engine. It has no notion of nesting
// by itself — the txn package builds the parent/child tree on top of this.
type Txn interface {
	ID() uint64
	Commit() error
	Abort() error
}

// Bucket is one named ordered byte-key -> byte-value namespace.
type Bucket interface {
	Get(txn Txn, key []byte) ([]byte, error) // ErrNotFound (see IsNotFound) if absent
	Put(txn Txn, key, value []byte) error
	Delete(txn Txn, key []byte) error
	NewCursor(txn Txn) (Cursor, error)
	Close() error
}

// Cursor provides ordered, range-positioned traversal of a Bucket within
// one transaction's view. A returned err of ErrNotFound (checked via
// IsNotFound) signals ordinary cursor exhaustion, not a structural error.
type Cursor interface {
	// First positions at the lowest key in the store.
	First() (key, value []byte, err error)
	// Next advances one step from the current position.
	Next() (key, value []byte, err error)
	// SeekRange positions at the first key >= target (DB_SET_RANGE).
	SeekRange(target []byte) (key, value []byte, err error)
	Close() error
}

// ErrNotFound is a sentinel returned by Cursor/Bucket operations to signal
// "no such key" / "cursor exhausted" as ordinary control flow, distinct
// from the dberr taxonomy that only applies to genuine failures.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "kv: not found" }

// IsNotFound reports whether err is the not-found sentinel.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}
