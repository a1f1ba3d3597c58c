// Package dbiter implements the C4 iterator engine: a cursor-backed lazy
// sequence with four traversal modes and pluggable per-store decode
// callbacks, grounded directly on terane's backend-iter.c (see
// _examples/original_source/terane/backend-iter.c for the original
// next/skip/reset/close state machine this mirrors).
package dbiter

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"ternstore/dberr"
	"ternstore/kv"
)

// Mode selects how the cursor is positioned on the first Next call and
// which termination predicate applies afterwards.
type Mode int

const (
	All Mode = iota + 1
	Range
	From
	// Within is the fourth traversal mode. The original header never
	// defines TERANE_ITER_WITHIN despite backend-iter.c branching on it;
	// this is that missing constant, added explicitly per spec.md's
	// second Open Question.
	Within
)

// ErrOutOfRange is Skip's distinct "target outside range" outcome; it is
// normal control flow, not a member of the dberr taxonomy.
var ErrOutOfRange = errors.New("dbiter: target out of range")

// ErrIteratorClosed is returned for any operation attempted after Close.
var ErrIteratorClosed = dberr.NewError("iterator closed", nil)

// ParentRef is the iterator's back-reference to the Segment or Index it
// traverses, kept alive (shared-ownership, per spec.md's Design Notes)
// until the iterator itself closes.
type ParentRef interface {
	Release()
}

// Ops is the pluggable decode capability set: Next turns a raw (key,
// value) pair into a domain value, Skip turns a skip target into a raw
// key to seek to. Next decodes the entry for both Iterator.Next and
// Iterator.Skip; Skip may be nil if Iterator.Skip is never called.
type Ops struct {
	Next func(key, value []byte) (interface{}, error)
	Skip func(target interface{}) ([]byte, error)
}

// Iterator is the cursor-backed lazy sequence described in spec.md §4.1.
type Iterator struct {
	mu     sync.Mutex
	parent ParentRef
	cursor kv.Cursor
	ops    Ops
	mode   Mode

	initialized bool
	startKey    []byte
	endKey      []byte
	closed      bool
}

func newIterator(parent ParentRef, cursor kv.Cursor, ops Ops, mode Mode, start, end []byte) *Iterator {
	it := &Iterator{parent: parent, cursor: cursor, ops: ops, mode: mode}
	if start != nil {
		it.startKey = append([]byte(nil), start...)
	}
	if end != nil {
		it.endKey = append([]byte(nil), end...)
	}
	return it
}

// NewAll builds an ALL-mode iterator: visits every key in the store.
func NewAll(parent ParentRef, cursor kv.Cursor, ops Ops) *Iterator {
	return newIterator(parent, cursor, ops, All, nil, nil)
}

// NewRange builds a RANGE-mode iterator: visits keys with the given prefix.
func NewRange(parent ParentRef, cursor kv.Cursor, ops Ops, prefix []byte) *Iterator {
	return newIterator(parent, cursor, ops, Range, prefix, nil)
}

// NewFrom builds a FROM-mode iterator: visits every key >= start.
func NewFrom(parent ParentRef, cursor kv.Cursor, ops Ops, start []byte) *Iterator {
	return newIterator(parent, cursor, ops, From, start, nil)
}

// NewWithin builds a WITHIN-mode iterator: visits keys in [start, end].
func NewWithin(parent ParentRef, cursor kv.Cursor, ops Ops, start, end []byte) *Iterator {
	return newIterator(parent, cursor, ops, Within, start, end)
}

// Next advances the iterator and decodes the next value, or returns
// io.EOF once the traversal is exhausted — a normal outcome, not an error.
func (it *Iterator) Next() (interface{}, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.cursor == nil {
		return nil, ErrIteratorClosed
	}
	if it.ops.Next == nil {
		return nil, dberr.NewError("no next callback", nil)
	}

	var key, value []byte
	var err error
	if !it.initialized {
		switch it.mode {
		case Range, From, Within:
			key, value, err = it.cursor.SeekRange(it.startKey)
		default:
			key, value, err = it.cursor.First()
		}
	} else {
		key, value, err = it.cursor.Next()
	}

	if err != nil {
		if kv.IsNotFound(err) {
			it.closeLocked()
			return nil, io.EOF
		}
		if dberr.IsDeadlock(err) {
			return nil, err
		}
		if dberr.IsLockTimeout(err) {
			return nil, err
		}
		return nil, dberr.NewError("iterator positioning failed", err)
	}

	it.initialized = true

	if it.terminatesLocked(key) {
		it.closeLocked()
		return nil, io.EOF
	}

	decoded, derr := it.ops.Next(key, value)
	if derr != nil {
		it.closeLocked()
		return nil, dberr.NewError("decode failed", derr)
	}
	if decoded == nil {
		it.closeLocked()
		return nil, io.EOF
	}
	return decoded, nil
}

func (it *Iterator) terminatesLocked(key []byte) bool {
	switch it.mode {
	case Range:
		return !bytes.HasPrefix(key, it.startKey)
	case Within:
		return withinTerminates(key, it.endKey)
	default: // All, From: exhaustion is the only terminator
		return false
	}
}

// withinTerminates reports whether key falls beyond end under WITHIN's
// inclusive upper bound, comparing only the shared prefix and then
// tie-breaking on length — shorter is less on an equal shared prefix, so
// a key that is a strict extension of end (end is a prefix of key) is
// "greater" than end and terminates the traversal.
func withinTerminates(key, end []byte) bool {
	n := len(key)
	if len(end) < n {
		n = len(end)
	}
	cmp := bytes.Compare(key[:n], end[:n])
	if cmp > 0 {
		return true
	}
	if cmp == 0 && len(key) > len(end) {
		return true
	}
	return false
}

// Skip positions the cursor at-or-after the raw key the Skip decode
// callback derives from target, and decodes the value found there. The
// landing key is tested against the iterator's own range predicate (the
// same one Next applies), not against the skip target — mirroring
// _Iter_get in backend-iter.c, which tests the landing key against
// iter->start_key regardless of what was sought. Returns ErrOutOfRange
// (not an error in the dberr taxonomy) if the landing key falls outside
// that range, closing the iterator exactly as the source does on
// DB_NOTFOUND or a failed range predicate.
func (it *Iterator) Skip(target interface{}) (interface{}, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.cursor == nil {
		return nil, ErrIteratorClosed
	}
	if it.ops.Skip == nil {
		return nil, dberr.NewError("no skip callback", nil)
	}

	rawKey, err := it.ops.Skip(target)
	if err != nil {
		return nil, dberr.NewError("skip target encode failed", err)
	}

	key, value, err := it.cursor.SeekRange(rawKey)
	if err != nil {
		if kv.IsNotFound(err) {
			it.closeLocked()
			return nil, ErrOutOfRange
		}
		if dberr.IsDeadlock(err) {
			return nil, err
		}
		if dberr.IsLockTimeout(err) {
			return nil, err
		}
		return nil, dberr.NewError("skip positioning failed", err)
	}
	it.initialized = true

	if it.terminatesLocked(key) {
		it.closeLocked()
		return nil, ErrOutOfRange
	}

	decoded, derr := it.ops.Next(key, value)
	if derr != nil {
		it.closeLocked()
		return nil, dberr.NewError("decode failed", derr)
	}
	if decoded == nil {
		it.closeLocked()
		return nil, ErrOutOfRange
	}
	return decoded, nil
}

// Reset clears the initialization flag; the next Next call re-positions
// from the beginning (or start_key). The cursor's own position is left
// untouched — re-positioning is the first step of Next, not of Reset.
func (it *Iterator) Reset() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.initialized = false
}

// Close is idempotent: it releases the cursor, the parent reference, and
// the owned start/end key buffers regardless of any error encountered
// closing the cursor itself.
func (it *Iterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.closeLocked()
}

func (it *Iterator) closeLocked() error {
	if it.closed {
		return nil
	}
	it.closed = true

	var closeErr error
	if it.cursor != nil {
		if err := it.cursor.Close(); err != nil {
			if dberr.IsDeadlock(err) || dberr.IsLockTimeout(err) {
				closeErr = err
			} else {
				closeErr = dberr.NewError("cursor close failed", err)
			}
		}
		it.cursor = nil
	}
	if it.parent != nil {
		it.parent.Release()
		it.parent = nil
	}
	it.startKey = nil
	it.endKey = nil
	return closeErr
}
