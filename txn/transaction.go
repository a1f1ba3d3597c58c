// Package txn implements the C3 transaction tree: nestable transaction
// handles layered over a kv.Engine, with explicit parent/child linkage,
// the "no children at commit" invariant, and automatic abort-with-warning
// if a transaction is dropped without an explicit commit or abort.
package txn

import (
	"runtime"
	"sync"

	"ternstore/dberr"
	"ternstore/dblog"
	"ternstore/kv"
)

// Transaction is a node in the tree. It holds a handle into the
// underlying kv engine, a back-reference to its parent (nil for a root),
// and an intrusive singly-linked child list (first child + next sibling),
// per the Design Notes in spec.md for representing the tree without a
// growable slice.
type Transaction struct {
	engine kv.Engine
	log    *dblog.Logger
	kvTxn  kv.Txn

	mu          sync.Mutex
	parent      *Transaction
	firstChild  *Transaction
	nextSibling *Transaction
	terminated  bool
}

// Begin starts a root transaction against engine.
func Begin(engine kv.Engine, log *dblog.Logger) (*Transaction, error) {
	return newTxn(engine, log, nil)
}

// BeginChild starts a transaction nested under parent, linked into the
// head of parent's child list in O(1).
func (t *Transaction) BeginChild() (*Transaction, error) {
	child, err := newTxn(t.engine, t.log, t)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	child.nextSibling = t.firstChild
	t.firstChild = child
	t.mu.Unlock()

	return child, nil
}

func newTxn(engine kv.Engine, log *dblog.Logger, parent *Transaction) (*Transaction, error) {
	var parentKv kv.Txn
	if parent != nil {
		parentKv = parent.kvTxn
	}
	kvTxn, err := engine.Begin(parentKv)
	if err != nil {
		return nil, err
	}

	t := &Transaction{engine: engine, log: log, kvTxn: kvTxn, parent: parent}
	runtime.SetFinalizer(t, finalizeTransaction)
	return t, nil
}

// finalizeTransaction is the best-effort analog of the source's "drop
// without explicit commit/abort must abort automatically and warn" rule.
// Go has no deterministic destructors, so this only fires once the
// garbage collector notices the Transaction is unreachable — callers
// should still commit or abort explicitly (e.g. via defer) rather than
// rely on this as a primary cleanup path.
func finalizeTransaction(t *Transaction) {
	t.mu.Lock()
	done := t.terminated
	t.mu.Unlock()
	if done {
		return
	}
	if t.log != nil {
		t.log.Warningf("transaction %d dropped without commit or abort; auto-aborting", t.kvTxn.ID())
	}
	_ = t.abortLocked()
}

// Commit commits this transaction. Forbidden while any child remains
// uncommitted/unaborted (the child list must be empty); a deadlock during
// commit propagates as dberr.Deadlock and leaves the handle aborted.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if t.terminated {
		t.mu.Unlock()
		return nil
	}
	if t.firstChild != nil {
		t.mu.Unlock()
		return dberr.NewError("cannot commit transaction with open children", nil)
	}
	t.terminated = true
	t.mu.Unlock()

	err := t.kvTxn.Commit()
	t.detachFromParent()
	runtime.SetFinalizer(t, nil)
	if err != nil {
		if dberr.IsDeadlock(err) {
			return err
		}
		return dberr.NewError("commit failed", err)
	}
	return nil
}

// Abort aborts this transaction. Unlike Commit, Abort cascades: any open
// children are aborted first so the operation always succeeds from a
// leaf-or-not starting point, matching boundary scenario 8's "abort child
// then commit parent" sequence while also tolerating an abort called
// directly on a non-leaf node.
func (t *Transaction) Abort() error {
	return t.abortLocked()
}

func (t *Transaction) abortLocked() error {
	t.mu.Lock()
	if t.terminated {
		t.mu.Unlock()
		return nil
	}
	child := t.firstChild
	t.firstChild = nil
	t.terminated = true
	t.mu.Unlock()

	for c := child; c != nil; c = c.nextSibling {
		_ = c.abortLocked()
	}

	err := t.kvTxn.Abort()
	t.detachFromParent()
	runtime.SetFinalizer(t, nil)
	if err != nil {
		return dberr.NewError("abort failed", err)
	}
	return nil
}

func (t *Transaction) detachFromParent() {
	if t.parent == nil {
		return
	}
	p := t.parent
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.firstChild == t {
		p.firstChild = t.nextSibling
		return
	}
	for c := p.firstChild; c != nil; c = c.nextSibling {
		if c.nextSibling == t {
			c.nextSibling = t.nextSibling
			return
		}
	}
}

// KV returns the underlying kv.Txn handle, for use by index/segment/dbiter
// when opening buckets and cursors against this transaction's view.
func (t *Transaction) KV() kv.Txn {
	return t.kvTxn
}

// HasChildren reports whether any child transaction is still open.
func (t *Transaction) HasChildren() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstChild != nil
}
