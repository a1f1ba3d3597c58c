package kv

import (
	"sync"
	"time"
)

// LockType distinguishes shared (read) from exclusive (write) locks.
type LockType int

const (
	SharedLock LockType = iota
	ExclusiveLock
)

// lockRequest is a pending request to acquire a lock on a resource. A
// blocked AcquireLock call waits on Done; the deadlock detector can also
// deliver a result directly into Done when this request's holder is
// chosen as a cycle's victim, instead of letting it run out the clock on
// lockTimeout the way the unmodified wait-queue processing would.
type lockRequest struct {
	txnID     uint64
	resource  string
	lockType  LockType
	requestAt time.Time
	done      chan error
}

// resourceLock tracks current holders and waiters for one resource key.
type resourceLock struct {
	resource  string
	holders   map[uint64]LockType
	waitQueue []*lockRequest
	mutex     sync.RWMutex
}

// DeadlockInfo describes one detected wait-for cycle and the transaction
// chosen to break it.
type DeadlockInfo struct {
	Cycle       []uint64
	VictimTxnID uint64
	DetectedAt  time.Time
}

// waitForGraph is the adjacency list: txn -> txns it is waiting on.
type waitForGraph struct {
	edges map[uint64][]uint64
}
