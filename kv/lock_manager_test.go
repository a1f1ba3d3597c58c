package kv

import (
	"testing"
	"time"

	"ternstore/dberr"
)

func TestSharedLocksCoexist(t *testing.T) {
	lm := newLockManager(200 * time.Millisecond)
	defer lm.close()

	if err := lm.acquireLock(1, "r", SharedLock); err != nil {
		t.Fatal(err)
	}
	if err := lm.acquireLock(2, "r", SharedLock); err != nil {
		t.Fatal(err)
	}
}

func TestExclusiveExcludesShared(t *testing.T) {
	lm := newLockManager(80 * time.Millisecond)
	defer lm.close()

	if err := lm.acquireLock(1, "r", ExclusiveLock); err != nil {
		t.Fatal(err)
	}
	err := lm.acquireLock(2, "r", SharedLock)
	if !dberr.IsLockTimeout(err) {
		t.Fatalf("expected LockTimeout, got %v", err)
	}
}

func TestReleaseUnblocksWaiter(t *testing.T) {
	lm := newLockManager(2 * time.Second)
	defer lm.close()

	if err := lm.acquireLock(1, "r", ExclusiveLock); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- lm.acquireLock(2, "r", ExclusiveLock)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := lm.releaseLock(1, "r"); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never unblocked")
	}
}

func TestDeadlockVictimReceivesDeadlockNotTimeout(t *testing.T) {
	lm := newLockManager(5 * time.Second)
	lm.startDetector(15 * time.Millisecond)
	defer lm.close()

	// txn 1 holds A, txn 2 holds B; each then waits on the other's
	// resource, forming a two-node wait-for cycle. The detector must pick
	// the higher id (2) as victim and deliver Deadlock to its blocked call.
	if err := lm.acquireLock(1, "A", ExclusiveLock); err != nil {
		t.Fatal(err)
	}
	if err := lm.acquireLock(2, "B", ExclusiveLock); err != nil {
		t.Fatal(err)
	}

	errCh1 := make(chan error, 1)
	go func() { errCh1 <- lm.acquireLock(1, "B", ExclusiveLock) }()
	time.Sleep(10 * time.Millisecond)

	errCh2 := make(chan error, 1)
	go func() { errCh2 <- lm.acquireLock(2, "A", ExclusiveLock) }()

	select {
	case err := <-errCh2:
		if !dberr.IsDeadlock(err) {
			t.Fatalf("expected victim (txn 2) to receive Deadlock, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("deadlock was never detected")
	}

	select {
	case err := <-errCh1:
		if err != nil {
			t.Fatalf("txn 1 should have been granted A->B after victim released, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("txn 1 never unblocked after victim's locks released")
	}
}
