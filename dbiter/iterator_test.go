package dbiter

import (
	"io"
	"testing"
	"time"

	"ternstore/kv"
)

type fakeParent struct{ released bool }

func (p *fakeParent) Release() { p.released = true }

func setupBucket(t *testing.T, keys []string) (kv.Engine, kv.Bucket, kv.Txn) {
	t.Helper()
	e := kv.NewEngine(kv.Options{LockTimeout: 200 * time.Millisecond, DetectionInterval: 50 * time.Millisecond})
	t.Cleanup(func() { _ = e.Close() })

	txn, err := e.Begin(nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.OpenBucket(txn, "b", true)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if err := b.Put(txn, []byte(k), []byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	readTxn, err := e.Begin(nil)
	if err != nil {
		t.Fatal(err)
	}
	return e, b, readTxn
}

func stringOps() Ops {
	return Ops{
		Next: func(key, value []byte) (interface{}, error) { return string(key), nil },
	}
}

func TestAllModeVisitsEveryKeyInOrder(t *testing.T) {
	_, b, txn := setupBucket(t, []string{"c", "a", "b"})
	cur, err := b.NewCursor(txn)
	if err != nil {
		t.Fatal(err)
	}
	parent := &fakeParent{}
	it := NewAll(parent, cur, stringOps())

	var got []string
	for {
		v, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v.(string))
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if !parent.released {
		t.Error("parent should be released once the iterator is exhausted")
	}
}

func TestRangeModeStopsAtPrefixBoundary(t *testing.T) {
	// Scenario: RANGE with prefix "abc" over {ab, abc, abcd, abd}.
	_, b, txn := setupBucket(t, []string{"ab", "abc", "abcd", "abd"})
	cur, err := b.NewCursor(txn)
	if err != nil {
		t.Fatal(err)
	}
	it := NewRange(&fakeParent{}, cur, stringOps(), []byte("abc"))

	var got []string
	for {
		v, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v.(string))
	}
	want := []string{"abc", "abcd"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestWithinModeBoundaryShorterIsLess(t *testing.T) {
	// Scenario: WITHIN with start='b', end='d' over an extension of the end
	// key ("dd") must terminate before visiting it: the shared prefix "d"
	// ties, and "dd" is longer than "d", so it is treated as greater.
	_, b, txn := setupBucket(t, []string{"b", "c", "d", "dd", "e"})
	cur, err := b.NewCursor(txn)
	if err != nil {
		t.Fatal(err)
	}
	it := NewWithin(&fakeParent{}, cur, stringOps(), []byte("b"), []byte("d"))

	var got []string
	for {
		v, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v.(string))
	}
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFromModeHasNoUpperBound(t *testing.T) {
	_, b, txn := setupBucket(t, []string{"a", "b", "c", "d"})
	cur, err := b.NewCursor(txn)
	if err != nil {
		t.Fatal(err)
	}
	it := NewFrom(&fakeParent{}, cur, stringOps(), []byte("b"))

	var got []string
	for {
		v, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v.(string))
	}
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSkipOutOfRangeWhenTargetIsPastTheLastKey(t *testing.T) {
	// ALL has no prefix predicate, so only cursor exhaustion (DB_NOTFOUND)
	// can yield OUT_OF_RANGE: seeking past every key in the store.
	_, b, txn := setupBucket(t, []string{"a", "b", "z"})
	cur, err := b.NewCursor(txn)
	if err != nil {
		t.Fatal(err)
	}
	ops := Ops{
		Next: func(key, value []byte) (interface{}, error) { return string(key), nil },
		Skip: func(target interface{}) ([]byte, error) { return []byte(target.(string)), nil },
	}
	it := NewAll(&fakeParent{}, cur, ops)

	if _, err := it.Skip("zz"); err != ErrOutOfRange {
		t.Fatalf("Skip(zz) over {a,b,z} should report ErrOutOfRange, got %v", err)
	}
}

func TestSkipOutOfRangeWhenLandingKeyOutsideIteratorsOwnRange(t *testing.T) {
	// Boundary scenario 5: a RANGE iterator over prefix "p" must reject a
	// landing key outside "p" even though that key matches the *skip
	// target's* own prefix. "q9" exists in the store and would satisfy a
	// prefix test against the skip target "q", but it is not within this
	// iterator's range, so Skip must report ErrOutOfRange rather than
	// returning "q9".
	_, b, txn := setupBucket(t, []string{"p1", "p2", "q9"})
	cur, err := b.NewCursor(txn)
	if err != nil {
		t.Fatal(err)
	}
	ops := Ops{
		Next: func(key, value []byte) (interface{}, error) { return string(key), nil },
		Skip: func(target interface{}) ([]byte, error) { return []byte(target.(string)), nil },
	}
	it := NewRange(&fakeParent{}, cur, ops, []byte("p"))

	if _, err := it.Skip("q"); err != ErrOutOfRange {
		t.Fatalf("Skip(q) over {p1,p2,q9} under range prefix %q should report ErrOutOfRange, got %v", "p", err)
	}
}

func TestSkipLandsWithinRangeWhenTargetIsInRange(t *testing.T) {
	_, b, txn := setupBucket(t, []string{"p1", "p2", "p5", "q9"})
	cur, err := b.NewCursor(txn)
	if err != nil {
		t.Fatal(err)
	}
	ops := Ops{
		Next: func(key, value []byte) (interface{}, error) { return string(key), nil },
		Skip: func(target interface{}) ([]byte, error) { return []byte(target.(string)), nil },
	}
	it := NewRange(&fakeParent{}, cur, ops, []byte("p"))

	got, err := it.Skip("p3")
	if err != nil {
		t.Fatalf("Skip(p3) over {p1,p2,p5,q9} should land on p5, got error %v", err)
	}
	if got.(string) != "p5" {
		t.Fatalf("Skip(p3) = %v, want p5", got)
	}
}

func TestCloseIsIdempotentAndReleasesParent(t *testing.T) {
	_, b, txn := setupBucket(t, []string{"a"})
	cur, err := b.NewCursor(txn)
	if err != nil {
		t.Fatal(err)
	}
	parent := &fakeParent{}
	it := NewAll(parent, cur, stringOps())

	if err := it.Close(); err != nil {
		t.Fatal(err)
	}
	if !parent.released {
		t.Error("Close should release the parent reference")
	}
	if err := it.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
	if _, err := it.Next(); err != ErrIteratorClosed {
		t.Fatalf("Next after Close should report ErrIteratorClosed, got %v", err)
	}
}

func TestResetRestartsTraversalFromBeginning(t *testing.T) {
	_, b, txn := setupBucket(t, []string{"a", "b"})
	cur, err := b.NewCursor(txn)
	if err != nil {
		t.Fatal(err)
	}
	it := NewAll(&fakeParent{}, cur, stringOps())

	first, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if first.(string) != "a" {
		t.Fatalf("first = %v, want a", first)
	}

	it.Reset()
	again, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if again.(string) != "a" {
		t.Fatalf("after Reset, first = %v, want a", again)
	}
}
