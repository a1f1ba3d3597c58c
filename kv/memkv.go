package kv

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ternstore/dberr"
)

// Options configures a memEngine; mirrors the handful of knobs
// dbconfig.Config threads down into the engine.
type Options struct {
	LockTimeout       time.Duration
	DetectionInterval time.Duration
}

// memEngine is the concrete, in-process implementation of Engine. Data is
// held entirely in memory, ordered by byte-lexicographic key within each
// bucket, with two-phase locking and wait-for-graph deadlock detection
// providing the transactional semantics the rest of the core assumes.
type memEngine struct {
	mu        sync.RWMutex
	buckets   map[string]*memBucket
	lm        *lockManager
	nextTxnID uint64
	closed    bool
}

// NewEngine constructs a memEngine and starts its background deadlock
// detector, grounded on the teacher's DeadlockDetector.Start idiom.
func NewEngine(opts Options) *memEngine {
	e := &memEngine{
		buckets: make(map[string]*memBucket),
		lm:      newLockManager(opts.LockTimeout),
	}
	e.lm.startDetector(opts.DetectionInterval)
	return e
}

func (e *memEngine) Begin(parent Txn) (Txn, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, dberr.NewError("engine is closed", nil)
	}

	var p *memTxn
	if parent != nil {
		pt, ok := parent.(*memTxn)
		if !ok {
			return nil, dberr.NewError("foreign transaction handle", nil)
		}
		p = pt
	}

	id := atomic.AddUint64(&e.nextTxnID, 1)
	return &memTxn{
		id:      id,
		engine:  e,
		parent:  p,
		overlay: make(map[string]map[string]*entry),
	}, nil
}

func (e *memEngine) OpenBucket(txn Txn, name string, createIfMissing bool) (Bucket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.buckets[name]; ok {
		return b, nil
	}
	if !createIfMissing {
		return nil, dberr.NewError("bucket does not exist: "+name, nil)
	}
	b := &memBucket{name: name, engine: e, data: make(map[string][]byte)}
	e.buckets[name] = b
	return b, nil
}

func (e *memEngine) RemoveBucket(txn Txn, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.buckets, name)
	return nil
}

func (e *memEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.lm.close()
}

// entry is one overlay slot: either a pending write or a pending delete
// tombstone, keyed within a transaction's per-bucket overlay map.
type entry struct {
	deleted bool
	value   []byte
}

// memTxn is a node in the engine-level transaction chain. Nesting here is
// purely a chain of overlays; the parent/child *tree* invariants (no
// commit with live children, detach-on-terminate) are enforced one layer
// up, in package txn.
type memTxn struct {
	id      uint64
	engine  *memEngine
	parent  *memTxn
	mu      sync.Mutex
	overlay map[string]map[string]*entry
	done    bool
}

func (t *memTxn) ID() uint64 { return t.id }

func (t *memTxn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true

	if t.parent != nil {
		t.parent.mu.Lock()
		for bucket, kvs := range t.overlay {
			dst := t.parent.overlay[bucket]
			if dst == nil {
				dst = make(map[string]*entry)
				t.parent.overlay[bucket] = dst
			}
			for k, v := range kvs {
				dst[k] = v
			}
		}
		t.parent.mu.Unlock()
		t.engine.lm.mu.Lock()
		resources := append([]string(nil), t.engine.lm.txnLocks[t.id]...)
		t.engine.lm.mu.Unlock()
		for _, resource := range resources {
			t.engine.lm.transferLock(t.id, t.parent.id, resource)
		}
		return nil
	}

	// Root commit: apply the accumulated overlay to each bucket's committed
	// data, then release every lock this transaction chain holds.
	for bucketName, kvs := range t.overlay {
		t.engine.mu.RLock()
		b := t.engine.buckets[bucketName]
		t.engine.mu.RUnlock()
		if b == nil {
			continue
		}
		b.applyOverlay(kvs)
	}
	return t.engine.lm.releaseAllLocks(t.id)
}

func (t *memTxn) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.overlay = nil
	return t.engine.lm.releaseAllLocks(t.id)
}

// lockResource returns the lock-manager resource key for a key in a bucket.
func lockResource(bucket string, key []byte) string {
	return bucket + "\x00" + string(key)
}

func (t *memTxn) lock(bucket string, key []byte, lt LockType) error {
	return t.engine.lm.acquireLock(t.id, lockResource(bucket, key), lt)
}

func (t *memTxn) put(bucket string, key, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.overlay[bucket]
	if m == nil {
		m = make(map[string]*entry)
		t.overlay[bucket] = m
	}
	m[string(key)] = &entry{value: append([]byte(nil), value...)}
}

func (t *memTxn) delete(bucket string, key []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.overlay[bucket]
	if m == nil {
		m = make(map[string]*entry)
		t.overlay[bucket] = m
	}
	m[string(key)] = &entry{deleted: true}
}

// lookup walks this transaction's overlay chain (closest ancestor first).
// found is false with a nil error when no overlay in the chain touches
// key, and the caller then reads the bucket's committed data; a delete
// tombstone yields ErrNotFound, hiding any committed value.
func (t *memTxn) lookup(bucket string, key []byte) ([]byte, bool, error) {
	for cur := t; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		m := cur.overlay[bucket]
		var e *entry
		if m != nil {
			e = m[string(key)]
		}
		cur.mu.Unlock()
		if e != nil {
			if e.deleted {
				return nil, false, ErrNotFound
			}
			return e.value, true, nil
		}
	}
	return nil, false, nil
}

// chain returns this transaction and every ancestor, root-most first, for
// building a cursor snapshot in application order.
func (t *memTxn) chain() []*memTxn {
	var rev []*memTxn
	for cur := t; cur != nil; cur = cur.parent {
		rev = append(rev, cur)
	}
	chain := make([]*memTxn, len(rev))
	for i, c := range rev {
		chain[len(rev)-1-i] = c
	}
	return chain
}

// memBucket holds one ordered byte-key -> byte-value namespace.
type memBucket struct {
	name   string
	engine *memEngine
	mu     sync.RWMutex
	data   map[string][]byte
	keys   []string // kept sorted
}

func (b *memBucket) applyOverlay(kvs map[string]*entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, e := range kvs {
		if e.deleted {
			if _, ok := b.data[k]; ok {
				delete(b.data, k)
				b.removeKeyLocked(k)
			}
			continue
		}
		if _, exists := b.data[k]; !exists {
			b.insertKeyLocked(k)
		}
		b.data[k] = e.value
	}
}

func (b *memBucket) insertKeyLocked(k string) {
	i := sort.SearchStrings(b.keys, k)
	b.keys = append(b.keys, "")
	copy(b.keys[i+1:], b.keys[i:])
	b.keys[i] = k
}

func (b *memBucket) removeKeyLocked(k string) {
	i := sort.SearchStrings(b.keys, k)
	if i < len(b.keys) && b.keys[i] == k {
		b.keys = append(b.keys[:i], b.keys[i+1:]...)
	}
}

func (b *memBucket) Get(txn Txn, key []byte) ([]byte, error) {
	mt, err := asMemTxn(txn, b.engine)
	if err != nil {
		return nil, err
	}
	if err := mt.lock(b.name, key, SharedLock); err != nil {
		return nil, err
	}
	v, ok, err := mt.lookup(b.name, key)
	if ok {
		return v, nil
	}
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.data[string(key)]; ok {
		return append([]byte(nil), v...), nil
	}
	return nil, ErrNotFound
}

func (b *memBucket) Put(txn Txn, key, value []byte) error {
	mt, err := asMemTxn(txn, b.engine)
	if err != nil {
		return err
	}
	if err := mt.lock(b.name, key, ExclusiveLock); err != nil {
		return err
	}
	mt.put(b.name, key, value)
	return nil
}

func (b *memBucket) Delete(txn Txn, key []byte) error {
	mt, err := asMemTxn(txn, b.engine)
	if err != nil {
		return err
	}
	if err := mt.lock(b.name, key, ExclusiveLock); err != nil {
		return err
	}
	mt.delete(b.name, key)
	return nil
}

func (b *memBucket) NewCursor(txn Txn) (Cursor, error) {
	mt, err := asMemTxn(txn, b.engine)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	merged := make(map[string][]byte, len(b.data))
	for k, v := range b.data {
		merged[k] = v
	}
	b.mu.RUnlock()

	deleted := make(map[string]bool)
	for _, node := range mt.chain() {
		node.mu.Lock()
		for k, e := range node.overlay[b.name] {
			if e.deleted {
				merged[k] = nil
				deleted[k] = true
			} else {
				merged[k] = e.value
				delete(deleted, k)
			}
		}
		node.mu.Unlock()
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		if !deleted[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	return &memCursor{keys: keys, values: merged}, nil
}

func (b *memBucket) Close() error { return nil }

func asMemTxn(txn Txn, e *memEngine) (*memTxn, error) {
	mt, ok := txn.(*memTxn)
	if !ok || mt.engine != e {
		return nil, dberr.NewError("foreign transaction handle", nil)
	}
	return mt, nil
}

// memCursor is a read-only, forward-only snapshot cursor over a pre-sorted
// key slice, implementing DB_FIRST/DB_NEXT/DB_SET_RANGE equivalents.
type memCursor struct {
	keys   []string
	values map[string][]byte
	pos    int // index of the next key Next() will return
	closed bool
}

func (c *memCursor) First() ([]byte, []byte, error) {
	c.pos = 0
	return c.at(0)
}

func (c *memCursor) Next() ([]byte, []byte, error) {
	return c.at(c.pos)
}

func (c *memCursor) SeekRange(target []byte) ([]byte, []byte, error) {
	i := sort.SearchStrings(c.keys, string(target))
	c.pos = i
	return c.at(i)
}

func (c *memCursor) at(i int) ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, dberr.NewError("cursor closed", nil)
	}
	if i >= len(c.keys) {
		c.pos = i
		return nil, nil, ErrNotFound
	}
	k := c.keys[i]
	c.pos = i + 1
	return []byte(k), append([]byte(nil), c.values[k]...), nil
}

func (c *memCursor) Close() error {
	c.closed = true
	c.keys = nil
	c.values = nil
	return nil
}
