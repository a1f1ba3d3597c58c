// Package index implements C5: a named collection backed by one
// underlying store bucket, subdivided by key prefix into the metadata
// store, the schema (field) store, and the segments registry, per
// spec.md's "Holds three logical stores keyed in the shared KV space
// under the Index's name."
package index

import (
	"fmt"
	"strings"
	"sync"

	"ternstore/dberr"
	"ternstore/dbiter"
	"ternstore/dblog"
	"ternstore/kv"
	"ternstore/txn"
)

const (
	metaPrefix    = "m:"
	fieldPrefix   = "f:"
	segmentPrefix = "s:"
	nextSidKey    = "m:__next_sid__"
)

// Index is the C5 component.
type Index struct {
	Name   string
	engine kv.Engine
	log    *dblog.Logger
	bucket kv.Bucket

	mu            sync.Mutex
	nfields       int
	nextSegmentID uint64
	openCursors   int
	closed        bool
	bucketClosed  bool
}

// Open opens (creating if necessary) the Index named name within txn's
// view, loading its cached field count and next-segment-id counter.
func Open(engine kv.Engine, t *txn.Transaction, name string, log *dblog.Logger) (*Index, error) {
	bucket, err := engine.OpenBucket(t.KV(), name, true)
	if err != nil {
		return nil, dberr.NewError("open index bucket", err)
	}
	idx := &Index{Name: name, engine: engine, log: log, bucket: bucket}
	if err := idx.loadCounters(t); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) loadCounters(t *txn.Transaction) error {
	n := 0
	fields, err := idx.listFieldsRaw(t)
	if err != nil {
		return err
	}
	n = len(fields)

	idx.mu.Lock()
	idx.nfields = n
	idx.mu.Unlock()

	if raw, err := idx.bucket.Get(t.KV(), []byte(nextSidKey)); err == nil {
		var v uint64
		fmt.Sscanf(string(raw), "%d", &v)
		idx.nextSegmentID = v
	}
	return nil
}

// GetMeta/SetMeta implement the index metadata store.
func (idx *Index) GetMeta(t *txn.Transaction, key string) ([]byte, error) {
	v, err := idx.bucket.Get(t.KV(), []byte(metaPrefix+key))
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, dberr.NewError("meta key not found: "+key, nil)
		}
		return nil, translateStoreErr(err)
	}
	return v, nil
}

func (idx *Index) SetMeta(t *txn.Transaction, key string, value []byte) error {
	if err := idx.bucket.Put(t.KV(), []byte(metaPrefix+key), value); err != nil {
		return translateStoreErr(err)
	}
	return nil
}

// AddField registers a field; descriptor is an opaque caller-defined blob.
func (idx *Index) AddField(t *txn.Transaction, name string, descriptor []byte) error {
	key := []byte(fieldPrefix + name)
	_, err := idx.bucket.Get(t.KV(), key)
	isNew := err != nil && kv.IsNotFound(err)

	if err := idx.bucket.Put(t.KV(), key, descriptor); err != nil {
		return translateStoreErr(err)
	}
	if isNew {
		idx.mu.Lock()
		idx.nfields++
		idx.mu.Unlock()
	}
	return nil
}

// RemoveField deregisters a field.
func (idx *Index) RemoveField(t *txn.Transaction, name string) error {
	key := []byte(fieldPrefix + name)
	_, err := idx.bucket.Get(t.KV(), key)
	existed := err == nil

	if err := idx.bucket.Delete(t.KV(), key); err != nil {
		return translateStoreErr(err)
	}
	if existed {
		idx.mu.Lock()
		if idx.nfields > 0 {
			idx.nfields--
		}
		idx.mu.Unlock()
	}
	return nil
}

// ContainsField reports whether name is currently registered.
func (idx *Index) ContainsField(t *txn.Transaction, name string) (bool, error) {
	_, err := idx.bucket.Get(t.KV(), []byte(fieldPrefix+name))
	if err == nil {
		return true, nil
	}
	if kv.IsNotFound(err) {
		return false, nil
	}
	return false, translateStoreErr(err)
}

// ListFields returns every registered field name, built via the iterator
// engine over the schema key prefix.
func (idx *Index) ListFields(t *txn.Transaction) ([]string, error) {
	return idx.listFieldsRaw(t)
}

func (idx *Index) listFieldsRaw(t *txn.Transaction) ([]string, error) {
	cursor, err := idx.bucket.NewCursor(t.KV())
	if err != nil {
		return nil, translateStoreErr(err)
	}
	idx.acquireCursor()
	it := dbiter.NewRange(&indexParentRef{idx: idx}, cursor, dbiter.Ops{
		Next: func(key, value []byte) (interface{}, error) {
			return strings.TrimPrefix(string(key), fieldPrefix), nil
		},
	}, []byte(fieldPrefix))
	defer it.Close()

	var names []string
	for {
		v, err := it.Next()
		if err != nil {
			break
		}
		names = append(names, v.(string))
	}
	return names, nil
}

// CountFields returns the cached field count, invalidated on add/remove.
func (idx *Index) CountFields() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.nfields
}

// NewSegment allocates a fresh monotonic segment id and records it in the
// segments registry; the caller is responsible for actually opening the
// Segment's sub-stores (segment.Open).
func (idx *Index) NewSegment(t *txn.Transaction) (uint64, error) {
	idx.mu.Lock()
	idx.nextSegmentID++
	sid := idx.nextSegmentID
	idx.mu.Unlock()

	if err := idx.bucket.Put(t.KV(), []byte(nextSidKey), []byte(fmt.Sprintf("%d", sid))); err != nil {
		return 0, translateStoreErr(err)
	}
	if err := idx.bucket.Put(t.KV(), sidKey(sid), []byte(segmentName(idx.Name, sid))); err != nil {
		return 0, translateStoreErr(err)
	}
	return sid, nil
}

// IterSegments returns an iterator over registered segment ids in
// ascending order.
func (idx *Index) IterSegments(t *txn.Transaction) (*dbiter.Iterator, error) {
	cursor, err := idx.bucket.NewCursor(t.KV())
	if err != nil {
		return nil, translateStoreErr(err)
	}
	idx.acquireCursor()
	return dbiter.NewRange(&indexParentRef{idx: idx}, cursor, dbiter.Ops{
		Next: func(key, value []byte) (interface{}, error) {
			var sid uint64
			fmt.Sscanf(strings.TrimPrefix(string(key), segmentPrefix), "%d", &sid)
			return sid, nil
		},
	}, []byte(segmentPrefix)), nil
}

// DeleteSegment removes sid from the registry; the actual segment file
// removal is the Segment's responsibility once it has closed.
func (idx *Index) DeleteSegment(t *txn.Transaction, sid uint64) error {
	if err := idx.bucket.Delete(t.KV(), sidKey(sid)); err != nil {
		return translateStoreErr(err)
	}
	return nil
}

// ContainsSegment reports whether sid is currently registered.
func (idx *Index) ContainsSegment(t *txn.Transaction, sid uint64) (bool, error) {
	_, err := idx.bucket.Get(t.KV(), sidKey(sid))
	if err == nil {
		return true, nil
	}
	if kv.IsNotFound(err) {
		return false, nil
	}
	return false, translateStoreErr(err)
}

// NewTxn produces a root transaction rooted at the same engine this Index
// was opened against.
func (idx *Index) NewTxn() (*txn.Transaction, error) {
	return txn.Begin(idx.engine, idx.log)
}

// Close releases the Index's bucket handle, unless a ListFields/IterSegments
// iterator is still open on it — in which case the last such iterator's
// Release (see releaseCursor) performs the actual close instead, the same
// deferred-close discipline Segment applies to its own sub-stores.
func (idx *Index) Close() error {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return nil
	}
	idx.closed = true
	openCursors := idx.openCursors
	if openCursors == 0 {
		idx.bucketClosed = true
	}
	idx.mu.Unlock()

	if openCursors > 0 {
		return nil
	}
	return idx.bucket.Close()
}

// acquireCursor pins the index alive on behalf of a newly created iterator.
func (idx *Index) acquireCursor() {
	idx.mu.Lock()
	idx.openCursors++
	idx.mu.Unlock()
}

// releaseCursor un-pins the index. If Close already ran and this was the
// last open cursor, it performs the bucket close Close deferred.
func (idx *Index) releaseCursor() {
	idx.mu.Lock()
	idx.openCursors--
	ready := idx.closed && idx.openCursors == 0 && !idx.bucketClosed
	if ready {
		idx.bucketClosed = true
	}
	idx.mu.Unlock()

	if ready {
		_ = idx.bucket.Close()
	}
}

func sidKey(sid uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", segmentPrefix, sid))
}

func segmentName(indexName string, sid uint64) string {
	return fmt.Sprintf("%s.%d", indexName, sid)
}

// SegmentName exposes the "{index_name}.{sid}" naming rule for callers
// opening a Segment.
func SegmentName(indexName string, sid uint64) string {
	return segmentName(indexName, sid)
}

func translateStoreErr(err error) error {
	if dberr.IsDeadlock(err) || dberr.IsLockTimeout(err) {
		return err
	}
	return dberr.NewError("store operation failed", err)
}

// indexParentRef is the ParentRef a ListFields/IterSegments iterator holds:
// a real shared-ownership handle (spec.md §9), ref-counted via
// acquireCursor/releaseCursor rather than a raw back-pointer.
type indexParentRef struct {
	idx *Index
}

func (p *indexParentRef) Release() {
	p.idx.releaseCursor()
}
