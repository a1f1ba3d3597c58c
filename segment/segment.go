// Package segment implements C6: a shard of an Index holding documents and
// per-field postings, with deferred deletion. Grounded directly on
// backend-segment.c's open/delete/close ordering (see
// _examples/original_source/terane/backend-segment.c).
package segment

import (
	"encoding/binary"
	"fmt"
	"sync"

	"ternstore/dberr"
	"ternstore/dbiter"
	"ternstore/dblog"
	"ternstore/docid"
	"ternstore/index"
	"ternstore/kv"
	"ternstore/txn"
)

const (
	subMetadata  = "_metadata"
	subDocuments = "_documents"
	nextDidKey   = "next-did"
	docCountKey  = "doc-count"

	wordKeyPrefix     = "w:"
	wordMetaKeyPrefix = "t:"
)

// fieldHandle is one entry of the segment's field cache: name plus its
// open store handle. Kept as a growable array (mirroring the original's
// array-of-field-DBs) alongside a name->index map for O(1) lookup.
type fieldHandle struct {
	name   string
	bucket kv.Bucket
}

// Segment is the C6 component.
type Segment struct {
	IndexName string
	SID       uint64
	Name      string

	engine kv.Engine
	log    *dblog.Logger

	metaBucket kv.Bucket
	docsBucket kv.Bucket

	mu          sync.Mutex
	fields      []*fieldHandle
	fieldIndex  map[string]int
	openNames   []string
	openCursors int
	removed     bool
	deleted     bool
	closed      bool
}

func subStoreName(segmentName, sub string) string {
	return segmentName + "/" + sub
}

// Open opens Segment sid within idx, failing with a KeyError-equivalent
// dberr.Error if sid is not present in idx's segments registry. It opens
// (create-if-missing) the _metadata and _documents sub-stores inside a
// fresh transaction of its own and commits it; on any failure it aborts
// and releases whatever partial handles it had acquired.
func Open(engine kv.Engine, log *dblog.Logger, idx *index.Index, registryTxn *txn.Transaction, sid uint64) (*Segment, error) {
	exists, err := idx.ContainsSegment(registryTxn, sid)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, dberr.NewError(fmt.Sprintf("segment %d does not exist in index %s", sid, idx.Name), nil)
	}

	name := index.SegmentName(idx.Name, sid)

	t, err := txn.Begin(engine, log)
	if err != nil {
		return nil, err
	}

	metaBucket, err := engine.OpenBucket(t.KV(), subStoreName(name, subMetadata), true)
	if err != nil {
		_ = t.Abort()
		return nil, dberr.NewError("open segment metadata store", err)
	}
	docsBucket, err := engine.OpenBucket(t.KV(), subStoreName(name, subDocuments), true)
	if err != nil {
		_ = t.Abort()
		return nil, dberr.NewError("open segment documents store", err)
	}

	if err := t.Commit(); err != nil {
		return nil, err
	}

	return &Segment{
		IndexName:  idx.Name,
		SID:        sid,
		Name:       name,
		engine:     engine,
		log:        log,
		metaBucket: metaBucket,
		docsBucket: docsBucket,
		fieldIndex: make(map[string]int),
		openNames:  []string{subStoreName(name, subMetadata), subStoreName(name, subDocuments)},
	}, nil
}

// --- segment metadata store (segment-local keys; NewDoc maintains next-did) ---

func (s *Segment) GetMeta(t *txn.Transaction, key string) ([]byte, error) {
	v, err := s.metaBucket.Get(t.KV(), []byte(key))
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, dberr.NewError("meta key not found: "+key, nil)
		}
		return nil, wrap(err)
	}
	return v, nil
}

func (s *Segment) SetMeta(t *txn.Transaction, key string, value []byte) error {
	return wrap(s.metaBucket.Put(t.KV(), []byte(key), value))
}

// --- document space: did -> opaque blob ---

// NewDoc atomically allocates a fresh did from the segment's counter and
// writes blob under it; collisions (which should only arise from counter
// corruption, never ordinary allocation) fail with dberr.DocExists.
func (s *Segment) NewDoc(t *txn.Transaction, blob []byte) (docid.ID, error) {
	id, err := s.allocateDocID(t)
	if err != nil {
		return 0, err
	}
	if _, err := s.docsBucket.Get(t.KV(), id.Bytes()); err == nil {
		return 0, dberr.NewDocExists(fmt.Sprintf("document %s already exists", id))
	} else if !kv.IsNotFound(err) {
		return 0, wrap(err)
	}
	if err := s.docsBucket.Put(t.KV(), id.Bytes(), blob); err != nil {
		return 0, wrap(err)
	}
	return id, nil
}

func (s *Segment) allocateDocID(t *txn.Transaction) (docid.ID, error) {
	var next uint64
	raw, err := s.metaBucket.Get(t.KV(), []byte(nextDidKey))
	switch {
	case err == nil:
		fmt.Sscanf(string(raw), "%d", &next)
	case kv.IsNotFound(err):
		next = 0
	default:
		return 0, wrap(err)
	}
	id := docid.ID(next)
	if err := s.metaBucket.Put(t.KV(), []byte(nextDidKey), []byte(fmt.Sprintf("%d", next+1))); err != nil {
		return 0, wrap(err)
	}
	return id, nil
}

// SetDoc overwrites (or creates) the document at id.
func (s *Segment) SetDoc(t *txn.Transaction, id docid.ID, blob []byte) error {
	return wrap(s.docsBucket.Put(t.KV(), id.Bytes(), blob))
}

func (s *Segment) GetDoc(t *txn.Transaction, id docid.ID) ([]byte, error) {
	v, err := s.docsBucket.Get(t.KV(), id.Bytes())
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, dberr.NewError("document not found: "+id.String(), nil)
		}
		return nil, wrap(err)
	}
	return v, nil
}

func (s *Segment) ContainsDoc(t *txn.Transaction, id docid.ID) (bool, error) {
	_, err := s.docsBucket.Get(t.KV(), id.Bytes())
	if err == nil {
		return true, nil
	}
	if kv.IsNotFound(err) {
		return false, nil
	}
	return false, wrap(err)
}

func (s *Segment) DeleteDoc(t *txn.Transaction, id docid.ID) error {
	return wrap(s.docsBucket.Delete(t.KV(), id.Bytes()))
}

// DocEntry is what IterDocuments decodes each (key, value) pair into.
type DocEntry struct {
	ID   docid.ID
	Blob []byte
}

// IterDocuments visits every document in ascending did order.
func (s *Segment) IterDocuments(t *txn.Transaction) (*dbiter.Iterator, error) {
	cursor, err := s.docsBucket.NewCursor(t.KV())
	if err != nil {
		return nil, wrap(err)
	}
	s.acquireCursor()
	return dbiter.NewAll(&segmentParentRef{s: s}, cursor, dbiter.Ops{
		Next: func(key, value []byte) (interface{}, error) {
			id, err := docid.Parse(string(key))
			if err != nil {
				return nil, err
			}
			return DocEntry{ID: id, Blob: value}, nil
		},
	}), nil
}

// --- per-field posting + word-meta store ---

func (s *Segment) fieldBucket(t *txn.Transaction, field string) (kv.Bucket, error) {
	s.mu.Lock()
	if i, ok := s.fieldIndex[field]; ok {
		b := s.fields[i].bucket
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	name := subStoreName(s.Name, "_field."+field)
	bucket, err := s.engine.OpenBucket(t.KV(), name, true)
	if err != nil {
		return nil, wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.fieldIndex[field]; ok {
		return s.fields[i].bucket, nil
	}
	s.fields = append(s.fields, &fieldHandle{name: field, bucket: bucket})
	s.fieldIndex[field] = len(s.fields) - 1
	s.openNames = append(s.openNames, name)
	return bucket, nil
}

func wordKey(term string, id docid.ID) []byte {
	tb := []byte(term)
	key := make([]byte, len(wordKeyPrefix)+2+len(tb)+docid.StringLen)
	i := copy(key, wordKeyPrefix)
	binary.BigEndian.PutUint16(key[i:], uint16(len(tb)))
	i += 2
	i += copy(key[i:], tb)
	copy(key[i:], id.Bytes())
	return key
}

func wordTermPrefix(term string) []byte {
	tb := []byte(term)
	key := make([]byte, len(wordKeyPrefix)+2+len(tb))
	i := copy(key, wordKeyPrefix)
	binary.BigEndian.PutUint16(key[i:], uint16(len(tb)))
	i += 2
	copy(key[i:], tb)
	return key
}

func decodeWordKey(key []byte) (term string, id docid.ID, err error) {
	rest := key[len(wordKeyPrefix):]
	if len(rest) < 2 {
		return "", 0, fmt.Errorf("segment: malformed word key")
	}
	tlen := int(binary.BigEndian.Uint16(rest))
	if len(rest) < 2+tlen+docid.StringLen {
		return "", 0, fmt.Errorf("segment: malformed word key")
	}
	term = string(rest[2 : 2+tlen])
	id, err = docid.Parse(string(rest[2+tlen : 2+tlen+docid.StringLen]))
	return
}

func wordMetaKey(term string) []byte {
	return append([]byte(wordMetaKeyPrefix), term...)
}

// PutWord writes a (field, term, did) -> positions posting.
func (s *Segment) PutWord(t *txn.Transaction, field, term string, id docid.ID, positions []byte) error {
	b, err := s.fieldBucket(t, field)
	if err != nil {
		return err
	}
	return wrap(b.Put(t.KV(), wordKey(term, id), positions))
}

func (s *Segment) GetWord(t *txn.Transaction, field, term string, id docid.ID) ([]byte, error) {
	b, err := s.fieldBucket(t, field)
	if err != nil {
		return nil, err
	}
	v, err := b.Get(t.KV(), wordKey(term, id))
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, dberr.NewError("word not found", nil)
		}
		return nil, wrap(err)
	}
	return v, nil
}

func (s *Segment) ContainsWord(t *txn.Transaction, field, term string, id docid.ID) (bool, error) {
	b, err := s.fieldBucket(t, field)
	if err != nil {
		return false, err
	}
	_, err = b.Get(t.KV(), wordKey(term, id))
	if err == nil {
		return true, nil
	}
	if kv.IsNotFound(err) {
		return false, nil
	}
	return false, wrap(err)
}

func (s *Segment) DeleteWord(t *txn.Transaction, field, term string, id docid.ID) error {
	b, err := s.fieldBucket(t, field)
	if err != nil {
		return err
	}
	return wrap(b.Delete(t.KV(), wordKey(term, id)))
}

// WordEntry is what IterWords decodes each posting into.
type WordEntry struct {
	ID        docid.ID
	Positions []byte
}

// IterWords visits every (did, positions) posting for one (field, term),
// in ascending did order.
func (s *Segment) IterWords(t *txn.Transaction, field, term string) (*dbiter.Iterator, error) {
	b, err := s.fieldBucket(t, field)
	if err != nil {
		return nil, err
	}
	cursor, err := b.NewCursor(t.KV())
	if err != nil {
		return nil, wrap(err)
	}
	s.acquireCursor()
	return dbiter.NewRange(&segmentParentRef{s: s}, cursor, dbiter.Ops{
		Next: func(key, value []byte) (interface{}, error) {
			_, id, err := decodeWordKey(key)
			if err != nil {
				return nil, err
			}
			return WordEntry{ID: id, Positions: value}, nil
		},
	}, wordTermPrefix(term)), nil
}

// PutWordMeta/GetWordMeta/ContainsWordMeta/DeleteWordMeta implement the
// (field, term) -> stats space.
func (s *Segment) PutWordMeta(t *txn.Transaction, field, term string, stats []byte) error {
	b, err := s.fieldBucket(t, field)
	if err != nil {
		return err
	}
	return wrap(b.Put(t.KV(), wordMetaKey(term), stats))
}

func (s *Segment) GetWordMeta(t *txn.Transaction, field, term string) ([]byte, error) {
	b, err := s.fieldBucket(t, field)
	if err != nil {
		return nil, err
	}
	v, err := b.Get(t.KV(), wordMetaKey(term))
	if err != nil {
		if kv.IsNotFound(err) {
			return nil, dberr.NewError("word meta not found", nil)
		}
		return nil, wrap(err)
	}
	return v, nil
}

func (s *Segment) ContainsWordMeta(t *txn.Transaction, field, term string) (bool, error) {
	b, err := s.fieldBucket(t, field)
	if err != nil {
		return false, err
	}
	_, err = b.Get(t.KV(), wordMetaKey(term))
	if err == nil {
		return true, nil
	}
	if kv.IsNotFound(err) {
		return false, nil
	}
	return false, wrap(err)
}

func (s *Segment) DeleteWordMeta(t *txn.Transaction, field, term string) error {
	b, err := s.fieldBucket(t, field)
	if err != nil {
		return err
	}
	return wrap(b.Delete(t.KV(), wordMetaKey(term)))
}

// Delete marks the segment for physical removal at Close; it never
// touches storage itself.
func (s *Segment) Delete() {
	s.mu.Lock()
	s.deleted = true
	s.mu.Unlock()
}

// Close closes metadata, documents, and every open field handle, frees the
// field array, and — if Delete was called — removes every sub-store the
// segment ever opened. Idempotent; close errors are reported but do not
// prevent the remaining close steps from running.
//
// Physical removal is deferred further still if any iterator obtained from
// IterDocuments/IterWords remains open: per backend-segment.c, a segment's
// on-disk stores may not be dropped out from under a live cursor, so the
// last cursor to release (see releaseCursor) performs the removal instead.
func (s *Segment) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	deleted := s.deleted
	openCursors := s.openCursors
	names := append([]string(nil), s.openNames...)
	s.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(s.metaBucket.Close())
	record(s.docsBucket.Close())

	s.mu.Lock()
	for _, fh := range s.fields {
		record(fh.bucket.Close())
	}
	s.fields = nil
	s.fieldIndex = make(map[string]int)
	s.mu.Unlock()

	if deleted && openCursors == 0 {
		s.mu.Lock()
		already := s.removed
		s.removed = true
		s.mu.Unlock()
		if !already {
			for _, name := range names {
				record(wrap(s.engine.RemoveBucket(nil, name)))
			}
		}
	}

	return firstErr
}

// acquireCursor pins the segment alive on behalf of a newly created
// iterator: physical removal in Close is deferred until every such pin has
// been released via releaseCursor.
func (s *Segment) acquireCursor() {
	s.mu.Lock()
	s.openCursors++
	s.mu.Unlock()
}

// releaseCursor un-pins the segment. If Close and Delete have both already
// run and this was the last open cursor, it performs the physical removal
// Close deferred.
func (s *Segment) releaseCursor() {
	s.mu.Lock()
	s.openCursors--
	ready := s.closed && s.deleted && s.openCursors == 0 && !s.removed
	if ready {
		s.removed = true
	}
	names := append([]string(nil), s.openNames...)
	s.mu.Unlock()

	if ready {
		for _, name := range names {
			_ = wrap(s.engine.RemoveBucket(nil, name))
		}
	}
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if dberr.IsDeadlock(err) || dberr.IsLockTimeout(err) || dberr.IsDocExists(err) {
		return err
	}
	return dberr.NewError("store operation failed", err)
}

// segmentParentRef is the ParentRef an iterator over a Segment's store
// holds: a real shared-ownership handle (spec.md §9), ref-counted via
// acquireCursor/releaseCursor rather than a raw back-pointer.
type segmentParentRef struct {
	s *Segment
}

func (p *segmentParentRef) Release() {
	p.s.releaseCursor()
}
