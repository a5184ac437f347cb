// Package memdir implements the directory contract entirely in memory:
// CRUD, equality queries, atomic batches, and synchronous change
// delivery. It backs the engine's tests and the client's offline mode.
package memdir

import (
	"context"
	"reflect"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/ra397/spyfall/internal/directory"
)

// Store is an in-memory directory.Directory. Change notifications are
// delivered synchronously on the mutating goroutine, after the write is
// visible, in write order per document. Subscription callbacks must not
// mutate the store.
type Store struct {
	clock clockwork.Clock

	// deliverMu serializes mutation+delivery so subscribers never see a
	// document go back in time.
	deliverMu sync.Mutex

	mu         sync.RWMutex
	collection map[string]map[string]directory.Document

	subMu      sync.Mutex
	nextSubID  int
	docSubs    map[int]*docSub
	querySubs  map[int]*querySub
}

type docSub struct {
	collection string
	key        string
	onChange   directory.DocumentHandler
}

type querySub struct {
	collection string
	filter     directory.Filter
	onChange   directory.QueryHandler
}

// New returns an empty store resolving server timestamps from clock.
func New(clock clockwork.Clock) *Store {
	return &Store{
		clock:      clock,
		collection: make(map[string]map[string]directory.Document),
		docSubs:    make(map[int]*docSub),
		querySubs:  make(map[int]*querySub),
	}
}

func (s *Store) Get(ctx context.Context, collection, key string) (directory.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collection[collection][key]
	if !ok {
		return nil, nil
	}
	return cloneDoc(doc), nil
}

func (s *Store) Set(ctx context.Context, collection, key string, fields directory.Document) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.ensure(collection)[key] = s.resolve(fields)
	s.mu.Unlock()

	s.notifyDocument(collection, key)
	return nil
}

func (s *Store) Update(ctx context.Context, collection, key string, fields directory.Document) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	doc, ok := s.collection[collection][key]
	if !ok {
		s.mu.Unlock()
		return directory.ErrNotFound
	}
	merged := cloneDoc(doc)
	for k, v := range s.resolve(fields) {
		merged[k] = v
	}
	s.collection[collection][key] = merged
	s.mu.Unlock()

	s.notifyDocument(collection, key)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	docs, ok := s.collection[collection]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if _, ok := docs[key]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(docs, key)
	s.mu.Unlock()

	s.notifyDocument(collection, key)
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filter directory.Filter) ([]directory.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLocked(collection, filter), nil
}

// CommitBatch applies every op or none. Update targets are checked
// before anything is written, which is the only way a batch can fail.
func (s *Store) CommitBatch(ctx context.Context, ops []directory.WriteOp) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	for _, op := range ops {
		if op.Kind != directory.OpUpdate {
			continue
		}
		if _, ok := s.collection[op.Collection][op.Key]; !ok {
			s.mu.Unlock()
			return directory.ErrNotFound
		}
	}

	touched := make(map[[2]string]struct{}, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case directory.OpSet:
			s.ensure(op.Collection)[op.Key] = s.resolve(op.Fields)
		case directory.OpUpdate:
			doc := cloneDoc(s.collection[op.Collection][op.Key])
			for k, v := range s.resolve(op.Fields) {
				doc[k] = v
			}
			s.collection[op.Collection][op.Key] = doc
		case directory.OpDelete:
			delete(s.collection[op.Collection], op.Key)
		}
		touched[[2]string{op.Collection, op.Key}] = struct{}{}
	}
	s.mu.Unlock()

	// One notification per touched document, after the whole batch is
	// visible; readers never observe a partial batch.
	for ck := range touched {
		s.notifyDocument(ck[0], ck[1])
	}
	return nil
}

func (s *Store) SubscribeDocument(ctx context.Context, collection, key string, onChange directory.DocumentHandler, onError directory.ErrorHandler) (directory.CancelFunc, error) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.docSubs[id] = &docSub{collection: collection, key: key, onChange: onChange}
	s.subMu.Unlock()

	doc, _ := s.Get(ctx, collection, key)
	onChange(doc)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.docSubs, id)
			s.subMu.Unlock()
		})
	}, nil
}

func (s *Store) SubscribeQuery(ctx context.Context, collection string, filter directory.Filter, onChange directory.QueryHandler, onError directory.ErrorHandler) (directory.CancelFunc, error) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.querySubs[id] = &querySub{collection: collection, filter: filter, onChange: onChange}
	s.subMu.Unlock()

	docs, _ := s.Query(ctx, collection, filter)
	onChange(docs)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.querySubs, id)
			s.subMu.Unlock()
		})
	}, nil
}

// notifyDocument pushes the current state of one document to its
// subscribers and re-runs every query subscription on its collection.
// Caller holds deliverMu.
func (s *Store) notifyDocument(collection, key string) {
	s.mu.RLock()
	doc, ok := s.collection[collection][key]
	var cur directory.Document
	if ok {
		cur = cloneDoc(doc)
	}
	s.mu.RUnlock()

	s.subMu.Lock()
	docTargets := make([]directory.DocumentHandler, 0)
	for _, sub := range s.docSubs {
		if sub.collection == collection && sub.key == key {
			docTargets = append(docTargets, sub.onChange)
		}
	}
	queryTargets := make([]*querySub, 0)
	for _, sub := range s.querySubs {
		if sub.collection == collection {
			queryTargets = append(queryTargets, sub)
		}
	}
	s.subMu.Unlock()

	for _, fn := range docTargets {
		if cur == nil {
			fn(nil)
		} else {
			fn(cloneDoc(cur))
		}
	}
	for _, sub := range queryTargets {
		s.mu.RLock()
		docs := s.queryLocked(sub.collection, sub.filter)
		s.mu.RUnlock()
		sub.onChange(docs)
	}
}

func (s *Store) queryLocked(collection string, filter directory.Filter) []directory.Document {
	out := make([]directory.Document, 0)
	for _, doc := range s.collection[collection] {
		if fieldEqual(doc[filter.Field], filter.Value) {
			out = append(out, cloneDoc(doc))
		}
	}
	return out
}

func (s *Store) ensure(collection string) map[string]directory.Document {
	docs, ok := s.collection[collection]
	if !ok {
		docs = make(map[string]directory.Document)
		s.collection[collection] = docs
	}
	return docs
}

// resolve copies fields, replacing the server-timestamp sentinel with
// the store clock's current time.
func (s *Store) resolve(fields directory.Document) directory.Document {
	out := make(directory.Document, len(fields))
	for k, v := range fields {
		if directory.IsServerTimestamp(v) {
			out[k] = s.clock.Now().UTC()
			continue
		}
		out[k] = v
	}
	return out
}

func cloneDoc(doc directory.Document) directory.Document {
	out := make(directory.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func fieldEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}
