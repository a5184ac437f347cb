// Package directory defines the remote session directory contract: a
// document store with per-document CRUD, single-field queries, atomic
// multi-document batches, and push subscriptions. The storage engine
// behind it is interchangeable; see memdir and pgdir.
package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Update when the target document is absent.
var ErrNotFound = errors.New("document not found")

// Document is one stored document's fields. Values survive a JSON
// round-trip, so readers should use the typed accessors rather than
// assert concrete types.
type Document map[string]any

// Filter selects documents whose field equals value. Equality on a
// single field is the only query shape the contract offers.
type Filter struct {
	Field string
	Value any
}

// serverTimestamp is the sentinel resolved to the store's own clock at
// commit time, so clients never write their local wall time.
type serverTimestamp struct{}

// ServerTimestamp marks a field to be assigned the server-side time of
// the write.
var ServerTimestamp = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// DocumentHandler receives the new state of a subscribed document.
// A nil document means the document was deleted or does not exist.
type DocumentHandler func(doc Document)

// QueryHandler receives the full result set of a subscribed query after
// every change to it.
type QueryHandler func(docs []Document)

// ErrorHandler receives subscription delivery failures. The
// subscription stays in place; re-subscribing is the caller's call.
type ErrorHandler func(err error)

// CancelFunc tears down a subscription. Safe to call more than once.
type CancelFunc func()

// Directory is the remote document store consumed by the engine.
//
// Notification ordering is per document only: each subscriber sees a
// monotonically consistent sequence of one document's states, but
// changes to different documents may be observed in either order.
type Directory interface {
	// Get returns the document, or (nil, nil) if it does not exist.
	Get(ctx context.Context, collection, key string) (Document, error)

	// Set creates or fully overwrites the document with fields.
	Set(ctx context.Context, collection, key string, fields Document) error

	// Update merges fields into an existing document. Returns
	// ErrNotFound if the document is absent.
	Update(ctx context.Context, collection, key string, fields Document) error

	// Delete removes the document. Deleting an absent document is not
	// an error.
	Delete(ctx context.Context, collection, key string) error

	// Query returns all documents in the collection matching filter.
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)

	// SubscribeDocument invokes onChange with the document's current
	// state and again on every remote change until cancelled.
	SubscribeDocument(ctx context.Context, collection, key string, onChange DocumentHandler, onError ErrorHandler) (CancelFunc, error)

	// SubscribeQuery invokes onChange with the current result set and
	// again whenever any matching (or previously matching) document
	// changes, until cancelled.
	SubscribeQuery(ctx context.Context, collection string, filter Filter, onChange QueryHandler, onError ErrorHandler) (CancelFunc, error)

	// CommitBatch applies all ops atomically: a concurrent reader
	// observes either none or all of them, never a strict subset.
	CommitBatch(ctx context.Context, ops []WriteOp) error
}
