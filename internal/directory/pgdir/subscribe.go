package pgdir

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ra397/spyfall/internal/directory"
)

type docSub struct {
	collection string
	key        string
	onChange   directory.DocumentHandler
	onError    directory.ErrorHandler

	mu   sync.Mutex
	last []byte // raw fields of the last delivered state; nil = absent
	sent bool
}

type querySub struct {
	collection string
	filter     directory.Filter
	onChange   directory.QueryHandler
	onError    directory.ErrorHandler

	mu   sync.Mutex
	last []byte
	sent bool
}

func (s *Store) SubscribeDocument(ctx context.Context, collection, key string, onChange directory.DocumentHandler, onError directory.ErrorHandler) (directory.CancelFunc, error) {
	sub := &docSub{collection: collection, key: key, onChange: onChange, onError: onError}

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.docSubs[id] = sub
	s.subMu.Unlock()

	s.refreshDoc(ctx, sub)

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
	sub := &querySub{collection: collection, filter: filter, onChange: onChange, onError: onError}

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.querySubs[id] = sub
	s.subMu.Unlock()

	s.refreshQuery(ctx, sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.querySubs, id)
			s.subMu.Unlock()
		})
	}, nil
}

// Run pumps change notifications and the fallback refresh into the
// registered subscriptions until ctx is cancelled. Modeled as a single
// loop over the notifier channel and tickers so deliveries stay in
// arrival order.
func (s *Store) Run(ctx context.Context) error {
	changeCh := make(chan [2]string, 64)
	stop, err := s.notifier.Listen(ctx, func(collection, key string) {
		select {
		case changeCh <- [2]string{collection, key}:
		default:
			log.Warn().Str("collection", collection).Str("key", key).
				Msg("change channel full, relying on fallback refresh")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start change listener: %w", err)
	}
	defer stop()

	fallback := time.NewTicker(s.cfg.FallbackInterval)
	defer fallback.Stop()

	log.Info().Str("channel", s.cfg.Channel).
		Dur("fallback_interval", s.cfg.FallbackInterval).
		Msg("directory subscription pump started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("directory subscription pump shutting down")
			return nil
		case change := <-changeCh:
			s.refreshFor(ctx, change[0], change[1])
		case <-fallback.C:
			s.refreshAll(ctx)
		}
	}
}

// refreshFor re-reads the changed document for its subscribers and
// re-runs every query subscription on the same collection.
func (s *Store) refreshFor(ctx context.Context, collection, key string) {
	s.subMu.Lock()
	docs := make([]*docSub, 0)
	for _, sub := range s.docSubs {
		if sub.collection == collection && sub.key == key {
			docs = append(docs, sub)
		}
	}
	queries := make([]*querySub, 0)
	for _, sub := range s.querySubs {
		if sub.collection == collection {
			queries = append(queries, sub)
		}
	}
	s.subMu.Unlock()

	for _, sub := range docs {
		s.refreshDoc(ctx, sub)
	}
	for _, sub := range queries {
		s.refreshQuery(ctx, sub)
	}
}

func (s *Store) refreshAll(ctx context.Context) {
	s.subMu.Lock()
	docs := make([]*docSub, 0, len(s.docSubs))
	for _, sub := range s.docSubs {
		docs = append(docs, sub)
	}
	queries := make([]*querySub, 0, len(s.querySubs))
	for _, sub := range s.querySubs {
		queries = append(queries, sub)
	}
	s.subMu.Unlock()

	for _, sub := range docs {
		s.refreshDoc(ctx, sub)
	}
	for _, sub := range queries {
		s.refreshQuery(ctx, sub)
	}
}

// refreshDoc fetches the document's current state and delivers it if it
// differs from the last delivered state. Suppressing no-op deliveries
// keeps the per-document sequence monotonic even when the notifier and
// the fallback ticker race.
func (s *Store) refreshDoc(ctx context.Context, sub *docSub) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND key = $2`,
		sub.collection, sub.key).Scan(&raw)
	if err == sql.ErrNoRows {
		raw = nil
	} else if err != nil {
		s.subError(sub.onError, fmt.Errorf("failed to refresh document: %w", err))
		return
	}

	if sub.sent && bytes.Equal(raw, sub.last) {
		return
	}
	sub.last = raw
	sub.sent = true

	if raw == nil {
		sub.onChange(nil)
		return
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		s.subError(sub.onError, err)
		return
	}
	sub.onChange(doc)
}

func (s *Store) refreshQuery(ctx context.Context, sub *querySub) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	docs, err := s.Query(ctx, sub.collection, sub.filter)
	if err != nil {
		s.subError(sub.onError, fmt.Errorf("failed to refresh query: %w", err))
		return
	}
	raw, err := json.Marshal(docs)
	if err != nil {
		s.subError(sub.onError, err)
		return
	}

	if sub.sent && bytes.Equal(raw, sub.last) {
		return
	}
	sub.last = raw
	sub.sent = true
	sub.onChange(docs)
}

func (s *Store) subError(onError directory.ErrorHandler, err error) {
	if onError != nil {
		onError(err)
		return
	}
	log.Error().Err(err).Msg("subscription refresh failed")
}
