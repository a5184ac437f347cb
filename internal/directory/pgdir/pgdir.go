// Package pgdir implements the directory contract on Postgres:
// documents as JSONB rows, batches as transactions, and change push
// through a pluggable notifier (LISTEN/NOTIFY by default, NATS as an
// alternative; see natsnotify).
package pgdir

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ra397/spyfall/internal/directory"
)

// Config tunes the store's notification plumbing.
type Config struct {
	// Channel is the notify channel (or subject prefix) document
	// changes are signalled on.
	Channel string
	// FallbackInterval is how often subscriptions are refreshed from
	// the database to cover missed notifications.
	FallbackInterval time.Duration
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		Channel:          "spyfall_directory",
		FallbackInterval: 30 * time.Second,
	}
}

// Store is a Postgres-backed directory.Directory. Run must be started
// before subscriptions deliver remote changes.
type Store struct {
	db       *sql.DB
	notifier Notifier
	cfg      Config

	subMu     sync.Mutex
	nextSubID int
	docSubs   map[int]*docSub
	querySubs map[int]*querySub
}

// New wires a store over an open database handle. The notifier carries
// change signals between processes; see NewPGNotifier.
func New(db *sql.DB, notifier Notifier, cfg Config) *Store {
	if cfg.Channel == "" {
		cfg.Channel = DefaultConfig().Channel
	}
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = DefaultConfig().FallbackInterval
	}
	return &Store{
		db:        db,
		notifier:  notifier,
		cfg:       cfg,
		docSubs:   make(map[int]*docSub),
		querySubs: make(map[int]*querySub),
	}
}

func (s *Store) Get(ctx context.Context, collection, key string) (directory.Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND key = $2`,
		collection, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return decodeDoc(raw)
}

func (s *Store) Set(ctx context.Context, collection, key string, fields directory.Document) error {
	raw, err := s.encode(ctx, fields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, key, fields, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (collection, key)
		 DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()`,
		collection, key, raw)
	if err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	s.publish(ctx, collection, key)
	return nil
}

func (s *Store) Update(ctx context.Context, collection, key string, fields directory.Document) error {
	raw, err := s.encode(ctx, fields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET fields = fields || $3::jsonb, updated_at = now()
		 WHERE collection = $1 AND key = $2`,
		collection, key, raw)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return directory.ErrNotFound
	}
	s.publish(ctx, collection, key)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND key = $2`,
		collection, key)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publish(ctx, collection, key)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filter directory.Filter) ([]directory.Document, error) {
	value, ok := filter.Value.(string)
	if !ok {
		return nil, fmt.Errorf("pgdir queries support string filter values, got %T", filter.Value)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT fields FROM documents
		 WHERE collection = $1 AND fields->>$2 = $3
		 ORDER BY key`,
		collection, filter.Field, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []directory.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// CommitBatch runs every op inside one transaction. Readers observe the
// batch entirely or not at all; an absent Update target aborts the
// whole batch with ErrNotFound.
func (s *Store) CommitBatch(ctx context.Context, ops []directory.WriteOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	var serverTime time.Time
	if err := tx.QueryRowContext(ctx, `SELECT now()`).Scan(&serverTime); err != nil {
		return fmt.Errorf("failed to read server time: %w", err)
	}

	touched := make(map[[2]string]struct{}, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case directory.OpSet:
			raw, err := encodeDoc(op.Fields, serverTime)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO documents (collection, key, fields, updated_at)
				 VALUES ($1, $2, $3, now())
				 ON CONFLICT (collection, key)
				 DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()`,
				op.Collection, op.Key, raw)
			if err != nil {
				return fmt.Errorf("failed to batch-set %s/%s: %w", op.Collection, op.Key, err)
			}
		case directory.OpUpdate:
			raw, err := encodeDoc(op.Fields, serverTime)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE documents SET fields = fields || $3::jsonb, updated_at = now()
				 WHERE collection = $1 AND key = $2`,
				op.Collection, op.Key, raw)
			if err != nil {
				return fmt.Errorf("failed to batch-update %s/%s: %w", op.Collection, op.Key, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return directory.ErrNotFound
			}
		case directory.OpDelete:
			_, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = $1 AND key = $2`,
				op.Collection, op.Key)
			if err != nil {
				return fmt.Errorf("failed to batch-delete %s/%s: %w", op.Collection, op.Key, err)
			}
		}
		touched[[2]string{op.Collection, op.Key}] = struct{}{}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	for ck := range touched {
		s.publish(ctx, ck[0], ck[1])
	}
	return nil
}

// publish signals a document change. A lost signal is recovered by the
// fallback refresh, so failures only get logged.
func (s *Store) publish(ctx context.Context, collection, key string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, collection, key); err != nil {
		log.Warn().Err(err).Str("collection", collection).Str("key", key).
			Msg("failed to publish change notification")
	}
}

// encode resolves server timestamps against the database clock, then
// marshals fields to JSONB.
func (s *Store) encode(ctx context.Context, fields directory.Document) ([]byte, error) {
	if !hasServerTimestamp(fields) {
		return encodeDoc(fields, time.Time{})
	}
	var serverTime time.Time
	if err := s.db.QueryRowContext(ctx, `SELECT now()`).Scan(&serverTime); err != nil {
		return nil, fmt.Errorf("failed to read server time: %w", err)
	}
	return encodeDoc(fields, serverTime)
}

func hasServerTimestamp(fields directory.Document) bool {
	for _, v := range fields {
		if directory.IsServerTimestamp(v) {
			return true
		}
	}
	return false
}

func encodeDoc(fields directory.Document, serverTime time.Time) ([]byte, error) {
	resolved := make(map[string]any, len(fields))
	for k, v := range fields {
		if directory.IsServerTimestamp(v) {
			resolved[k] = serverTime.UTC().Format(time.RFC3339Nano)
			continue
		}
		resolved[k] = v
	}
	raw, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return raw, nil
}

func decodeDoc(raw []byte) (directory.Document, error) {
	var doc directory.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
