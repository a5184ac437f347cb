package pgdir

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Notifier carries document-change signals between client processes.
// The signal names the document only; subscribers re-fetch its state.
type Notifier interface {
	// Publish announces that collection/key changed.
	Publish(ctx context.Context, collection, key string) error

	// Listen invokes handler for every announced change until the
	// returned stop function is called.
	Listen(ctx context.Context, handler func(collection, key string)) (stop func(), err error)
}

// PGNotifier signals changes over Postgres LISTEN/NOTIFY.
type PGNotifier struct {
	db           *sql.DB
	dsn          string
	channel      string
	pingInterval time.Duration
}

// NewPGNotifier builds a notifier publishing through db and listening
// on a dedicated connection to dsn.
func NewPGNotifier(db *sql.DB, dsn, channel string) *PGNotifier {
	return &PGNotifier{
		db:           db,
		dsn:          dsn,
		channel:      channel,
		pingInterval: 90 * time.Second,
	}
}

func (n *PGNotifier) Publish(ctx context.Context, collection, key string) error {
	_, err := n.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`,
		n.channel, payload(collection, key))
	if err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}
	return nil
}

func (n *PGNotifier) Listen(ctx context.Context, handler func(collection, key string)) (func(), error) {
	listener := pq.NewListener(n.dsn, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("pg listener event")
			}
		})
	if err := listener.Listen(n.channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", n.channel, err)
	}

	log.Info().Str("channel", n.channel).Msg("listening for document changes")

	done := make(chan struct{})
	go func() {
		ping := time.NewTicker(n.pingInterval)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case note := <-listener.Notify:
				if note == nil {
					// Connection was lost and is being re-established;
					// the fallback refresh covers the gap.
					continue
				}
				collection, key, ok := splitPayload(note.Extra)
				if !ok {
					log.Warn().Str("payload", note.Extra).Msg("malformed change payload")
					continue
				}
				handler(collection, key)
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					log.Error().Err(err).Msg("failed to ping pg listener")
				}
			}
		}
	}()

	var closed bool
	return func() {
		if closed {
			return
		}
		closed = true
		close(done)
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close pg listener")
		}
	}, nil
}

func payload(collection, key string) string {
	return collection + "/" + key
}

func splitPayload(s string) (collection, key string, ok bool) {
	collection, key, ok = strings.Cut(s, "/")
	return collection, key, ok && collection != "" && key != ""
}
