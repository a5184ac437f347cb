// Package natsnotify signals document changes over NATS instead of
// Postgres LISTEN/NOTIFY, for deployments where clients cannot hold a
// dedicated listening connection to the database.
package natsnotify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Notifier publishes and receives change signals on NATS subjects of
// the form <prefix>.<collection>.<key>.
type Notifier struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials NATS with infinite reconnects and returns a notifier
// using prefix as the subject root.
func Connect(url, prefix string) (*Notifier, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Notifier{nc: nc, prefix: prefix}, nil
}

// New wraps an existing connection.
func New(nc *nats.Conn, prefix string) *Notifier {
	return &Notifier{nc: nc, prefix: prefix}
}

func (n *Notifier) Publish(ctx context.Context, collection, key string) error {
	subject := fmt.Sprintf("%s.%s.%s", n.prefix, collection, key)
	if err := n.nc.Publish(subject, nil); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

func (n *Notifier) Listen(ctx context.Context, handler func(collection, key string)) (func(), error) {
	subject := fmt.Sprintf("%s.>", n.prefix)
	sub, err := n.nc.Subscribe(subject, func(msg *nats.Msg) {
		collection, key, ok := splitSubject(n.prefix, msg.Subject)
		if !ok {
			log.Warn().Str("subject", msg.Subject).Msg("malformed change subject")
			return
		}
		handler(collection, key)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	log.Info().Str("subject", subject).Msg("listening for document changes")

	var closed bool
	return func() {
		if closed {
			return
		}
		closed = true
		if err := sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe")
		}
	}, nil
}

// Close releases the underlying connection if this notifier owns it.
func (n *Notifier) Close() {
	n.nc.Close()
}

func splitSubject(prefix, subject string) (collection, key string, ok bool) {
	if len(subject) <= len(prefix)+1 || subject[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := subject[len(prefix)+1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '.' {
			return rest[:i], rest[i+1:], rest[:i] != "" && rest[i+1:] != ""
		}
	}
	return "", "", false
}
