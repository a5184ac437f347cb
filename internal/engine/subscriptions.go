package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ra397/spyfall/internal/directory"
	"github.com/ra397/spyfall/internal/models"
	"github.com/ra397/spyfall/internal/statestore"
)

// subscriptionPair owns the session-document and roster-query
// subscriptions for one session code. The engine holds at most one
// pair; establishing a new pair tears down the old one first.
type subscriptionPair struct {
	code          string
	cancelSession directory.CancelFunc
	cancelRoster  directory.CancelFunc
}

func (p *subscriptionPair) teardown() {
	if p == nil {
		return
	}
	if p.cancelSession != nil {
		p.cancelSession()
	}
	if p.cancelRoster != nil {
		p.cancelRoster()
	}
}

// establishSubscriptions replaces the live subscription pair with one
// keyed to code. Subscription setup failures are logged, not fatal: the
// session was already entered, and the participant can leave normally.
//
// The engine lock is not held across the subscribe calls: directories
// deliver the initial state synchronously, and the deletion path of
// onSessionChange takes the lock itself.
func (e *Engine) establishSubscriptions(ctx context.Context, code string) {
	e.mu.Lock()
	e.teardownLocked()
	e.mu.Unlock()

	pair := &subscriptionPair{code: code}
	cancelSession, err := e.dir.SubscribeDocument(ctx, collSessions, code,
		e.onSessionChange, e.onSubscriptionError)
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to subscribe to session")
	} else {
		pair.cancelSession = cancelSession
	}

	cancelRoster, err := e.dir.SubscribeQuery(ctx, collParticipants,
		directory.Filter{Field: fieldSessionCode, Value: code},
		e.onRosterChange, e.onSubscriptionError)
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to subscribe to roster")
	} else {
		pair.cancelRoster = cancelRoster
	}

	e.mu.Lock()
	e.teardownLocked()
	e.subs = pair
	e.mu.Unlock()
}

func (e *Engine) teardownLocked() {
	e.subs.teardown()
	e.subs = nil
}

// onSessionChange projects a session-document notification into local
// state. A nil document means the session was deleted out from under
// us: terminal, but informational rather than an error.
func (e *Engine) onSessionChange(doc directory.Document) {
	if doc == nil {
		log.Info().Msg("session deleted remotely")
		e.mu.Lock()
		e.teardownLocked()
		e.mu.Unlock()
		e.clearSessionSlots()
		e.state.ResetSession()
		e.state.SetError("Game no longer exists")
		return
	}

	sess := sessionFromDoc(doc)
	e.state.Update(func(s *statestore.Snapshot) {
		s.Session = sess
		s.IsOwner = sess.OwnerID == e.participantID
		s.Route = models.RouteForStatus(sess.Status)
	})
}

// onRosterChange replaces the roster wholesale and recomputes this
// participant's own role by lookup. Roster and session notifications
// arrive independently; neither infers anything from the other.
func (e *Engine) onRosterChange(docs []directory.Document) {
	roster := rosterFromDocs(docs)
	var role *string
	for _, p := range roster {
		if p.ParticipantID == e.participantID {
			role = p.Role
			break
		}
	}
	e.state.Update(func(s *statestore.Snapshot) {
		s.Roster = roster
		s.Role = role
	})
}

// onSubscriptionError logs and leaves the subscription in place;
// re-subscription is not attempted here.
func (e *Engine) onSubscriptionError(err error) {
	log.Error().Err(err).Msg("subscription delivery error")
}
