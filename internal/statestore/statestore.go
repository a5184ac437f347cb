// Package statestore holds the single client-visible snapshot of
// session state and fans out change notifications to subscribers.
// It performs no I/O; the engine projects remote changes into it and
// screens render from it.
package statestore

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ra397/spyfall/internal/models"
)

// Snapshot is the full client-visible state. Session and Roster mirror
// the remote documents; the rest is local-only.
type Snapshot struct {
	Route models.Route

	// Device identity, persisted across sessions.
	ParticipantID string
	DisplayName   string

	// Current session membership.
	SessionCode string
	IsOwner     bool

	// Projections of the remote documents.
	Session *models.Session
	Roster  []models.Participant

	// This participant's own role, nil outside an active round.
	Role *string

	// UI state.
	Err     string
	Loading bool
}

// Store owns one mutable Snapshot. Mutations go through Update, which
// delivers the new snapshot to every subscriber before returning, so a
// subscriber's own Get immediately after a peer's Update observes the
// new value.
type Store struct {
	mu    sync.Mutex
	state Snapshot

	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int
}

// New returns a store holding the initial (no session) snapshot.
func New() *Store {
	return &Store{
		state: Snapshot{Route: models.RouteHome},
		subs:  make(map[int]func(Snapshot)),
	}
}

// Get returns a copy of the current snapshot. The roster slice is
// copied so callers cannot alias store-internal state.
func (s *Store) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Update applies mutate to a copy of the snapshot, installs the result,
// and synchronously notifies all subscribers with the new snapshot.
func (s *Store) Update(mutate func(*Snapshot)) {
	s.mu.Lock()
	next := s.state.clone()
	mutate(&next)
	s.state = next
	s.mu.Unlock()
	s.notify(next)
}

// SetError records a user-facing error message and clears the loading
// flag.
func (s *Store) SetError(msg string) {
	s.Update(func(snap *Snapshot) {
		snap.Err = msg
		snap.Loading = false
	})
}

// ResetSession restores the initial snapshot shape, preserving only the
// participant identifier.
func (s *Store) ResetSession() {
	s.Update(func(snap *Snapshot) {
		*snap = Snapshot{
			Route:         models.RouteHome,
			ParticipantID: snap.ParticipantID,
		}
	})
}

// Subscribe registers fn to be called on every snapshot change and
// returns its unsubscribe function. Delivery order across subscribers
// is unspecified; a panicking subscriber does not prevent delivery to
// the rest.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(snap Snapshot) {
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		deliver(fn, snap)
	}
}

func deliver(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("state subscriber panicked")
		}
	}()
	fn(snap.clone())
}

func (snap Snapshot) clone() Snapshot {
	out := snap
	if snap.Roster != nil {
		out.Roster = make([]models.Participant, len(snap.Roster))
		copy(out.Roster, snap.Roster)
	}
	return out
}
