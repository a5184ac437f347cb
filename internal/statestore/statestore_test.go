package statestore

import (
	"testing"

	"github.com/ra397/spyfall/internal/models"
)

func TestUpdateVisibleBeforeReturn(t *testing.T) {
	s := New()

	var observed Snapshot
	unsub := s.Subscribe(func(snap Snapshot) {
		// A subscriber's own read during delivery sees the new value.
		observed = s.Get()
	})
	defer unsub()

	s.Update(func(snap *Snapshot) {
		snap.SessionCode = "AB12"
	})

	if observed.SessionCode != "AB12" {
		t.Errorf("subscriber read stale state %q", observed.SessionCode)
	}
	if s.Get().SessionCode != "AB12" {
		t.Errorf("Get after Update returned stale state")
	}
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	s := New()

	delivered := 0
	for i := 0; i < 3; i++ {
		i := i
		unsub := s.Subscribe(func(Snapshot) {
			if i == 1 {
				panic("subscriber bug")
			}
			delivered++
		})
		defer unsub()
	}

	s.Update(func(snap *Snapshot) { snap.Loading = true })

	if delivered != 2 {
		t.Errorf("expected 2 deliveries despite panic, got %d", delivered)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New()
	calls := 0
	unsub := s.Subscribe(func(Snapshot) { calls++ })

	s.Update(func(snap *Snapshot) { snap.Loading = true })
	unsub()
	s.Update(func(snap *Snapshot) { snap.Loading = false })

	if calls != 1 {
		t.Errorf("expected 1 delivery, got %d", calls)
	}
}

func TestResetSessionPreservesParticipantID(t *testing.T) {
	s := New()
	role := "Doctor"
	s.Update(func(snap *Snapshot) {
		snap.ParticipantID = "player_x"
		snap.DisplayName = "Alice"
		snap.SessionCode = "AB12"
		snap.IsOwner = true
		snap.Session = &models.Session{Code: "AB12"}
		snap.Roster = []models.Participant{{ParticipantID: "player_x"}}
		snap.Role = &role
		snap.Err = "boom"
		snap.Loading = true
		snap.Route = models.RouteGame
	})

	s.ResetSession()

	snap := s.Get()
	if snap.ParticipantID != "player_x" {
		t.Errorf("participant id lost: %q", snap.ParticipantID)
	}
	if snap.Route != models.RouteHome {
		t.Errorf("expected home route, got %q", snap.Route)
	}
	if snap.DisplayName != "" || snap.SessionCode != "" || snap.IsOwner ||
		snap.Session != nil || snap.Roster != nil || snap.Role != nil ||
		snap.Err != "" || snap.Loading {
		t.Errorf("state not reset: %+v", snap)
	}
}

func TestGetCopiesRoster(t *testing.T) {
	s := New()
	s.Update(func(snap *Snapshot) {
		snap.Roster = []models.Participant{{DisplayName: "Alice"}}
	})

	snap := s.Get()
	snap.Roster[0].DisplayName = "Mallory"

	if got := s.Get().Roster[0].DisplayName; got != "Alice" {
		t.Errorf("caller mutated store-internal roster: %q", got)
	}
}
