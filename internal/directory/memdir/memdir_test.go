package memdir

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ra397/spyfall/internal/directory"
)

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(clockwork.NewFakeClock())

	err := s.Set(ctx, "games", "AB12", directory.Document{
		"code":   "AB12",
		"status": "lobby",
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	doc, err := s.Get(ctx, "games", "AB12")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.String("code") != "AB12" || doc.String("status") != "lobby" {
		t.Errorf("unexpected document %v", doc)
	}

	absent, err := s.Get(ctx, "games", "ZZZZ")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if absent != nil {
		t.Errorf("absent document should be nil, got %v", absent)
	}
}

func TestUpdateMergesAndRequiresExistence(t *testing.T) {
	ctx := context.Background()
	s := New(clockwork.NewFakeClock())

	if err := s.Update(ctx, "games", "AB12", directory.Document{"status": "active"}); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "games", "AB12", directory.Document{"code": "AB12", "status": "lobby"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Update(ctx, "games", "AB12", directory.Document{"status": "active"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	doc, _ := s.Get(ctx, "games", "AB12")
	if doc.String("status") != "active" {
		t.Errorf("update did not apply: %v", doc)
	}
	if doc.String("code") != "AB12" {
		t.Errorf("update clobbered untouched field: %v", doc)
	}
}

func TestDeleteAbsentIsNotAnError(t *testing.T) {
	s := New(clockwork.NewFakeClock())
	if err := s.Delete(context.Background(), "games", "NOPE"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}

func TestServerTimestampResolvedFromClock(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := New(clock)

	if err := s.Set(ctx, "games", "AB12", directory.Document{
		"lastInteraction": directory.ServerTimestamp,
	}); err != nil {
		t.Fatalf("set: %v", err)
	}

	doc, _ := s.Get(ctx, "games", "AB12")
	if got := doc.Time("lastInteraction"); !got.Equal(clock.Now().UTC()) {
		t.Errorf("expected clock time %v, got %v", clock.Now().UTC(), got)
	}

	clock.Advance(time.Minute)
	if err := s.Update(ctx, "games", "AB12", directory.Document{
		"lastInteraction": directory.ServerTimestamp,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, _ = s.Get(ctx, "games", "AB12")
	if got := doc.Time("lastInteraction"); !got.Equal(clock.Now().UTC()) {
		t.Errorf("timestamp not re-resolved, got %v", got)
	}
}

func TestQueryByField(t *testing.T) {
	ctx := context.Background()
	s := New(clockwork.NewFakeClock())

	for _, p := range []struct{ id, code string }{
		{"p1", "AB12"}, {"p2", "AB12"}, {"p3", "XY99"},
	} {
		if err := s.Set(ctx, "players", p.id, directory.Document{
			"participantId": p.id,
			"sessionCode":   p.code,
		}); err != nil {
			t.Fatalf("set: %v", err)
		}
	}

	docs, err := s.Query(ctx, "players", directory.Filter{Field: "sessionCode", Value: "AB12"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(docs))
	}
}

func TestDocumentSubscription(t *testing.T) {
	ctx := context.Background()
	s := New(clockwork.NewFakeClock())

	var got []directory.Document
	cancel, err := s.SubscribeDocument(ctx, "games", "AB12", func(doc directory.Document) {
		got = append(got, doc)
	}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Initial delivery for an absent document is nil.
	if len(got) != 1 || got[0] != nil {
		t.Fatalf("expected initial nil delivery, got %v", got)
	}

	if err := s.Set(ctx, "games", "AB12", directory.Document{"status": "lobby"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(got) != 2 || got[1].String("status") != "lobby" {
		t.Fatalf("expected set delivery, got %v", got)
	}

	if err := s.Delete(ctx, "games", "AB12"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(got) != 3 || got[2] != nil {
		t.Fatalf("expected nil delivery on delete, got %v", got)
	}

	cancel()
	cancel() // idempotent
	if err := s.Set(ctx, "games", "AB12", directory.Document{"status": "lobby"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("delivery after cancel: %v", got)
	}
}

func TestQuerySubscriptionTracksResultSet(t *testing.T) {
	ctx := context.Background()
	s := New(clockwork.NewFakeClock())

	var sizes []int
	cancel, err := s.SubscribeQuery(ctx, "players",
		directory.Filter{Field: "sessionCode", Value: "AB12"},
		func(docs []directory.Document) {
			sizes = append(sizes, len(docs))
		}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	s.Set(ctx, "players", "p1", directory.Document{"sessionCode": "AB12"})
	s.Set(ctx, "players", "p2", directory.Document{"sessionCode": "AB12"})
	s.Set(ctx, "players", "p3", directory.Document{"sessionCode": "OTHER"})
	s.Delete(ctx, "players", "p1")

	// Initial empty set, +p1, +p2, p3 touches the collection so the
	// query re-runs, then -p1.
	want := []int{0, 1, 2, 2, 1}
	if len(sizes) != len(want) {
		t.Fatalf("expected %v deliveries, got %v", want, sizes)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("delivery %d: expected %d docs, got %d", i, want[i], sizes[i])
		}
	}
}

func TestCommitBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New(clockwork.NewFakeClock())

	if err := s.Set(ctx, "games", "AB12", directory.Document{"status": "lobby"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Batch with an update against a missing document fails entirely.
	err := s.CommitBatch(ctx, []directory.WriteOp{
		directory.UpdateOp("games", "AB12", directory.Document{"status": "active"}),
		directory.UpdateOp("players", "ghost", directory.Document{"role": "Spy"}),
	})
	if !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	doc, _ := s.Get(ctx, "games", "AB12")
	if doc.String("status") != "lobby" {
		t.Errorf("failed batch leaked a write: %v", doc)
	}

	// A valid batch applies everything.
	err = s.CommitBatch(ctx, []directory.WriteOp{
		directory.UpdateOp("games", "AB12", directory.Document{"status": "active"}),
		directory.SetOp("players", "p1", directory.Document{"role": "Spy"}),
		directory.DeleteOp("games", "GONE"),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	doc, _ = s.Get(ctx, "games", "AB12")
	if doc.String("status") != "active" {
		t.Errorf("batch update missing: %v", doc)
	}
	player, _ := s.Get(ctx, "players", "p1")
	if player.String("role") != "Spy" {
		t.Errorf("batch set missing: %v", player)
	}
}

func TestCommitBatchNotifiesAfterFullApply(t *testing.T) {
	ctx := context.Background()
	s := New(clockwork.NewFakeClock())

	s.Set(ctx, "games", "AB12", directory.Document{"status": "lobby"})
	s.Set(ctx, "players", "p1", directory.Document{"role": nil})

	// During delivery the whole batch must already be visible.
	var sawStatus, sawRole string
	cancel, _ := s.SubscribeDocument(ctx, "games", "AB12", func(doc directory.Document) {
		if doc == nil {
			return
		}
		sawStatus = doc.String("status")
		player, _ := s.Get(ctx, "players", "p1")
		sawRole = player.String("role")
	}, nil)
	defer cancel()

	err := s.CommitBatch(ctx, []directory.WriteOp{
		directory.UpdateOp("games", "AB12", directory.Document{"status": "active"}),
		directory.UpdateOp("players", "p1", directory.Document{"role": "Spy"}),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if sawStatus != "active" || sawRole != "Spy" {
		t.Errorf("observed partial batch: status=%q role=%q", sawStatus, sawRole)
	}
}
