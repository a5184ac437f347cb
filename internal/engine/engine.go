// Package engine implements the session synchronization core: session
// creation and joining, round lifecycle, and the projection of remote
// directory changes into the local reactive state store.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ra397/spyfall/internal/catalog"
	"github.com/ra397/spyfall/internal/directory"
	"github.com/ra397/spyfall/internal/gamecode"
	"github.com/ra397/spyfall/internal/identity"
	"github.com/ra397/spyfall/internal/models"
	"github.com/ra397/spyfall/internal/statestore"
)

// Roster size bounds for starting a round.
const (
	MinRosterSize = 3
	MaxRosterSize = 10
)

// Config carries the engine's collaborators. Directory, State, Catalog
// and Storage are required; Rand defaults to a time-seeded source and
// exists so tests can inject a fixed one.
type Config struct {
	Directory directory.Directory
	State     *statestore.Store
	Catalog   *catalog.Catalog
	Storage   identity.Storage
	Rand      *rand.Rand
}

// Engine orchestrates one client's view of a session. All mutating
// operations resolve to a success boolean; failures are projected into
// the state store's Err field rather than returned.
type Engine struct {
	dir           directory.Directory
	state         *statestore.Store
	catalog       *catalog.Catalog
	storage       identity.Storage
	participantID string

	mu   sync.Mutex
	rng  *rand.Rand
	subs *subscriptionPair
}

// New builds an engine and resolves the device's participant identity.
// A missing catalog or directory is an initialization error.
func New(cfg Config) (*Engine, error) {
	if cfg.Directory == nil {
		return nil, fmt.Errorf("engine requires a directory")
	}
	if cfg.State == nil {
		return nil, fmt.Errorf("engine requires a state store")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("engine requires a location catalog")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("engine requires local storage")
	}

	id, err := identity.NewProvider(cfg.Storage).ParticipantID()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve participant identity: %w", err)
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	e := &Engine{
		dir:           cfg.Directory,
		state:         cfg.State,
		catalog:       cfg.Catalog,
		storage:       cfg.Storage,
		participantID: id,
		rng:           rng,
	}
	e.state.Update(func(s *statestore.Snapshot) {
		s.ParticipantID = id
	})
	return e, nil
}

// ParticipantID returns this device's stable participant identifier.
func (e *Engine) ParticipantID() string { return e.participantID }

// LocationNames returns the catalog's location names in catalog order.
func (e *Engine) LocationNames() []string { return e.catalog.Names() }

// CreateSession creates a new session with this participant as owner
// and enters its lobby.
func (e *Engine) CreateSession(ctx context.Context, displayName string) bool {
	return e.run("create session", "Failed to create game", func() error {
		return e.createSession(ctx, displayName)
	})
}

// JoinSession joins the session identified by code under displayName.
func (e *Engine) JoinSession(ctx context.Context, displayName, code string) bool {
	return e.run("join session", "Failed to join game", func() error {
		return e.joinSession(ctx, displayName, code)
	})
}

// StartRound assigns roles and moves the session to active. Owner only.
func (e *Engine) StartRound(ctx context.Context) bool {
	return e.run("start round", "Failed to start round", func() error {
		return e.startRound(ctx)
	})
}

// EndRound clears roles and returns the session to the lobby. Owner only.
func (e *Engine) EndRound(ctx context.Context) bool {
	return e.run("end round", "Failed to end round", func() error {
		return e.endRound(ctx)
	})
}

// LeaveSession removes this participant from the session and resets
// local state. Safe to call when no session is active.
func (e *Engine) LeaveSession(ctx context.Context) bool {
	return e.run("leave session", "Failed to leave game", func() error {
		return e.leaveSession(ctx)
	})
}

// UpdateDuration sets the round length. Owner only; the remote write is
// best-effort: a store failure is logged, not surfaced as an error.
func (e *Engine) UpdateDuration(ctx context.Context, seconds int) bool {
	snap := e.state.Get()
	if !snap.IsOwner {
		e.state.SetError("Only the owner can change the timer")
		return false
	}
	if !models.DurationAllowed(seconds) {
		e.state.SetError("Invalid round length")
		return false
	}
	err := e.dir.Update(ctx, collSessions, snap.SessionCode, directory.Document{
		fieldDuration:        seconds,
		fieldLastInteraction: directory.ServerTimestamp,
	})
	if err != nil {
		log.Warn().Err(err).Str("code", snap.SessionCode).Int("seconds", seconds).
			Msg("duration update failed")
		return false
	}
	return true
}

// Resume re-enters a session recorded in durable local storage, if the
// participant and session documents still exist and agree. Stale or
// missing local state is cleared and never treated as a fault.
func (e *Engine) Resume(ctx context.Context) bool {
	code, okCode := e.storage.Get(identity.KeySessionCode)
	name, okName := e.storage.Get(identity.KeyDisplayName)
	if !okCode || !okName || code == "" || name == "" {
		return false
	}

	playerDoc, err := e.dir.Get(ctx, collParticipants, e.participantID)
	if err != nil {
		log.Warn().Err(err).Msg("session resume check failed")
		return false
	}
	if playerDoc == nil || playerDoc.String(fieldSessionCode) != code {
		e.clearSessionSlots()
		return false
	}

	sessionDoc, err := e.dir.Get(ctx, collSessions, code)
	if err != nil {
		log.Warn().Err(err).Msg("session resume check failed")
		return false
	}
	if sessionDoc == nil {
		e.clearSessionSlots()
		return false
	}

	sess := sessionFromDoc(sessionDoc)
	e.state.Update(func(s *statestore.Snapshot) {
		s.SessionCode = code
		s.DisplayName = name
		s.IsOwner = sess.OwnerID == e.participantID
		s.Route = models.RouteForStatus(sess.Status)
	})
	e.establishSubscriptions(ctx, code)

	log.Info().Str("code", code).Str("name", name).Msg("resumed session")
	return true
}

// Close tears down any live subscriptions. Idempotent; for process
// shutdown, not for leaving a session.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
}

// run executes one engine operation with the shared loading/error
// protocol: no error ever escapes; the caller gets a boolean and the
// state store carries the user-facing message.
func (e *Engine) run(op, fallback string, fn func() error) bool {
	e.state.Update(func(s *statestore.Snapshot) {
		s.Loading = true
		s.Err = ""
	})
	if err := fn(); err != nil {
		log.Error().Err(err).Str("op", op).Msg("engine operation failed")
		e.state.SetError(userMessage(err, fallback))
		return false
	}
	e.state.Update(func(s *statestore.Snapshot) {
		s.Loading = false
	})
	return true
}

func (e *Engine) createSession(ctx context.Context, displayName string) error {
	if err := validateName(displayName); err != nil {
		return err
	}

	// Collision-retry until an unused code turns up. With 36^4 codes
	// and a handful of concurrent sessions this terminates quickly.
	var code string
	for {
		code = gamecode.Generate()
		doc, err := e.dir.Get(ctx, collSessions, code)
		if err != nil {
			return wrapRemote("probe session code", err)
		}
		if doc == nil {
			break
		}
	}

	// Session and participant are two independent writes, not a batch.
	// A crash in between leaves an orphaned session for external
	// cleanup to reap via lastInteraction.
	err := e.dir.Set(ctx, collSessions, code, directory.Document{
		fieldCode:            code,
		fieldStatus:          string(models.SessionStatusLobby),
		fieldDuration:        models.DefaultDurationSeconds,
		fieldLocation:        nil,
		fieldOwnerID:         e.participantID,
		fieldLastInteraction: directory.ServerTimestamp,
	})
	if err != nil {
		return wrapRemote("write session", err)
	}

	if err := e.writeParticipant(ctx, displayName, code); err != nil {
		return err
	}

	e.persistSessionSlots(code, displayName)
	e.state.Update(func(s *statestore.Snapshot) {
		s.SessionCode = code
		s.DisplayName = displayName
		s.IsOwner = true
		s.Route = models.RouteLobby
	})
	e.establishSubscriptions(ctx, code)

	log.Info().Str("code", code).Str("name", displayName).Msg("created session")
	return nil
}

func (e *Engine) joinSession(ctx context.Context, displayName, code string) error {
	if err := validateName(displayName); err != nil {
		return err
	}
	if len(code) != gamecode.Length {
		return failUser(ErrValidation, "Invalid game code")
	}
	code = strings.ToUpper(code)

	sessionDoc, err := e.dir.Get(ctx, collSessions, code)
	if err != nil {
		return wrapRemote("fetch session", err)
	}
	if sessionDoc == nil {
		return failUser(ErrNotFound, "Game not found")
	}
	if sessionDoc.String(fieldStatus) == string(models.SessionStatusActive) {
		return failUser(ErrIllegalState, "Game is in session")
	}

	roster, err := e.liveRoster(ctx, code)
	if err != nil {
		return err
	}
	for _, p := range roster {
		if strings.EqualFold(p.DisplayName, displayName) {
			return failUser(ErrConflict, "Name already taken")
		}
	}

	if err := e.writeParticipant(ctx, displayName, code); err != nil {
		return err
	}
	err = e.dir.Update(ctx, collSessions, code, directory.Document{
		fieldLastInteraction: directory.ServerTimestamp,
	})
	if err != nil {
		return wrapRemote("touch session", err)
	}

	e.persistSessionSlots(code, displayName)
	e.state.Update(func(s *statestore.Snapshot) {
		s.SessionCode = code
		s.DisplayName = displayName
		s.IsOwner = false
		s.Route = models.RouteLobby
	})
	e.establishSubscriptions(ctx, code)

	log.Info().Str("code", code).Str("name", displayName).Msg("joined session")
	return nil
}

func (e *Engine) startRound(ctx context.Context) error {
	snap := e.state.Get()
	if !snap.IsOwner {
		return failUser(ErrPermission, "Only the owner can start the round")
	}

	// The cached roster may trail concurrent joins and leaves; read the
	// live roster so the commit covers exactly the members at this
	// moment.
	roster, err := e.liveRoster(ctx, snap.SessionCode)
	if err != nil {
		return err
	}
	if len(roster) < MinRosterSize {
		return failUser(ErrValidation, "Need at least 3 players")
	}
	if len(roster) > MaxRosterSize {
		return failUser(ErrValidation, "Maximum 10 players")
	}

	e.mu.Lock()
	assignment := AssignRoles(roster, e.catalog, e.rng)
	e.mu.Unlock()

	ops := make([]directory.WriteOp, 0, len(roster)+1)
	ops = append(ops, directory.UpdateOp(collSessions, snap.SessionCode, directory.Document{
		fieldStatus:          string(models.SessionStatusActive),
		fieldLocation:        assignment.Location.Name,
		fieldLastInteraction: directory.ServerTimestamp,
	}))
	for _, p := range roster {
		ops = append(ops, directory.UpdateOp(collParticipants, p.ParticipantID, directory.Document{
			fieldRole: assignment.Roles[p.ParticipantID],
		}))
	}
	if err := e.dir.CommitBatch(ctx, ops); err != nil {
		return wrapRemote("commit round start", err)
	}

	log.Info().Str("code", snap.SessionCode).Str("location", assignment.Location.Name).
		Int("players", len(roster)).Msg("round started")
	return nil
}

func (e *Engine) endRound(ctx context.Context) error {
	snap := e.state.Get()
	if !snap.IsOwner {
		return failUser(ErrPermission, "Only the owner can end the round")
	}

	// Roles are cleared per participant from a live read, never inferred
	// from session status: roster and session notifications carry no
	// cross-document ordering.
	roster, err := e.liveRoster(ctx, snap.SessionCode)
	if err != nil {
		return err
	}

	ops := make([]directory.WriteOp, 0, len(roster)+1)
	ops = append(ops, directory.UpdateOp(collSessions, snap.SessionCode, directory.Document{
		fieldStatus:          string(models.SessionStatusLobby),
		fieldLocation:        nil,
		fieldLastInteraction: directory.ServerTimestamp,
	}))
	for _, p := range roster {
		ops = append(ops, directory.UpdateOp(collParticipants, p.ParticipantID, directory.Document{
			fieldRole: nil,
		}))
	}
	if err := e.dir.CommitBatch(ctx, ops); err != nil {
		return wrapRemote("commit round end", err)
	}

	log.Info().Str("code", snap.SessionCode).Msg("round ended")
	return nil
}

func (e *Engine) leaveSession(ctx context.Context) error {
	e.mu.Lock()
	e.teardownLocked()
	e.mu.Unlock()

	// Deletion and slot clearing always run, even with nothing
	// subscribed, so a repeated leave is a no-op rather than an error.
	err := e.dir.Delete(ctx, collParticipants, e.participantID)
	e.clearSessionSlots()
	e.state.ResetSession()
	if err != nil {
		return wrapRemote("delete participant", err)
	}

	log.Info().Str("participant", e.participantID).Msg("left session")
	return nil
}

func (e *Engine) writeParticipant(ctx context.Context, displayName, code string) error {
	err := e.dir.Set(ctx, collParticipants, e.participantID, directory.Document{
		fieldParticipantID: e.participantID,
		fieldDisplayName:   displayName,
		fieldSessionCode:   code,
		fieldRole:          nil,
	})
	if err != nil {
		return wrapRemote("write participant", err)
	}
	return nil
}

func (e *Engine) liveRoster(ctx context.Context, code string) ([]models.Participant, error) {
	docs, err := e.dir.Query(ctx, collParticipants, directory.Filter{
		Field: fieldSessionCode,
		Value: code,
	})
	if err != nil {
		return nil, wrapRemote("query roster", err)
	}
	return rosterFromDocs(docs), nil
}

func (e *Engine) persistSessionSlots(code, displayName string) {
	if err := e.storage.Set(identity.KeySessionCode, code); err != nil {
		log.Warn().Err(err).Msg("failed to persist session code")
	}
	if err := e.storage.Set(identity.KeyDisplayName, displayName); err != nil {
		log.Warn().Err(err).Msg("failed to persist display name")
	}
}

func (e *Engine) clearSessionSlots() {
	if err := e.storage.Remove(identity.KeySessionCode); err != nil {
		log.Warn().Err(err).Msg("failed to clear session code")
	}
	if err := e.storage.Remove(identity.KeyDisplayName); err != nil {
		log.Warn().Err(err).Msg("failed to clear display name")
	}
}

func validateName(name string) error {
	if len(name) < models.MinNameLength || len(name) > models.MaxNameLength {
		return failUser(ErrValidation, "Name must be 1-12 characters")
	}
	return nil
}
