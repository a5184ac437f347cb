// Package identity issues the durable opaque participant identifier and
// wraps the small key-value storage that survives process restarts.
package identity

import (
	"fmt"

	"github.com/google/uuid"
)

// Storage is the durable local key-value store the client keeps device
// state in. Implementations must tolerate missing keys.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// Storage slot keys. The participant id slot is owned by this package;
// the session slots are owned by the engine.
const (
	KeyParticipantID = "spyfall_playerId"
	KeySessionCode   = "spyfall_gameCode"
	KeyDisplayName   = "spyfall_playerName"
)

// Provider hands out the device's participant identifier, creating and
// persisting one on first use.
type Provider struct {
	storage Storage
}

func NewProvider(storage Storage) *Provider {
	return &Provider{storage: storage}
}

// ParticipantID returns the stable identifier for this device,
// generating one if the device has none yet.
func (p *Provider) ParticipantID() (string, error) {
	if id, ok := p.storage.Get(KeyParticipantID); ok && id != "" {
		return id, nil
	}
	id := fmt.Sprintf("player_%s", uuid.NewString())
	if err := p.storage.Set(KeyParticipantID, id); err != nil {
		return "", fmt.Errorf("failed to persist participant id: %w", err)
	}
	return id, nil
}

// Clear removes the persisted identifier so the device gets a fresh one
// on the next call to ParticipantID.
func (p *Provider) Clear() error {
	return p.storage.Remove(KeyParticipantID)
}
