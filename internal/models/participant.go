package models

// SpyRole is the sentinel role assigned to the one participant who does
// not learn the location. It is distinguishable from an occupation only
// by value, never by position in the roster.
const SpyRole = "Spy"

// Name length bounds enforced at create/join time.
const (
	MinNameLength = 1
	MaxNameLength = 12
)

// Participant is one device/player attached to a session, stored as a
// single remote document keyed by its participant id. Role is nil
// outside an active round.
type Participant struct {
	ParticipantID string  `json:"participantId"`
	DisplayName   string  `json:"displayName"`
	SessionCode   string  `json:"sessionCode"`
	Role          *string `json:"role"`
}

// IsSpy reports whether this participant holds the spy role.
func (p *Participant) IsSpy() bool {
	return p.Role != nil && *p.Role == SpyRole
}
