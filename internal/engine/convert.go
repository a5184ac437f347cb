package engine

import (
	"sort"

	"github.com/ra397/spyfall/internal/directory"
	"github.com/ra397/spyfall/internal/models"
)

// Collection and field names in the remote directory.
const (
	collSessions     = "games"
	collParticipants = "players"

	fieldCode            = "code"
	fieldStatus          = "status"
	fieldDuration        = "durationSeconds"
	fieldLocation        = "location"
	fieldOwnerID         = "ownerId"
	fieldLastInteraction = "lastInteraction"

	fieldParticipantID = "participantId"
	fieldDisplayName   = "displayName"
	fieldSessionCode   = "sessionCode"
	fieldRole          = "role"
)

func sessionFromDoc(doc directory.Document) *models.Session {
	return &models.Session{
		Code:            doc.String(fieldCode),
		Status:          models.SessionStatus(doc.String(fieldStatus)),
		DurationSeconds: doc.Int(fieldDuration),
		Location:        doc.NullableString(fieldLocation),
		OwnerID:         doc.String(fieldOwnerID),
		LastInteraction: doc.Time(fieldLastInteraction),
	}
}

func participantFromDoc(doc directory.Document) models.Participant {
	return models.Participant{
		ParticipantID: doc.String(fieldParticipantID),
		DisplayName:   doc.String(fieldDisplayName),
		SessionCode:   doc.String(fieldSessionCode),
		Role:          doc.NullableString(fieldRole),
	}
}

// rosterFromDocs converts a roster query result and fixes its order.
// Query results carry no ordering guarantee, so the roster is sorted by
// participant id to keep assignment order deterministic.
func rosterFromDocs(docs []directory.Document) []models.Participant {
	roster := make([]models.Participant, 0, len(docs))
	for _, doc := range docs {
		roster = append(roster, participantFromDoc(doc))
	}
	sort.Slice(roster, func(i, j int) bool {
		return roster[i].ParticipantID < roster[j].ParticipantID
	})
	return roster
}
