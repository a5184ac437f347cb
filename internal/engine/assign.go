package engine

import (
	"math/rand"

	"github.com/ra397/spyfall/internal/catalog"
	"github.com/ra397/spyfall/internal/models"
)

// Assignment is the outcome of role selection for one round: the
// session location and a role for every roster member, exactly one of
// which is the spy sentinel.
type Assignment struct {
	Location catalog.Location
	Roles    map[string]string // participant id -> role
	SpyID    string
}

// AssignRoles picks a spy uniformly at random, a location uniformly at
// random, and deals a uniform permutation of the location's occupations
// to the non-spy participants in roster order, cycling the permutation
// when the roster outnumbers the occupations. The spy's role is the
// sentinel value only; it carries no positional signal.
//
// AssignRoles is a pure function of its inputs and rng, so a fixed
// random source yields an identical assignment.
func AssignRoles(roster []models.Participant, cat *catalog.Catalog, rng *rand.Rand) Assignment {
	spyIdx := rng.Intn(len(roster))
	loc := cat.At(rng.Intn(cat.Len()))

	occupations := make([]string, len(loc.Occupations))
	copy(occupations, loc.Occupations)
	rng.Shuffle(len(occupations), func(i, j int) {
		occupations[i], occupations[j] = occupations[j], occupations[i]
	})

	out := Assignment{
		Location: loc,
		Roles:    make(map[string]string, len(roster)),
	}
	dealt := 0
	for i, p := range roster {
		if i == spyIdx {
			out.Roles[p.ParticipantID] = models.SpyRole
			out.SpyID = p.ParticipantID
			continue
		}
		out.Roles[p.ParticipantID] = occupations[dealt%len(occupations)]
		dealt++
	}
	return out
}
