package reconciler

import (
	"html"
	"strings"

	"bracket_tracker/ingestion/internal/models"

	"github.com/rs/zerolog/log"
)

// DefaultRounds are the bracket rounds tracked for scoring. "First Four" play-in
// games are deliberately absent.
var DefaultRounds = []string{
	"First Round",
	"Second Round",
	"Sweet 16",
	"Elite Eight",
	"Final Four",
	"Championship",
}

// RoundFilter keeps only feed games from tracked bracket rounds with a usable game id
type RoundFilter struct {
	allowed map[string]struct{}
}

// NewRoundFilter builds a filter for the given round labels. Empty input uses DefaultRounds.
func NewRoundFilter(rounds []string) *RoundFilter {
	if len(rounds) == 0 {
		rounds = DefaultRounds
	}
	allowed := make(map[string]struct{}, len(rounds))
	for _, r := range rounds {
		if label := NormalizeRound(r); label != "" {
			allowed[label] = struct{}{}
		}
	}
	return &RoundFilter{allowed: allowed}
}

// NormalizeRound canonicalizes a feed round label: "Sweet 16&#174;" and "sweet 16" compare equal.
func NormalizeRound(label string) string {
	label = html.UnescapeString(label)
	label = strings.NewReplacer("®", "", "™", "").Replace(label)
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// Allows reports whether a round label is tracked
func (f *RoundFilter) Allows(label string) bool {
	_, ok := f.allowed[NormalizeRound(label)]
	return ok
}

// Filtered is a feed game that passed the filter, with its derived identifier
type Filtered struct {
	ID   string
	Game models.RawGame
}

// Apply returns the tracked games in feed order and the number dropped
func (f *RoundFilter) Apply(games []models.RawGame) ([]Filtered, int) {
	kept := make([]Filtered, 0, len(games))
	dropped := 0

	for _, g := range games {
		if !f.Allows(g.BracketRound) {
			log.Debug().
				Str("round", g.BracketRound).
				Str("url", g.URL).
				Msg("Skipping game outside tracked rounds")
			dropped++
			continue
		}

		id, err := g.ExternalID()
		if err != nil {
			log.Debug().
				Err(err).
				Str("round", g.BracketRound).
				Msg("Skipping game without usable id")
			dropped++
			continue
		}

		kept = append(kept, Filtered{ID: id, Game: g})
	}

	return kept, dropped
}
