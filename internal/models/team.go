package models

import (
	"time"
)

// MaxShortCodeLength is the widest short code the feed emits (its "char6" field)
const MaxShortCodeLength = 7

// Team represents a tournament team tracked for one season
type Team struct {
	ID               int       `db:"id" json:"-"`
	ShortCode        string    `db:"short_code" json:"shortCode"`
	FullName         string    `db:"full_name" json:"fullName"`
	DisplayName      string    `db:"display_name" json:"displayName"`
	Seed             int       `db:"seed" json:"seed"`
	InTournament     bool      `db:"in_tournament" json:"inTournament"`
	EliminatedOn     string    `db:"eliminated_on" json:"eliminatedOn"`
	ConfirmedPoints  int       `db:"confirmed_points" json:"confirmedPoints"`
	InProgressPoints int       `db:"in_progress_points" json:"inProgressPoints"`
	Season           int       `db:"season" json:"season"`
	CreatedAt        time.Time `db:"created_at" json:"-"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

// NewTeam builds a fresh, still-active team record for first sighting in the feed
func NewTeam(season int, side RawTeam) *Team {
	return &Team{
		ShortCode:    side.ShortCode(),
		FullName:     side.Names.Full,
		DisplayName:  side.Names.Short,
		Seed:         side.SeedNumber(),
		InTournament: true,
		Season:       season,
	}
}

// HasCode reports whether the team carries a persistable short code:
// non-blank and at most MaxShortCodeLength bytes
func (t *Team) HasCode() bool {
	return t.ShortCode != "" && len(t.ShortCode) <= MaxShortCodeLength
}

// IsEliminated returns true once the team's elimination has been recorded
func (t *Team) IsEliminated() bool {
	return !t.InTournament && t.EliminatedOn != ""
}

// TotalPoints is the confirmed total plus any live points from an unfinished game
func (t *Team) TotalPoints() int {
	return t.ConfirmedPoints + t.InProgressPoints
}
