package models

import (
	"time"
)

// Game represents a bracket game and whether its final score has been applied
type Game struct {
	ID                  int       `db:"id"`
	ExternalID          string    `db:"external_id"`
	Season              int       `db:"season"`
	Round               string    `db:"round"`
	StartDate           string    `db:"start_date"`
	FinalScoreProcessed bool      `db:"final_score_processed"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

// IsClosed returns true once the final score has been converted to confirmed points
func (g *Game) IsClosed() bool {
	return g.FinalScoreProcessed
}

// Status is the normalized match status of a feed game
type Status string

const (
	StatusPre   Status = "PRE"
	StatusLive  Status = "LIVE"
	StatusFinal Status = "FINAL"
)

func (s Status) String() string {
	return string(s)
}
