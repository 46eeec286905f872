// Package gateway defines the persistence contract the reconciler depends on.
// Both the PostgreSQL repositories and the in-memory store implement it.
package gateway

import (
	"context"

	"bracket_tracker/ingestion/internal/models"
)

// TeamLedger creates team records and applies point/elimination mutations
type TeamLedger interface {
	// EnsureExists creates the team if it is absent. Blank short codes are ignored.
	EnsureExists(ctx context.Context, team *models.Team) error
	// ApplyProgress sets the live score of a team whose game is not final.
	ApplyProgress(ctx context.Context, season int, shortCode string, liveScore int) error
	// ApplyFinal adds a final score to confirmed points and records the result.
	// It must run at most once per game per team.
	ApplyFinal(ctx context.Context, season int, shortCode string, won bool, score int, eliminatedOn string) error
	Get(ctx context.Context, season int, shortCode string) (*models.Team, error)
	// List returns the season's teams ordered by seed ascending
	List(ctx context.Context, season int) ([]*models.Team, error)
}

// GameTracker creates game records and tracks whether their final score was applied
type GameTracker interface {
	EnsureExists(ctx context.Context, game *models.Game) error
	IsFinalProcessed(ctx context.Context, season int, externalID string) (bool, error)
	MarkFinalProcessed(ctx context.Context, season int, externalID string) error
	Get(ctx context.Context, season int, externalID string) (*models.Game, error)
}

// Gateway is the persistence gateway injected into the reconciler
type Gateway interface {
	Teams() TeamLedger
	Games() GameTracker
	// InTx runs fn against a transactional view of the gateway.
	// Changes made through that view are committed only if fn returns nil.
	InTx(ctx context.Context, fn func(Gateway) error) error
}
