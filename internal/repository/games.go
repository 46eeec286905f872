package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bracket_tracker/ingestion/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// GameRepository handles game database operations
type GameRepository struct {
	q querier
}

// EnsureExists creates the game with final_score_processed=false unless it already exists
func (r *GameRepository) EnsureExists(ctx context.Context, game *models.Game) error {
	start := time.Now()
	ids, err := lookupIDs(ctx, r.q, "games", gameKey(game.Season, game.ExternalID),
		`SELECT id FROM games WHERE external_id = $1 AND season = $2 ORDER BY id ASC`,
		game.ExternalID, game.Season,
	)
	if err != nil {
		return observe("select", "games", start, err)
	}
	if len(ids) == 1 {
		game.ID = ids[0]
		return observe("select", "games", start, nil)
	}

	query := `
		INSERT INTO games (external_id, season, round, start_date, final_score_processed)
		VALUES ($1, $2, $3, $4, false)
		ON CONFLICT (external_id, season) DO NOTHING
		RETURNING id, created_at, updated_at
	`

	err = r.q.QueryRow(ctx, query, game.ExternalID, game.Season, game.Round, game.StartDate).
		Scan(&game.ID, &game.CreatedAt, &game.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		log.Debug().Str("game_id", game.ExternalID).Int("season", game.Season).Msg("Game already created concurrently")
		return observe("insert", "games", start, nil)
	}
	if err != nil {
		return observe("insert", "games", start, fmt.Errorf("failed to create game: %w", err))
	}

	game.FinalScoreProcessed = false

	log.Debug().
		Int("id", game.ID).
		Str("game_id", game.ExternalID).
		Str("round", game.Round).
		Int("season", game.Season).
		Msg("Game created")

	return observe("insert", "games", start, nil)
}

// IsFinalProcessed reports whether the game's final score was already applied.
// Inside a transaction the row stays locked until commit, serializing finalizers.
func (r *GameRepository) IsFinalProcessed(ctx context.Context, season int, externalID string) (bool, error) {
	start := time.Now()
	rows, err := r.q.Query(ctx,
		`SELECT final_score_processed FROM games WHERE external_id = $1 AND season = $2 ORDER BY id ASC FOR UPDATE`,
		externalID, season,
	)
	if err != nil {
		return false, observe("select", "games", start, fmt.Errorf("failed to read game flag: %w", err))
	}
	flags, err := pgx.CollectRows(rows, pgx.RowTo[bool])
	if err != nil {
		return false, observe("select", "games", start, fmt.Errorf("failed to scan game flag: %w", err))
	}

	switch {
	case len(flags) > 1:
		return false, observe("select", "games", start, &models.DuplicateKeyError{Table: "games", Key: gameKey(season, externalID), Count: len(flags)})
	case len(flags) == 0:
		return false, observe("select", "games", start, nil)
	}

	return flags[0], observe("select", "games", start, nil)
}

// MarkFinalProcessed closes the game. There is no way back to false.
func (r *GameRepository) MarkFinalProcessed(ctx context.Context, season int, externalID string) error {
	start := time.Now()
	query := `
		UPDATE games
		SET final_score_processed = true, updated_at = NOW()
		WHERE external_id = $1 AND season = $2
	`

	result, err := r.q.Exec(ctx, query, externalID, season)
	if err != nil {
		return observe("update", "games", start, fmt.Errorf("failed to close game: %w", err))
	}
	if result.RowsAffected() == 0 {
		return observe("update", "games", start, fmt.Errorf("game %s: %w", gameKey(season, externalID), models.ErrNotFound))
	}

	log.Debug().Str("game_id", externalID).Int("season", season).Msg("Game closed")
	return observe("update", "games", start, nil)
}

// Get retrieves a game by its natural key
func (r *GameRepository) Get(ctx context.Context, season int, externalID string) (*models.Game, error) {
	start := time.Now()
	query := `
		SELECT id, external_id, season, round, start_date, final_score_processed, created_at, updated_at
		FROM games
		WHERE external_id = $1 AND season = $2
		ORDER BY id ASC
	`

	rows, err := r.q.Query(ctx, query, externalID, season)
	if err != nil {
		return nil, observe("select", "games", start, fmt.Errorf("failed to get game: %w", err))
	}
	defer rows.Close()

	var games []*models.Game
	for rows.Next() {
		var game models.Game
		if err := rows.Scan(
			&game.ID, &game.ExternalID, &game.Season, &game.Round, &game.StartDate,
			&game.FinalScoreProcessed, &game.CreatedAt, &game.UpdatedAt,
		); err != nil {
			return nil, observe("select", "games", start, fmt.Errorf("failed to scan game: %w", err))
		}
		games = append(games, &game)
	}
	if err := rows.Err(); err != nil {
		return nil, observe("select", "games", start, fmt.Errorf("error iterating games: %w", err))
	}

	switch {
	case len(games) == 0:
		return nil, observe("select", "games", start, fmt.Errorf("game %s: %w", gameKey(season, externalID), models.ErrNotFound))
	case len(games) > 1:
		return nil, observe("select", "games", start, &models.DuplicateKeyError{Table: "games", Key: gameKey(season, externalID), Count: len(games)})
	}

	return games[0], observe("select", "games", start, nil)
}

func gameKey(season int, externalID string) string {
	return fmt.Sprintf("%d/%s", season, externalID)
}
