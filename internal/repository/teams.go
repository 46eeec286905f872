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

const teamColumns = `
	id, short_code, full_name, display_name, seed, in_tournament, eliminated_on,
	confirmed_points, in_progress_points, season, created_at, updated_at
`

// TeamRepository handles team database operations
type TeamRepository struct {
	q querier
}

// EnsureExists creates the team unless a row for (short_code, season) already exists.
// The insert is ON CONFLICT DO NOTHING so two writers racing on the same team converge.
func (r *TeamRepository) EnsureExists(ctx context.Context, team *models.Team) error {
	if !team.HasCode() {
		log.Debug().Str("name", team.FullName).Msg("Skipping team without short code")
		return nil
	}

	start := time.Now()
	ids, err := lookupIDs(ctx, r.q, "teams", teamKey(team.Season, team.ShortCode),
		`SELECT id FROM teams WHERE short_code = $1 AND season = $2 ORDER BY id ASC`,
		team.ShortCode, team.Season,
	)
	if err != nil {
		return observe("select", "teams", start, err)
	}
	if len(ids) == 1 {
		team.ID = ids[0]
		return observe("select", "teams", start, nil)
	}

	query := `
		INSERT INTO teams (
			short_code, full_name, display_name, seed, in_tournament, eliminated_on,
			confirmed_points, in_progress_points, season
		) VALUES ($1, $2, $3, $4, true, '', 0, 0, $5)
		ON CONFLICT (short_code, season) DO NOTHING
		RETURNING id, created_at, updated_at
	`

	err = r.q.QueryRow(
		ctx, query,
		team.ShortCode, team.FullName, team.DisplayName, team.Seed, team.Season,
	).Scan(&team.ID, &team.CreatedAt, &team.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race to a concurrent writer; the row exists now
		log.Debug().Str("code", team.ShortCode).Int("season", team.Season).Msg("Team already created concurrently")
		return observe("insert", "teams", start, nil)
	}
	if err != nil {
		return observe("insert", "teams", start, fmt.Errorf("failed to create team: %w", err))
	}

	team.InTournament = true
	team.EliminatedOn = ""
	team.ConfirmedPoints = 0
	team.InProgressPoints = 0

	log.Debug().
		Int("id", team.ID).
		Str("code", team.ShortCode).
		Str("name", team.FullName).
		Int("seed", team.Seed).
		Int("season", team.Season).
		Msg("Team created")

	return observe("insert", "teams", start, nil)
}

// ApplyProgress sets the live score of a team
func (r *TeamRepository) ApplyProgress(ctx context.Context, season int, shortCode string, liveScore int) error {
	start := time.Now()
	query := `
		UPDATE teams
		SET in_progress_points = $1, updated_at = NOW()
		WHERE short_code = $2 AND season = $3
	`

	result, err := r.q.Exec(ctx, query, liveScore, shortCode, season)
	if err != nil {
		return observe("update", "teams", start, fmt.Errorf("failed to update team progress: %w", err))
	}

	switch n := result.RowsAffected(); {
	case n == 0:
		return observe("update", "teams", start, fmt.Errorf("team %s: %w", teamKey(season, shortCode), models.ErrNotFound))
	case n > 1:
		return observe("update", "teams", start, &models.DuplicateKeyError{Table: "teams", Key: teamKey(season, shortCode), Count: int(n)})
	}

	return observe("update", "teams", start, nil)
}

// ApplyFinal adds score to the team's confirmed points and records the match result.
// The read of the current total locks the row for the rest of the transaction.
func (r *TeamRepository) ApplyFinal(ctx context.Context, season int, shortCode string, won bool, score int, eliminatedOn string) error {
	start := time.Now()

	rows, err := r.q.Query(ctx,
		`SELECT confirmed_points FROM teams WHERE short_code = $1 AND season = $2 ORDER BY id ASC FOR UPDATE`,
		shortCode, season,
	)
	if err != nil {
		return observe("select", "teams", start, fmt.Errorf("failed to read confirmed points: %w", err))
	}
	points, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return observe("select", "teams", start, fmt.Errorf("failed to scan confirmed points: %w", err))
	}

	switch {
	case len(points) == 0:
		return observe("select", "teams", start, fmt.Errorf("team %s: %w", teamKey(season, shortCode), models.ErrNotFound))
	case len(points) > 1:
		return observe("select", "teams", start, &models.DuplicateKeyError{Table: "teams", Key: teamKey(season, shortCode), Count: len(points)})
	}

	if won {
		eliminatedOn = ""
	}

	query := `
		UPDATE teams SET
			confirmed_points = $1,
			in_tournament = $2,
			eliminated_on = $3,
			in_progress_points = 0,
			updated_at = NOW()
		WHERE short_code = $4 AND season = $5
	`

	if _, err := r.q.Exec(ctx, query, points[0]+score, won, eliminatedOn, shortCode, season); err != nil {
		return observe("update", "teams", start, fmt.Errorf("failed to finalize team: %w", err))
	}

	log.Debug().
		Str("code", shortCode).
		Int("season", season).
		Bool("won", won).
		Int("score", score).
		Int("confirmed_points", points[0]+score).
		Msg("Team final applied")

	return observe("update", "teams", start, nil)
}

// Get retrieves a team by its natural key
func (r *TeamRepository) Get(ctx context.Context, season int, shortCode string) (*models.Team, error) {
	start := time.Now()
	query := `SELECT ` + teamColumns + ` FROM teams WHERE short_code = $1 AND season = $2 ORDER BY id ASC`

	rows, err := r.q.Query(ctx, query, shortCode, season)
	if err != nil {
		return nil, observe("select", "teams", start, fmt.Errorf("failed to get team: %w", err))
	}
	teams, err := collectTeams(rows)
	if err != nil {
		return nil, observe("select", "teams", start, err)
	}

	switch {
	case len(teams) == 0:
		return nil, observe("select", "teams", start, fmt.Errorf("team %s: %w", teamKey(season, shortCode), models.ErrNotFound))
	case len(teams) > 1:
		return nil, observe("select", "teams", start, &models.DuplicateKeyError{Table: "teams", Key: teamKey(season, shortCode), Count: len(teams)})
	}

	return teams[0], observe("select", "teams", start, nil)
}

// List retrieves all teams of a season ordered by seed
func (r *TeamRepository) List(ctx context.Context, season int) ([]*models.Team, error) {
	start := time.Now()
	query := `SELECT ` + teamColumns + ` FROM teams WHERE season = $1 ORDER BY seed ASC, short_code ASC`

	rows, err := r.q.Query(ctx, query, season)
	if err != nil {
		return nil, observe("select", "teams", start, fmt.Errorf("failed to list teams: %w", err))
	}
	teams, err := collectTeams(rows)
	return teams, observe("select", "teams", start, err)
}

func collectTeams(rows pgx.Rows) ([]*models.Team, error) {
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		var team models.Team
		err := rows.Scan(
			&team.ID, &team.ShortCode, &team.FullName, &team.DisplayName, &team.Seed,
			&team.InTournament, &team.EliminatedOn, &team.ConfirmedPoints,
			&team.InProgressPoints, &team.Season, &team.CreatedAt, &team.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, &team)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating teams: %w", err)
	}

	return teams, nil
}

// lookupIDs returns the ids matching a natural-key query, failing on duplicates
func lookupIDs(ctx context.Context, q querier, table, key, query string, args ...any) ([]int, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", table, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s ids: %w", table, err)
	}
	if len(ids) > 1 {
		return nil, &models.DuplicateKeyError{Table: table, Key: key, Count: len(ids)}
	}
	return ids, nil
}

func teamKey(season int, shortCode string) string {
	return fmt.Sprintf("%d/%s", season, shortCode)
}
