// Package reconciler turns scoreboard snapshots into team and game state.
//
// Each tracked game is either open (final score not yet applied) or closed.
// Open games get their live scores written to both teams' in-progress points
// on every poll. The first poll that sees an open game as FINAL adds both
// scores to the teams' confirmed points, eliminates the loser and closes the
// game, all in one transaction. Closed games are never touched again, so
// reconciling the same snapshot any number of times converges on one state.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bracket_tracker/ingestion/internal/gateway"
	"bracket_tracker/ingestion/internal/metrics"
	"bracket_tracker/ingestion/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Actions reported per game
const (
	ActionProgressed    = "progressed"
	ActionFinalized     = "finalized"
	ActionAlreadyClosed = "already_closed"
)

// Feed fetches one calendar day of scoreboard games
type Feed interface {
	FetchDay(ctx context.Context, year, month, day int) ([]models.RawGame, error)
}

// Summary counts what one reconcile pass did
type Summary struct {
	Date          string `json:"date,omitempty"`
	Seen          int    `json:"seen"`
	Filtered      int    `json:"filtered"`
	Created       int    `json:"created"`
	Progressed    int    `json:"progressed"`
	Finalized     int    `json:"finalized"`
	AlreadyClosed int    `json:"alreadyClosed"`
}

// Mutated reports whether the pass changed any persisted state
func (s Summary) Mutated() bool {
	return s.Created > 0 || s.Progressed > 0 || s.Finalized > 0
}

// Add accumulates another pass into s
func (s *Summary) Add(other Summary) {
	s.Seen += other.Seen
	s.Filtered += other.Filtered
	s.Created += other.Created
	s.Progressed += other.Progressed
	s.Finalized += other.Finalized
	s.AlreadyClosed += other.AlreadyClosed
}

// Reconciler applies feed snapshots to the persistence gateway
type Reconciler struct {
	feed    Feed
	gw      gateway.Gateway
	filter  *RoundFilter
	workers int
	locks   *keyedMutex
}

// Option customizes a Reconciler
type Option func(*Reconciler)

// WithRounds replaces the tracked round labels
func WithRounds(rounds []string) Option {
	return func(r *Reconciler) { r.filter = NewRoundFilter(rounds) }
}

// WithWorkers sets how many games of one snapshot are processed concurrently
func WithWorkers(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.workers = n
		}
	}
}

// New creates a Reconciler over the given feed and gateway
func New(feed Feed, gw gateway.Gateway, opts ...Option) *Reconciler {
	r := &Reconciler{
		feed:    feed,
		gw:      gw,
		filter:  NewRoundFilter(nil),
		workers: 1,
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReconcileDate reconciles the scoreboard of t's calendar day
func (r *Reconciler) ReconcileDate(ctx context.Context, t time.Time) (Summary, error) {
	return r.ReconcileDay(ctx, t.Year(), int(t.Month()), t.Day())
}

// ReconcileDay fetches one day's scoreboard and reconciles every tracked game.
// The season is the calendar year. The first failing game cancels the rest.
func (r *Reconciler) ReconcileDay(ctx context.Context, year, month, day int) (Summary, error) {
	summary := Summary{Date: fmt.Sprintf("%04d-%02d-%02d", year, month, day)}

	raw, err := r.feed.FetchDay(ctx, year, month, day)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch scoreboard %s: %w", summary.Date, err)
	}

	games, dropped := r.filter.Apply(raw)
	summary.Seen = len(raw)
	summary.Filtered = dropped

	results := make([]outcome, len(games))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i, game := range games {
		i, game := i, game
		g.Go(func() error {
			res, err := r.reconcileGame(gctx, year, game)
			results[i] = res
			if err != nil {
				return fmt.Errorf("game %s: %w", game.ID, err)
			}
			return nil
		})
	}
	err = g.Wait()

	for _, res := range results {
		if res.created {
			summary.Created++
		}
		switch res.action {
		case ActionProgressed:
			summary.Progressed++
		case ActionFinalized:
			summary.Finalized++
		case ActionAlreadyClosed:
			summary.AlreadyClosed++
		}
	}

	metrics.RecordGames(ActionProgressed, summary.Progressed)
	metrics.RecordGames(ActionFinalized, summary.Finalized)
	metrics.RecordGames(ActionAlreadyClosed, summary.AlreadyClosed)

	if err != nil {
		return summary, err
	}

	log.Info().
		Str("date", summary.Date).
		Int("seen", summary.Seen).
		Int("filtered", summary.Filtered).
		Int("created", summary.Created).
		Int("progressed", summary.Progressed).
		Int("finalized", summary.Finalized).
		Int("already_closed", summary.AlreadyClosed).
		Msg("Scoreboard reconciled")

	return summary, nil
}

// ReconcileRange reconciles days fromDay..toDay of one month in order,
// stopping at the first error.
func (r *Reconciler) ReconcileRange(ctx context.Context, year, month, fromDay, toDay int) (Summary, error) {
	var total Summary
	if fromDay > toDay {
		return total, fmt.Errorf("invalid day range %d..%d", fromDay, toDay)
	}

	for day := fromDay; day <= toDay; day++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		summary, err := r.ReconcileDay(ctx, year, month, day)
		total.Add(summary)
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

type outcome struct {
	created bool
	action  string
}

// plan is everything derived from a feed game before any write happens
type plan struct {
	season    int
	id        string
	status    models.Status
	home      side
	away      side
	homeWon   bool
	eliminate string
}

type side struct {
	team  *models.Team
	score int
}

func (r *Reconciler) reconcileGame(ctx context.Context, season int, f Filtered) (outcome, error) {
	p, err := newPlan(season, f)
	if err != nil {
		return outcome{}, err
	}

	unlock := r.locks.Lock(p.lockKeys()...)
	defer unlock()

	var out outcome
	out.created, err = r.ensureRecords(ctx, p, f.Game)
	if err != nil {
		return out, err
	}

	if p.status == models.StatusFinal {
		out.action, err = r.finalize(ctx, p)
	} else {
		out.action, err = r.progress(ctx, p)
	}
	if err != nil {
		return out, err
	}

	log.Debug().
		Str("game_id", p.id).
		Int("season", season).
		Str("status", p.status.String()).
		Str("action", out.action).
		Msg("Game reconciled")

	return out, nil
}

// newPlan parses scores, winner and elimination date up front so a malformed
// record fails before anything is written.
func newPlan(season int, f Filtered) (*plan, error) {
	g := f.Game
	p := &plan{
		season: season,
		id:     f.ID,
		status: g.Status(),
		home:   side{team: models.NewTeam(season, g.Home)},
		away:   side{team: models.NewTeam(season, g.Away)},
	}

	var err error
	if p.home.score, err = g.Home.Points(); err != nil {
		return nil, err
	}
	if p.away.score, err = g.Away.Points(); err != nil {
		return nil, err
	}

	if p.status == models.StatusFinal {
		if p.homeWon, err = g.HomeWon(); err != nil {
			return nil, err
		}
		if p.eliminate, err = g.EliminationDate(); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *plan) lockKeys() []string {
	keys := []string{fmt.Sprintf("game:%d:%s", p.season, p.id)}
	for _, s := range p.sides() {
		keys = append(keys, fmt.Sprintf("team:%d:%s", p.season, s.team.ShortCode))
	}
	return keys
}

// sides returns the sides that carry a short code
func (p *plan) sides() []side {
	var sides []side
	for _, s := range []side{p.home, p.away} {
		if s.team.HasCode() {
			sides = append(sides, s)
		}
	}
	return sides
}

func (r *Reconciler) ensureRecords(ctx context.Context, p *plan, g models.RawGame) (bool, error) {
	created := false
	_, err := r.gw.Games().Get(ctx, p.season, p.id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		created = true
	case err != nil:
		return false, err
	}

	game := &models.Game{
		ExternalID: p.id,
		Season:     p.season,
		Round:      g.BracketRound,
		StartDate:  g.StartDate,
	}
	if err := r.gw.Games().EnsureExists(ctx, game); err != nil {
		return false, fmt.Errorf("failed to ensure game: %w", err)
	}

	for _, s := range []side{p.home, p.away} {
		if !s.team.HasCode() {
			msg := "Team has no short code, skipping"
			if s.team.ShortCode != "" {
				msg = "Team short code too long, skipping"
			}
			log.Warn().
				Str("game_id", p.id).
				Int("season", p.season).
				Str("team", s.team.FullName).
				Str("code", s.team.ShortCode).
				Msg(msg)
			continue
		}
		if err := r.gw.Teams().EnsureExists(ctx, s.team); err != nil {
			return created, fmt.Errorf("failed to ensure team %s: %w", s.team.ShortCode, err)
		}
	}

	return created, nil
}

// progress writes live scores unless the game was already closed
func (r *Reconciler) progress(ctx context.Context, p *plan) (string, error) {
	action := ActionProgressed
	err := r.gw.InTx(ctx, func(tx gateway.Gateway) error {
		closed, err := tx.Games().IsFinalProcessed(ctx, p.season, p.id)
		if err != nil {
			return err
		}
		if closed {
			action = ActionAlreadyClosed
			return nil
		}

		for _, s := range p.sides() {
			if err := tx.Teams().ApplyProgress(ctx, p.season, s.team.ShortCode, s.score); err != nil {
				return fmt.Errorf("failed to apply progress to %s: %w", s.team.ShortCode, err)
			}
		}
		return nil
	})
	return action, err
}

// finalize converts the final score into confirmed points exactly once
func (r *Reconciler) finalize(ctx context.Context, p *plan) (string, error) {
	action := ActionFinalized
	err := r.gw.InTx(ctx, func(tx gateway.Gateway) error {
		closed, err := tx.Games().IsFinalProcessed(ctx, p.season, p.id)
		if err != nil {
			return err
		}
		if closed {
			action = ActionAlreadyClosed
			return nil
		}

		for _, s := range p.sides() {
			won := p.homeWon == (s.team == p.home.team)
			if err := tx.Teams().ApplyFinal(ctx, p.season, s.team.ShortCode, won, s.score, p.eliminate); err != nil {
				return fmt.Errorf("failed to apply final to %s: %w", s.team.ShortCode, err)
			}
		}

		if err := tx.Games().MarkFinalProcessed(ctx, p.season, p.id); err != nil {
			return fmt.Errorf("failed to close game: %w", err)
		}

		log.Info().
			Str("game_id", p.id).
			Int("season", p.season).
			Str("home", p.home.team.ShortCode).
			Int("home_score", p.home.score).
			Str("away", p.away.team.ShortCode).
			Int("away_score", p.away.score).
			Bool("home_won", p.homeWon).
			Msg("Game finalized")
		return nil
	})
	return action, err
}
