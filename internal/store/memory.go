// Package store provides an in-memory implementation of the persistence gateway.
// It backs unit tests and local dry runs (STORE_DRIVER=memory).
package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"bracket_tracker/ingestion/internal/gateway"
	"bracket_tracker/ingestion/internal/models"
)

// MemoryStore keeps teams and games in thread-safe maps keyed by their natural keys.
// Rows are kept as slices so that corrupt data loaded with LoadTeams/LoadGames
// surfaces as a DuplicateKeyError exactly like the database would.
type MemoryStore struct {
	mu     sync.RWMutex
	txMu   sync.Mutex
	teams  map[string][]*models.Team
	games  map[string][]*models.Game
	nextID int
	now    func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		teams: make(map[string][]*models.Team),
		games: make(map[string][]*models.Game),
		now:   time.Now,
	}
}

var _ gateway.Gateway = (*MemoryStore)(nil)

// Teams returns the team ledger
func (s *MemoryStore) Teams() gateway.TeamLedger {
	return &teamLedger{view: &view{s: s}}
}

// Games returns the game tracker
func (s *MemoryStore) Games() gateway.GameTracker {
	return &gameTracker{view: &view{s: s}}
}

// InTx runs fn with a journaled view of the store. Transactions are serialized,
// and every mutation made through the view is undone if fn fails.
func (s *MemoryStore) InTx(ctx context.Context, fn func(gateway.Gateway) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	var undo []func()
	if err := fn(&view{s: s, undo: &undo}); err != nil {
		s.mu.Lock()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Health always succeeds for the memory store
func (s *MemoryStore) Health(ctx context.Context) error {
	return ctx.Err()
}

// Reset removes every team and game of a season
func (s *MemoryStore) Reset(ctx context.Context, season int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := fmt.Sprintf("%d/", season)
	for key := range s.teams {
		if strings.HasPrefix(key, prefix) {
			delete(s.teams, key)
		}
	}
	for key := range s.games {
		if strings.HasPrefix(key, prefix) {
			delete(s.games, key)
		}
	}
	return nil
}

// LoadTeams appends team rows verbatim, without the uniqueness check EnsureExists applies.
func (s *MemoryStore) LoadTeams(teams ...models.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range teams {
		row := t
		s.nextID++
		row.ID = s.nextID
		key := teamKey(row.Season, row.ShortCode)
		s.teams[key] = append(s.teams[key], &row)
	}
}

// LoadGames appends game rows verbatim, without the uniqueness check EnsureExists applies.
func (s *MemoryStore) LoadGames(games ...models.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range games {
		row := g
		s.nextID++
		row.ID = s.nextID
		key := gameKey(row.Season, row.ExternalID)
		s.games[key] = append(s.games[key], &row)
	}
}

// view is the store as seen by one caller. A non-nil undo journal marks a transaction.
type view struct {
	s    *MemoryStore
	undo *[]func()
}

func (v *view) Teams() gateway.TeamLedger  { return &teamLedger{view: v} }
func (v *view) Games() gateway.GameTracker { return &gameTracker{view: v} }

func (v *view) InTx(ctx context.Context, fn func(gateway.Gateway) error) error {
	if v.undo == nil {
		return v.s.InTx(ctx, fn)
	}
	// Nested transactions join the outer one
	return fn(v)
}

// record journals an undo step. Must be called with s.mu held.
func (v *view) record(step func()) {
	if v.undo != nil {
		*v.undo = append(*v.undo, step)
	}
}

type teamLedger struct {
	*view
}

func (l *teamLedger) EnsureExists(ctx context.Context, team *models.Team) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !team.HasCode() {
		return nil
	}

	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := teamKey(team.Season, team.ShortCode)
	rows := s.teams[key]
	switch {
	case len(rows) > 1:
		return &models.DuplicateKeyError{Table: "teams", Key: key, Count: len(rows)}
	case len(rows) == 1:
		team.ID = rows[0].ID
		return nil
	}

	now := s.now()
	s.nextID++
	row := &models.Team{
		ID:           s.nextID,
		ShortCode:    team.ShortCode,
		FullName:     team.FullName,
		DisplayName:  team.DisplayName,
		Seed:         team.Seed,
		InTournament: true,
		Season:       team.Season,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.teams[key] = []*models.Team{row}
	l.record(func() { delete(s.teams, key) })

	*team = *row
	return nil
}

func (l *teamLedger) ApplyProgress(ctx context.Context, season int, shortCode string, liveScore int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.team(season, shortCode)
	if err != nil {
		return err
	}

	prev := *row
	row.InProgressPoints = liveScore
	row.UpdatedAt = s.now()
	l.record(func() { *row = prev })
	return nil
}

func (l *teamLedger) ApplyFinal(ctx context.Context, season int, shortCode string, won bool, score int, eliminatedOn string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.team(season, shortCode)
	if err != nil {
		return err
	}

	if won {
		eliminatedOn = ""
	}

	prev := *row
	row.ConfirmedPoints += score
	row.InTournament = won
	row.EliminatedOn = eliminatedOn
	row.InProgressPoints = 0
	row.UpdatedAt = s.now()
	l.record(func() { *row = prev })
	return nil
}

func (l *teamLedger) Get(ctx context.Context, season int, shortCode string) (*models.Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := l.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, err := s.team(season, shortCode)
	if err != nil {
		return nil, err
	}
	team := *row
	return &team, nil
}

func (l *teamLedger) List(ctx context.Context, season int) ([]*models.Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := l.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var teams []*models.Team
	for _, rows := range s.teams {
		for _, row := range rows {
			if row.Season != season {
				continue
			}
			team := *row
			teams = append(teams, &team)
		}
	}

	slices.SortFunc(teams, func(a, b *models.Team) int {
		if a.Seed != b.Seed {
			return a.Seed - b.Seed
		}
		return strings.Compare(a.ShortCode, b.ShortCode)
	})
	return teams, nil
}

type gameTracker struct {
	*view
}

func (g *gameTracker) EnsureExists(ctx context.Context, game *models.Game) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := gameKey(game.Season, game.ExternalID)
	rows := s.games[key]
	switch {
	case len(rows) > 1:
		return &models.DuplicateKeyError{Table: "games", Key: key, Count: len(rows)}
	case len(rows) == 1:
		game.ID = rows[0].ID
		return nil
	}

	now := s.now()
	s.nextID++
	row := &models.Game{
		ID:         s.nextID,
		ExternalID: game.ExternalID,
		Season:     game.Season,
		Round:      game.Round,
		StartDate:  game.StartDate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.games[key] = []*models.Game{row}
	g.record(func() { delete(s.games, key) })

	*game = *row
	return nil
}

func (g *gameTracker) IsFinalProcessed(ctx context.Context, season int, externalID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s := g.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := gameKey(season, externalID)
	rows := s.games[key]
	switch {
	case len(rows) > 1:
		return false, &models.DuplicateKeyError{Table: "games", Key: key, Count: len(rows)}
	case len(rows) == 0:
		return false, nil
	}
	return rows[0].FinalScoreProcessed, nil
}

func (g *gameTracker) MarkFinalProcessed(ctx context.Context, season int, externalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := g.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := gameKey(season, externalID)
	rows := s.games[key]
	if len(rows) == 0 {
		return fmt.Errorf("game %s: %w", key, models.ErrNotFound)
	}
	for _, row := range rows {
		prev := *row
		row.FinalScoreProcessed = true
		row.UpdatedAt = s.now()
		g.record(func() { *row = prev })
	}
	return nil
}

func (g *gameTracker) Get(ctx context.Context, season int, externalID string) (*models.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := g.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := gameKey(season, externalID)
	rows := s.games[key]
	switch {
	case len(rows) == 0:
		return nil, fmt.Errorf("game %s: %w", key, models.ErrNotFound)
	case len(rows) > 1:
		return nil, &models.DuplicateKeyError{Table: "games", Key: key, Count: len(rows)}
	}
	game := *rows[0]
	return &game, nil
}

// team returns the single row for a key. Must be called with s.mu held.
func (s *MemoryStore) team(season int, shortCode string) (*models.Team, error) {
	key := teamKey(season, shortCode)
	rows := s.teams[key]
	switch {
	case len(rows) == 0:
		return nil, fmt.Errorf("team %s: %w", key, models.ErrNotFound)
	case len(rows) > 1:
		return nil, &models.DuplicateKeyError{Table: "teams", Key: key, Count: len(rows)}
	}
	return rows[0], nil
}

func teamKey(season int, shortCode string) string {
	return fmt.Sprintf("%d/%s", season, shortCode)
}

func gameKey(season int, externalID string) string {
	return fmt.Sprintf("%d/%s", season, externalID)
}
