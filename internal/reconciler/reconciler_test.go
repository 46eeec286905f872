package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"bracket_tracker/ingestion/internal/gateway"
	"bracket_tracker/ingestion/internal/models"
	"bracket_tracker/ingestion/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const season = 2024

// fakeFeed serves canned scoreboards keyed by "YYYY-MM-DD"
type fakeFeed struct {
	mu    sync.Mutex
	days  map[string][]models.RawGame
	errs  map[string]error
	calls atomic.Int32
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{days: map[string][]models.RawGame{}, errs: map[string]error{}}
}

func (f *fakeFeed) set(day string, games ...models.RawGame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days[day] = games
}

func (f *fakeFeed) fail(day string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[day] = err
}

func (f *fakeFeed) FetchDay(ctx context.Context, year, month, day int) ([]models.RawGame, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.days[key], nil
}

type teamSide struct {
	code   string
	score  string
	seed   string
	winner bool
}

func rawGame(id, round, state, finalMessage, startDate string, home, away teamSide) models.RawGame {
	toRaw := func(s teamSide) models.RawTeam {
		return models.RawTeam{
			Score:  models.FlexString(s.score),
			Seed:   models.FlexString(s.seed),
			Winner: s.winner,
			Names: models.TeamNames{
				Char6: s.code,
				Short: s.code,
				Full:  s.code + " University",
			},
		}
	}
	return models.RawGame{
		GameID:       id,
		URL:          "/game/" + id,
		BracketRound: round,
		GameState:    state,
		FinalMessage: finalMessage,
		StartDate:    startDate,
		Home:         toRaw(home),
		Away:         toRaw(away),
	}
}

func liveGame(id string, homeCode string, homeScore int, awayCode string, awayScore int) models.RawGame {
	return rawGame(id, "First Round", "live", "2ND HALF", "03-21-2024",
		teamSide{code: homeCode, score: fmt.Sprint(homeScore), seed: "1"},
		teamSide{code: awayCode, score: fmt.Sprint(awayScore), seed: "16"},
	)
}

func finalGame(id string, homeCode string, homeScore int, awayCode string, awayScore int) models.RawGame {
	return rawGame(id, "First Round", "final", "FINAL", "03-21-2024",
		teamSide{code: homeCode, score: fmt.Sprint(homeScore), seed: "1", winner: homeScore > awayScore},
		teamSide{code: awayCode, score: fmt.Sprint(awayScore), seed: "16", winner: awayScore > homeScore},
	)
}

func getTeam(t *testing.T, gw gateway.Gateway, code string) *models.Team {
	t.Helper()
	team, err := gw.Teams().Get(context.Background(), season, code)
	require.NoError(t, err)
	return team
}

func TestReconcileDay_LiveThenFinalThenRepeat(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s)
	ctx := context.Background()

	// Poll 1: live 40-38
	feed.set("2024-03-21", liveGame("6221548", "UCONN", 40, "STETSN", 38))
	summary, err := r.ReconcileDay(ctx, 2024, 3, 21)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Progressed)

	home := getTeam(t, s, "UCONN")
	away := getTeam(t, s, "STETSN")
	assert.Equal(t, 40, home.InProgressPoints)
	assert.Equal(t, 38, away.InProgressPoints)
	assert.Equal(t, 0, home.ConfirmedPoints)
	assert.True(t, home.InTournament)
	assert.True(t, away.InTournament)

	// Poll 2: final 70-65
	feed.set("2024-03-21", finalGame("6221548", "UCONN", 70, "STETSN", 65))
	summary, err = r.ReconcileDay(ctx, 2024, 3, 21)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 1, summary.Finalized)

	home = getTeam(t, s, "UCONN")
	away = getTeam(t, s, "STETSN")
	assert.Equal(t, 70, home.ConfirmedPoints)
	assert.Equal(t, 0, home.InProgressPoints)
	assert.True(t, home.InTournament)
	assert.Empty(t, home.EliminatedOn)
	assert.Equal(t, 65, away.ConfirmedPoints)
	assert.Equal(t, 0, away.InProgressPoints)
	assert.False(t, away.InTournament)
	assert.Equal(t, "2024-03-21", away.EliminatedOn)

	processed, err := s.Games().IsFinalProcessed(ctx, season, "6221548")
	require.NoError(t, err)
	assert.True(t, processed)

	// Poll 3: same final again changes nothing
	summary, err = r.ReconcileDay(ctx, 2024, 3, 21)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Finalized)
	assert.Equal(t, 1, summary.AlreadyClosed)
	assert.False(t, summary.Mutated())

	assert.Equal(t, 70, getTeam(t, s, "UCONN").ConfirmedPoints)
	assert.Equal(t, 65, getTeam(t, s, "STETSN").ConfirmedPoints)
}

func TestReconcileDay_ConfirmedPointsAccumulateAcrossRounds(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s)
	ctx := context.Background()

	feed.set("2024-03-21", finalGame("1", "UCONN", 91, "STETSN", 52))
	_, err := r.ReconcileDay(ctx, 2024, 3, 21)
	require.NoError(t, err)

	second := finalGame("2", "UCONN", 75, "NWSTRN", 58)
	second.BracketRound = "Second Round"
	second.StartDate = "03-23-2024"
	feed.set("2024-03-23", second)
	_, err = r.ReconcileDay(ctx, 2024, 3, 23)
	require.NoError(t, err)

	uconn := getTeam(t, s, "UCONN")
	assert.Equal(t, 166, uconn.ConfirmedPoints)
	assert.True(t, uconn.InTournament)

	nw := getTeam(t, s, "NWSTRN")
	assert.Equal(t, "2024-03-23", nw.EliminatedOn)
}

func TestReconcileDay_FirstFourNeverCreatesRecords(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s)
	ctx := context.Background()

	playIn := finalGame("6221500", "WAGNER", 71, "HOWARD", 68)
	playIn.BracketRound = "First Four&#174;"
	feed.set("2024-03-19", playIn)

	summary, err := r.ReconcileDay(ctx, 2024, 3, 19)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Seen)
	assert.Equal(t, 1, summary.Filtered)

	teams, err := s.Teams().List(ctx, season)
	require.NoError(t, err)
	assert.Empty(t, teams)

	_, err = s.Games().Get(ctx, season, "6221500")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReconcileDay_Idempotent(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s)
	ctx := context.Background()

	feed.set("2024-03-21",
		liveGame("1", "UCONN", 40, "STETSN", 38),
		finalGame("2", "HOU", 86, "LONGWD", 46),
		rawGame("3", "First Round", "pre", "", "03-21-2024",
			teamSide{code: "PURDUE", seed: "1"}, teamSide{code: "GRAMBL", seed: "16"}),
	)

	_, err := r.ReconcileDay(ctx, 2024, 3, 21)
	require.NoError(t, err)
	first, err := s.Teams().List(ctx, season)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := r.ReconcileDay(ctx, 2024, 3, 21)
		require.NoError(t, err)
	}
	again, err := s.Teams().List(ctx, season)
	require.NoError(t, err)

	require.Len(t, again, len(first))
	for i := range first {
		assert.Equal(t, first[i].ShortCode, again[i].ShortCode)
		assert.Equal(t, first[i].ConfirmedPoints, again[i].ConfirmedPoints)
		assert.Equal(t, first[i].InProgressPoints, again[i].InProgressPoints)
		assert.Equal(t, first[i].InTournament, again[i].InTournament)
		assert.Equal(t, first[i].EliminatedOn, again[i].EliminatedOn)
	}

	purdue := getTeam(t, s, "PURDUE")
	assert.Equal(t, 0, purdue.InProgressPoints)
	assert.Equal(t, 1, purdue.Seed)
}

func TestReconcileDay_FinalWithOvertimeSuffix(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s)

	game := finalGame("1", "DUKE", 80, "JMU", 78)
	game.FinalMessage = "final (OT)"
	feed.set("2024-03-21", game)

	summary, err := r.ReconcileDay(context.Background(), 2024, 3, 21)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Finalized)
	assert.False(t, getTeam(t, s, "JMU").InTournament)
}

func TestReconcileDay_WinnerFromScoresWithoutFlag(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s)

	game := rawGame("1", "Sweet 16&#174;", "final", "FINAL", "03-28-2024",
		teamSide{code: "ALA", score: "89", seed: "4"},
		teamSide{code: "UNC", score: "87", seed: "1"},
	)
	feed.set("2024-03-28", game)

	_, err := r.ReconcileDay(context.Background(), 2024, 3, 28)
	require.NoError(t, err)

	assert.True(t, getTeam(t, s, "ALA").InTournament)
	unc := getTeam(t, s, "UNC")
	assert.False(t, unc.InTournament)
	assert.Equal(t, "2024-03-28", unc.EliminatedOn)
}

func TestReconcileDay_DuplicateGameInSnapshot(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s, WithWorkers(4))

	game := finalGame("1", "UCONN", 70, "STETSN", 65)
	feed.set("2024-03-21", game, game)

	summary, err := r.ReconcileDay(context.Background(), 2024, 3, 21)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Finalized)
	assert.Equal(t, 1, summary.AlreadyClosed)
	assert.Equal(t, 70, getTeam(t, s, "UCONN").ConfirmedPoints)
	assert.Equal(t, 65, getTeam(t, s, "STETSN").ConfirmedPoints)
}

func TestReconcileDay_FinalWithoutStartDateIsParseError(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s)
	ctx := context.Background()

	game := finalGame("1", "UCONN", 70, "STETSN", 65)
	game.StartDate = ""
	feed.set("2024-03-21", game)

	_, err := r.ReconcileDay(ctx, 2024, 3, 21)
	var parseErr *models.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "startDate", parseErr.Field)

	teams, err := s.Teams().List(ctx, season)
	require.NoError(t, err)
	assert.Empty(t, teams)

	game.StartDate = "21/03/2024"
	feed.set("2024-03-21", game)
	_, err = r.ReconcileDay(ctx, 2024, 3, 21)
	require.ErrorAs(t, err, &parseErr)
}

func TestReconcileDay_TiedFinalIsParseError(t *testing.T) {
	feed := newFakeFeed()
	r := New(feed, store.NewMemoryStore())

	feed.set("2024-03-21", rawGame("1", "First Round", "final", "FINAL", "03-21-2024",
		teamSide{code: "A", score: "60"}, teamSide{code: "B", score: "60"}))

	_, err := r.ReconcileDay(context.Background(), 2024, 3, 21)
	var parseErr *models.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestReconcileDay_BadScoreIsParseError(t *testing.T) {
	feed := newFakeFeed()
	r := New(feed, store.NewMemoryStore())

	feed.set("2024-03-21", rawGame("1", "First Round", "live", "", "03-21-2024",
		teamSide{code: "A", score: "sixty"}, teamSide{code: "B", score: "12"}))

	_, err := r.ReconcileDay(context.Background(), 2024, 3, 21)
	var parseErr *models.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "score", parseErr.Field)
}

func TestReconcileDay_BlankShortCodeSkipsOnlyThatTeam(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s)
	ctx := context.Background()

	feed.set("2024-03-21", finalGame("1", "UCONN", 70, "  ", 65))

	summary, err := r.ReconcileDay(ctx, 2024, 3, 21)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Finalized)

	teams, err := s.Teams().List(ctx, season)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "UCONN", teams[0].ShortCode)
	assert.Equal(t, 70, teams[0].ConfirmedPoints)
}

func TestReconcileDay_OverlongShortCodeSkipsOnlyThatTeam(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s)
	ctx := context.Background()

	feed.set("2024-03-21", liveGame("1", "CONNECTICUT", 40, "STETSN", 38))
	summary, err := r.ReconcileDay(ctx, 2024, 3, 21)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Progressed)

	feed.set("2024-03-21", finalGame("1", "CONNECTICUT", 70, "STETSN", 65))
	summary, err = r.ReconcileDay(ctx, 2024, 3, 21)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Finalized)

	teams, err := s.Teams().List(ctx, season)
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "STETSN", teams[0].ShortCode)
	assert.Equal(t, 65, teams[0].ConfirmedPoints)
	assert.Equal(t, "2024-03-21", teams[0].EliminatedOn)

	_, err = s.Teams().Get(ctx, season, "CONNECTICUT")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReconcileDay_LiveAfterCloseIsIgnored(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s)
	ctx := context.Background()

	feed.set("2024-03-21", finalGame("1", "UCONN", 70, "STETSN", 65))
	_, err := r.ReconcileDay(ctx, 2024, 3, 21)
	require.NoError(t, err)

	// Feed glitch: game reported live again
	feed.set("2024-03-21", liveGame("1", "UCONN", 12, "STETSN", 10))
	summary, err := r.ReconcileDay(ctx, 2024, 3, 21)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AlreadyClosed)

	uconn := getTeam(t, s, "UCONN")
	assert.Equal(t, 0, uconn.InProgressPoints)
	assert.Equal(t, 70, uconn.ConfirmedPoints)

	stetson := getTeam(t, s, "STETSN")
	assert.Equal(t, "2024-03-21", stetson.EliminatedOn)
}

func TestReconcileDay_DuplicateKeyIsSurfaced(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	s.LoadTeams(
		models.Team{ShortCode: "UCONN", Season: season, InTournament: true},
		models.Team{ShortCode: "UCONN", Season: season, InTournament: true},
	)
	r := New(feed, s)

	feed.set("2024-03-21", liveGame("1", "UCONN", 40, "STETSN", 38))
	_, err := r.ReconcileDay(context.Background(), 2024, 3, 21)

	var dupErr *models.DuplicateKeyError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "teams", dupErr.Table)
}

func TestReconcileDay_FetchErrorPropagates(t *testing.T) {
	feed := newFakeFeed()
	feed.fail("2024-03-21", &models.FetchError{URL: "x", StatusCode: 503, Err: errors.New("down")})
	r := New(feed, store.NewMemoryStore())

	_, err := r.ReconcileDay(context.Background(), 2024, 3, 21)
	var fetchErr *models.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 503, fetchErr.StatusCode)
}

func TestReconcileDay_ConcurrentWorkersNeverDoubleCount(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s, WithWorkers(8))
	ctx := context.Background()

	// Every team plays in two games of the same snapshot, and each game appears twice
	var games []models.RawGame
	for i := 0; i < 16; i++ {
		g := finalGame(fmt.Sprint(1000+i), fmt.Sprintf("T%02d", i), 70, fmt.Sprintf("T%02d", (i+1)%16), 60)
		games = append(games, g, g)
	}
	feed.set("2024-03-21", games...)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.ReconcileDay(ctx, 2024, 3, 21)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	teams, err := s.Teams().List(ctx, season)
	require.NoError(t, err)
	require.Len(t, teams, 16)
	for _, team := range teams {
		// 70 as home in one game, 60 as away in another
		assert.Equal(t, 130, team.ConfirmedPoints, team.ShortCode)
	}
	assert.Zero(t, r.locks.size())
}

func TestReconcileDay_FailedFinalizeRollsBack(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	gw := &flakyGateway{Gateway: s, failures: 1}
	r := New(feed, gw)
	ctx := context.Background()

	feed.set("2024-03-21", finalGame("1", "UCONN", 70, "STETSN", 65))

	_, err := r.ReconcileDay(ctx, 2024, 3, 21)
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 0, getTeam(t, s, "UCONN").ConfirmedPoints)
	assert.True(t, getTeam(t, s, "STETSN").InTournament)

	_, err = r.ReconcileDay(ctx, 2024, 3, 21)
	require.NoError(t, err)
	assert.Equal(t, 70, getTeam(t, s, "UCONN").ConfirmedPoints)
	assert.Equal(t, 65, getTeam(t, s, "STETSN").ConfirmedPoints)
}

func TestReconcileRange(t *testing.T) {
	feed := newFakeFeed()
	s := store.NewMemoryStore()
	r := New(feed, s)
	ctx := context.Background()

	feed.set("2024-03-21", finalGame("1", "UCONN", 91, "STETSN", 52))
	second := finalGame("2", "UCONN", 75, "NWSTRN", 58)
	second.StartDate = "03-23-2024"
	second.BracketRound = "Second Round"
	feed.set("2024-03-23", second)

	total, err := r.ReconcileRange(ctx, 2024, 3, 21, 23)
	require.NoError(t, err)
	assert.Equal(t, 2, total.Finalized)
	assert.Equal(t, int32(3), feed.calls.Load())
	assert.Equal(t, 166, getTeam(t, s, "UCONN").ConfirmedPoints)
}

func TestReconcileRange_StopsAtFirstError(t *testing.T) {
	feed := newFakeFeed()
	r := New(feed, store.NewMemoryStore())

	feed.fail("2024-03-22", &models.FetchError{URL: "x", Err: errors.New("timeout")})

	_, err := r.ReconcileRange(context.Background(), 2024, 3, 21, 25)
	require.Error(t, err)
	assert.Equal(t, int32(2), feed.calls.Load())
}

func TestReconcileRange_InvalidRange(t *testing.T) {
	r := New(newFakeFeed(), store.NewMemoryStore())
	_, err := r.ReconcileRange(context.Background(), 2024, 3, 25, 21)
	assert.Error(t, err)
}

var errFlaky = errors.New("flaky close")

// flakyGateway fails MarkFinalProcessed a fixed number of times
type flakyGateway struct {
	gateway.Gateway
	mu       sync.Mutex
	failures int
}

func (f *flakyGateway) InTx(ctx context.Context, fn func(gateway.Gateway) error) error {
	return f.Gateway.InTx(ctx, func(tx gateway.Gateway) error {
		return fn(&flakyTx{Gateway: tx, parent: f})
	})
}

type flakyTx struct {
	gateway.Gateway
	parent *flakyGateway
}

func (f *flakyTx) Games() gateway.GameTracker {
	return &flakyGames{GameTracker: f.Gateway.Games(), parent: f.parent}
}

type flakyGames struct {
	gateway.GameTracker
	parent *flakyGateway
}

func (f *flakyGames) MarkFinalProcessed(ctx context.Context, season int, externalID string) error {
	f.parent.mu.Lock()
	defer f.parent.mu.Unlock()
	if f.parent.failures > 0 {
		f.parent.failures--
		return errFlaky
	}
	return f.GameTracker.MarkFinalProcessed(ctx, season, externalID)
}
