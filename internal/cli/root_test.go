package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bracket_tracker/ingestion/internal/app"
	"bracket_tracker/ingestion/internal/config"
	"bracket_tracker/ingestion/internal/reconciler"
	"bracket_tracker/ingestion/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const finalScoreboard = `{
  "games": [
    {
      "game": {
        "url": "/game/6221548",
        "bracketRound": "First Round",
        "finalMessage": "FINAL",
        "gameState": "final",
        "startDate": "03-21-2024",
        "home": {"score": "70", "seed": "1", "winner": true, "names": {"char6": "UCONN", "short": "UConn"}},
        "away": {"score": "65", "seed": "16", "winner": false, "names": {"char6": "STETSN", "short": "Stetson"}}
      }
    }
  ]
}`

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "bracketctl", cmd.Use)
	assert.Contains(t, cmd.Long, "backfill")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"reconcile", "backfill", "teams", "reset", "migrate"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestBackfillCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	backfillCmd, _, err := cmd.Find([]string{"backfill"})
	require.NoError(t, err)

	for _, name := range []string{"year", "month", "from", "to"} {
		assert.NotNil(t, backfillCmd.Flags().Lookup(name), name)
	}
}

// testEnv points the CLI at a fake feed and a shared in-memory store
func testEnv(t *testing.T, body string) (*store.MemoryStore, *int) {
	t.Helper()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	t.Setenv("STORE_DRIVER", config.StoreDriverMemory)
	t.Setenv("FEED_BASE_URL", srv.URL)
	t.Setenv("FEED_MAX_RETRIES", "0")
	t.Setenv("APP_ENV", "test")
	t.Setenv("LOG_LEVEL", "error")

	return store.NewMemoryStore(), &calls
}

func run(t *testing.T, st *store.MemoryStore, args ...string) (string, error) {
	t.Helper()

	opts := &RootOptions{
		OpenStore: func(ctx context.Context, cfg *config.Config) (app.Store, func(), error) {
			return st, func() {}, nil
		},
	}
	cmd := newRootCommand(opts)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReconcileCommand(t *testing.T) {
	st, calls := testEnv(t, finalScoreboard)

	out, err := run(t, st, "reconcile", "--date", "2024-03-21")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-03-21")
	assert.Contains(t, out, "finalized=1")
	assert.Equal(t, 1, *calls)

	uconn, err := st.Teams().Get(context.Background(), 2024, "UCONN")
	require.NoError(t, err)
	assert.Equal(t, 70, uconn.ConfirmedPoints)

	// Re-running the same day changes nothing
	out, err = run(t, st, "--format", "json", "reconcile", "--date", "2024-03-21")
	require.NoError(t, err)

	var summary reconciler.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 0, summary.Finalized)
	assert.Equal(t, 1, summary.AlreadyClosed)
	assert.False(t, summary.Mutated())
}

func TestReconcileCommand_InvalidDate(t *testing.T) {
	st, calls := testEnv(t, finalScoreboard)

	_, err := run(t, st, "reconcile", "--date", "03/21/2024")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--date")
	assert.Equal(t, 0, *calls)
}

func TestBackfillCommand(t *testing.T) {
	st, calls := testEnv(t, finalScoreboard)

	out, err := run(t, st, "backfill", "--year", "2024", "--month", "3", "--from", "21", "--to", "23")
	require.NoError(t, err)
	assert.Equal(t, 3, *calls)
	// The same game is served every day but only finalized once
	assert.Contains(t, out, "finalized=1")
	assert.Contains(t, out, "already_closed=2")

	_, err = run(t, st, "backfill", "--year", "2024", "--month", "13", "--from", "1", "--to", "2")
	assert.Error(t, err)
}

func TestTeamsCommand(t *testing.T) {
	st, _ := testEnv(t, finalScoreboard)

	_, err := run(t, st, "reconcile", "--date", "2024-03-21")
	require.NoError(t, err)

	out, err := run(t, st, "teams", "--season", "2024")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "SEED")
	assert.Contains(t, lines[1], "UCONN")
	assert.Contains(t, lines[2], "STETSN")
	assert.Contains(t, lines[2], "2024-03-21")
}

func TestResetCommand(t *testing.T) {
	st, _ := testEnv(t, finalScoreboard)

	_, err := run(t, st, "reconcile", "--date", "2024-03-21")
	require.NoError(t, err)

	_, err = run(t, st, "reset", "--season", "2024")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out, err := run(t, st, "reset", "--season", "2024", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "season 2024 reset")

	teams, err := st.Teams().List(context.Background(), 2024)
	require.NoError(t, err)
	assert.Empty(t, teams)
}

func TestMigrateCommand_RequiresPostgres(t *testing.T) {
	st, _ := testEnv(t, finalScoreboard)

	_, err := run(t, st, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
}

func TestInvalidFormat(t *testing.T) {
	st, _ := testEnv(t, finalScoreboard)

	_, err := run(t, st, "--format", "yaml", "teams")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
