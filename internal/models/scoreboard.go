package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Date layouts used by the scoreboard feed and by persisted elimination dates
const (
	FeedDateLayout   = "01-02-2006"
	StoredDateLayout = "2006-01-02"
)

// Scoreboard is the top-level payload of one day's scoreboard.json
type Scoreboard struct {
	Games []ScoreboardEntry `json:"games"`
}

// ScoreboardEntry wraps each game the way the feed nests it
type ScoreboardEntry struct {
	Game RawGame `json:"game"`
}

// RawGames unwraps the scoreboard entries
func (s *Scoreboard) RawGames() []RawGame {
	games := make([]RawGame, 0, len(s.Games))
	for _, entry := range s.Games {
		games = append(games, entry.Game)
	}
	return games
}

// RawGame is a single game record as the feed reports it
type RawGame struct {
	GameID        string  `json:"gameID"`
	URL           string  `json:"url"`
	BracketRound  string  `json:"bracketRound"`
	FinalMessage  string  `json:"finalMessage"`
	GameState     string  `json:"gameState"`
	CurrentPeriod string  `json:"currentPeriod"`
	StartDate     string  `json:"startDate"`
	StartTime     string  `json:"startTime"`
	Home          RawTeam `json:"home"`
	Away          RawTeam `json:"away"`
}

// RawTeam is one side of a feed game
type RawTeam struct {
	Score       FlexString `json:"score"`
	Seed        FlexString `json:"seed"`
	Winner      bool       `json:"winner"`
	Description string     `json:"description"`
	Names       TeamNames  `json:"names"`
}

// TeamNames holds the feed's naming variants for a team
type TeamNames struct {
	Char6 string `json:"char6"`
	Short string `json:"short"`
	SEO   string `json:"seo"`
	Full  string `json:"full"`
}

// FlexString accepts a JSON string, number or null
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(data))
	}
	*f = FlexString(n.String())
	return nil
}

// ShortCode returns the trimmed natural key of the team, possibly blank
func (t RawTeam) ShortCode() string {
	return strings.TrimSpace(t.Names.Char6)
}

// SeedNumber returns the bracket seed, or 0 when the feed has none yet
func (t RawTeam) SeedNumber() int {
	seed, err := strconv.Atoi(strings.TrimSpace(string(t.Seed)))
	if err != nil || seed < 0 {
		return 0
	}
	return seed
}

// Points parses the team's current score. A blank score (game not started) is 0.
func (t RawTeam) Points() (int, error) {
	raw := strings.TrimSpace(string(t.Score))
	if raw == "" {
		return 0, nil
	}
	points, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ParseError{Field: "score", Value: raw, Err: err}
	}
	if points < 0 {
		return 0, &ParseError{Field: "score", Value: raw, Err: fmt.Errorf("negative score")}
	}
	return points, nil
}

// ExternalID derives the game identifier from the canonical game URL ("/game/6221548")
func (g RawGame) ExternalID() (string, error) {
	parts := strings.Split(g.URL, "/")
	if len(parts) < 3 {
		return "", &ParseError{Field: "url", Value: g.URL, Err: fmt.Errorf("missing game segment")}
	}
	id := strings.TrimSpace(parts[2])
	if id == "" {
		return "", &ParseError{Field: "url", Value: g.URL, Err: fmt.Errorf("empty game segment")}
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return "", &ParseError{Field: "url", Value: g.URL, Err: err}
	}
	return id, nil
}

// Status normalizes the feed's game state and final message.
// Only the leading token of the final message is considered, so "FINAL (OT)" is final.
func (g RawGame) Status() Status {
	if fields := strings.Fields(g.FinalMessage); len(fields) > 0 && strings.EqualFold(fields[0], string(StatusFinal)) {
		return StatusFinal
	}
	if strings.EqualFold(strings.TrimSpace(g.GameState), "pre") {
		return StatusPre
	}
	return StatusLive
}

// EliminationDate converts the game's start date into the stored date format.
// A missing or unparseable start date is a ParseError; no default is guessed.
func (g RawGame) EliminationDate() (string, error) {
	raw := strings.TrimSpace(g.StartDate)
	if raw == "" {
		return "", &ParseError{Field: "startDate", Value: raw, Err: fmt.Errorf("missing start date")}
	}
	for _, layout := range []string{FeedDateLayout, StoredDateLayout} {
		if day, err := time.Parse(layout, raw); err == nil {
			return day.Format(StoredDateLayout), nil
		}
	}
	return "", &ParseError{Field: "startDate", Value: raw, Err: fmt.Errorf("unrecognized date format")}
}

// HomeWon decides the winner of a final game: the explicit winner flag when exactly
// one side carries it, otherwise the higher score.
func (g RawGame) HomeWon() (bool, error) {
	if g.Home.Winner != g.Away.Winner {
		return g.Home.Winner, nil
	}
	home, err := g.Home.Points()
	if err != nil {
		return false, err
	}
	away, err := g.Away.Points()
	if err != nil {
		return false, err
	}
	if home == away {
		return false, &ParseError{
			Field: "score",
			Value: fmt.Sprintf("%d-%d", home, away),
			Err:   fmt.Errorf("final game has no winner"),
		}
	}
	return home > away, nil
}
