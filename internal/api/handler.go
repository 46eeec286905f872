// Package api serves the read-only team standings over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"bracket_tracker/ingestion/internal/gateway"
	"bracket_tracker/ingestion/internal/models"
	"bracket_tracker/ingestion/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// TeamsCache is the optional read-through cache of a season's team list
type TeamsCache interface {
	GetTeams(ctx context.Context, season int) ([]*models.Team, bool, error)
	SetTeams(ctx context.Context, season int, teams []*models.Team, ttl time.Duration) error
}

// Pinger checks a backing store
type Pinger interface {
	Health(ctx context.Context) error
}

// StatusSource reports the poll loop's health
type StatusSource interface {
	Status() scheduler.Status
}

// Deps are the collaborators of the HTTP handlers. Cache and Poller may be nil.
type Deps struct {
	Teams         gateway.TeamLedger
	Store         Pinger
	Cache         TeamsCache
	CacheTTL      time.Duration
	Poller        StatusSource
	DefaultSeason func() int
	Version       string

	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string
}

// Handler handles HTTP requests
type Handler struct {
	deps Deps
}

// NewHandler creates a new handler instance
func NewHandler(deps Deps) *Handler {
	if deps.DefaultSeason == nil {
		deps.DefaultSeason = func() int { return time.Now().Year() }
	}
	return &Handler{deps: deps}
}

// ErrorResponse is the error body of every failed request
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorResponse(c *gin.Context, status int, code, message string) {
	resp := ErrorResponse{}
	resp.Error.Code = code
	resp.Error.Message = message
	c.JSON(status, resp)
}

// TeamsResponse is the body of GET /teams
type TeamsResponse struct {
	Season int            `json:"season"`
	Teams  []*models.Team `json:"teams"`
}

// Info handles GET /
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "bracket-tracker",
		"version": h.deps.Version,
		"endpoints": []string{
			"GET /teams?season=YYYY",
			"GET /teams/:code?season=YYYY",
			"GET /health",
			"GET /metrics",
		},
	})
}

// ListTeams handles GET /teams. Teams are ordered by seed.
func (h *Handler) ListTeams(c *gin.Context) {
	season, ok := h.season(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if h.deps.Cache != nil {
		teams, hit, err := h.deps.Cache.GetTeams(ctx, season)
		if err != nil {
			log.Warn().Err(err).Int("season", season).Msg("Teams cache read failed")
		} else if hit {
			c.JSON(http.StatusOK, TeamsResponse{Season: season, Teams: teams})
			return
		}
	}

	teams, err := h.deps.Teams.List(ctx, season)
	if err != nil {
		log.Error().Err(err).Int("season", season).Msg("Failed to list teams")
		errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list teams")
		return
	}
	if teams == nil {
		teams = []*models.Team{}
	}

	if h.deps.Cache != nil {
		if err := h.deps.Cache.SetTeams(ctx, season, teams, h.deps.CacheTTL); err != nil {
			log.Warn().Err(err).Int("season", season).Msg("Teams cache write failed")
		}
	}

	c.JSON(http.StatusOK, TeamsResponse{Season: season, Teams: teams})
}

// GetTeam handles GET /teams/:code
func (h *Handler) GetTeam(c *gin.Context) {
	season, ok := h.season(c)
	if !ok {
		return
	}

	team, err := h.deps.Teams.Get(c.Request.Context(), season, c.Param("code"))
	switch {
	case errors.Is(err, models.ErrNotFound):
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "team not found")
		return
	case err != nil:
		log.Error().Err(err).Int("season", season).Str("team", c.Param("code")).Msg("Failed to get team")
		errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to get team")
		return
	}

	c.JSON(http.StatusOK, team)
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string            `json:"status"`
	Database string            `json:"database"`
	Poller   *scheduler.Status `json:"poller,omitempty"`
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "ok"}
	code := http.StatusOK

	if err := h.deps.Store.Health(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check failed")
		resp.Status = "unhealthy"
		resp.Database = "unreachable"
		code = http.StatusServiceUnavailable
	}

	if h.deps.Poller != nil {
		status := h.deps.Poller.Status()
		resp.Poller = &status
		if code == http.StatusOK && !status.IsReady() {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, resp)
}

func (h *Handler) season(c *gin.Context) (int, bool) {
	raw := c.Query("season")
	if raw == "" {
		return h.deps.DefaultSeason(), true
	}
	season, err := strconv.Atoi(raw)
	if err != nil || season < 1900 || season > 9999 {
		errorResponse(c, http.StatusBadRequest, "INVALID_SEASON", "season must be a four-digit year")
		return 0, false
	}
	return season, true
}
