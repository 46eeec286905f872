package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bracket_tracker/ingestion/internal/config"
	"bracket_tracker/ingestion/internal/gateway"
	"bracket_tracker/ingestion/internal/metrics"
	"bracket_tracker/ingestion/internal/models"
	"bracket_tracker/ingestion/internal/reconciler"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Job names used in logs and metrics
const (
	JobPoll     = "poll"
	JobSettle   = "settle"
	JobBackfill = "backfill"
)

// LeaseKey is the Redis key that keeps replicas from polling at the same time
const LeaseKey = "bracket:poll-lock"

const leaseTTL = 10 * time.Minute

// ErrCycleSkipped is returned when another cycle already holds the poll lock
var ErrCycleSkipped = errors.New("poll cycle skipped: another cycle is running")

// Reconciler is the part of the reconciler the scheduler drives
type Reconciler interface {
	ReconcileDate(ctx context.Context, t time.Time) (reconciler.Summary, error)
	ReconcileRange(ctx context.Context, year, month, fromDay, toDay int) (reconciler.Summary, error)
}

// Leaser hands out a cross-process lease
type Leaser interface {
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// TeamsCache is the read-side cache invalidated after mutating cycles
type TeamsCache interface {
	InvalidateTeams(ctx context.Context, season int) error
}

// Status describes the recent health of the poll loop
type Status struct {
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	LastError           string             `json:"lastError,omitempty"`
	LastAttempt         time.Time          `json:"lastAttempt"`
	LastSuccess         time.Time          `json:"lastSuccess"`
	LastCycleID         string             `json:"lastCycleId,omitempty"`
	LastSummary         reconciler.Summary `json:"lastSummary"`
}

// IsReady reports whether a cycle has succeeded and the loop is not failing repeatedly
func (s Status) IsReady() bool {
	if s.LastSuccess.IsZero() {
		return false
	}
	return s.ConsecutiveFailures < 3
}

// Scheduler runs reconcile cycles on cron schedules
type Scheduler struct {
	cfg   *config.Config
	rec   Reconciler
	teams gateway.TeamLedger
	cache TeamsCache
	lease Leaser
	cron  *cron.Cron
	loc   *time.Location
	now   func() time.Time

	// cycleMu is shared by every job so at most one cycle runs per process
	cycleMu sync.Mutex

	statusMu sync.RWMutex
	status   Status
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithCache invalidates the teams cache after cycles that changed state
func WithCache(c TeamsCache) Option {
	return func(s *Scheduler) { s.cache = c }
}

// WithLease guards cycles with a cross-process lease
func WithLease(l Leaser) Option {
	return func(s *Scheduler) { s.lease = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a new scheduler instance
func NewScheduler(cfg *config.Config, rec Reconciler, teams gateway.TeamLedger, opts ...Option) *Scheduler {
	loc := cfg.Location()
	logger := cron.PrintfLogger(&log.Logger)

	s := &Scheduler{
		cfg:   cfg,
		rec:   rec,
		teams: teams,
		loc:   loc,
		now:   time.Now,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the poll and settle jobs, runs a warm-up poll and the
// optional backfill, then starts cron.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info().Msg("Scheduler starting...")

	if _, err := s.cron.AddFunc(s.cfg.PollSchedule, func() {
		_ = s.RunPoll(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule poll: %w", err)
	}

	if _, err := s.cron.AddFunc(s.cfg.SettleCron, func() {
		_ = s.RunSettle(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule settle: %w", err)
	}

	go func() {
		if s.cfg.BackfillFrom != "" {
			if err := s.RunBackfill(ctx); err != nil {
				log.Error().Err(err).Msg("Startup backfill failed, continuing anyway...")
			}
		}
		// Warm up on boot instead of waiting for the first tick
		_ = s.RunPoll(ctx)
	}()

	s.cron.Start()
	log.Info().
		Str("poll", s.cfg.PollSchedule).
		Str("settle", s.cfg.SettleCron).
		Str("timezone", s.loc.String()).
		Msg("Scheduler started")

	return nil
}

// Stop stops the scheduler and waits for a running cycle to finish
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping scheduler...")

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timed out waiting for running cycle")
	}

	log.Info().Msg("Scheduler stopped")
}

// Status returns a snapshot of the poll loop's recent health
func (s *Scheduler) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// TrackedDate is TRACK_DATE when set, otherwise today in the feed's timezone
func (s *Scheduler) TrackedDate() time.Time {
	if s.cfg.TrackDate != "" {
		if day, err := time.ParseInLocation("2006-01-02", s.cfg.TrackDate, s.loc); err == nil {
			return day
		}
	}
	return s.now().In(s.loc)
}

// RunPoll reconciles the tracked date
func (s *Scheduler) RunPoll(ctx context.Context) error {
	day := s.TrackedDate()
	return s.runCycle(ctx, JobPoll, day.Year(), func(ctx context.Context) (reconciler.Summary, error) {
		return s.rec.ReconcileDate(ctx, day)
	})
}

// RunSettle reconciles yesterday so games that ended after the last poll get closed
func (s *Scheduler) RunSettle(ctx context.Context) error {
	day := s.now().In(s.loc).AddDate(0, 0, -1)
	return s.runCycle(ctx, JobSettle, day.Year(), func(ctx context.Context) (reconciler.Summary, error) {
		return s.rec.ReconcileDate(ctx, day)
	})
}

// RunBackfill reconciles BACKFILL_FROM..BACKFILL_TO, one month chunk at a time
func (s *Scheduler) RunBackfill(ctx context.Context) error {
	from, err := time.ParseInLocation("2006-01-02", s.cfg.BackfillFrom, s.loc)
	if err != nil {
		return fmt.Errorf("invalid BACKFILL_FROM: %w", err)
	}
	to, err := time.ParseInLocation("2006-01-02", s.cfg.BackfillTo, s.loc)
	if err != nil {
		return fmt.Errorf("invalid BACKFILL_TO: %w", err)
	}

	return s.runCycle(ctx, JobBackfill, from.Year(), func(ctx context.Context) (reconciler.Summary, error) {
		return Backfill(ctx, s.rec, from, to)
	})
}

// Backfill reconciles every day from..to inclusive, splitting the range at month boundaries
func Backfill(ctx context.Context, rec Reconciler, from, to time.Time) (reconciler.Summary, error) {
	var total reconciler.Summary
	if to.Before(from) {
		return total, fmt.Errorf("backfill range ends before it starts: %s..%s",
			from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	for cursor := from; !cursor.After(to); {
		monthEnd := time.Date(cursor.Year(), cursor.Month()+1, 0, 0, 0, 0, 0, cursor.Location())
		last := monthEnd
		if to.Before(monthEnd) {
			last = to
		}

		summary, err := rec.ReconcileRange(ctx, cursor.Year(), int(cursor.Month()), cursor.Day(), last.Day())
		total.Add(summary)
		if err != nil {
			return total, err
		}

		cursor = monthEnd.AddDate(0, 0, 1)
	}

	return total, nil
}

func (s *Scheduler) runCycle(ctx context.Context, job string, season int, fn func(context.Context) (reconciler.Summary, error)) error {
	if !s.cycleMu.TryLock() {
		log.Info().Str("job", job).Msg("Previous cycle still running, skipping")
		metrics.RecordPoll(job, "skipped", 0)
		return ErrCycleSkipped
	}
	defer s.cycleMu.Unlock()

	if s.lease != nil {
		release, ok, err := s.lease.AcquireLease(ctx, LeaseKey, leaseTTL)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("job", job).Msg("Lease unavailable, running without it")
		case !ok:
			log.Info().Str("job", job).Msg("Another replica holds the poll lease, skipping")
			metrics.RecordPoll(job, "skipped", 0)
			return ErrCycleSkipped
		default:
			defer release()
		}
	}

	cycleID := uuid.NewString()
	logger := log.With().Str("cycle_id", cycleID).Str("job", job).Int("season", season).Logger()

	start := s.now()
	s.recordAttempt(start, cycleID)
	logger.Debug().Msg("Cycle started")

	summary, err := fn(ctx)
	duration := s.now().Sub(start)

	// Games committed before a failure are already visible in the store
	s.invalidateTeams(ctx, &logger, season, summary)

	if err != nil {
		metrics.RecordPoll(job, "error", duration.Seconds())
		metrics.RecordError("scheduler", models.ErrorKind(err))
		s.recordFailure(err)
		logger.Error().
			Err(err).
			Str("error_type", models.ErrorKind(err)).
			Int("finalized", summary.Finalized).
			Dur("duration", duration).
			Msg("Cycle failed")
		return err
	}

	metrics.RecordPoll(job, "success", duration.Seconds())
	s.recordSuccess(start, summary)
	s.updateTeamStats(ctx, season)

	logger.Info().
		Int("seen", summary.Seen).
		Int("progressed", summary.Progressed).
		Int("finalized", summary.Finalized).
		Dur("duration", duration).
		Msg("Cycle complete")

	return nil
}

func (s *Scheduler) invalidateTeams(ctx context.Context, logger *zerolog.Logger, season int, summary reconciler.Summary) {
	if !summary.Mutated() || s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTeams(ctx, season); err != nil {
		logger.Warn().Err(err).Msg("Failed to invalidate teams cache")
	}
}

func (s *Scheduler) updateTeamStats(ctx context.Context, season int) {
	if s.teams == nil {
		return
	}
	teams, err := s.teams.List(ctx, season)
	if err != nil {
		log.Warn().Err(err).Int("season", season).Msg("Failed to refresh team gauges")
		return
	}
	remaining := 0
	for _, t := range teams {
		if t.InTournament {
			remaining++
		}
	}
	metrics.UpdateTeamStats(len(teams), remaining)
}

func (s *Scheduler) recordAttempt(at time.Time, cycleID string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.LastAttempt = at
	s.status.LastCycleID = cycleID
}

func (s *Scheduler) recordSuccess(at time.Time, summary reconciler.Summary) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.ConsecutiveFailures = 0
	s.status.LastError = ""
	s.status.LastSuccess = at
	s.status.LastSummary = summary
}

func (s *Scheduler) recordFailure(err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.ConsecutiveFailures++
	s.status.LastError = err.Error()
}
