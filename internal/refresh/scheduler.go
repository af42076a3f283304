// Package refresh keeps the vector store in step with the upstream provider.
//
// The Scheduler is the store's single writer. Each refresh first asks the
// provider for a cheap freshness token and only downloads the full payload
// when the token differs from the installed table's.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/star/isstrack/internal/metrics"
	"github.com/star/isstrack/internal/vectors"
)

// ErrStopped is returned by RefreshNow once the scheduler has shut down.
var ErrStopped = errors.New("refresh scheduler stopped")

// Provider is the upstream source of state vectors.
type Provider interface {
	// FetchFreshnessToken returns a token identifying the current upstream
	// revision. The empty token means unknown.
	FetchFreshnessToken(ctx context.Context) (vectors.FreshnessToken, error)
	// FetchVectors downloads the full payload. Its token is read from the
	// same response as the vectors.
	FetchVectors(ctx context.Context) (vectors.Payload, error)
}

// Hook runs after a new generation is installed. Failures are logged and
// counted but never undo the install.
type Hook struct {
	Name string
	Fn   func(ctx context.Context, t *vectors.Table) error
}

// State of the scheduler's single-step state machine.
type State int32

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

// Config holds refresh settings.
type Config struct {
	Schedule     string        // cron spec or Go duration
	FetchTimeout time.Duration // bound on one refresh's provider calls
	HookTimeout  time.Duration // bound on each post-install hook
	RetryInitial time.Duration // first retry delay after a failure
	RetryMax     time.Duration // cap on the retry delay
}

// Result describes one completed refresh.
type Result struct {
	RunID      string `json:"run_id"`
	Outcome    string `json:"outcome"`
	Generation uint64 `json:"generation"`
	Token      string `json:"token"`
	Vectors    int    `json:"vectors"`
	DurationMS int64  `json:"duration_ms"`
}

// Scheduler periodically refreshes the store from the provider.
type Scheduler struct {
	store    *vectors.Store
	provider Provider
	schedule cron.Schedule
	cfg      Config
	hooks    []Hook
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex // serializes refreshes
	state   atomic.Int32
	stopped atomic.Bool
}

// ParseSchedule accepts a standard five-field cron spec, a descriptor such
// as "@every 10m" or "@hourly", or a bare Go duration.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("refresh interval must be positive, got %s", d)
		}
		return cron.Every(d), nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return sched, nil
}

// NewScheduler creates a Scheduler. Hooks run in the order given.
func NewScheduler(store *vectors.Store, provider Provider, cfg Config, logger *slog.Logger, hooks ...Hook) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 10m"
	}
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Minute
	}
	if cfg.HookTimeout <= 0 {
		cfg.HookTimeout = 30 * time.Second
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 15 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Minute
	}

	return &Scheduler{
		store:    store,
		provider: provider,
		schedule: sched,
		cfg:      cfg,
		hooks:    hooks,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// State reports whether a refresh is in progress.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run refreshes once immediately, then on every schedule tick, until ctx is
// cancelled. Refresh failures are logged and retried sooner with jittered
// backoff; they never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	context.AfterFunc(ctx, func() { s.stopped.Store(true) })

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.cfg.RetryInitial
	retry.MaxInterval = s.cfg.RetryMax
	retry.MaxElapsedTime = 0

	s.logger.Info("refresh scheduler started", "component", "refresh", "schedule", s.cfg.Schedule)

	for {
		_, err := s.RefreshNow(ctx)
		failed := err != nil && !errors.Is(err, ErrStopped) && ctx.Err() == nil

		delay := s.nextDelay(retry, failed)
		s.logger.Debug("next refresh scheduled", "component", "refresh", "in", delay.String(), "retry", failed)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.stopped.Store(true)
			s.logger.Info("refresh scheduler stopped", "component", "refresh")
			return
		case <-timer.C:
		}
	}
}

// nextDelay returns the time until the next attempt. After a failure the
// backoff delay is used when it comes before the regular tick.
func (s *Scheduler) nextDelay(retry *backoff.ExponentialBackOff, failed bool) time.Duration {
	now := s.now()
	regular := s.schedule.Next(now).Sub(now)
	if regular < 0 {
		regular = 0
	}
	if !failed {
		retry.Reset()
		return regular
	}
	d := retry.NextBackOff()
	if d == backoff.Stop || d > regular {
		return regular
	}
	return d
}

// RefreshNow performs one Idle -> Refreshing -> Idle transition. Concurrent
// callers are serialized.
//
// The provider calls run on a context detached from ctx and bounded by the
// fetch timeout, so shutdown never tears a fetch in half. If ctx is
// cancelled, or the scheduler stops, while the fetch runs, its result is
// discarded and the store is left alone.
func (s *Scheduler) RefreshNow(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() || ctx.Err() != nil {
		return Result{}, ErrStopped
	}

	s.state.Store(int32(StateRefreshing))
	defer s.state.Store(int32(StateIdle))

	start := s.now()
	res := Result{RunID: uuid.NewString()}
	log := s.logger.With("component", "refresh", "run_id", res.RunID)

	finish := func(outcome string, err error) (Result, error) {
		d := s.now().Sub(start)
		res.Outcome = outcome
		res.DurationMS = d.Milliseconds()
		metrics.RecordRefresh(outcome, d)
		return res, err
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FetchTimeout)
	defer cancel()

	current := s.store.Token()
	tok, err := s.provider.FetchFreshnessToken(fetchCtx)
	if err != nil {
		log.Warn("freshness check failed, keeping current table", "error", err)
		return finish(outcomeFor(err), err)
	}
	if tok != "" && tok == current {
		cur := s.store.Current()
		res.Generation, res.Token, res.Vectors = cur.Generation(), string(cur.Token()), cur.Len()
		log.Debug("upstream unchanged", "token", string(tok))
		return finish(metrics.RefreshUnchanged, nil)
	}

	payload, err := s.provider.FetchVectors(fetchCtx)
	if s.stopped.Load() || ctx.Err() != nil {
		log.Info("shutdown during fetch, discarding result")
		return finish(metrics.RefreshDiscarded, ErrStopped)
	}
	if err != nil {
		log.Warn("fetch failed, keeping current table", "error", err)
		return finish(outcomeFor(err), err)
	}

	table, replaced, err := s.store.Replace(payload)
	if err != nil {
		log.Error("rejected invalid table, keeping current table", "error", err, "token", string(payload.Token))
		return finish(outcomeFor(err), err)
	}
	res.Generation, res.Token, res.Vectors = table.Generation(), string(table.Token()), table.Len()
	if !replaced {
		log.Debug("payload token matches installed table", "token", string(payload.Token))
		return finish(metrics.RefreshUnchanged, nil)
	}

	metrics.SetTable(table.Generation(), table.Len())
	first, last := table.Span()
	log.Info("installed new table",
		"generation", table.Generation(),
		"token", string(table.Token()),
		"vectors", table.Len(),
		"first_epoch", vectors.FormatEpoch(first),
		"last_epoch", vectors.FormatEpoch(last),
	)

	s.runHooks(context.WithoutCancel(ctx), table, log)
	return finish(metrics.RefreshReplaced, nil)
}

func (s *Scheduler) runHooks(ctx context.Context, t *vectors.Table, log *slog.Logger) {
	for _, h := range s.hooks {
		hctx, cancel := context.WithTimeout(ctx, s.cfg.HookTimeout)
		err := h.Fn(hctx, t)
		cancel()
		if err != nil {
			metrics.IncRefreshHookError(h.Name)
			log.Warn("post-install hook failed", "hook", h.Name, "generation", t.Generation(), "error", err)
		}
	}
}

func outcomeFor(err error) string {
	if vectors.KindOf(err) == vectors.KindInvalidTable {
		return metrics.RefreshInvalidTable
	}
	return metrics.RefreshProviderError
}
