// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scheduler warms the cache by walking every channel's EPG day
// containers over a rolling window of days.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ManuGH/epgcache/internal/content"
	xglog "github.com/ManuGH/epgcache/internal/log"
	"github.com/ManuGH/epgcache/internal/metrics"
	"github.com/ManuGH/epgcache/internal/source"
)

// State is the lifecycle state of a job.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	// StateIncomplete marks a run that finished but could not fetch every
	// day container it visited.
	StateIncomplete State = "incomplete"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateIncomplete
}

// Fetcher is the live browse the scheduler drives. *source.Source
// implements it.
type Fetcher interface {
	FetchChildren(ctx context.Context, udn, parentID string) ([]content.Object, error)
}

// Config bounds a run.
type Config struct {
	// MaxForwardDays caps the walk after today.
	MaxForwardDays int
	// Retries is how often a failed fetch is retried.
	Retries int
	// RetryBackoff is the base of the quadratic backoff between retries.
	RetryBackoff time.Duration
	// RefreshInterval restarts completed runs periodically. Zero disables it.
	RefreshInterval time.Duration
	Now             func() time.Time
}

const (
	DefaultMaxForwardDays = 14
	DefaultRetries        = 2
	DefaultRetryBackoff   = 500 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.MaxForwardDays <= 0 {
		c.MaxForwardDays = DefaultMaxForwardDays
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Status is a snapshot of a job.
type Status struct {
	RunID      string    `json:"runId"`
	UDN        string    `json:"udn"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
	Channels   int       `json:"channels"`
	Days       []string  `json:"days,omitempty"`
	Fetches    int       `json:"fetches"`
	Failures   int       `json:"failures"`
	Programs   int       `json:"programs"`
	Error      string    `json:"error,omitempty"`
}

// Job is one pass over a server's EPG.
type Job struct {
	udn     string
	fetcher Fetcher
	cfg     Config

	mu     sync.Mutex
	status Status
}

// NewJob creates an idle job for udn.
func NewJob(udn string, fetcher Fetcher, cfg Config) *Job {
	return &Job{
		udn:     udn,
		fetcher: fetcher,
		cfg:     cfg.withDefaults(),
		status:  Status{RunID: uuid.NewString(), UDN: udn, State: StateIdle},
	}
}

// Status returns a copy of the job's progress.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := j.status
	s.Days = append([]string(nil), j.status.Days...)
	return s
}

func (j *Job) update(fn func(*Status)) {
	j.mu.Lock()
	fn(&j.status)
	j.mu.Unlock()
}

// dayPlan lists the days to visit: today, yesterday, then forward.
// The bool marks days that count toward the forward stop.
func dayPlan(now time.Time, maxForward int) ([]time.Time, []bool) {
	today := content.StartOfDay(now)
	days := []time.Time{today, today.AddDate(0, 0, -1)}
	forward := []bool{false, false}
	for i := 1; i <= maxForward; i++ {
		days = append(days, today.AddDate(0, 0, i))
		forward = append(forward, true)
	}
	return days, forward
}

// Run walks the channels and days of the server. Writes made before a
// cancellation stay in the cache.
func (j *Job) Run(ctx context.Context) Status {
	runID := j.Status().RunID
	ctx = xglog.ContextWithJobID(ctx, runID)
	ctx, span := otel.Tracer("github.com/ManuGH/epgcache/internal/scheduler").Start(ctx, "scheduler.run")
	span.SetAttributes(attribute.String("udn", j.udn))
	defer span.End()

	logger := xglog.WithComponentFromContext(ctx, "scheduler").With().
		Str(xglog.FieldUDN, j.udn).
		Logger()

	j.update(func(s *Status) {
		s.State = StateRunning
		s.StartedAt = j.cfg.Now()
	})
	logger.Info().Str(xglog.FieldEvent, "scheduler.start").Msg("epg caching run started")

	state, err := j.walk(ctx)

	j.update(func(s *Status) {
		s.State = state
		s.FinishedAt = j.cfg.Now()
		if err != nil {
			s.Error = err.Error()
		}
	})
	metrics.RecordSchedulerRun(string(state))
	final := j.Status()
	span.SetAttributes(attribute.String("state", string(state)), attribute.Int("fetches", final.Fetches))
	if state != StateCompleted {
		span.SetStatus(codes.Error, string(state))
	}

	ev := logger.Info()
	if state == StateIncomplete {
		ev = logger.Warn().Err(err)
	}
	ev.Str(xglog.FieldEvent, "scheduler.finish").
		Str(xglog.FieldNewState, string(state)).
		Int("channels", final.Channels).
		Int("fetches", final.Fetches).
		Int("failures", final.Failures).
		Int("programs", final.Programs).
		Msg("epg caching run finished")
	return final
}

var errForwardUnknown = errors.New("scheduler: forward day returned no programs and some fetches failed")

func (j *Job) walk(ctx context.Context) (State, error) {
	if ctx.Err() != nil {
		return StateCancelled, nil
	}
	objs, err := j.fetch(ctx, content.ChannelsPath)
	if err != nil {
		if ctx.Err() != nil {
			return StateCancelled, nil
		}
		return StateIncomplete, fmt.Errorf("scheduler: channel list: %w", err)
	}
	channels := source.ChildrenOf[*content.Channel](objs)
	j.update(func(s *Status) { s.Channels = len(channels) })
	if len(channels) == 0 {
		return StateCompleted, nil
	}

	var lastErr error
	days, forward := dayPlan(j.cfg.Now(), j.cfg.MaxForwardDays)
	for i, day := range days {
		if ctx.Err() != nil {
			return StateCancelled, nil
		}
		key := content.DayKey(day)
		j.update(func(s *Status) { s.Days = append(s.Days, key) })

		programs, failures := 0, 0
		for _, ch := range channels {
			if ctx.Err() != nil {
				return StateCancelled, nil
			}
			objs, err := j.fetch(ctx, content.DayContainerID(ch.ChannelID, day))
			if err != nil {
				if ctx.Err() != nil {
					return StateCancelled, nil
				}
				failures++
				lastErr = err
				metrics.RecordSchedulerDayFetch("error")
				continue
			}
			n := len(source.ChildrenOf[*content.Program](objs))
			programs += n
			if n == 0 {
				metrics.RecordSchedulerDayFetch("empty")
			} else {
				metrics.RecordSchedulerDayFetch("success")
			}
		}
		j.update(func(s *Status) {
			s.Programs += programs
			s.Failures += failures
		})

		if !forward[i] || programs > 0 {
			continue
		}
		if failures == 0 {
			// Reached the end of the available guide data.
			break
		}
		// Nothing came back and some fetches failed: the edge is unknown.
		return StateIncomplete, fmt.Errorf("%w (%s): %w", errForwardUnknown, key, lastErr)
	}

	if lastErr != nil {
		return StateIncomplete, lastErr
	}
	return StateCompleted, nil
}

// fetch browses parentID live, retrying failures with quadratic backoff.
func (j *Job) fetch(ctx context.Context, parentID string) ([]content.Object, error) {
	var lastErr error
	for attempt := 0; attempt <= j.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * j.cfg.RetryBackoff
			t := time.NewTimer(backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}
		j.update(func(s *Status) { s.Fetches++ })
		objs, err := j.fetcher.FetchChildren(ctx, j.udn, parentID)
		if err == nil {
			return objs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
