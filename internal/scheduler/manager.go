// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	xglog "github.com/ManuGH/epgcache/internal/log"
)

var (
	// ErrAlreadyRunning is returned when a server already has a running job.
	ErrAlreadyRunning = errors.New("scheduler: job already running for server")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scheduler: manager closed")
)

type run struct {
	job    *Job
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs at most one job per server.
type Manager struct {
	fetcher Fetcher
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	running   map[string]*run
	last      map[string]Status
	listeners []func(Status)
	closed    bool
}

// NewManager creates a manager. Jobs it starts live until they finish, are
// cancelled, or Close is called.
func NewManager(fetcher Fetcher, cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		fetcher: fetcher,
		cfg:     cfg.withDefaults(),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]*run),
		last:    make(map[string]Status),
	}
}

// OnFinish registers fn to receive the final status of every run.
func (m *Manager) OnFinish(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start launches a job for udn in the background.
func (m *Manager) Start(udn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(udn)
}

func (m *Manager) startLocked(udn string) error {
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.running[udn]; ok {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(m.ctx)
	r := &run{job: NewJob(udn, m.fetcher, m.cfg), cancel: cancel, done: make(chan struct{})}
	m.running[udn] = r

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(r.done)
		defer cancel()

		status := r.job.Run(ctx)

		m.mu.Lock()
		if m.running[udn] == r {
			delete(m.running, udn)
		}
		m.last[udn] = status
		listeners := append([]func(Status){}, m.listeners...)
		m.mu.Unlock()

		for _, fn := range listeners {
			fn(status)
		}
	}()
	return nil
}

// Cancel stops the running job for udn and waits for it to end. It reports
// whether a job was running.
func (m *Manager) Cancel(udn string) bool {
	m.mu.Lock()
	r, ok := m.running[udn]
	m.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	<-r.done
	return true
}

// ServerChanged cancels every running job and starts a fresh one for udn.
func (m *Manager) ServerChanged(udn string) error {
	m.mu.Lock()
	runs := make([]*run, 0, len(m.running))
	for _, r := range m.running {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	for _, r := range runs {
		r.cancel()
		<-r.done
	}

	logger := xglog.WithComponent("scheduler")
	logger.Info().
		Str(xglog.FieldEvent, "scheduler.server_changed").
		Str(xglog.FieldUDN, udn).
		Int("cancelled", len(runs)).
		Msg("target server changed")

	if udn == "" {
		return nil
	}
	return m.Start(udn)
}

// Status returns the running job's progress, or the last finished run.
func (m *Manager) Status(udn string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.running[udn]; ok {
		return r.job.Status(), true
	}
	s, ok := m.last[udn]
	return s, ok
}

// Running reports whether udn has a running job.
func (m *Manager) Running(udn string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[udn]
	return ok
}

// Wait blocks until udn has no running job or ctx ends.
func (m *Manager) Wait(ctx context.Context, udn string) (Status, error) {
	m.mu.Lock()
	r, ok := m.running[udn]
	m.mu.Unlock()
	if ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}
	s, _ := m.Status(udn)
	return s, nil
}

// RunPeriodic starts a job for target() now and then every
// RefreshInterval until ctx ends. An empty target skips the tick.
func (m *Manager) RunPeriodic(ctx context.Context, target func() string) {
	logger := xglog.WithComponent("scheduler")
	tick := func() {
		udn := target()
		if udn == "" {
			return
		}
		if err := m.Start(udn); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			logger.Warn().Err(err).Str(xglog.FieldEvent, "scheduler.start_failed").Msg("periodic run not started")
		}
	}

	tick()
	if m.cfg.RefreshInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// Close cancels every job and waits for them.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}
