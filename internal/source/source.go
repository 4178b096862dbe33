// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/epgcache/internal/content"
	xglog "github.com/ManuGH/epgcache/internal/log"
	"github.com/ManuGH/epgcache/internal/metrics"
)

// DefaultBrowseTimeout bounds a live browse when Options leave it unset.
const DefaultBrowseTimeout = 15 * time.Second

// DefaultMaxRange caps the window GetProgramsInRange walks when Options leave
// it unset.
const DefaultMaxRange = 62 * content.Day

// cacheWriteTimeout bounds the write-back of a completed browse.
const cacheWriteTimeout = 5 * time.Second

// Options configures a Source.
type Options struct {
	// BrowseTimeout bounds every live browse; a timeout yields an empty result.
	BrowseTimeout time.Duration

	// Registry builds typed objects from records. Defaults to content.NewRegistry().
	Registry *content.Registry

	// MaxRange caps the window of GetProgramsInRange; wider windows are cut
	// at start+MaxRange. Defaults to DefaultMaxRange.
	MaxRange time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Source is the process-wide content source: live browses through a Backend,
// read-through and write-back against a Cache, device tracking and the
// service lifecycle.
type Source struct {
	backend  Backend
	cache    Cache
	registry *content.Registry
	timeout  time.Duration
	maxRange time.Duration
	now      func() time.Time
	logger   zerolog.Logger
	tracer   trace.Tracer
	browses  singleflight.Group

	lifecycle sync.Mutex // serializes StartService and StopService
	mu        sync.Mutex
	started   bool
	observers []Observer

	devMu     sync.RWMutex
	devices   map[string]content.Device
	listeners []func([]content.Device)
}

// New creates a Source. cache may be nil, in which case every call is live.
func New(backend Backend, cache Cache, opts Options) *Source {
	if opts.BrowseTimeout <= 0 {
		opts.BrowseTimeout = DefaultBrowseTimeout
	}
	if opts.Registry == nil {
		opts.Registry = content.NewRegistry()
	}
	if opts.MaxRange <= 0 {
		opts.MaxRange = DefaultMaxRange
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Source{
		backend:  backend,
		cache:    cache,
		registry: opts.Registry,
		timeout:  opts.BrowseTimeout,
		maxRange: opts.MaxRange,
		now:      opts.Now,
		logger:   xglog.WithComponent("source").With().Str(xglog.FieldBackend, backend.Name()).Logger(),
		tracer:   otel.Tracer("github.com/ManuGH/epgcache/internal/source"),
		devices:  make(map[string]content.Device),
	}
}

// BackendName returns the name of the configured backend.
func (s *Source) BackendName() string {
	return s.backend.Name()
}

// GetChildren returns the children of parentID on udn. With useCache a cached
// entry is returned without network access. Otherwise, or on a miss, the node
// is browsed live and a non-empty result is written to the cache. Failures
// and timeouts yield an empty list and leave the cache untouched.
func (s *Source) GetChildren(ctx context.Context, udn, parentID string, useCache bool) []content.Object {
	if useCache && s.cache != nil {
		if objs, ok := s.cache.GetChildren(ctx, udn, parentID); ok {
			return objs
		}
	}
	objs, err := s.FetchChildren(ctx, udn, parentID)
	if err != nil {
		return nil
	}
	return objs
}

// FetchChildren is the live path of GetChildren with the failure reported.
// Concurrent fetches of the same node share one browse.
func (s *Source) FetchChildren(ctx context.Context, udn, parentID string) ([]content.Object, error) {
	ch := s.browses.DoChan(udn+"\x00"+parentID, func() (any, error) {
		// The shared browse outlives any single caller's cancellation.
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.browse(bctx, udn, parentID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]content.Object), nil
	}
}

type browseResult struct {
	records []content.Record
	err     error
}

func (s *Source) browse(ctx context.Context, udn, parentID string) ([]content.Object, error) {
	ctx, span := s.tracer.Start(ctx, "source.browse", trace.WithAttributes(
		attribute.String("backend", s.backend.Name()),
		attribute.String("udn", udn),
		attribute.String("parent_id", parentID),
	))
	defer span.End()

	logger := xglog.WithContext(ctx, s.logger).With().
		Str(xglog.FieldUDN, udn).
		Str(xglog.FieldParentID, parentID).
		Logger()

	started := time.Now()
	done := make(chan browseResult, 1)
	go func() {
		recs, err := s.backend.Browse(ctx, udn, parentID)
		done <- browseResult{recs, err}
	}()

	var res browseResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = fmt.Errorf("%w after %s: %w", ErrBrowseTimeout, s.timeout, ctx.Err())
	}

	if res.err != nil {
		outcome := "error"
		if errors.Is(res.err, ErrBrowseTimeout) || errors.Is(res.err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.RecordBrowse(s.backend.Name(), outcome, time.Since(started))
		span.RecordError(res.err)
		span.SetStatus(codes.Error, outcome)
		logger.Warn().Err(res.err).
			Str(xglog.FieldEvent, "source.browse_failed").
			Str("outcome", outcome).
			Msg("live browse failed")
		return nil, res.err
	}

	objs := s.translate(logger, res.records)
	span.SetAttributes(attribute.Int("count", len(objs)))

	if len(objs) == 0 {
		metrics.RecordBrowse(s.backend.Name(), "empty", time.Since(started))
		logger.Debug().Str(xglog.FieldEvent, "source.browse_empty").Msg("live browse returned no children")
		return []content.Object{}, nil
	}

	metrics.RecordBrowse(s.backend.Name(), "success", time.Since(started))
	if s.cache != nil {
		// The browse deadline may be nearly spent; the write gets its own.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
		// Put logs its own failures; the browse result stands either way.
		_ = s.cache.Put(wctx, udn, parentID, objs)
		cancel()
	}
	logger.Debug().
		Str(xglog.FieldEvent, "source.browse").
		Int(xglog.FieldCount, len(objs)).
		Dur("duration", time.Since(started)).
		Msg("live browse complete")
	return objs, nil
}

// translate builds typed objects, dropping records that do not map.
func (s *Source) translate(logger zerolog.Logger, records []content.Record) []content.Object {
	objs := make([]content.Object, 0, len(records))
	for _, rec := range records {
		obj, err := s.registry.FromRecord(rec)
		if err != nil {
			reason := "invalid"
			if errors.Is(err, content.ErrUnknownClass) {
				reason = "unknown_class"
			}
			metrics.RecordDroppedRecord(reason)
			logger.Warn().Err(err).
				Str(xglog.FieldEvent, "source.record_dropped").
				Str(xglog.FieldNodeID, rec[content.FieldID]).
				Str(xglog.FieldClass, rec[content.FieldClass]).
				Msg("dropping record")
			continue
		}
		objs = append(objs, obj)
	}
	return objs
}

// ChildrenOf keeps the objects of type T, in order.
func ChildrenOf[T content.Object](objs []content.Object) []T {
	out := make([]T, 0, len(objs))
	for _, o := range objs {
		if t, ok := o.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// GetChildrenAs is GetChildren restricted to children of type T.
func GetChildrenAs[T content.Object](ctx context.Context, s *Source, udn, parentID string, useCache bool) []T {
	return ChildrenOf[T](s.GetChildren(ctx, udn, parentID, useCache))
}

// GetChannels returns the channel list of udn.
func (s *Source) GetChannels(ctx context.Context, udn string) []*content.Channel {
	return GetChildrenAs[*content.Channel](ctx, s, udn, content.ChannelsPath, true)
}

// GetCurrentProgram returns the program airing now on channelID, or nil.
func (s *Source) GetCurrentProgram(ctx context.Context, udn, channelID string) *content.Program {
	now := s.now()
	programs := GetChildrenAs[*content.Program](ctx, s, udn, content.DayContainerID(channelID, now), true)
	for _, p := range programs {
		if p.Airing(now) {
			return p
		}
	}
	return nil
}

// GetProgramsInRange returns the programs on channelID intersecting the
// closed window [start, end], ordered by start. Day containers from the day
// before start through the day after end are visited so server and client
// time zones cannot hide a boundary program. Windows longer than MaxRange
// are cut at start+MaxRange.
func (s *Source) GetProgramsInRange(ctx context.Context, udn, channelID string, start, end time.Time) []*content.Program {
	if end.Before(start) {
		return nil
	}
	if end.Sub(start) > s.maxRange {
		logger := xglog.WithContext(ctx, s.logger)
		logger.Warn().
			Str(xglog.FieldEvent, "source.range_clamped").
			Str(xglog.FieldUDN, udn).
			Str(xglog.FieldChannelID, channelID).
			Dur("requested", end.Sub(start)).
			Dur("max", s.maxRange).
			Msg("program window exceeds limit, clamping")
		end = start.Add(s.maxRange)
	}
	seen := make(map[string]struct{})
	var out []*content.Program
	for _, day := range content.DaysBetween(start.Add(-content.Day), end.Add(content.Day)) {
		if ctx.Err() != nil {
			break
		}
		for _, p := range GetChildrenAs[*content.Program](ctx, s, udn, content.DayContainerID(channelID, day), true) {
			if !p.Intersects(start, end) {
				continue
			}
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b *content.Program) int {
		return a.Start.Compare(*b.Start)
	})
	return out
}
