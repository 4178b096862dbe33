// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/epgcache/internal/api/middleware"
	"github.com/ManuGH/epgcache/internal/content"
	"github.com/ManuGH/epgcache/internal/epg"
	xglog "github.com/ManuGH/epgcache/internal/log"
	"github.com/ManuGH/epgcache/internal/scheduler"
)

// Catalog is the cache read side used by the HTTP API.
type Catalog interface {
	SearchEPG(ctx context.Context, udn string, channelIDs []string, start, end time.Time) []*content.Program
	SearchByTitle(ctx context.Context, udn, parentPrefix, text string) []content.Object
}

// Scheduler controls cache warming runs.
type Scheduler interface {
	Start(udn string) error
	Cancel(udn string) bool
	Status(udn string) (scheduler.Status, bool)
}

// Guide renders a server's cached guide as XMLTV.
type Guide interface {
	Build(ctx context.Context, udn string) (epg.TV, error)
}

// APIDeps are the collaborators of the HTTP API. Nil members disable the
// routes that need them.
type APIDeps struct {
	Handler   *Handler
	Catalog   Catalog
	Scheduler Scheduler
	Guide     Guide

	// Ready reports whether the content service is running.
	Ready func() bool
	Now   func() time.Time
}

// APIConfig configures the HTTP middleware stack.
type APIConfig struct {
	RateLimitPerMinute int
	TracingService     string
}

type api struct {
	APIDeps
}

// NewRouter builds the HTTP API.
func NewRouter(deps APIDeps, cfg APIConfig) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	a := &api{deps}

	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:      true,
		TracingService:     cfg.TracingService,
		EnableLogging:      true,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/query", a.handleQuery)
	r.Get("/xmltv.xml", a.handleXMLTV)

	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", a.handleDevices)
		r.Get("/stations", a.handleStations)
		r.Get("/epg", a.handleEPG)
		r.Get("/search", a.handleSearch)
		r.Get("/scheduler/{udn}", a.handleSchedulerStatus)
		r.Post("/scheduler/{udn}", a.handleSchedulerStart)
		r.Delete("/scheduler/{udn}", a.handleSchedulerCancel)
	})
	return r
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.Ready != nil && !a.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQuery answers one line protocol request carried in the body.
// Unrecognised requests get 204 No Content.
func (a *api) handleQuery(w http.ResponseWriter, r *http.Request) {
	if a.Handler == nil {
		writeServiceUnavailable(w, errors.New("query handler disabled"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxLineBytes+1))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if len(body) > maxLineBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "")
		return
	}
	resp, ok := a.Handler.Handle(r.Context(), string(body))
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

func (a *api) handleDevices(w http.ResponseWriter, r *http.Request) {
	if a.Handler == nil {
		writeServiceUnavailable(w, errors.New("query handler disabled"))
		return
	}
	contentOnly := r.URL.Query().Get("all") != "true"
	writeJSON(w, http.StatusOK, a.Handler.source.ListDevices(contentOnly))
}

// udn returns the udn query parameter or the handler's target server.
func (a *api) udn(r *http.Request) string {
	if udn := r.URL.Query().Get("udn"); udn != "" {
		return udn
	}
	if a.Handler == nil {
		return ""
	}
	return a.Handler.TargetUDN()
}

func (a *api) handleStations(w http.ResponseWriter, r *http.Request) {
	if a.Handler == nil {
		writeServiceUnavailable(w, errors.New("query handler disabled"))
		return
	}
	udn := a.udn(r)
	if udn == "" {
		writeNotFound(w, "no content server known")
		return
	}
	chs := a.Handler.source.GetChannels(r.Context(), udn)
	if chs == nil {
		chs = []*content.Channel{}
	}
	writeJSON(w, http.StatusOK, chs)
}

func (a *api) handleEPG(w http.ResponseWriter, r *http.Request) {
	if a.Catalog == nil {
		writeServiceUnavailable(w, errors.New("cache disabled"))
		return
	}
	udn := a.udn(r)
	if udn == "" {
		writeNotFound(w, "no content server known")
		return
	}
	q := r.URL.Query()
	start, err := parseTimeParam(q.Get("start"), a.Now())
	if err != nil {
		writeBadRequest(w, fmt.Errorf("start: %w", err))
		return
	}
	end, err := parseTimeParam(q.Get("end"), start.Add(content.Day))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("end: %w", err))
		return
	}
	if !end.After(start) {
		writeBadRequest(w, errors.New("end must be after start"))
		return
	}
	var channels []string
	if v := q.Get("channels"); v != "" {
		channels = strings.Split(v, ",")
	}
	programs := a.Catalog.SearchEPG(r.Context(), udn, channels, start, end)
	if programs == nil {
		programs = []*content.Program{}
	}
	writeJSON(w, http.StatusOK, programs)
}

// parseTimeParam accepts RFC 3339 or epoch milliseconds; empty yields def.
func parseTimeParam(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}

func (a *api) handleSearch(w http.ResponseWriter, r *http.Request) {
	if a.Catalog == nil {
		writeServiceUnavailable(w, errors.New("cache disabled"))
		return
	}
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if text == "" {
		writeBadRequest(w, errors.New("q is required"))
		return
	}
	udn := a.udn(r)
	if udn == "" {
		writeNotFound(w, "no content server known")
		return
	}
	prefix := q.Get("prefix")
	if prefix == "" {
		prefix = content.RootID
	}
	objs := a.Catalog.SearchByTitle(r.Context(), udn, prefix, text)
	if objs == nil {
		objs = []content.Object{}
	}
	writeJSON(w, http.StatusOK, objs)
}

func (a *api) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if a.Scheduler == nil {
		writeServiceUnavailable(w, errors.New("scheduler disabled"))
		return
	}
	st, ok := a.Scheduler.Status(chi.URLParam(r, "udn"))
	if !ok {
		writeNotFound(w, "no scheduler run for server")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if a.Scheduler == nil {
		writeServiceUnavailable(w, errors.New("scheduler disabled"))
		return
	}
	udn := chi.URLParam(r, "udn")
	logger := xglog.WithComponentFromContext(r.Context(), "api")
	switch err := a.Scheduler.Start(udn); {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "already_running", err.Error())
		return
	case errors.Is(err, scheduler.ErrClosed):
		writeServiceUnavailable(w, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	logger.Info().
		Str(xglog.FieldEvent, "api.scheduler_started").
		Str(xglog.FieldUDN, udn).
		Msg("scheduler run requested")
	st, _ := a.Scheduler.Status(udn)
	writeJSON(w, http.StatusAccepted, st)
}

func (a *api) handleSchedulerCancel(w http.ResponseWriter, r *http.Request) {
	if a.Scheduler == nil {
		writeServiceUnavailable(w, errors.New("scheduler disabled"))
		return
	}
	cancelled := a.Scheduler.Cancel(chi.URLParam(r, "udn"))
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (a *api) handleXMLTV(w http.ResponseWriter, r *http.Request) {
	if a.Guide == nil {
		writeServiceUnavailable(w, errors.New("xmltv disabled"))
		return
	}
	udn := a.udn(r)
	if udn == "" {
		writeNotFound(w, "no content server known")
		return
	}
	tv, err := a.Guide.Build(r.Context(), udn)
	if errors.Is(err, epg.ErrNoChannels) {
		writeNotFound(w, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := epg.Encode(w, tv); err != nil {
		logger := xglog.WithComponentFromContext(r.Context(), "api")
		logger.Warn().Err(err).Str(xglog.FieldEvent, "api.xmltv_write_failed").Msg("writing xmltv response")
	}
}
