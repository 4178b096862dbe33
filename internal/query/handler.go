// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package query serves the local line protocol used by guide front ends and
// the HTTP API that exposes the same data to tools.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/epgcache/internal/content"
	xglog "github.com/ManuGH/epgcache/internal/log"
	"github.com/ManuGH/epgcache/internal/metrics"
)

// Command names of the line protocol.
const (
	CmdBrowseEPGData     = "browseEPGData"
	CmdBrowseEPGStations = "browseEPGStations"
	CmdGetFavorites      = "getFavorites"
)

// Source is the content source the handler reads through.
type Source interface {
	ListDevices(contentOnly bool) []content.Device
	GetChannels(ctx context.Context, udn string) []*content.Channel
	GetProgramsInRange(ctx context.Context, udn, channelID string, start, end time.Time) []*content.Program
}

// Favorites is the preferences collaborator behind getFavorites.
type Favorites interface {
	Get(ctx context.Context, udn string) ([]string, error)
}

// DefaultMaxWindow is the widest browseEPGData window answered when no
// HandlerOption sets one.
const DefaultMaxWindow = 31 * content.Day

// Handler answers line protocol commands.
type Handler struct {
	source    Source
	favorites Favorites
	target    func() string
	maxWindow time.Duration
	logger    zerolog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMaxWindow sets the widest browseEPGData window. Wider requests are
// treated as malformed and get no response.
func WithMaxWindow(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.maxWindow = d
		}
	}
}

// NewHandler creates a Handler. target returns the configured server udn; when
// it is nil or returns "", the first content-capable device is used.
// favorites may be nil, in which case getFavorites answers an empty list.
func NewHandler(src Source, favorites Favorites, target func() string, opts ...HandlerOption) *Handler {
	h := &Handler{
		source:    src,
		favorites: favorites,
		target:    target,
		maxWindow: DefaultMaxWindow,
		logger:    xglog.WithComponent("query"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// TargetUDN returns the server queries are answered for, or "" when none is known.
func (h *Handler) TargetUDN() string {
	if h.target != nil {
		if udn := h.target(); udn != "" {
			return udn
		}
	}
	if devs := h.source.ListDevices(true); len(devs) > 0 {
		return devs[0].UDN
	}
	return ""
}

// EPGRequest is the browseEPGData payload. TIMELIST holds the window bounds
// as epoch milliseconds.
type EPGRequest struct {
	ChannelList []string   `json:"CHANNELLIST"`
	TimeList    millisList `json:"TIMELIST"`
}

// millisList accepts epoch milliseconds as JSON strings or numbers.
type millisList []int64

func (m *millisList) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(millisList, 0, len(raw))
	for _, r := range raw {
		s := strings.Trim(string(r), `"`)
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("time value %s: %w", r, err)
		}
		out = append(out, v)
	}
	*m = out
	return nil
}

// EPGResponse maps channel id to day key ("M-d") to start millis to program.
type EPGResponse struct {
	EPG map[string]map[string]map[string]*content.Program `json:"EPG"`
}

// StationsResponse answers browseEPGStations.
type StationsResponse struct {
	Stations []*content.Channel `json:"STATIONS"`
}

// FavoritesResponse answers getFavorites.
type FavoritesResponse struct {
	Favorites []string `json:"FAVORITES"`
}

// Handle answers one request line. ok is false when the line is not a
// recognised command, in which case nothing must be sent back.
func (h *Handler) Handle(ctx context.Context, line string) (resp []byte, ok bool) {
	cmd, payload := splitCommand(strings.TrimSpace(line))
	logger := xglog.WithContext(ctx, h.logger).With().Str("command", cmd).Logger()

	var v any
	switch cmd {
	case CmdBrowseEPGData:
		req, err := decodeEPGRequest(payload, h.maxWindow)
		if err != nil {
			logger.Debug().Err(err).Str(xglog.FieldEvent, "query.ignored").Msg("malformed browseEPGData payload")
			return nil, false
		}
		v = h.BrowseEPGData(ctx, req)
	case CmdBrowseEPGStations:
		v = h.BrowseEPGStations(ctx)
	case CmdGetFavorites:
		v = h.GetFavorites(ctx)
	default:
		logger.Debug().Str(xglog.FieldEvent, "query.ignored").Msg("unrecognised request")
		return nil, false
	}

	metrics.RecordQueryCommand(cmd)
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "query.encode_failed").Msg("encoding response")
		return nil, false
	}
	return b, true
}

// splitCommand separates the command name from its payload. A bare JSON object
// is keyed by the command name.
func splitCommand(line string) (string, []byte) {
	if strings.HasPrefix(line, "{") {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &wrapper); err != nil || len(wrapper) != 1 {
			return "", nil
		}
		for k := range wrapper {
			return k, []byte(line)
		}
	}
	name, rest, _ := strings.Cut(line, " ")
	return name, []byte(strings.TrimSpace(rest))
}

// decodeEPGRequest accepts the wrapped {"browseEPGData":{...}} form or the
// inner object alone. Windows wider than maxWindow are rejected.
func decodeEPGRequest(payload []byte, maxWindow time.Duration) (EPGRequest, error) {
	var req EPGRequest
	if len(bytes.TrimSpace(payload)) == 0 {
		return req, fmt.Errorf("empty payload")
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return req, err
	}
	if inner, ok := wrapper[CmdBrowseEPGData]; ok {
		payload = inner
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, err
	}
	if len(req.TimeList) != 2 {
		return req, fmt.Errorf("TIMELIST needs 2 values, got %d", len(req.TimeList))
	}
	if req.TimeList[1] < req.TimeList[0] {
		return req, fmt.Errorf("TIMELIST end before start")
	}
	// Unsigned: the difference of two int64 values may not fit in an int64.
	if width := uint64(req.TimeList[1] - req.TimeList[0]); width > uint64(maxWindow.Milliseconds()) {
		return req, fmt.Errorf("TIMELIST spans %dms, limit is %s", width, maxWindow)
	}
	return req, nil
}

// BrowseEPGData collects the programs of each requested channel intersecting
// the closed window [start, end], keyed by the day and start of each program.
func (h *Handler) BrowseEPGData(ctx context.Context, req EPGRequest) EPGResponse {
	resp := EPGResponse{EPG: make(map[string]map[string]map[string]*content.Program)}
	udn := h.TargetUDN()
	if udn == "" || len(req.TimeList) != 2 {
		return resp
	}
	start := time.UnixMilli(req.TimeList[0]).UTC()
	end := time.UnixMilli(req.TimeList[1]).UTC()

	for _, ch := range req.ChannelList {
		if ctx.Err() != nil {
			break
		}
		days := make(map[string]map[string]*content.Program)
		for _, p := range h.source.GetProgramsInRange(ctx, udn, ch, start, end) {
			key := content.DayKey(*p.Start)
			if days[key] == nil {
				days[key] = make(map[string]*content.Program)
			}
			days[key][strconv.FormatInt(p.Start.UnixMilli(), 10)] = p
		}
		resp.EPG[ch] = days
	}
	return resp
}

// BrowseEPGStations lists the channels of the target server.
func (h *Handler) BrowseEPGStations(ctx context.Context) StationsResponse {
	resp := StationsResponse{Stations: []*content.Channel{}}
	if udn := h.TargetUDN(); udn != "" {
		if chs := h.source.GetChannels(ctx, udn); len(chs) > 0 {
			resp.Stations = chs
		}
	}
	return resp
}

// GetFavorites lists the favourite channel ids of the target server.
func (h *Handler) GetFavorites(ctx context.Context) FavoritesResponse {
	resp := FavoritesResponse{Favorites: []string{}}
	udn := h.TargetUDN()
	if h.favorites == nil || udn == "" {
		return resp
	}
	ids, err := h.favorites.Get(ctx, udn)
	if err != nil {
		logger := xglog.WithContext(ctx, h.logger)
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "query.favorites_failed").
			Str(xglog.FieldUDN, udn).
			Msg("reading favorites")
		return resp
	}
	if len(ids) > 0 {
		resp.Favorites = ids
	}
	return resp
}
