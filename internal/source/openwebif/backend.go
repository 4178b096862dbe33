// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package openwebif exposes an Enigma2 receiver as a browsable content
// server. The receiver has no content directory of its own, so the backend
// synthesizes one from bouquets, services and the per-service EPG.
package openwebif

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/epgcache/internal/content"
	xglog "github.com/ManuGH/epgcache/internal/log"
)

// Name is the backend name used in configuration.
const Name = "openwebif"

const (
	defaultEventTTL = 5 * time.Minute
	defaultEPGDays  = 14
)

// Config configures the receiver backend.
type Config struct {
	BaseURL string
	// Bouquet is a bouquet name or reference. Empty selects the first one.
	Bouquet           string
	Timeout           time.Duration
	EPGDays           int
	RequestsPerSecond float64
	Username          string
	Password          string
	// EventTTL bounds how long fetched EPG events are reused across day
	// containers of the same channel.
	EventTTL time.Duration
	Now      func() time.Time
}

type eventMemo struct {
	events    []EPGEvent
	fetchedAt time.Time
}

// Backend implements source.Backend for one receiver.
type Backend struct {
	cfg    Config
	client *Client
	udn    string

	mu       sync.Mutex
	device   *content.Device
	services map[string]Service // channel id -> service
	order    []string
	events   map[string]eventMemo
	flight   singleflight.Group
}

// New creates a backend for the receiver at cfg.BaseURL.
func New(cfg Config) *Backend {
	if cfg.EPGDays <= 0 {
		cfg.EPGDays = defaultEPGDays
	}
	if cfg.EventTTL <= 0 {
		cfg.EventTTL = defaultEventTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Backend{
		cfg:    cfg,
		client: NewClient(cfg),
		udn:    DeviceUDN(cfg.BaseURL),
		events: make(map[string]eventMemo),
	}
}

// DeviceUDN derives a stable udn from the receiver URL.
func DeviceUDN(baseURL string) string {
	return "uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.TrimRight(baseURL, "/"))).String()
}

// ChannelID maps a service reference to a path-safe channel id.
func ChannelID(serviceRef string) string {
	return strings.NewReplacer(":", "_", "/", "%2F").Replace(serviceRef)
}

// Name implements source.Backend.
func (b *Backend) Name() string { return Name }

// Start probes the receiver.
func (b *Backend) Start(ctx context.Context) error {
	_, err := b.probe(ctx)
	return err
}

// Stop drops memoized receiver state.
func (b *Backend) Stop(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.device = nil
	b.services = nil
	b.order = nil
	b.events = make(map[string]eventMemo)
	return nil
}

// Devices returns the receiver, or nothing when it cannot be reached.
func (b *Backend) Devices(ctx context.Context) ([]content.Device, error) {
	d, err := b.probe(ctx)
	if err != nil {
		return nil, err
	}
	return []content.Device{d}, nil
}

func (b *Backend) probe(ctx context.Context) (content.Device, error) {
	about, err := b.client.About(ctx)
	if err != nil {
		b.mu.Lock()
		b.device = nil
		b.mu.Unlock()
		return content.Device{}, err
	}

	name := strings.TrimSpace(about.Brand + " " + about.Model)
	if name == "" {
		name = "OpenWebIF"
		if u, err := url.Parse(b.cfg.BaseURL); err == nil && u.Host != "" {
			name += " " + u.Host
		}
	}
	d := content.Device{
		UDN:          b.udn,
		FriendlyName: name,
		Manufacturer: about.Brand,
		ModelName:    about.Model,
		DeviceType:   "urn:schemas-upnp-org:device:MediaServer:1",
		Services: []content.Service{{
			ServiceType: content.ContentDirectoryService,
			ServiceID:   "urn:upnp-org:serviceId:ContentDirectory",
			ControlURL:  b.client.BaseURL() + "/api",
		}},
		Location: b.client.BaseURL(),
	}

	b.mu.Lock()
	b.device = &d
	b.mu.Unlock()
	return d, nil
}

// Browse implements source.Backend over the synthesized tree.
func (b *Backend) Browse(ctx context.Context, udn, parentID string) ([]content.Record, error) {
	if udn != b.udn {
		return nil, fmt.Errorf("openwebif: %s: %w", udn, content.ErrDeviceNotFound)
	}

	switch {
	case parentID == content.RootID:
		return []content.Record{
			containerRecord(content.ChannelsPath, "Channels"),
			containerRecord(content.EPGPath, "EPG"),
		}, nil
	case parentID == content.ChannelsPath:
		return b.browseChannels(ctx)
	case parentID == content.EPGPath:
		return b.browseEPGChannels(ctx)
	}

	rest, ok := strings.CutPrefix(parentID, content.EPGPath+content.Separator)
	if !ok {
		return nil, nil
	}
	channelID, day, hasDay := strings.Cut(rest, content.Separator)
	if !hasDay {
		return b.browseDays(ctx, channelID)
	}
	if strings.Contains(day, content.Separator) {
		return nil, nil
	}
	return b.browseDay(ctx, channelID, day)
}

func containerRecord(id, title string) content.Record {
	return content.Record{
		content.FieldID:    id,
		content.FieldTitle: title,
		content.FieldClass: content.ClassContainer,
	}
}

func (b *Backend) loadServices(ctx context.Context) ([]string, map[string]Service, error) {
	b.mu.Lock()
	if b.services != nil {
		order, services := b.order, b.services
		b.mu.Unlock()
		return order, services, nil
	}
	b.mu.Unlock()

	_, err, _ := b.flight.Do("services", func() (any, error) {
		ref, err := b.bouquetRef(ctx)
		if err != nil {
			return nil, err
		}
		list, err := b.client.Services(ctx, ref)
		if err != nil {
			return nil, err
		}
		order := make([]string, 0, len(list))
		services := make(map[string]Service, len(list))
		for _, s := range list {
			id := ChannelID(s.Ref)
			if _, dup := services[id]; dup {
				continue
			}
			order = append(order, id)
			services[id] = s
		}
		b.mu.Lock()
		b.order, b.services = order, services
		b.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order, b.services, nil
}

func (b *Backend) bouquetRef(ctx context.Context) (string, error) {
	if strings.HasPrefix(b.cfg.Bouquet, "1:7:") {
		return b.cfg.Bouquet, nil
	}
	bouquets, err := b.client.Bouquets(ctx)
	if err != nil {
		return "", err
	}
	for _, bq := range bouquets {
		if b.cfg.Bouquet == "" || strings.EqualFold(bq.Name, b.cfg.Bouquet) {
			return bq.Ref, nil
		}
	}
	return "", &Error{Sentinel: ErrNotFound, Operation: "bouquets", Body: "bouquet " + strconv.Quote(b.cfg.Bouquet)}
}

func (b *Backend) browseChannels(ctx context.Context) ([]content.Record, error) {
	order, services, err := b.loadServices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]content.Record, 0, len(order))
	for i, id := range order {
		s := services[id]
		out = append(out, content.Record{
			content.FieldID:            content.Join(content.ChannelsPath, id),
			content.FieldTitle:         s.Name,
			content.FieldClass:         content.ClassVideoBroadcast,
			content.FieldChannelNumber: strconv.Itoa(i + 1),
			content.FieldCallSign:      s.Name,
			content.FieldResourceURI:   b.client.BaseURL() + "/web/stream.m3u?ref=" + url.QueryEscape(s.Ref),
		})
	}
	return out, nil
}

func (b *Backend) browseEPGChannels(ctx context.Context) ([]content.Record, error) {
	order, services, err := b.loadServices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]content.Record, 0, len(order))
	for _, id := range order {
		out = append(out, containerRecord(content.ChannelEPGPath(id), services[id].Name))
	}
	return out, nil
}

func (b *Backend) service(ctx context.Context, channelID string) (Service, bool, error) {
	_, services, err := b.loadServices(ctx)
	if err != nil {
		return Service{}, false, err
	}
	s, ok := services[channelID]
	return s, ok, nil
}

// browseDays lists one container per UTC day that has events, within the
// configured EPG window.
func (b *Backend) browseDays(ctx context.Context, channelID string) ([]content.Record, error) {
	s, ok, err := b.service(ctx, channelID)
	if err != nil || !ok {
		return nil, err
	}
	events, err := b.eventsFor(ctx, s.Ref)
	if err != nil {
		return nil, err
	}

	today := content.StartOfDay(b.cfg.Now())
	last := today.AddDate(0, 0, b.cfg.EPGDays)
	seen := make(map[string]struct{})
	var out []content.Record
	for _, d := range eventDays(events) {
		if d.Before(today) || !d.Before(last) {
			continue
		}
		key := content.DayKey(d)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, containerRecord(content.DayContainerID(channelID, d), d.Format("Mon 2 Jan")))
	}
	return out, nil
}

// eventDays returns the sorted UTC days covered by events.
func eventDays(events []EPGEvent) []time.Time {
	set := make(map[time.Time]struct{})
	for _, ev := range events {
		start, end := eventSpan(ev)
		for _, d := range content.DaysBetween(start, end.Add(-time.Nanosecond)) {
			set[d] = struct{}{}
		}
	}
	days := make([]time.Time, 0, len(set))
	for d := range set {
		days = append(days, d)
	}
	slices.SortFunc(days, time.Time.Compare)
	return days
}

func eventSpan(ev EPGEvent) (time.Time, time.Time) {
	start := time.Unix(ev.Begin, 0).UTC()
	d := ev.Duration
	if d <= 0 {
		d = 1
	}
	return start, start.Add(time.Duration(d) * time.Second)
}

// browseDay lists the programs airing during one UTC day.
func (b *Backend) browseDay(ctx context.Context, channelID, dayKey string) ([]content.Record, error) {
	day, err := content.ParseDayKey(dayKey, b.cfg.Now())
	if err != nil {
		return nil, nil
	}
	s, ok, err := b.service(ctx, channelID)
	if err != nil || !ok {
		return nil, err
	}
	events, err := b.eventsFor(ctx, s.Ref)
	if err != nil {
		return nil, err
	}

	dayEnd := day.Add(content.Day)
	var out []content.Record
	for _, ev := range events {
		start, end := eventSpan(ev)
		if !start.Before(dayEnd) || !end.After(day) {
			continue
		}
		out = append(out, programRecord(channelID, ev, start, end))
	}
	return out, nil
}

func programRecord(channelID string, ev EPGEvent, start, end time.Time) content.Record {
	r := content.Record{
		content.FieldID:                 content.Join(content.EPGPath, channelID, "ev"+strconv.FormatInt(ev.ID, 10)+"-"+strconv.FormatInt(ev.Begin, 10)),
		content.FieldTitle:              ev.Title,
		content.FieldClass:              content.ClassVideoProgram,
		content.FieldChannelID:          channelID,
		content.FieldProgramTitle:       ev.Title,
		content.FieldScheduledStartTime: start.Format(time.RFC3339),
		content.FieldScheduledEndTime:   end.Format(time.RFC3339),
	}
	if ev.Description != "" {
		r[content.FieldSeriesTitle] = ev.Description
	}
	if ev.LongDesc != "" {
		r[content.FieldLongDescription] = ev.LongDesc
	}
	if ev.Genre != "" {
		r[content.FieldGenre] = ev.Genre
	}
	return r
}

// eventsFor returns the EPG of a service, reusing a recent fetch so the day
// containers of one channel cost a single request.
func (b *Backend) eventsFor(ctx context.Context, serviceRef string) ([]EPGEvent, error) {
	now := b.cfg.Now()
	b.mu.Lock()
	memo, ok := b.events[serviceRef]
	b.mu.Unlock()
	if ok && now.Sub(memo.fetchedAt) < b.cfg.EventTTL {
		return memo.events, nil
	}

	v, err, _ := b.flight.Do("epg:"+serviceRef, func() (any, error) {
		events, err := b.client.EPG(ctx, serviceRef)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.events[serviceRef] = eventMemo{events: events, fetchedAt: now}
		b.mu.Unlock()
		logger := xglog.WithComponentFromContext(ctx, "openwebif")
		logger.Debug().
			Str(xglog.FieldEvent, "openwebif.epg_fetched").
			Int(xglog.FieldCount, len(events)).
			Msg("fetched service epg")
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]EPGEvent), nil
}
