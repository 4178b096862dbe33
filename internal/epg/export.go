// SPDX-License-Identifier: MIT

package epg

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ManuGH/epgcache/internal/content"
	xglog "github.com/ManuGH/epgcache/internal/log"
	"github.com/ManuGH/epgcache/internal/metrics"
	"github.com/ManuGH/epgcache/internal/source"
)

// ErrNoChannels is returned when the cache holds no channel list for a server.
var ErrNoChannels = errors.New("epg: no cached channels")

// Catalog is the read side of the cache store.
type Catalog interface {
	GetChildren(ctx context.Context, udn, parentID string) ([]content.Object, bool)
	SearchEPG(ctx context.Context, udn string, channelIDs []string, start, end time.Time) []*content.Program
}

// Exporter renders one server's cached guide.
type Exporter struct {
	Catalog   Catalog
	Days      int
	Generator string
	Now       func() time.Time
}

// Build collects channels and the programs from the start of today through
// Days days ahead.
func (e *Exporter) Build(ctx context.Context, udn string) (TV, error) {
	objs, ok := e.Catalog.GetChildren(ctx, udn, content.ChannelsPath)
	channels := source.ChildrenOf[*content.Channel](objs)
	if !ok || len(channels) == 0 {
		return TV{}, ErrNoChannels
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	days := e.Days
	if days <= 0 {
		days = 7
	}
	start := content.StartOfDay(now())
	end := start.AddDate(0, 0, days)

	gen := e.Generator
	if gen == "" {
		gen = "epgcache"
	}
	tv := TV{Generator: gen, Channels: make([]Channel, 0, len(channels))}
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		names := []string{ch.Title}
		if ch.Number != "" {
			names = append(names, strings.TrimSpace(ch.Number+" "+ch.Title))
		}
		c := Channel{ID: ch.ChannelID, DisplayName: names}
		if ch.IconURI != "" {
			c.Icon = &Icon{Src: ch.IconURI}
		}
		tv.Channels = append(tv.Channels, c)
		ids = append(ids, ch.ChannelID)
	}

	for _, p := range e.Catalog.SearchEPG(ctx, udn, ids, start, end) {
		if !p.Scheduled() {
			continue
		}
		tv.Programs = append(tv.Programs, programme(p))
	}
	return tv, nil
}

func programme(p *content.Program) Programme {
	title := p.ProgramTitle
	if title == "" {
		title = p.Title
	}
	out := Programme{
		Start:    FormatTime(*p.Start),
		Stop:     FormatTime(*p.End),
		Channel:  p.ChannelID,
		Title:    Title{Text: title},
		SubTitle: p.SeriesTitle,
		Desc:     p.LongDescription,
		Category: p.Genre,
		Rating:   p.Rating,
	}
	if icon := p.Icon; icon != "" {
		out.Icon = &Icon{Src: icon}
	} else if p.IconURI != "" {
		out.Icon = &Icon{Src: p.IconURI}
	}
	return out
}

// Export builds the guide of udn and writes it to path.
func (e *Exporter) Export(ctx context.Context, udn, path string) (int, error) {
	logger := xglog.WithComponentFromContext(ctx, "xmltv")

	tv, err := e.Build(ctx, udn)
	if err == nil {
		err = WriteFile(ctx, path, tv)
	}
	metrics.RecordXMLTVExport(len(tv.Programs), err)
	if err != nil {
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "xmltv.export_failed").
			Str(xglog.FieldUDN, udn).
			Str(xglog.FieldPath, path).
			Msg("xmltv export failed")
		return 0, err
	}
	logger.Info().
		Str(xglog.FieldEvent, "xmltv.exported").
		Str(xglog.FieldUDN, udn).
		Str(xglog.FieldPath, path).
		Int("channels", len(tv.Channels)).
		Int("programmes", len(tv.Programs)).
		Msg("xmltv written")
	return len(tv.Programs), nil
}
