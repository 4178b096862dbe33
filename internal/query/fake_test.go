// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/epgcache/internal/content"
	"github.com/ManuGH/epgcache/internal/source"
)

const testUDN = "uuid:test-server"

// treeBackend serves a static content tree for one device.
type treeBackend struct {
	mu    sync.Mutex
	tree  map[string][]content.Record
	calls map[string]int
}

func newTreeBackend() *treeBackend {
	return &treeBackend{
		tree:  make(map[string][]content.Record),
		calls: make(map[string]int),
	}
}

func (b *treeBackend) Name() string                { return "tree" }
func (b *treeBackend) Start(context.Context) error { return nil }
func (b *treeBackend) Stop(context.Context) error  { return nil }

func (b *treeBackend) Devices(context.Context) ([]content.Device, error) {
	return []content.Device{{
		UDN:          testUDN,
		FriendlyName: "Test Server",
		Services:     []content.Service{{ServiceType: content.ContentDirectoryService}},
	}}, nil
}

func (b *treeBackend) Browse(_ context.Context, udn, parentID string) ([]content.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[parentID]++
	if udn != testUDN {
		return nil, content.ErrDeviceNotFound
	}
	return b.tree[parentID], nil
}

func (b *treeBackend) addChannel(id, number, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tree[content.ChannelsPath] = append(b.tree[content.ChannelsPath], content.Record{
		content.FieldID:            content.Join(content.ChannelsPath, id),
		content.FieldTitle:         name,
		content.FieldClass:         content.ClassVideoBroadcast,
		content.FieldChannelID:     id,
		content.FieldChannelNumber: number,
	})
}

// addProgram lists the program in the day container of every UTC day it touches.
func (b *treeBackend) addProgram(channelID, id, title string, start, end time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, day := range content.DaysBetween(start, end.Add(-time.Nanosecond)) {
		parent := content.DayContainerID(channelID, day)
		b.tree[parent] = append(b.tree[parent], content.Record{
			content.FieldID:                 content.Join(content.ChannelEPGPath(channelID), id),
			content.FieldTitle:              title,
			content.FieldClass:              content.ClassVideoProgram,
			content.FieldProgramTitle:       title,
			content.FieldChannelID:          channelID,
			content.FieldScheduledStartTime: content.FormatTime(&start),
			content.FieldScheduledEndTime:   content.FormatTime(&end),
		})
	}
}

// memFavorites is an in-memory Favorites.
type memFavorites map[string][]string

func (m memFavorites) Get(_ context.Context, udn string) ([]string, error) {
	return m[udn], nil
}

func newTestSource(t *testing.T, b *treeBackend, now time.Time) *source.Source {
	t.Helper()
	src := source.New(b, nil, source.Options{Now: func() time.Time { return now }})
	ctx := context.Background()
	src.StartService(ctx, nil)
	t.Cleanup(func() { src.StopService(ctx) })
	return src
}
