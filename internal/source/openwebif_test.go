// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/epgcache/internal/cache"
	"github.com/ManuGH/epgcache/internal/content"
	"github.com/ManuGH/epgcache/internal/source/openwebif"
)

func TestSourceOverReceiver(t *testing.T) {
	now := time.Date(2025, 3, 7, 23, 0, 0, 0, time.UTC)
	mock := openwebif.NewMockServer()
	defer mock.Close()
	mock.AddEPGEvent(openwebif.MockServiceARD, openwebif.EPGEvent{ID: 1, Title: "Late Show", Begin: now.Add(-30 * time.Minute).Unix(), Duration: 3600})
	mock.AddEPGEvent(openwebif.MockServiceARD, openwebif.EPGEvent{ID: 2, Title: "Night News", Begin: now.Add(30 * time.Minute).Unix(), Duration: 1800})

	backend, err := NewBackend(BackendConfig{Name: openwebif.Name, OpenWebIF: openwebif.Config{
		BaseURL: mock.URL(),
		Bouquet: openwebif.MockBouquet,
		Now:     func() time.Time { return now },
	}})
	require.NoError(t, err)

	store, err := cache.Open(context.Background(), filepath.Join(t.TempDir(), "cache.sqlite"), content.NewRegistry())
	require.NoError(t, err)
	defer store.Close()

	src := New(backend, store, Options{Now: func() time.Time { return now }})
	ctx := context.Background()
	src.StartService(ctx, nil)
	defer src.StopService(ctx)

	devices := src.ListDevices(true)
	require.Len(t, devices, 1)
	udn := devices[0].UDN

	channels := src.GetChannels(ctx, udn)
	require.Len(t, channels, 2)
	ard := channels[0].ChannelID
	assert.Equal(t, openwebif.ChannelID(openwebif.MockServiceARD), ard)

	current := src.GetCurrentProgram(ctx, udn, ard)
	require.NotNil(t, current)
	assert.Equal(t, "Late Show", current.ProgramTitle)

	programs := src.GetProgramsInRange(ctx, udn, ard, now, now.Add(2*time.Hour))
	require.Len(t, programs, 2)
	assert.Equal(t, "Night News", programs[1].ProgramTitle)

	hits := store.SearchEPG(ctx, udn, []string{ard}, now, now.Add(time.Hour))
	assert.Len(t, hits, 2)
}
