// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/epgcache/internal/content"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache.sqlite"), content.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func channel(id, title string) content.Object {
	c := &content.Channel{}
	c.Populate(content.Record{
		content.FieldID:    "0/Channels/" + id,
		content.FieldTitle: title,
		content.FieldClass: content.ClassVideoBroadcast,
	})
	return c
}

func program(ch, id string, start, end time.Time) *content.Program {
	p := &content.Program{}
	p.Populate(content.Record{
		content.FieldID:                 content.DayContainerID(ch, start) + "/" + id,
		content.FieldTitle:              "Show " + id,
		content.FieldClass:              content.ClassVideoProgram,
		content.FieldChannelID:          ch,
		content.FieldScheduledStartTime: start.UTC().Format(time.RFC3339),
		content.FieldScheduledEndTime:   end.UTC().Format(time.RFC3339),
	})
	return p
}

func ids[T content.Object](objs []T) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.GetID()
	}
	return out
}

func TestGetChildrenMiss(t *testing.T) {
	s := newTestStore(t)
	objs, ok := s.GetChildren(context.Background(), "udn1", content.ChannelsPath)
	assert.False(t, ok)
	assert.Empty(t, objs)
}

func TestPutPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	children := []content.Object{channel("3", "C"), channel("1", "A"), channel("2", "B")}

	require.NoError(t, s.Put(ctx, "udn1", content.ChannelsPath, children))

	got, ok := s.GetChildren(ctx, "udn1", content.ChannelsPath)
	require.True(t, ok)
	assert.Equal(t, ids(children), ids(got))
	assert.IsType(t, &content.Channel{}, got[0])
	assert.Equal(t, "3", got[0].(*content.Channel).ChannelID)

	_, ok = s.GetChildren(ctx, "udn2", content.ChannelsPath)
	assert.False(t, ok, "keys are scoped per server")
}

func TestPutIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	children := []content.Object{channel("1", "A"), channel("2", "B")}

	require.NoError(t, s.Put(ctx, "udn1", content.ChannelsPath, children))
	first, _ := s.GetChildren(ctx, "udn1", content.ChannelsPath)
	require.NoError(t, s.Put(ctx, "udn1", content.ChannelsPath, children))
	second, _ := s.GetChildren(ctx, "udn1", content.ChannelsPath)

	assert.Equal(t, ids(first), ids(second))
	for i := range first {
		assert.True(t, content.Equal(first[i], second[i]))
	}
}

func TestPutReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "udn1", content.ChannelsPath, []content.Object{channel("1", "A"), channel("2", "B")}))
	require.NoError(t, s.Put(ctx, "udn1", content.ChannelsPath, []content.Object{channel("9", "Z")}))

	got, ok := s.GetChildren(ctx, "udn1", content.ChannelsPath)
	require.True(t, ok)
	assert.Equal(t, []string{"0/Channels/9"}, ids(got))
}

func TestPutSkipsDuplicateIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "udn1", content.ChannelsPath, []content.Object{channel("1", "A"), channel("2", "B"), channel("1", "A again")}))
	got, _ := s.GetChildren(ctx, "udn1", content.ChannelsPath)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].GetTitle())
}

func TestSearchEPGBoundaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

	c1 := []content.Object{
		program("c1", "endsAtStart", at(8), at(10)),
		program("c1", "inside", at(10), at(11)),
		program("c1", "straddlesEnd", at(11), at(13)),
		program("c1", "startsAtEnd", at(12), at(14)),
	}
	c2 := []content.Object{program("c2", "other", at(10), at(11))}
	require.NoError(t, s.Put(ctx, "udn1", content.DayContainerID("c1", base), c1))
	require.NoError(t, s.Put(ctx, "udn1", content.DayContainerID("c2", base), c2))

	got := s.SearchEPG(ctx, "udn1", []string{"c1"}, at(10), at(12))
	assert.Equal(t, []string{
		content.DayContainerID("c1", base) + "/inside",
		content.DayContainerID("c1", base) + "/straddlesEnd",
	}, ids(got))

	got = s.SearchEPG(ctx, "udn1", []string{"c2", "c1"}, at(10), at(12))
	require.Len(t, got, 3)
	assert.Equal(t, "c1", got[0].ChannelID)
	assert.Equal(t, "c2", got[2].ChannelID)

	assert.Empty(t, s.SearchEPG(ctx, "udn2", []string{"c1"}, at(0), at(24)))
	assert.Len(t, s.SearchEPG(ctx, "udn1", nil, at(0), at(24)), 5)
}

func TestSearchEPGDeduplicatesAcrossDays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(content.Day)

	late := program("c1", "late", day2.Add(-time.Hour), day2.Add(time.Hour))
	require.NoError(t, s.Put(ctx, "udn1", content.DayContainerID("c1", day1), []content.Object{late}))
	require.NoError(t, s.Put(ctx, "udn1", content.DayContainerID("c1", day2), []content.Object{late}))

	got := s.SearchEPG(ctx, "udn1", []string{"c1"}, day1, day2.Add(content.Day))
	assert.Len(t, got, 1)
}

func TestSearchEPGUsesIndex(t *testing.T) {
	s := newTestStore(t)
	query, args := epgQuery("udn1", []string{"a", "b"}, time.Unix(0, 0), time.Unix(3600, 0))

	rows, err := s.db.Query("EXPLAIN QUERY PLAN "+query, args...)
	require.NoError(t, err)
	defer rows.Close()

	var plan []string
	for rows.Next() {
		var id, parent, notused int
		var detail string
		require.NoError(t, rows.Scan(&id, &parent, &notused, &detail))
		plan = append(plan, detail)
	}
	require.NoError(t, rows.Err())
	assert.Contains(t, strings.Join(plan, "\n"), "idx_nodes_epg")
}

func TestSearchByTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "udn1", "0/Movies", []content.Object{
		&content.Item{Base: content.Base{ID: "0/Movies/1", Title: "Die ÄRZTE live", Class: content.ClassItem}},
		&content.Item{Base: content.Base{ID: "0/Movies/2", Title: "Heimat", Class: content.ClassItem}},
	}))
	require.NoError(t, s.Put(ctx, "udn1", "0/Movies/Concerts", []content.Object{
		&content.Item{Base: content.Base{ID: "0/Movies/Concerts/1", Title: "Ärzte unplugged", Class: content.ClassItem}},
	}))
	require.NoError(t, s.Put(ctx, "udn1", "0/Music", []content.Object{
		&content.Item{Base: content.Base{ID: "0/Music/1", Title: "Die Ärzte", Class: content.ClassItem}},
	}))

	got := s.SearchByTitle(ctx, "udn1", "0/Movies", "ärzte")
	assert.Equal(t, []string{"0/Movies/1", "0/Movies/Concerts/1"}, ids(got))

	got = s.SearchByTitle(ctx, "udn1", "0", "ÄRZTE")
	assert.Len(t, got, 3)

	assert.Empty(t, s.SearchByTitle(ctx, "udn1", "0/movies", "ärzte"), "prefix match is exact")
}

func TestConcurrentPutAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	small := []content.Object{channel("1", "A"), channel("2", "B")}
	large := []content.Object{channel("1", "A"), channel("2", "B"), channel("3", "C"), channel("4", "D"), channel("5", "E")}
	require.NoError(t, s.Put(ctx, "udn1", content.ChannelsPath, small))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				set := small
				if (i+j)%2 == 0 {
					set = large
				}
				assert.NoError(t, s.Put(ctx, "udn1", content.ChannelsPath, set))
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				got, ok := s.GetChildren(ctx, "udn1", content.ChannelsPath)
				if !ok {
					continue
				}
				n := len(got)
				assert.True(t, n == len(small) || n == len(large), fmt.Sprintf("partial replacement observed: %d rows", n))
			}
		}()
	}
	wg.Wait()
}

func TestKeyLocksAreBounded(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)

	assert.Same(t, s.keyLock("udn1", content.ChannelsPath), s.keyLock("udn1", content.ChannelsPath))

	seen := make(map[*sync.Mutex]struct{})
	for ch := 0; ch < 100; ch++ {
		for d := 0; d < 100; d++ {
			parent := content.DayContainerID(fmt.Sprint(ch), day.AddDate(0, 0, d))
			seen[s.keyLock("udn1", parent)] = struct{}{}
		}
	}
	assert.LessOrEqual(t, len(seen), lockStripes)
	assert.Greater(t, len(seen), 1, "keys should spread over the stripes")
}

func TestResetAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, "udn1", content.ChannelsPath, []content.Object{channel("1", "A")}))
	require.NoError(t, s.Put(ctx, "udn2", content.DayContainerID("1", day), []content.Object{
		program("1", "p", day.Add(time.Hour), day.Add(2*time.Hour)),
	}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Rows: 2, Keys: 2, Programs: 1, Servers: 2}, st)

	require.NoError(t, s.ResetServer(ctx, "udn2"))
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Rows)

	require.NoError(t, s.Reset(ctx))
	_, ok := s.GetChildren(ctx, "udn1", content.ChannelsPath)
	assert.False(t, ok)
}
