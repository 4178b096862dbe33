// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/epgcache/internal/content"
)

var errUnreachable = errors.New("server unreachable")

// fakeFetcher serves a static tree and records every fetch in order.
type fakeFetcher struct {
	mu      sync.Mutex
	tree    map[string][]content.Object
	fail    map[string]int // remaining failures, negative fails forever
	block   map[string]chan struct{}
	entered chan string
	calls   []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		tree:    make(map[string][]content.Object),
		fail:    make(map[string]int),
		block:   make(map[string]chan struct{}),
		entered: make(chan string, 64),
	}
}

func (f *fakeFetcher) FetchChildren(ctx context.Context, udn, parentID string) ([]content.Object, error) {
	f.mu.Lock()
	f.calls = append(f.calls, parentID)
	block := f.block[parentID]
	n := f.fail[parentID]
	if n > 0 {
		f.fail[parentID] = n - 1
	}
	objs := f.tree[parentID]
	f.mu.Unlock()

	select {
	case f.entered <- parentID:
	default:
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n != 0 {
		return nil, fmt.Errorf("fetch %s: %w", parentID, errUnreachable)
	}
	return objs, nil
}

func (f *fakeFetcher) setChannels(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var objs []content.Object
	for _, id := range ids {
		objs = append(objs, &content.Channel{
			Base:      content.Base{ID: content.Join(content.ChannelsPath, id), Title: "Channel " + id, Class: content.ClassVideoBroadcast},
			ChannelID: id,
		})
	}
	f.tree[content.ChannelsPath] = objs
}

func (f *fakeFetcher) addProgram(channelID string, start time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := start.Add(time.Hour)
	parent := content.DayContainerID(channelID, start)
	p := &content.Program{ChannelID: channelID, Start: &start, End: &end}
	p.ID = content.Join(parent, fmt.Sprint(start.Unix()))
	p.Title = "Program"
	p.Class = content.ClassVideoProgram
	f.tree[parent] = append(f.tree[parent], p)
}

func (f *fakeFetcher) setFailures(parentID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[parentID] = n
}

func (f *fakeFetcher) blockOn(parentID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block[parentID] = ch
	return ch
}

// dayCalls returns the day container fetches in order.
func (f *fakeFetcher) dayCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, content.EPGPath+content.Separator) {
			out = append(out, c)
		}
	}
	return out
}
