// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/epgcache/internal/content"
)

// fakeBackend serves a static tree and counts browses per node.
type fakeBackend struct {
	mu       sync.Mutex
	tree     map[string][]content.Record
	calls    map[string]int
	errs     map[string]error
	delay    time.Duration
	release  chan struct{}
	startErr error
	devices  []content.Device
	starts   int
	stops    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tree:  make(map[string][]content.Record),
		calls: make(map[string]int),
		errs:  make(map[string]error),
	}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeBackend) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeBackend) Devices(context.Context) ([]content.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]content.Device(nil), f.devices...), nil
}

func (f *fakeBackend) Browse(ctx context.Context, udn, parentID string) ([]content.Record, error) {
	f.mu.Lock()
	key := udn + "|" + parentID
	f.calls[key]++
	recs, err := f.tree[key], f.errs[key]
	delay, release := f.delay, f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (f *fakeBackend) set(udn, parentID string, recs ...content.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tree[udn+"|"+parentID] = recs
}

func (f *fakeBackend) fail(udn, parentID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[udn+"|"+parentID] = err
}

func (f *fakeBackend) callCount(udn, parentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[udn+"|"+parentID]
}

func (f *fakeBackend) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// memCache is an in-memory Cache.
type memCache struct {
	mu   sync.Mutex
	data map[string][]content.Object
	puts int

	// putCtxErr and putBudget describe the context of the last Put.
	putCtxErr error
	putBudget time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]content.Object)}
}

func (m *memCache) GetChildren(_ context.Context, udn, parentID string) ([]content.Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objs, ok := m.data[udn+"|"+parentID]
	return objs, ok
}

func (m *memCache) Put(ctx context.Context, udn, parentID string, children []content.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.putCtxErr = ctx.Err()
	if dl, ok := ctx.Deadline(); ok {
		m.putBudget = time.Until(dl)
	}
	m.data[udn+"|"+parentID] = children
	return nil
}

func channelRecord(id, title string) content.Record {
	return content.Record{
		content.FieldID:    content.Join(content.ChannelsPath, id),
		content.FieldTitle: title,
		content.FieldClass: content.ClassVideoBroadcast,
	}
}

func programRecord(channelID string, day time.Time, n int, start, end time.Time) content.Record {
	return content.Record{
		content.FieldID:                 fmt.Sprintf("%s/%d", content.DayContainerID(channelID, day), n),
		content.FieldTitle:              fmt.Sprintf("Program %d", n),
		content.FieldClass:              content.ClassVideoProgram,
		content.FieldScheduledStartTime: start.UTC().Format(time.RFC3339),
		content.FieldScheduledEndTime:   end.UTC().Format(time.RFC3339),
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	started int
	stopped int
	errs    []error
}

func (r *recordingObserver) ServiceStarted() { r.mu.Lock(); r.started++; r.mu.Unlock() }
func (r *recordingObserver) ServiceStopped() { r.mu.Lock(); r.stopped++; r.mu.Unlock() }
func (r *recordingObserver) ServiceError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}
