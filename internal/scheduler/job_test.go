// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/epgcache/internal/content"
)

var testNow = time.Date(2025, time.March, 7, 10, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		RetryBackoff: time.Millisecond,
		Retries:      1,
		Now:          func() time.Time { return testNow },
	}
}

func TestRunVisitsTodayYesterdayThenStopsAtFirstEmptyDay(t *testing.T) {
	f := newFakeFetcher()
	f.setChannels("1", "2")
	f.addProgram("1", testNow)
	f.addProgram("2", testNow.Add(time.Hour))

	status := NewJob("udn1", f, testConfig()).Run(context.Background())

	assert.Equal(t, StateCompleted, status.State)
	today := content.StartOfDay(testNow)
	yesterday := today.AddDate(0, 0, -1)
	tomorrow := today.AddDate(0, 0, 1)
	assert.Equal(t, []string{
		content.DayContainerID("1", today), content.DayContainerID("2", today),
		content.DayContainerID("1", yesterday), content.DayContainerID("2", yesterday),
		content.DayContainerID("1", tomorrow), content.DayContainerID("2", tomorrow),
	}, f.dayCalls())
	assert.Equal(t, 2, status.Channels)
	assert.Equal(t, 2, status.Programs)
	assert.Equal(t, []string{"3-7", "3-6", "3-8"}, status.Days)
}

func TestRunWithoutChannelsIsNoop(t *testing.T) {
	f := newFakeFetcher()

	status := NewJob("udn1", f, testConfig()).Run(context.Background())

	assert.Equal(t, StateCompleted, status.State)
	assert.Empty(t, f.dayCalls())
	assert.Zero(t, status.Channels)
}

func TestRunChannelListFailureIsIncomplete(t *testing.T) {
	f := newFakeFetcher()
	f.setChannels("1")
	f.setFailures(content.ChannelsPath, -1)

	status := NewJob("udn1", f, testConfig()).Run(context.Background())

	assert.Equal(t, StateIncomplete, status.State)
	assert.Contains(t, status.Error, "channel list")
	assert.Empty(t, f.dayCalls())
	assert.Equal(t, 2, status.Fetches, "one attempt plus one retry")
}

func TestFailedForwardDayIsNotTheDataEdge(t *testing.T) {
	f := newFakeFetcher()
	f.setChannels("1")
	f.addProgram("1", testNow)
	tomorrow := content.StartOfDay(testNow).AddDate(0, 0, 1)
	f.setFailures(content.DayContainerID("1", tomorrow), -1)

	status := NewJob("udn1", f, testConfig()).Run(context.Background())

	assert.Equal(t, StateIncomplete, status.State)
	assert.Equal(t, 1, status.Failures)
	assert.Contains(t, status.Error, "forward day returned no programs and some fetches failed")
	// today, yesterday, tomorrow twice (retry), nothing after
	assert.Len(t, f.dayCalls(), 4)
}

func TestForwardDayPartialFailureIsIncomplete(t *testing.T) {
	f := newFakeFetcher()
	f.setChannels("1", "2")
	f.addProgram("1", testNow)
	f.addProgram("2", testNow)
	tomorrow := content.StartOfDay(testNow).AddDate(0, 0, 1)
	// Channel 2 answers tomorrow with an empty day; only channel 1 fails.
	f.setFailures(content.DayContainerID("1", tomorrow), -1)

	status := NewJob("udn1", f, testConfig()).Run(context.Background())

	assert.Equal(t, StateIncomplete, status.State)
	assert.Equal(t, 1, status.Failures)
	assert.Contains(t, status.Error, "forward day returned no programs and some fetches failed")
	assert.NotContains(t, status.Error, "every channel")
}

func TestRetryRecoversTransientFailure(t *testing.T) {
	f := newFakeFetcher()
	f.setChannels("1")
	tomorrow := content.StartOfDay(testNow).AddDate(0, 0, 1)
	f.addProgram("1", testNow)
	f.addProgram("1", tomorrow.Add(8*time.Hour))
	f.setFailures(content.DayContainerID("1", tomorrow), 1)

	status := NewJob("udn1", f, testConfig()).Run(context.Background())

	assert.Equal(t, StateCompleted, status.State)
	assert.Zero(t, status.Failures)
	assert.Equal(t, []string{"3-7", "3-6", "3-8", "3-9"}, status.Days)
}

func TestRunHonoursMaxForwardDays(t *testing.T) {
	f := newFakeFetcher()
	f.setChannels("1")
	for d := -1; d <= 10; d++ {
		f.addProgram("1", testNow.AddDate(0, 0, d))
	}
	cfg := testConfig()
	cfg.MaxForwardDays = 3

	status := NewJob("udn1", f, cfg).Run(context.Background())

	assert.Equal(t, StateCompleted, status.State)
	assert.Len(t, f.dayCalls(), 5)
	assert.Equal(t, 5, status.Programs)
}

func TestCancelStopsBeforeNextChannel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFakeFetcher()
	f.setChannels("1", "2")
	f.addProgram("1", testNow)
	yesterday := content.StartOfDay(testNow).AddDate(0, 0, -1)
	f.blockOn(content.DayContainerID("1", yesterday))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Status, 1)
	go func() { done <- NewJob("udn1", f, testConfig()).Run(ctx) }()

	for p := range f.entered {
		if p == content.DayContainerID("1", yesterday) {
			break
		}
	}
	cancel()

	select {
	case status := <-done:
		assert.Equal(t, StateCancelled, status.State)
		assert.Len(t, f.dayCalls(), 3, "the day in progress is abandoned")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestDayPlanOrder(t *testing.T) {
	days, forward := dayPlan(time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC), 2)
	require.Len(t, days, 4)
	keys := make([]string, len(days))
	for i, d := range days {
		keys[i] = content.DayKey(d)
	}
	assert.Equal(t, []string{"12-31", "12-30", "1-1", "1-2"}, keys)
	assert.Equal(t, []bool{false, false, true, true}, forward)
}
