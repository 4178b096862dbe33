// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package query

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var midnight = time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)

func ms(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func midnightTree() *treeBackend {
	b := newTreeBackend()
	b.addChannel("7", "7", "Seven")
	b.addChannel("9", "9", "Nine")
	b.addProgram("7", "a", "Evening Film", midnight.Add(-90*time.Minute), midnight.Add(-30*time.Minute))
	b.addProgram("7", "b", "Late News", midnight.Add(-30*time.Minute), midnight.Add(30*time.Minute))
	b.addProgram("7", "c", "Night Talk", midnight.Add(30*time.Minute), midnight.Add(90*time.Minute))
	b.addProgram("7", "d", "Early Show", midnight.Add(3*time.Hour), midnight.Add(4*time.Hour))
	return b
}

func decodeEPG(t *testing.T, b []byte) map[string]map[string]map[string]map[string]any {
	t.Helper()
	var resp struct {
		EPG map[string]map[string]map[string]map[string]any `json:"EPG"`
	}
	require.NoError(t, json.Unmarshal(b, &resp))
	return resp.EPG
}

func TestBrowseEPGDataAcrossMidnight(t *testing.T) {
	b := midnightTree()
	h := NewHandler(newTestSource(t, b, midnight), nil, nil)

	start, end := midnight.Add(-time.Hour), midnight.Add(time.Hour)
	line := fmt.Sprintf(`browseEPGData {"browseEPGData":{"CHANNELLIST":["7"],"TIMELIST":["%s","%s"]}}`, ms(start), ms(end))
	resp, ok := h.Handle(context.Background(), line)
	require.True(t, ok)

	epg := decodeEPG(t, resp)
	require.Contains(t, epg, "7")

	got := map[string][]string{}
	for day, programs := range epg["7"] {
		for startMs, p := range programs {
			got[day] = append(got[day], startMs+" "+p["programTitle"].(string))
		}
	}
	for _, v := range got {
		slices.Sort(v)
	}
	want := map[string][]string{
		"3-7": {
			ms(midnight.Add(-90*time.Minute)) + " Evening Film",
			ms(midnight.Add(-30*time.Minute)) + " Late News",
		},
		"3-8": {
			ms(midnight.Add(30*time.Minute)) + " Night Talk",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EPG mismatch (-want +got):\n%s", diff)
	}

	late := epg["7"]["3-7"][ms(midnight.Add(-30*time.Minute))]
	assert.Equal(t, ms(midnight.Add(-30*time.Minute)), late["start"])
	assert.Equal(t, strconv.FormatInt(time.Hour.Milliseconds(), 10), late["length"])
}

func TestBrowseEPGDataAcceptsBareJSONAndInnerPayload(t *testing.T) {
	b := midnightTree()
	h := NewHandler(newTestSource(t, b, midnight), nil, nil)
	window := fmt.Sprintf(`"TIMELIST":[%s,"%s"]`, ms(midnight.Add(3*time.Hour)), ms(midnight.Add(5*time.Hour)))

	for name, line := range map[string]string{
		"bare":  `{"browseEPGData":{"CHANNELLIST":["7","9"],` + window + `}}`,
		"inner": `browseEPGData {"CHANNELLIST":["7","9"],` + window + `}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, ok := h.Handle(context.Background(), line)
			require.True(t, ok)
			epg := decodeEPG(t, resp)
			require.Len(t, epg["7"]["3-8"], 1)
			assert.Empty(t, epg["9"])
		})
	}
}

func TestBrowseEPGDataIncludesProgramStartingAtEnd(t *testing.T) {
	b := midnightTree()
	h := NewHandler(newTestSource(t, b, midnight), nil, nil)
	line := fmt.Sprintf(`browseEPGData {"CHANNELLIST":["7"],"TIMELIST":["%s","%s"]}`,
		ms(midnight.Add(2*time.Hour)), ms(midnight.Add(3*time.Hour)))
	resp, ok := h.Handle(context.Background(), line)
	require.True(t, ok)
	assert.Contains(t, decodeEPG(t, resp)["7"]["3-8"], ms(midnight.Add(3*time.Hour)))
}

func TestBrowseEPGStations(t *testing.T) {
	h := NewHandler(newTestSource(t, midnightTree(), midnight), nil, nil)
	resp, ok := h.Handle(context.Background(), "browseEPGStations")
	require.True(t, ok)

	var got struct {
		Stations []map[string]any `json:"STATIONS"`
	}
	require.NoError(t, json.Unmarshal(resp, &got))
	require.Len(t, got.Stations, 2)
	assert.Equal(t, "7", got.Stations[0]["channelId"])
	assert.Equal(t, "Nine", got.Stations[1]["title"])
}

func TestGetFavorites(t *testing.T) {
	src := newTestSource(t, midnightTree(), midnight)

	h := NewHandler(src, memFavorites{testUDN: {"9", "7"}}, nil)
	resp, ok := h.Handle(context.Background(), "getFavorites")
	require.True(t, ok)
	assert.JSONEq(t, `{"FAVORITES":["9","7"]}`, string(resp))

	h = NewHandler(src, nil, nil)
	resp, ok = h.Handle(context.Background(), "getFavorites")
	require.True(t, ok)
	assert.JSONEq(t, `{"FAVORITES":[]}`, string(resp))
}

func TestUnrecognisedRequestsGetNoResponse(t *testing.T) {
	h := NewHandler(newTestSource(t, midnightTree(), midnight), nil, nil)
	for _, line := range []string{
		"",
		"hello",
		"{not json",
		`{"somethingElse":{}}`,
		`browseEPGData {"CHANNELLIST":["7"],"TIMELIST":["1"]}`,
		`browseEPGData {"CHANNELLIST":["7"],"TIMELIST":["20","10"]}`,
		`browseEPGData {"CHANNELLIST":["7"],"TIMELIST":["x","y"]}`,
		"browseEPGData",
	} {
		_, ok := h.Handle(context.Background(), line)
		assert.False(t, ok, "line %q", line)
	}
}

func (b *treeBackend) totalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

func TestOversizedWindowGetsNoResponse(t *testing.T) {
	b := midnightTree()
	h := NewHandler(newTestSource(t, b, midnight), nil, nil, WithMaxWindow(3*24*time.Hour))
	before := b.totalCalls()

	for _, window := range [][2]string{
		{ms(midnight), ms(midnight.AddDate(10, 0, 0))},
		{ms(midnight), ms(midnight.Add(3*24*time.Hour + time.Millisecond))},
		{"0", strconv.FormatInt(math.MaxInt64-1, 10)},
		{strconv.FormatInt(math.MinInt64, 10), strconv.FormatInt(math.MaxInt64, 10)},
	} {
		line := fmt.Sprintf(`browseEPGData {"CHANNELLIST":["7","9"],"TIMELIST":["%s","%s"]}`, window[0], window[1])
		_, ok := h.Handle(context.Background(), line)
		assert.False(t, ok, "window %v", window)
	}
	assert.Equal(t, before, b.totalCalls(), "rejected windows must not reach the backend")

	line := fmt.Sprintf(`browseEPGData {"CHANNELLIST":["7"],"TIMELIST":["%s","%s"]}`,
		ms(midnight), ms(midnight.Add(3*24*time.Hour)))
	_, ok := h.Handle(context.Background(), line)
	assert.True(t, ok, "a window at the limit is answered")
}

func TestDefaultMaxWindowApplies(t *testing.T) {
	h := NewHandler(newTestSource(t, midnightTree(), midnight), nil, nil, WithMaxWindow(0))
	assert.Equal(t, DefaultMaxWindow, h.maxWindow)

	line := fmt.Sprintf(`browseEPGData {"CHANNELLIST":["7"],"TIMELIST":["%s","%s"]}`,
		ms(midnight), ms(midnight.Add(DefaultMaxWindow+time.Hour)))
	_, ok := h.Handle(context.Background(), line)
	assert.False(t, ok)
}

func TestWindowEndingAtMaxInt64(t *testing.T) {
	h := NewHandler(newTestSource(t, midnightTree(), midnight), nil, nil)
	line := fmt.Sprintf(`browseEPGData {"CHANNELLIST":["7"],"TIMELIST":["%d","%d"]}`,
		int64(math.MaxInt64-1000), int64(math.MaxInt64))

	var (
		resp []byte
		ok   bool
	)
	require.NotPanics(t, func() { resp, ok = h.Handle(context.Background(), line) })
	require.True(t, ok)
	epg := decodeEPG(t, resp)
	require.Contains(t, epg, "7")
	assert.Empty(t, epg["7"])
}

func TestTargetUDN(t *testing.T) {
	src := newTestSource(t, midnightTree(), midnight)
	assert.Equal(t, testUDN, NewHandler(src, nil, nil).TargetUDN())
	assert.Equal(t, "uuid:other", NewHandler(src, nil, func() string { return "uuid:other" }).TargetUDN())
	assert.Equal(t, testUDN, NewHandler(src, nil, func() string { return "" }).TargetUDN())
}
