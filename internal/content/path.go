// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package content

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Well-known node ids.
const (
	RootID       = "0"
	ChannelsPath = "0/Channels"
	EPGPath      = "0/EPG"
	Separator    = "/"
)

// Day is the width of one EPG day container.
const Day = 24 * time.Hour

// Join builds a node id from segments.
func Join(segments ...string) string {
	return strings.Join(segments, Separator)
}

// ChannelIDFromPath returns the third segment of id.
func ChannelIDFromPath(id string) (string, error) {
	parts := strings.SplitN(id, Separator, 4)
	if len(parts) < 3 || parts[2] == "" {
		return "", ErrNoChannelID
	}
	return parts[2], nil
}

// ChannelEPGPath returns the EPG container of a channel.
func ChannelEPGPath(channelID string) string {
	return Join(EPGPath, channelID)
}

// DayKey returns the unpadded UTC month-day of t, e.g. "3-7".
func DayKey(t time.Time) string {
	u := t.UTC()
	return strconv.Itoa(int(u.Month())) + "-" + strconv.Itoa(u.Day())
}

// ParseDayKey resolves an "M-d" key to the UTC midnight closest to ref.
// The year is not part of the key, so December keys read in January refer
// to the previous year and January keys read in December to the next.
func ParseDayKey(key string, ref time.Time) (time.Time, error) {
	m, d, ok := strings.Cut(key, "-")
	if !ok {
		return time.Time{}, fmt.Errorf("content: malformed day key %q", key)
	}
	month, err := strconv.Atoi(m)
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("content: malformed day key %q", key)
	}
	day, err := strconv.Atoi(d)
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("content: malformed day key %q", key)
	}

	base := StartOfDay(ref)
	var best time.Time
	for _, y := range []int{base.Year() - 1, base.Year(), base.Year() + 1} {
		t := time.Date(y, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day {
			continue // Feb 29 in a non-leap year
		}
		if best.IsZero() || absDuration(t.Sub(base)) < absDuration(best.Sub(base)) {
			best = t
		}
	}
	if best.IsZero() {
		return time.Time{}, fmt.Errorf("content: malformed day key %q", key)
	}
	return best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// DayContainerID returns "0/EPG/<channel>/<M-d>" for the UTC day of t.
func DayContainerID(channelID string, t time.Time) string {
	return Join(EPGPath, channelID, DayKey(t))
}

// StartOfDay truncates t to UTC midnight.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween lists the UTC midnights from the day of start to the day of
// end, inclusive.
func DaysBetween(start, end time.Time) []time.Time {
	first, last := StartOfDay(start), StartOfDay(end)
	var days []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
