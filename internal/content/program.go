// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package content

import (
	"encoding/json"
	"strconv"
	"time"
)

// timeLayouts are tried in order; inputs without a zone are taken as UTC.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseTime parses a scheduled time. It returns nil when the value is empty
// or matches no known layout.
func ParseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// FormatTime is the inverse of ParseTime.
func FormatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Program is one scheduled broadcast on a channel.
type Program struct {
	EpgItem
	Start           *time.Time `json:"scheduledStartTime,omitempty"`
	End             *time.Time `json:"scheduledEndTime,omitempty"`
	ProgramTitle    string     `json:"programTitle,omitempty"`
	SeriesTitle     string     `json:"seriesTitle,omitempty"`
	ChannelID       string     `json:"channelId,omitempty"`
	Genre           string     `json:"genre,omitempty"`
	Rating          string     `json:"rating,omitempty"`
	LongDescription string     `json:"longDescription,omitempty"`
	Icon            string     `json:"icon,omitempty"`
}

func (p *Program) fields() []stringField {
	return append(p.Base.fields(),
		stringField{FieldProgramTitle, &p.ProgramTitle},
		stringField{FieldSeriesTitle, &p.SeriesTitle},
		stringField{FieldChannelID, &p.ChannelID},
		stringField{FieldGenre, &p.Genre},
		stringField{FieldRating, &p.Rating},
		stringField{FieldLongDescription, &p.LongDescription},
		stringField{FieldIcon, &p.Icon},
	)
}

// Populate implements Object. A missing channel id falls back to the third
// segment of the node id ("0/EPG/<channel>/<day>/<program>").
func (p *Program) Populate(r Record) {
	populateFields(p.fields(), r)
	if v, ok := r[FieldScheduledStartTime]; ok {
		p.Start = ParseTime(v)
	}
	if v, ok := r[FieldScheduledEndTime]; ok {
		p.End = ParseTime(v)
	}
	if p.ChannelID == "" {
		p.ChannelID, _ = ChannelIDFromPath(p.ID)
	}
}

// Record implements Object.
func (p *Program) Record() Record {
	r := Record{}
	recordFields(p.fields(), r)
	if s := FormatTime(p.Start); s != "" {
		r[FieldScheduledStartTime] = s
	}
	if s := FormatTime(p.End); s != "" {
		r[FieldScheduledEndTime] = s
	}
	return r
}

// Validate implements Validator.
func (p *Program) Validate() error {
	if p.Start != nil && p.End != nil && !p.Start.Before(*p.End) {
		return ErrInvalidSchedule
	}
	return nil
}

// Scheduled reports whether both start and end times are known.
func (p *Program) Scheduled() bool {
	return p.Start != nil && p.End != nil
}

// Intersects reports whether the program intersects the closed window
// [start, end]: a program starting exactly at end is included, one ending
// exactly at start is not. Programs without a full schedule never intersect.
func (p *Program) Intersects(start, end time.Time) bool {
	if !p.Scheduled() {
		return false
	}
	return !p.Start.After(end) && p.End.After(start)
}

// Airing reports whether t falls within [start, end).
func (p *Program) Airing(t time.Time) bool {
	if !p.Scheduled() {
		return false
	}
	return !t.Before(*p.Start) && t.Before(*p.End)
}

// Duration returns end minus start, or zero when unscheduled.
func (p *Program) Duration() time.Duration {
	if !p.Scheduled() {
		return 0
	}
	return p.End.Sub(*p.Start)
}

// StartMillis returns the start as epoch milliseconds, or zero when unknown.
func (p *Program) StartMillis() int64 {
	if p.Start == nil {
		return 0
	}
	return p.Start.UnixMilli()
}

// MarshalJSON adds the UI fields start, length, description and programIcon
// to the plain field-by-field form.
func (p *Program) MarshalJSON() ([]byte, error) {
	type plain Program
	out := struct {
		*plain
		StartMs     string `json:"start,omitempty"`
		Length      string `json:"length,omitempty"`
		Description string `json:"description"`
		ProgramIcon string `json:"programIcon,omitempty"`
	}{
		plain:       (*plain)(p),
		Description: p.LongDescription,
		ProgramIcon: p.Icon,
	}
	if p.Start != nil {
		out.StartMs = strconv.FormatInt(p.Start.UnixMilli(), 10)
	}
	if p.Scheduled() {
		out.Length = strconv.FormatInt(p.Duration().Milliseconds(), 10)
	}
	if out.ProgramIcon == "" {
		out.ProgramIcon = p.IconURI
	}
	return json.Marshal(out)
}
