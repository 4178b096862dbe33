// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package content

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalRoundTripAllTypes(t *testing.T) {
	reg := NewRegistry()
	records := []Record{
		{FieldID: "0", FieldTitle: "Root", FieldClass: ClassContainer},
		{FieldID: "0/Music/1", FieldTitle: "Song", FieldClass: ClassItem, FieldResourceURI: "http://h/1.mp3", FieldResourceProtocolInfo: "http-get:*:audio/mpeg:*"},
		{FieldID: "0/EPG/1/3-7/x", FieldTitle: "Guide", FieldClass: ClassEpgItem},
		{FieldID: "0/Channels/7", FieldTitle: "Seven", FieldClass: ClassVideoBroadcast, FieldChannelNumber: "7", FieldCallSign: "#SVN"},
		{
			FieldID:                 "0/EPG/7/3-7/100",
			FieldTitle:              "Film",
			FieldClass:              ClassVideoProgram,
			FieldScheduledStartTime: "2025-03-07T20:15:00Z",
			FieldScheduledEndTime:   "2025-03-07T22:00:00Z",
			FieldProgramTitle:       "Film",
			FieldSeriesTitle:        "Films",
			FieldGenre:              "Drama",
			FieldRating:             "12",
			FieldLongDescription:    "Long.",
			FieldIcon:               "http://h/i.png",
		},
	}

	for _, rec := range records {
		t.Run(rec[FieldClass], func(t *testing.T) {
			orig, err := reg.FromRecord(rec)
			require.NoError(t, err)

			data, err := Marshal(orig)
			require.NoError(t, err)

			back, err := reg.Unmarshal(data)
			require.NoError(t, err)

			assert.True(t, Equal(orig, back))
			assert.IsType(t, orig, back)
			if diff := cmp.Diff(orig.Record(), back.Record()); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := NewRegistry().Unmarshal([]byte("{not json"))
	assert.Error(t, err)
}

func TestEqualByIDOnly(t *testing.T) {
	a := &Container{Base{ID: "0/a", Title: "A"}}
	b := &Item{Base{ID: "0/a", Title: "B"}}
	c := &Container{Base{ID: "0/c", Title: "A"}}

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(a, nil))
	assert.True(t, Equal(nil, nil))
}
