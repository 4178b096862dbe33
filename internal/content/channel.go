// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package content

import "strings"

// callSignMarkers are stripped from the front of a call sign.
const callSignMarkers = "#*@"

// Channel is a broadcast video channel.
type Channel struct {
	Base
	Number    string `json:"channelNumber,omitempty"`
	CallSign  string `json:"callSign,omitempty"`
	ChannelID string `json:"channelId"`
}

func (c *Channel) fields() []stringField {
	return append(c.Base.fields(),
		stringField{FieldChannelNumber, &c.Number},
		stringField{FieldCallSign, &c.CallSign},
	)
}

// Populate implements Object. The channel id is always derived from the node id.
func (c *Channel) Populate(r Record) {
	populateFields(c.fields(), r)
	if len(c.CallSign) > 0 && strings.IndexByte(callSignMarkers, c.CallSign[0]) >= 0 {
		c.CallSign = c.CallSign[1:]
	}
	c.ChannelID, _ = ChannelIDFromPath(c.ID)
}

// Record implements Object.
func (c *Channel) Record() Record {
	r := Record{}
	recordFields(c.fields(), r)
	if c.ChannelID != "" {
		r[FieldChannelID] = c.ChannelID
	}
	return r
}

// Validate implements Validator.
func (c *Channel) Validate() error {
	if c.ChannelID == "" {
		return ErrNoChannelID
	}
	return nil
}
