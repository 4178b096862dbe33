// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upnp

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/ManuGH/epgcache/internal/content"
)

// fieldNames maps DIDL-Lite element names (namespace prefix dropped) to
// content model field names.
var fieldNames = map[string]string{
	"title":              content.FieldTitle,
	"class":              content.FieldClass,
	"albumArtURI":        content.FieldIconURI,
	"icon":               content.FieldIcon,
	"channelNr":          content.FieldChannelNumber,
	"channelName":        content.FieldCallSign,
	"channelID":          content.FieldChannelID,
	"scheduledStartTime": content.FieldScheduledStartTime,
	"scheduledEndTime":   content.FieldScheduledEndTime,
	"programTitle":       content.FieldProgramTitle,
	"seriesTitle":        content.FieldSeriesTitle,
	"genre":              content.FieldGenre,
	"rating":             content.FieldRating,
	"longDescription":    content.FieldLongDescription,
}

// parseDIDL decodes a DIDL-Lite document into content records in document
// order. The first occurrence of a repeated element wins.
func parseDIDL(r io.Reader) ([]content.Record, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false

	var (
		out     []content.Record
		current content.Record
		field   string
		text    strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("upnp: parse didl: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case current == nil && (t.Name.Local == "container" || t.Name.Local == "item"):
				current = content.Record{}
				for _, a := range t.Attr {
					if a.Name.Local == "id" {
						current[content.FieldID] = a.Value
					}
				}
			case current != nil && t.Name.Local == "res":
				field = content.FieldResourceURI
				for _, a := range t.Attr {
					if a.Name.Local == "protocolInfo" {
						if _, ok := current[content.FieldResourceProtocolInfo]; !ok {
							current[content.FieldResourceProtocolInfo] = a.Value
						}
					}
				}
				text.Reset()
			case current != nil:
				field = fieldNames[t.Name.Local]
				text.Reset()
			}
		case xml.CharData:
			if field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			switch {
			case current != nil && (t.Name.Local == "container" || t.Name.Local == "item"):
				out = append(out, current)
				current = nil
			case field != "":
				if _, ok := current[field]; !ok {
					if v := strings.TrimSpace(text.String()); v != "" {
						current[field] = v
					}
				}
				field = ""
			}
		}
	}
	return out, nil
}
