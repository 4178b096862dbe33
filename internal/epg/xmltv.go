// SPDX-License-Identifier: MIT

// Package epg renders cached guide data as XMLTV.
package epg

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/google/renameio/v2"

	xglog "github.com/ManuGH/epgcache/internal/log"
)

// TimeLayout is the XMLTV timestamp format.
const TimeLayout = "20060102150405 -0700"

// TV is the XMLTV document root.
type TV struct {
	XMLName   xml.Name    `xml:"tv"`
	Generator string      `xml:"generator-info-name,attr,omitempty"`
	Channels  []Channel   `xml:"channel"`
	Programs  []Programme `xml:"programme"`
}

type Channel struct {
	ID          string   `xml:"id,attr"`
	DisplayName []string `xml:"display-name"`
	Icon        *Icon    `xml:"icon,omitempty"`
}

type Icon struct {
	Src string `xml:"src,attr"`
}

type Programme struct {
	Start    string `xml:"start,attr"`
	Stop     string `xml:"stop,attr"`
	Channel  string `xml:"channel,attr"`
	Title    Title  `xml:"title"`
	SubTitle string `xml:"sub-title,omitempty"`
	Desc     string `xml:"desc,omitempty"`
	Category string `xml:"category,omitempty"`
	Icon     *Icon  `xml:"icon,omitempty"`
	Rating   string `xml:"rating>value,omitempty"`
}

type Title struct {
	// Lang contains the language code for the title (optional).
	Lang string `xml:"lang,attr,omitempty"`
	// Text is the character data of the title element.
	Text string `xml:",chardata"`
}

// FormatTime formats t as an XMLTV timestamp in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Encode writes tv with an XML header.
func Encode(w io.Writer, tv TV) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(tv); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteFile atomically replaces path with tv.
func WriteFile(ctx context.Context, path string, tv TV) error {
	logger := xglog.WithComponentFromContext(ctx, "xmltv")

	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending XMLTV file: %w", err)
	}
	defer func() {
		// no-op once committed
		if err := pendingFile.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending XMLTV file")
		}
	}()

	if err := Encode(pendingFile, tv); err != nil {
		return fmt.Errorf("write XMLTV data: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace XMLTV file: %w", err)
	}
	return nil
}
