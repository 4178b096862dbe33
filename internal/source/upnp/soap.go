// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upnp

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/anacrolix/dms/soap"
	"github.com/anacrolix/dms/upnp"
	"golang.org/x/net/html/charset"

	"github.com/ManuGH/epgcache/internal/content"
)

const maxSOAPResponseBytes = 32 << 20

const envelopeFormat = `<?xml version="1.0" encoding="utf-8"?>` +
	`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">` +
	`<s:Body>%s</s:Body></s:Envelope>`

var contentDirectoryURN = upnp.ServiceURN{
	Auth:    "schemas-upnp-org",
	Type:    "ContentDirectory",
	Version: 1,
}

type browsePage struct {
	Result         string `xml:"Result"`
	NumberReturned int    `xml:"NumberReturned"`
	TotalMatches   int    `xml:"TotalMatches"`
	UpdateID       int    `xml:"UpdateID"`
}

type soapFault struct {
	FaultString string `xml:"faultstring"`
	Detail      struct {
		UPnPError struct {
			Code        int    `xml:"errorCode"`
			Description string `xml:"errorDescription"`
		} `xml:"UPnPError"`
	} `xml:"detail"`
}

// marshalAction renders the action element of a control request.
func marshalAction(action string, args []soap.Arg) ([]byte, error) {
	inner, err := xml.Marshal(args)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, `<u:%[1]s xmlns:u="%[2]s">%[3]s</u:%[1]s>`, action, contentDirectoryURN.String(), inner), nil
}

func browseArgs(objectID string, start, count int) []soap.Arg {
	arg := func(name, value string) soap.Arg {
		return soap.Arg{XMLName: xml.Name{Local: name}, Value: value}
	}
	return []soap.Arg{
		arg("ObjectID", objectID),
		arg("BrowseFlag", "BrowseDirectChildren"),
		arg("Filter", "*"),
		arg("StartingIndex", strconv.Itoa(start)),
		arg("RequestedCount", strconv.Itoa(count)),
		arg("SortCriteria", ""),
	}
}

// browsePage issues one ContentDirectory#Browse request.
func (c *client) browsePage(ctx context.Context, controlURL, objectID string, start, count int) (browsePage, error) {
	action, err := marshalAction("Browse", browseArgs(objectID, start, count))
	if err != nil {
		return browsePage{}, fmt.Errorf("upnp: browse: %w", err)
	}
	body := fmt.Appendf(nil, envelopeFormat, action)

	if err := c.limiter.Wait(ctx); err != nil {
		return browsePage{}, err
	}

	var (
		page    browsePage
		missing error
	)
	err = c.breakers.Get(controlURL).Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("upnp: browse: %w", err)
		}
		req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
		req.Header.Set("SOAPACTION", strconv.Quote(contentDirectoryURN.String()+"#Browse"))

		res, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("upnp: browse: %w", err)
		}
		defer res.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(res.Body, maxSOAPResponseBytes))
		if err != nil {
			return fmt.Errorf("upnp: browse: read response: %w", err)
		}

		var env soap.Envelope
		dec := xml.NewDecoder(bytes.NewReader(raw))
		dec.CharsetReader = charset.NewReaderLabel
		if err := dec.Decode(&env); err != nil {
			return soapErrorFromBody("browse", res.StatusCode, raw)
		}
		if res.StatusCode != http.StatusOK || bytes.Contains(env.Body.Action, []byte("Fault>")) {
			err := faultError("browse", res.StatusCode, env.Body.Action, raw)
			var soapErr *SOAPError
			if errors.As(err, &soapErr) && soapErr.NoSuchObject() {
				// The server answered; an unknown node does not trip the breaker.
				missing = err
				return nil
			}
			return err
		}
		if err := xml.Unmarshal(env.Body.Action, &page); err != nil {
			return fmt.Errorf("upnp: browse: decode response: %w", err)
		}
		return nil
	})
	if err == nil && missing != nil {
		err = missing
	}
	return page, err
}

func faultError(op string, status int, action, raw []byte) error {
	var f soapFault
	if err := xml.Unmarshal(action, &f); err != nil {
		return soapErrorFromBody(op, status, raw)
	}
	e := &SOAPError{
		Operation:   op,
		Status:      status,
		Code:        f.Detail.UPnPError.Code,
		Description: f.Detail.UPnPError.Description,
	}
	if e.Description == "" {
		e.Description = f.FaultString
	}
	return e
}

func soapErrorFromBody(op string, status int, raw []byte) error {
	b := strings.TrimSpace(string(raw))
	if len(b) > maxSOAPErrorDetail {
		b = b[:maxSOAPErrorDetail]
	}
	return &SOAPError{Operation: op, Status: status, Body: b}
}

// browseAll pages through the direct children of objectID.
func (c *client) browseAll(ctx context.Context, controlURL, objectID string) ([]content.Record, error) {
	var out []content.Record
	for page := 0; page < c.maxPages; page++ {
		p, err := c.browsePage(ctx, controlURL, objectID, len(out), c.pageSize)
		if err != nil {
			return nil, err
		}
		records, err := parseDIDL(strings.NewReader(p.Result))
		if err != nil {
			return nil, err
		}
		out = append(out, records...)

		returned := p.NumberReturned
		if returned == 0 {
			returned = len(records)
		}
		if returned == 0 {
			break
		}
		if p.TotalMatches > 0 && len(out) >= p.TotalMatches {
			break
		}
		if p.TotalMatches == 0 && returned < c.pageSize {
			break
		}
	}
	return out, nil
}
