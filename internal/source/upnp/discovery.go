// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upnp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/ManuGH/epgcache/internal/content"
)

const (
	// MediaServerTarget is the default M-SEARCH target.
	MediaServerTarget = "urn:schemas-upnp-org:device:MediaServer:1"

	// DefaultSSDPAddr is the SSDP multicast group.
	DefaultSSDPAddr = "239.255.255.250:1900"

	maxDescriptionBytes = 1 << 20
)

// searchResponse is one unicast answer to an M-SEARCH.
type searchResponse struct {
	Location string
	USN      string
	ST       string
}

// search sends an M-SEARCH for target to addr and collects distinct
// locations until window elapses or ctx ends.
func search(ctx context.Context, addr, target string, window time.Duration) ([]searchResponse, error) {
	dst, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("upnp: ssdp: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("upnp: ssdp: listen: %w", err)
	}
	defer conn.Close()

	mx := int(window / time.Second)
	if mx < 1 {
		mx = 1
	}
	msg := fmt.Sprintf("M-SEARCH * HTTP/1.1\r\nHOST: %s\r\nMAN: \"ssdp:discover\"\r\nMX: %d\r\nST: %s\r\nUSER-AGENT: Go/1 UPnP/1.1 epgcache/1\r\n\r\n", DefaultSSDPAddr, mx, target)
	for range 2 {
		if _, err := conn.WriteToUDP([]byte(msg), dst); err != nil {
			return nil, fmt.Errorf("upnp: ssdp: send: %w", err)
		}
	}

	deadline := time.Now().Add(window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	seen := make(map[string]struct{})
	var out []searchResponse
	buf := make([]byte, 8192)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return out, nil
			}
			return out, fmt.Errorf("upnp: ssdp: read: %w", err)
		}
		r, ok := parseSearchResponse(buf[:n])
		if !ok || (target != "ssdp:all" && r.ST != target) {
			continue
		}
		if _, dup := seen[r.Location]; dup {
			continue
		}
		seen[r.Location] = struct{}{}
		out = append(out, r)
	}
}

func parseSearchResponse(b []byte) (searchResponse, bool) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return searchResponse{}, false
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return searchResponse{}, false
	}
	r := searchResponse{
		Location: res.Header.Get("Location"),
		USN:      res.Header.Get("Usn"),
		ST:       res.Header.Get("St"),
	}
	return r, r.Location != ""
}

type descriptionDoc struct {
	URLBase string `xml:"URLBase"`
	Device  struct {
		DeviceType   string `xml:"deviceType"`
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
		UDN          string `xml:"UDN"`
		Icons        []struct {
			MimeType string `xml:"mimetype"`
			Width    int    `xml:"width"`
			Height   int    `xml:"height"`
			URL      string `xml:"url"`
		} `xml:"iconList>icon"`
		Services []struct {
			ServiceType string `xml:"serviceType"`
			ServiceID   string `xml:"serviceId"`
			ControlURL  string `xml:"controlURL"`
		} `xml:"serviceList>service"`
	} `xml:"device"`
}

// describe fetches a device description and resolves its URLs.
func (c *client) describe(ctx context.Context, location string) (content.Device, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return content.Device{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return content.Device{}, fmt.Errorf("upnp: describe: %w", err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return content.Device{}, fmt.Errorf("upnp: describe %s: %w", location, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return content.Device{}, &SOAPError{Operation: "describe", Status: res.StatusCode}
	}

	var doc descriptionDoc
	dec := xml.NewDecoder(io.LimitReader(res.Body, maxDescriptionBytes))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&doc); err != nil {
		return content.Device{}, fmt.Errorf("upnp: describe %s: %w", location, err)
	}
	if doc.Device.UDN == "" {
		return content.Device{}, fmt.Errorf("upnp: describe %s: device has no UDN", location)
	}

	base, err := url.Parse(location)
	if err != nil {
		return content.Device{}, fmt.Errorf("upnp: describe: %w", err)
	}
	if doc.URLBase != "" {
		if u, err := url.Parse(strings.TrimSpace(doc.URLBase)); err == nil {
			base = u
		}
	}
	resolve := func(ref string) string {
		u, err := base.Parse(strings.TrimSpace(ref))
		if err != nil {
			return ref
		}
		return u.String()
	}

	d := content.Device{
		UDN:          strings.TrimSpace(doc.Device.UDN),
		FriendlyName: strings.TrimSpace(doc.Device.FriendlyName),
		Manufacturer: doc.Device.Manufacturer,
		ModelName:    doc.Device.ModelName,
		DeviceType:   doc.Device.DeviceType,
		Location:     location,
	}
	for _, ic := range doc.Device.Icons {
		d.Icons = append(d.Icons, content.Icon{MimeType: ic.MimeType, Width: ic.Width, Height: ic.Height, URL: resolve(ic.URL)})
	}
	for _, s := range doc.Device.Services {
		d.Services = append(d.Services, content.Service{
			ServiceType: s.ServiceType,
			ServiceID:   s.ServiceID,
			ControlURL:  resolve(s.ControlURL),
		})
	}
	return d, nil
}
