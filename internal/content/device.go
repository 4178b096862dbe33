// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package content

import (
	"slices"
	"strings"
)

// ContentDirectoryService is the service type a browsable server exposes.
const ContentDirectoryService = "urn:schemas-upnp-org:service:ContentDirectory:1"

// Icon describes one device icon.
type Icon struct {
	MimeType string `json:"mimeType,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	URL      string `json:"url"`
}

// Service is one service advertised by a device.
type Service struct {
	ServiceType string `json:"serviceType"`
	ServiceID   string `json:"serviceId,omitempty"`
	ControlURL  string `json:"controlUrl,omitempty"`
}

// Device is a discovered content server. It lives for one discovery session.
type Device struct {
	UDN          string    `json:"udn"`
	FriendlyName string    `json:"friendlyName"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	ModelName    string    `json:"modelName,omitempty"`
	DeviceType   string    `json:"deviceType,omitempty"`
	Icons        []Icon    `json:"icons,omitempty"`
	Services     []Service `json:"services,omitempty"`
	Location     string    `json:"location,omitempty"`
}

// Service returns the first service whose type starts with serviceType.
func (d Device) Service(serviceType string) (Service, bool) {
	for _, s := range d.Services {
		if strings.HasPrefix(s.ServiceType, serviceType) {
			return s, true
		}
	}
	return Service{}, false
}

// ContentCapable reports whether the device exposes a content directory.
func (d Device) ContentCapable() bool {
	_, ok := d.Service(strings.TrimSuffix(ContentDirectoryService, "1"))
	return ok
}

// SameDevices reports whether a and b list the same udns in any order.
func SameDevices(a, b []Device) bool {
	if len(a) != len(b) {
		return false
	}
	ua := make([]string, len(a))
	ub := make([]string, len(b))
	for i := range a {
		ua[i] = a[i].UDN
		ub[i] = b[i].UDN
	}
	slices.Sort(ua)
	slices.Sort(ub)
	return slices.Equal(ua, ub)
}
