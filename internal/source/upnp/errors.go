// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upnp

import "fmt"

// UPnP ContentDirectory error codes.
const (
	CodeNoSuchObject   = 701
	CodeInvalidArgs    = 402
	CodeActionFailed   = 501
	maxSOAPErrorDetail = 256
)

// SOAPError is a failed control request, either a SOAP fault or a non-200
// response without one.
type SOAPError struct {
	Operation   string
	Status      int
	Code        int
	Description string
	Body        string
}

func (e *SOAPError) Error() string {
	msg := fmt.Sprintf("upnp: %s: HTTP %d", e.Operation, e.Status)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s: UPnP error %d", msg, e.Code)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	} else if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// NoSuchObject reports whether the server did not know the requested node.
func (e *SOAPError) NoSuchObject() bool {
	return e.Code == CodeNoSuchObject
}
