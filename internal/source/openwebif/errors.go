// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package openwebif

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound            = errors.New("upstream: resource not found")
	ErrForbidden           = errors.New("upstream: access forbidden")
	ErrUpstreamUnavailable = errors.New("upstream: host unreachable or transport failure")
	ErrUpstreamError       = errors.New("upstream: internal error (5xx)")
	ErrUpstreamBadResponse = errors.New("upstream: invalid response format or malformed data")
	ErrTimeout             = errors.New("upstream: request timed out")
)

// Error wraps a sentinel with the failing operation and response details.
type Error struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // lower-level cause (e.g. net.Error)
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("openwebif: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Sentinel
}

const maxErrorBody = 256

var secretPattern = regexp.MustCompile(`(?i)(token|sid|password|passwd|auth)=[^\s&"']+`)

// wrapError classifies a failed call by transport error or HTTP status.
func wrapError(op string, err error, status int, body []byte) error {
	e := &Error{Operation: op, Status: status, Err: err}
	if len(body) > 0 {
		b := body
		if len(b) > maxErrorBody {
			b = b[:maxErrorBody]
		}
		e.Body = secretPattern.ReplaceAllString(string(b), "$1=[REDACTED]")
	}

	var netErr net.Error
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		e.Sentinel = ErrTimeout
	case err != nil && errors.As(err, &netErr) && netErr.Timeout():
		e.Sentinel = ErrTimeout
	case err != nil && status == 0:
		e.Sentinel = ErrUpstreamUnavailable
	case status == http.StatusNotFound:
		e.Sentinel = ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Sentinel = ErrForbidden
	case status >= 500:
		e.Sentinel = ErrUpstreamError
	default:
		e.Sentinel = ErrUpstreamBadResponse
	}
	return e
}
