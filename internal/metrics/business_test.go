// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromhttpExposure(t *testing.T) {
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecordBrowse(t *testing.T) {
	before := testutil.ToFloat64(browseRequests.WithLabelValues("test", "success"))
	RecordBrowse("test", "success", 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(browseRequests.WithLabelValues("test", "success")))
}

func TestRecordCacheWrite(t *testing.T) {
	okBefore := testutil.ToFloat64(cacheWrites.WithLabelValues("success"))
	errBefore := testutil.ToFloat64(cacheWrites.WithLabelValues("error"))
	rowsBefore := testutil.ToFloat64(cacheRowsWritten)

	RecordCacheWrite(true, 3)
	RecordCacheWrite(false, 10)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(cacheWrites.WithLabelValues("success")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(cacheWrites.WithLabelValues("error")))
	assert.Equal(t, rowsBefore+3, testutil.ToFloat64(cacheRowsWritten))
}

func TestRecordXMLTVExport(t *testing.T) {
	RecordXMLTVExport(42, nil)
	assert.Equal(t, 42.0, testutil.ToFloat64(xmltvProgrammesWritten))

	before := testutil.ToFloat64(xmltvWriteErrors)
	RecordXMLTVExport(0, errors.New("disk full"))
	assert.Equal(t, before+1, testutil.ToFloat64(xmltvWriteErrors))
	assert.Equal(t, 42.0, testutil.ToFloat64(xmltvProgrammesWritten))
}

func TestSetCircuitBreakerState(t *testing.T) {
	SetCircuitBreakerState("unit", "open")
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("unit", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("unit", "closed")))

	SetCircuitBreakerState("unit", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("unit", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("unit", "closed")))
}

func TestRecordCircuitBreakerRejection(t *testing.T) {
	before := testutil.ToFloat64(breakerRejections.WithLabelValues("unit"))
	RecordCircuitBreakerRejection("unit")
	assert.Equal(t, before+1, testutil.ToFloat64(breakerRejections.WithLabelValues("unit")))
}
