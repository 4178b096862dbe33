// SPDX-License-Identifier: MIT
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Content source
	browseRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgcache_browse_requests_total",
		Help: "Live browse requests by backend and outcome",
	}, []string{"backend", "outcome"}) // outcome=success|empty|error|timeout

	browseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "epgcache_browse_duration_seconds",
		Help:    "Live browse latency by backend",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"backend"})

	recordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgcache_records_dropped_total",
		Help: "Browse records dropped during translation by reason",
	}, []string{"reason"}) // reason=unknown_class|invalid

	devicesKnown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "epgcache_devices",
		Help: "Number of content servers currently known",
	})

	// Cache store
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgcache_cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"}) // result=hit|miss|error

	cacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgcache_cache_writes_total",
		Help: "Cache key replacements by outcome",
	}, []string{"outcome"}) // outcome=success|error

	cacheRowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epgcache_cache_rows_written_total",
		Help: "Rows inserted into the cache",
	})

	epgSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "epgcache_epg_search_duration_seconds",
		Help:    "EPG range query latency",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	// Scheduler
	schedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgcache_scheduler_runs_total",
		Help: "Scheduler runs by final state",
	}, []string{"state"})

	schedulerDayFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgcache_scheduler_day_fetches_total",
		Help: "Channel day-container fetches issued by the scheduler",
	}, []string{"outcome"}) // outcome=programs|empty|error

	schedulerLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "epgcache_scheduler_last_success_timestamp_seconds",
		Help: "Unix time of the last completed scheduler run",
	})

	// Export
	xmltvProgrammesWritten = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "epgcache_xmltv_programmes_written",
		Help: "Programmes written to XMLTV in the last export",
	})
	xmltvWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epgcache_xmltv_write_errors_total",
		Help: "Total number of XMLTV write failures",
	})

	// Query server
	queryCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epgcache_query_commands_total",
		Help: "Local query commands by command name",
	}, []string{"command"})
)

// RecordBrowse records one live browse.
func RecordBrowse(backend, outcome string, d time.Duration) {
	browseRequests.WithLabelValues(backend, outcome).Inc()
	browseDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordDroppedRecord counts a record dropped during translation.
func RecordDroppedRecord(reason string) {
	recordsDropped.WithLabelValues(reason).Inc()
}

// SetDevices records the number of known devices.
func SetDevices(n int) {
	devicesKnown.Set(float64(n))
}

// RecordCacheLookup counts a cache lookup result (hit|miss|error).
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheWrite counts one key replacement and the rows it inserted.
func RecordCacheWrite(success bool, rows int) {
	if !success {
		cacheWrites.WithLabelValues("error").Inc()
		return
	}
	cacheWrites.WithLabelValues("success").Inc()
	cacheRowsWritten.Add(float64(rows))
}

// ObserveEPGSearch records the latency of one EPG range query.
func ObserveEPGSearch(d time.Duration) {
	epgSearchDuration.Observe(d.Seconds())
}

// RecordSchedulerRun counts a finished scheduler run by state.
func RecordSchedulerRun(state string) {
	schedulerRuns.WithLabelValues(state).Inc()
	if state == "completed" {
		schedulerLastSuccess.SetToCurrentTime()
	}
}

// RecordSchedulerDayFetch counts one channel-day fetch.
func RecordSchedulerDayFetch(outcome string) {
	schedulerDayFetches.WithLabelValues(outcome).Inc()
}

// RecordXMLTVExport records an XMLTV export result.
func RecordXMLTVExport(programmes int, err error) {
	if err != nil {
		xmltvWriteErrors.Inc()
		return
	}
	xmltvProgrammesWritten.Set(float64(programmes))
}

// RecordQueryCommand counts one query server command.
func RecordQueryCommand(command string) {
	queryCommands.WithLabelValues(command).Inc()
}
