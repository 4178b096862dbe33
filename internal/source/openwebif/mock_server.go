// SPDX-License-Identifier: MIT
package openwebif

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockServer is a configurable OpenWebIF receiver for tests.
type MockServer struct {
	*httptest.Server

	mu       sync.Mutex
	bouquets [][2]string
	services map[string][]Service
	events   map[string][]EPGEvent
	about    About
	delay    map[string]time.Duration
	failures map[string]int // remaining 500 responses per endpoint
	requests map[string]int
}

// NewMockServer starts a mock receiver with a default bouquet.
func NewMockServer() *MockServer {
	m := &MockServer{}
	m.Reset()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/about", m.handle("/api/about", m.handleAbout))
	mux.HandleFunc("/api/bouquets", m.handle("/api/bouquets", m.handleBouquets))
	mux.HandleFunc("/api/getservices", m.handle("/api/getservices", m.handleServices))
	mux.HandleFunc("/api/epgservice", m.handle("/api/epgservice", m.handleEPG))

	m.Server = httptest.NewServer(mux)
	return m
}

// Default test data.
const (
	MockBouquetRef = `1:7:1:0:0:0:0:0:0:0:FROM BOUQUET "userbouquet.favourites.tv" ORDER BY bouquet`
	MockBouquet    = "Favourites (TV)"
	MockServiceARD = "1:0:19:283D:3FB:1:C00000:0:0:0:"
	MockServiceZDF = "1:0:19:283E:3FB:1:C00000:0:0:0:"
)

// Reset restores the default data and clears counters.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bouquets = [][2]string{{MockBouquetRef, MockBouquet}}
	m.services = map[string][]Service{
		MockBouquetRef: {
			{Ref: MockServiceARD, Name: "ARD HD"},
			{Ref: "1:64:1:0:0:0:0:0:0:0::--- News ---", Name: "--- News ---"},
			{Ref: MockServiceZDF, Name: "ZDF HD"},
		},
	}
	m.events = make(map[string][]EPGEvent)
	m.about = About{Model: "Mock Receiver", Brand: "MockBrand", BoxType: "mockbox", WebIFVer: "OWIF 1.4.9"}
	m.delay = make(map[string]time.Duration)
	m.failures = make(map[string]int)
	m.requests = make(map[string]int)
}

// AddBouquet appends a bouquet.
func (m *MockServer) AddBouquet(ref, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bouquets = append(m.bouquets, [2]string{ref, name})
}

// AddService appends a service to a bouquet.
func (m *MockServer) AddService(bouquetRef, serviceRef, serviceName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[bouquetRef] = append(m.services[bouquetRef], Service{Ref: serviceRef, Name: serviceName})
}

// AddEPGEvent appends a guide event for a service.
func (m *MockServer) AddEPGEvent(serviceRef string, ev EPGEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ServiceRef = serviceRef
	m.events[serviceRef] = append(m.events[serviceRef], ev)
}

// SetDelay delays every response of an endpoint.
func (m *MockServer) SetDelay(endpoint string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay[endpoint] = d
}

// SetFailures makes the next count requests to an endpoint fail with 500.
func (m *MockServer) SetFailures(endpoint string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[endpoint] = count
}

// Requests returns how many requests an endpoint has received.
func (m *MockServer) Requests(endpoint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[endpoint]
}

// URL returns the mock server's base URL.
func (m *MockServer) URL() string {
	return m.Server.URL
}

func (m *MockServer) handle(endpoint string, next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests[endpoint]++
		delay := m.delay[endpoint]
		fail := m.failures[endpoint] > 0
		if fail {
			m.failures[endpoint]--
		}
		m.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if fail {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (m *MockServer) handleAbout(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	about := m.about
	m.mu.Unlock()
	writeJSON(w, map[string]any{"info": about})
}

func (m *MockServer) handleBouquets(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	bouquets := make([][]string, 0, len(m.bouquets))
	for _, b := range m.bouquets {
		bouquets = append(bouquets, []string{b[0], b[1]})
	}
	m.mu.Unlock()
	writeJSON(w, map[string]any{"bouquets": bouquets})
}

func (m *MockServer) handleServices(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("sRef")
	if ref == "" {
		http.Error(w, "Missing sRef parameter", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	services, ok := m.services[ref]
	m.mu.Unlock()
	if !ok {
		http.Error(w, "Bouquet not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"services": services})
}

func (m *MockServer) handleEPG(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("sRef")
	if ref == "" {
		http.Error(w, "Missing sRef parameter", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	events := append([]EPGEvent{}, m.events[ref]...)
	m.mu.Unlock()
	writeJSON(w, map[string]any{"events": events})
}
