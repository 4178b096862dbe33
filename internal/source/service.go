// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/ManuGH/epgcache/internal/content"
	xglog "github.com/ManuGH/epgcache/internal/log"
	"github.com/ManuGH/epgcache/internal/metrics"
)

// StartService starts the backend once. obs, when not nil and not yet
// registered, is added to the observers; if the service is already running
// it is told so immediately. Start failures are reported to observers, never
// returned.
func (s *Source) StartService(ctx context.Context, obs Observer) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	added := false
	if obs != nil && !slices.Contains(s.observers, obs) {
		s.observers = append(s.observers, obs)
		added = true
	}
	started := s.started
	s.mu.Unlock()

	if started {
		if added {
			obs.ServiceStarted()
		}
		return
	}

	if err := s.backend.Start(ctx); err != nil {
		s.logger.Error().Err(err).
			Str(xglog.FieldEvent, "source.start_failed").
			Msg("content service failed to start")
		s.notify(func(o Observer) { o.ServiceError(err) })
		return
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.logger.Info().Str(xglog.FieldEvent, "source.started").Msg("content service started")
	s.notify(func(o Observer) { o.ServiceStarted() })

	if err := s.RefreshDevices(ctx); err != nil {
		s.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "source.discovery_failed").
			Msg("initial device discovery failed")
	}
}

// StopService stops the backend. It is a no-op when the service is not running.
func (s *Source) StopService(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	if err := s.backend.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "source.stop_failed").
			Msg("content service did not stop cleanly")
		s.notify(func(o Observer) { o.ServiceError(err) })
	}

	// Devices only live for one discovery session.
	s.setDevices(nil)

	s.logger.Info().Str(xglog.FieldEvent, "source.stopped").Msg("content service stopped")
	s.notify(func(o Observer) { o.ServiceStopped() })
}

// IsServiceStarted reports whether the backend is running.
func (s *Source) IsServiceStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// RemoveObserver unregisters obs.
func (s *Source) RemoveObserver(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = slices.DeleteFunc(s.observers, func(o Observer) bool { return o == obs })
}

func (s *Source) notify(fn func(Observer)) {
	s.mu.Lock()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()
	for _, o := range observers {
		fn(o)
	}
}

// ListDevices returns the known devices ordered by name. With contentOnly
// only devices exposing a content directory are listed.
func (s *Source) ListDevices(contentOnly bool) []content.Device {
	s.devMu.RLock()
	out := make([]content.Device, 0, len(s.devices))
	for _, d := range s.devices {
		if contentOnly && !d.ContentCapable() {
			continue
		}
		out = append(out, d)
	}
	s.devMu.RUnlock()

	slices.SortFunc(out, func(a, b content.Device) int {
		if c := strings.Compare(a.FriendlyName, b.FriendlyName); c != 0 {
			return c
		}
		return strings.Compare(a.UDN, b.UDN)
	})
	return out
}

// Device returns the device with the given udn.
func (s *Source) Device(udn string) (content.Device, bool) {
	s.devMu.RLock()
	defer s.devMu.RUnlock()
	d, ok := s.devices[udn]
	return d, ok
}

// OnDevicesChanged registers fn to receive the full device list whenever the
// set of devices changes.
func (s *Source) OnDevicesChanged(fn func([]content.Device)) {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// RefreshDevices asks the backend for the current devices and replaces the
// known set.
func (s *Source) RefreshDevices(ctx context.Context) error {
	devs, err := s.backend.Devices(ctx)
	if err != nil {
		return err
	}
	s.setDevices(devs)
	return nil
}

// AddDevice records a device announced outside of RefreshDevices.
func (s *Source) AddDevice(d content.Device) {
	s.devMu.Lock()
	_, existed := s.devices[d.UDN]
	s.devices[d.UDN] = d
	s.devMu.Unlock()
	if !existed {
		s.devicesChanged()
	}
}

// RemoveDevice handles a disconnect notification for udn.
func (s *Source) RemoveDevice(udn string) {
	s.devMu.Lock()
	_, existed := s.devices[udn]
	delete(s.devices, udn)
	s.devMu.Unlock()
	if existed {
		s.logger.Info().
			Str(xglog.FieldEvent, "source.device_removed").
			Str(xglog.FieldUDN, udn).
			Msg("device disconnected")
		s.devicesChanged()
	}
}

func (s *Source) setDevices(devs []content.Device) {
	s.devMu.Lock()
	old := make([]content.Device, 0, len(s.devices))
	for _, d := range s.devices {
		old = append(old, d)
	}
	s.devices = make(map[string]content.Device, len(devs))
	for _, d := range devs {
		s.devices[d.UDN] = d
	}
	s.devMu.Unlock()

	if !content.SameDevices(old, devs) {
		s.devicesChanged()
	}
}

func (s *Source) devicesChanged() {
	devs := s.ListDevices(false)
	metrics.SetDevices(len(devs))

	s.devMu.RLock()
	listeners := slices.Clone(s.listeners)
	s.devMu.RUnlock()

	s.logger.Debug().
		Str(xglog.FieldEvent, "source.devices_changed").
		Int(xglog.FieldCount, len(devs)).
		Msg("device set changed")
	for _, fn := range listeners {
		fn(devs)
	}
}

// WatchDevices refreshes the device list every interval until ctx is done.
func (s *Source) WatchDevices(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.IsServiceStarted() {
				continue
			}
			if err := s.RefreshDevices(ctx); err != nil {
				s.logger.Warn().Err(err).
					Str(xglog.FieldEvent, "source.discovery_failed").
					Msg("device refresh failed")
			}
		}
	}
}
