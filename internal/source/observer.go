// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

// Observer is notified about the service lifecycle. Implementations must be
// comparable (typically pointers) so repeated registrations are recognized.
type Observer interface {
	ServiceStarted()
	ServiceStopped()
	ServiceError(err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStarted func()
	OnStopped func()
	OnError   func(error)
}

func (o *ObserverFuncs) ServiceStarted() {
	if o.OnStarted != nil {
		o.OnStarted()
	}
}

func (o *ObserverFuncs) ServiceStopped() {
	if o.OnStopped != nil {
		o.OnStopped()
	}
}

func (o *ObserverFuncs) ServiceError(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}
