// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package content

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Declared class names.
const (
	ClassContainer      = "object.container"
	ClassItem           = "object.item"
	ClassEpgItem        = "object.item.epgItem"
	ClassVideoProgram   = "object.item.epgItem.videoProgram"
	ClassVideoBroadcast = "object.item.videoItem.videoBroadcast"
)

// ErrUnknownClass is the sentinel behind *UnknownClassError.
var ErrUnknownClass = errors.New("content: unknown declared class")

// UnknownClassError reports a declared class no registered type matches.
type UnknownClassError struct {
	Class string
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("content: no type registered for class %q", e.Class)
}

// Unwrap returns ErrUnknownClass.
func (e *UnknownClassError) Unwrap() error { return ErrUnknownClass }

// Factory returns a new zero value of a concrete type.
type Factory func() Object

type registration struct {
	prefix  string
	factory Factory
}

// Registry maps declared classes to constructors. Lookups walk an explicit
// priority list, most specific prefix first, and take the first prefix match.
type Registry struct {
	mu      sync.RWMutex
	entries []registration
}

// NewRegistry returns a registry with the built-in types.
func NewRegistry() *Registry {
	return &Registry{entries: []registration{
		{ClassVideoBroadcast, func() Object { return &Channel{} }},
		{ClassVideoProgram, func() Object { return &Program{} }},
		{ClassEpgItem, func() Object { return &EpgItem{} }},
		{ClassItem, func() Object { return &Item{} }},
		{ClassContainer, func() Object { return &Container{} }},
	}}
}

// Register adds a type ahead of every existing entry.
func (r *Registry) Register(prefix string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append([]registration{{prefix, f}}, r.entries...)
}

// New constructs an empty instance of the most specific type matching class.
func (r *Registry) New(class string) (Object, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if strings.HasPrefix(class, e.prefix) {
			return e.factory(), nil
		}
	}
	return nil, &UnknownClassError{Class: class}
}

// FromRecord constructs, populates and validates an object from rec.
func (r *Registry) FromRecord(rec Record) (Object, error) {
	obj, err := r.New(rec[FieldClass])
	if err != nil {
		return nil, err
	}
	obj.Populate(rec)
	if err := Validate(obj); err != nil {
		return nil, fmt.Errorf("%s: %w", rec[FieldID], err)
	}
	return obj, nil
}
