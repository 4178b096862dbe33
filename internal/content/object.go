// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package content defines the typed catalog model shared by the content
// sources and the cache: containers, items, channels and EPG programs.
//
// Objects are built from a Record, a flat map keyed by model field names.
// Backends translate their wire names into model names once, at the edge,
// so the cache and every backend populate the same types the same way.
package content

import "errors"

// Record is a generic field-name to value mapping, keyed by model field names.
type Record map[string]string

// Model field names.
const (
	FieldID                   = "id"
	FieldTitle                = "title"
	FieldClass                = "class"
	FieldResourceURI          = "resourceUri"
	FieldResourceProtocolInfo = "resourceProtocolInfo"
	FieldIconURI              = "iconUri"

	FieldChannelNumber = "channelNumber"
	FieldCallSign      = "callSign"
	FieldChannelID     = "channelId"

	FieldScheduledStartTime = "scheduledStartTime"
	FieldScheduledEndTime   = "scheduledEndTime"
	FieldProgramTitle       = "programTitle"
	FieldSeriesTitle        = "seriesTitle"
	FieldGenre              = "genre"
	FieldRating             = "rating"
	FieldLongDescription    = "longDescription"
	FieldIcon               = "icon"
)

var (
	// ErrNoChannelID is returned when a channel id cannot be derived from a node id.
	ErrNoChannelID = errors.New("content: channel id not derivable from node id")

	// ErrInvalidSchedule is returned when a program does not start before it ends.
	ErrInvalidSchedule = errors.New("content: program start is not before its end")

	// ErrMissingID is returned for records without a node id.
	ErrMissingID = errors.New("content: record has no id")

	// ErrDeviceNotFound is returned when a udn names no known server.
	ErrDeviceNotFound = errors.New("content: device not found")
)

// Object is implemented by every catalog type.
type Object interface {
	GetID() string
	GetTitle() string
	GetClass() string

	// Populate assigns the fields the concrete type declares from r.
	// Unknown names are ignored and missing names keep their current value.
	Populate(r Record)

	// Record returns the non-empty declared fields of the object.
	Record() Record
}

// Validator is implemented by types with invariants beyond field presence.
type Validator interface {
	Validate() error
}

// Equal reports whether a and b denote the same node. Identity is the id only.
func Equal(a, b Object) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.GetID() == b.GetID()
}

// Validate checks the id and, when o implements Validator, its type invariants.
func Validate(o Object) error {
	if o.GetID() == "" {
		return ErrMissingID
	}
	if v, ok := o.(Validator); ok {
		return v.Validate()
	}
	return nil
}

// stringField binds a model field name to a string slot of a concrete type.
type stringField struct {
	name string
	ptr  *string
}

func populateFields(fields []stringField, r Record) {
	for _, f := range fields {
		if v, ok := r[f.name]; ok {
			*f.ptr = v
		}
	}
}

func recordFields(fields []stringField, r Record) {
	for _, f := range fields {
		if *f.ptr != "" {
			r[f.name] = *f.ptr
		}
	}
}

// Base carries the fields common to all catalog objects.
type Base struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Class                string `json:"class"`
	ResourceURI          string `json:"resourceUri,omitempty"`
	ResourceProtocolInfo string `json:"resourceProtocolInfo,omitempty"`
	IconURI              string `json:"iconUri,omitempty"`
}

func (b *Base) GetID() string    { return b.ID }
func (b *Base) GetTitle() string { return b.Title }
func (b *Base) GetClass() string { return b.Class }

func (b *Base) fields() []stringField {
	return []stringField{
		{FieldID, &b.ID},
		{FieldTitle, &b.Title},
		{FieldClass, &b.Class},
		{FieldResourceURI, &b.ResourceURI},
		{FieldResourceProtocolInfo, &b.ResourceProtocolInfo},
		{FieldIconURI, &b.IconURI},
	}
}

// Populate implements Object.
func (b *Base) Populate(r Record) { populateFields(b.fields(), r) }

// Record implements Object.
func (b *Base) Record() Record {
	r := Record{}
	recordFields(b.fields(), r)
	return r
}

// Container is a browsable node whose children are fetched on demand.
type Container struct {
	Base
}

// Item is a leaf catalog entry.
type Item struct {
	Base
}

// EpgItem is the common ancestor of guide entries.
type EpgItem struct {
	Base
}
