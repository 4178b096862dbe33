// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package content

import (
	"encoding/json"
	"fmt"
)

// Marshal returns the stored form of o: its record as JSON.
func Marshal(o Object) ([]byte, error) {
	return json.Marshal(o.Record())
}

// Unmarshal reconstructs an object from the output of Marshal.
func (r *Registry) Unmarshal(data []byte) (Object, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("content: decode record: %w", err)
	}
	return r.FromRecord(rec)
}
