// Package domain defines the persistence models for donors and donations.
// This file implements the Metadata column type: an explicit string-to-string
// mapping (not an open-ended dynamic blob) persisted as JSON text so the
// donation record keeps a well-defined shape.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata carries free-form key-value tags attached to payment objects
// (e.g. campaign identifiers set by the donation form). It serializes to a
// JSON text column and deserializes from either []byte or string, which
// covers the SQLite and Postgres drivers.
type Metadata map[string]string

// Value implements driver.Valuer. Empty maps are stored as NULL so the
// column stays clean for donations without tags.
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner. NULL scans to a nil map.
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: cannot scan %T", value)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, m)
}

// Clone returns a shallow copy with extra entries merged on top. It is used
// when tagging gateway objects with the donation frequency without mutating
// the caller's map.
func (m Metadata) Clone(extra map[string]string) Metadata {
	out := make(Metadata, len(m)+len(extra))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
