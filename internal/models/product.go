package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Product is an opaque record supplied by the remote service. Only the
// identifying and naming fields are decoded; the full record round-trips
// unchanged through MarshalJSON.
type Product struct {
	ID           string
	Manufacturer string
	Model        string
	Type         string

	raw json.RawMessage
}

type productHeader struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Type         string `json:"type"`
}

type productView struct {
	ID           json.RawMessage `json:"id"`
	Header       *productHeader  `json:"header"`
	Manufacturer string          `json:"manufacturer"`
	Model        string          `json:"model"`
	Type         string          `json:"type"`
}

// UnmarshalJSON keeps the raw record and pulls out the naming fields, which
// live under "header" for formatted products and at the top level otherwise.
// A JSON null leaves p unchanged.
func (p *Product) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var v productView
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Product{
		ID:           decodeID(v.ID),
		Manufacturer: v.Manufacturer,
		Model:        v.Model,
		Type:         v.Type,
		raw:          append(json.RawMessage(nil), data...),
	}
	if v.Header != nil {
		p.Manufacturer = v.Header.Manufacturer
		p.Model = v.Header.Model
		if v.Header.Type != "" {
			p.Type = v.Header.Type
		}
	}
	return nil
}

// MarshalJSON emits the original record when one was decoded.
func (p Product) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	return json.Marshal(map[string]string{
		"id":           p.ID,
		"manufacturer": p.Manufacturer,
		"model":        p.Model,
		"type":         p.Type,
	})
}

// decodeID accepts string or numeric ids.
func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// IsZero reports whether p carries neither an id nor any naming field.
func (p Product) IsZero() bool {
	return p.ID == "" && p.Manufacturer == "" && p.Model == "" && p.Type == ""
}

// Name is "manufacturer model".
func (p Product) Name() string {
	return strings.TrimSpace(p.Manufacturer + " " + p.Model)
}

// Label is "type - manufacturer model", used in selection announcements.
func (p Product) Label() string {
	return p.Type + " - " + p.Name()
}

// Same reports whether two products share an identity. Products without an
// id fall back to comparing names.
func (p Product) Same(other Product) bool {
	if p.ID != "" || other.ID != "" {
		return p.ID == other.ID
	}
	return p.Name() == other.Name()
}
