// Package model defines data structures for the voice configuration agent.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultLanguage is used when the metadata does not name a language.
const DefaultLanguage = "English"

// ErrInvalidMetadata is returned when the session metadata does not describe a usable product.
var ErrInvalidMetadata = errors.New("invalid product metadata")

// DomainKind classifies the legal values of a part.
type DomainKind string

const (
	DomainEnum  DomainKind = "enum"
	DomainRange DomainKind = "range"
	DomainText  DomainKind = "text"
)

// Option is one enumerated value of a part. Options decoded from metadata keep their
// original JSON, so keys beyond value and title survive re-encoding.
type Option struct {
	Value string `json:"value"`
	Title string `json:"title,omitempty"`

	raw json.RawMessage
}

// UnmarshalJSON accepts either a bare string or an object.
func (o *Option) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = Option{Value: s, raw: cloneRaw(data)}
		return nil
	}

	type plain Option
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = Option(p)
	o.raw = cloneRaw(data)
	return nil
}

// MarshalJSON re-encodes a decoded option exactly as it was received.
func (o Option) MarshalJSON() ([]byte, error) {
	if len(o.raw) > 0 {
		return o.raw, nil
	}
	type plain Option
	return json.Marshal(plain(o))
}

// Part is one configurable unit of the product. Its domain is fixed for the session and may
// use keys this type does not model; a decoded part keeps its original JSON for that reason.
type Part struct {
	UniqueID string   `json:"uniqueId"`
	Name     string   `json:"name"`
	Title    string   `json:"title,omitempty"`
	Options  []Option `json:"options,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Step     *float64 `json:"step,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	Parts    []Part   `json:"parts,omitempty"`

	raw json.RawMessage
}

// UnmarshalJSON decodes the modeled fields and remembers the full object.
func (p *Part) UnmarshalJSON(data []byte) error {
	type plain Part
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Part(v)
	p.raw = cloneRaw(bytes.TrimSpace(data))
	return nil
}

// MarshalJSON re-encodes a decoded part exactly as it was received.
func (p Part) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	type plain Part
	return json.Marshal(plain(p))
}

func cloneRaw(data []byte) json.RawMessage {
	return append(json.RawMessage(nil), data...)
}

// WalkParts calls fn for every part, depth first, including nested sub-parts.
func WalkParts(parts []Part, fn func(Part)) {
	for _, part := range parts {
		fn(part)
		WalkParts(part.Parts, fn)
	}
}

// Domain returns the kind of values the part accepts.
func (p Part) Domain() DomainKind {
	switch {
	case len(p.Options) > 0:
		return DomainEnum
	case p.Min != nil || p.Max != nil:
		return DomainRange
	default:
		return DomainText
	}
}

// Product is the product description supplied at session start.
type Product struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Parts    []Part `json:"parts"`

	raw json.RawMessage
}

// MarshalJSON keeps every top-level key of the original metadata and fills in the
// resolved name and language.
func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product
	if len(p.raw) == 0 {
		return json.Marshal(plain(p))
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(p.raw, &fields); err != nil {
		return json.Marshal(plain(p))
	}
	for key, value := range map[string]interface{}{"name": p.Name, "language": p.Language, "parts": p.Parts} {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		fields[key] = encoded
	}
	return json.Marshal(fields)
}

// Validate checks the invariants the controller relies on. Top-level parts need a name;
// nested sub-parts only need a unique id.
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalidMetadata)
	}

	seen := make(map[string]struct{})
	return validateParts(p.Parts, seen, true)
}

func validateParts(parts []Part, seen map[string]struct{}, top bool) error {
	for i, part := range parts {
		if part.UniqueID == "" {
			return fmt.Errorf("%w: part %d has no uniqueId", ErrInvalidMetadata, i)
		}
		if top && part.Name == "" {
			return fmt.Errorf("%w: part %q has no name", ErrInvalidMetadata, part.UniqueID)
		}
		if _, dup := seen[part.UniqueID]; dup {
			return fmt.Errorf("%w: duplicate uniqueId %q", ErrInvalidMetadata, part.UniqueID)
		}
		seen[part.UniqueID] = struct{}{}

		if part.Min != nil && part.Max != nil && *part.Min > *part.Max {
			return fmt.Errorf("%w: part %q has min greater than max", ErrInvalidMetadata, part.UniqueID)
		}
		if err := validateParts(part.Parts, seen, false); err != nil {
			return err
		}
	}
	return nil
}

// PartIDs returns the identifiers of every part, nested sub-parts included.
func (p *Product) PartIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(p.Parts))
	WalkParts(p.Parts, func(part Part) {
		ids[part.UniqueID] = struct{}{}
	})
	return ids
}

// ParseMetadata decodes and validates the opaque metadata string handed to a session.
func ParseMetadata(metadata string) (*Product, error) {
	if strings.TrimSpace(metadata) == "" {
		return nil, fmt.Errorf("%w: metadata is empty", ErrInvalidMetadata)
	}

	var product Product
	if err := json.Unmarshal([]byte(metadata), &product); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	product.raw = cloneRaw(bytes.TrimSpace([]byte(metadata)))
	if product.Language == "" {
		product.Language = DefaultLanguage
	}
	if err := product.Validate(); err != nil {
		return nil, err
	}
	return &product, nil
}

// ProductFromMetadata parses metadata and falls back to the built-in default product.
// The returned error, if any, explains why the fallback was used.
func ProductFromMetadata(metadata string) (*Product, error) {
	product, err := ParseMetadata(metadata)
	if err != nil {
		return DefaultProduct(), err
	}
	return product, nil
}

// DefaultProduct is used when a session starts without usable metadata.
func DefaultProduct() *Product {
	return &Product{
		Name:     "Table",
		Language: DefaultLanguage,
		Parts: []Part{
			{
				UniqueID: "table-top-material",
				Name:     "material",
				Title:    "Table top material",
				Options: []Option{
					{Value: "oak", Title: "Oak"},
					{Value: "walnut", Title: "Walnut"},
					{Value: "ash", Title: "Ash"},
				},
			},
			{
				UniqueID: "table-top-thickness",
				Name:     "thickness",
				Title:    "Table top thickness",
				Options: []Option{
					{Value: "19mm"},
					{Value: "25mm"},
					{Value: "40mm"},
				},
			},
			{
				UniqueID: "table-length",
				Name:     "length",
				Title:    "Length",
				Min:      floatPtr(120),
				Max:      floatPtr(300),
				Step:     floatPtr(10),
				Unit:     "cm",
			},
			{
				UniqueID: "table-engraving",
				Name:     "engraving",
				Title:    "Engraving text",
			},
		},
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
