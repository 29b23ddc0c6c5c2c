package model

import (
	"fmt"
	"strings"
)

// SelectedOption is a single recorded choice for a part.
type SelectedOption struct {
	UniqueID string  `json:"uniqueId"`
	Name     string  `json:"name"`
	Value    *string `json:"value"`
	Title    string  `json:"title,omitempty"`
}

// String renders the option the way the acknowledgment is spoken back to the model.
func (o SelectedOption) String() string {
	value := "null"
	if o.Value != nil {
		value = *o.Value
	}
	parts := []string{
		"uniqueId=" + o.UniqueID,
		"name=" + o.Name,
		"value=" + value,
	}
	if o.Title != "" {
		parts = append(parts, "title="+o.Title)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Validate checks the identifier fields required on every selection.
func (o SelectedOption) Validate() error {
	if strings.TrimSpace(o.UniqueID) == "" {
		return fmt.Errorf("uniqueId is required")
	}
	if strings.TrimSpace(o.Name) == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Document is the per-session configuration record. It carries no locking of its own;
// the owner serializes access.
type Document struct {
	ProductName     string           `json:"name"`
	Language        string           `json:"language"`
	Parts           []Part           `json:"parts"`
	SelectedOptions []SelectedOption `json:"selected_options"`
}

// NewDocument creates the document for a product. Parts are copied and never modified afterwards.
func NewDocument(p *Product) *Document {
	parts := make([]Part, len(p.Parts))
	copy(parts, p.Parts)
	return &Document{
		ProductName:     p.Name,
		Language:        p.Language,
		Parts:           parts,
		SelectedOptions: []SelectedOption{},
	}
}

// Append records a selection. Selections for the same part are all retained.
func (d *Document) Append(o SelectedOption) {
	d.SelectedOptions = append(d.SelectedOptions, o)
}

// Snapshot returns a deep copy safe to hand to publishers and stores.
func (d *Document) Snapshot() *Document {
	if d == nil {
		return nil
	}

	parts := make([]Part, len(d.Parts))
	copy(parts, d.Parts)

	selected := make([]SelectedOption, len(d.SelectedOptions))
	for i, o := range d.SelectedOptions {
		selected[i] = o
		if o.Value != nil {
			v := *o.Value
			selected[i].Value = &v
		}
	}

	return &Document{
		ProductName:     d.ProductName,
		Language:        d.Language,
		Parts:           parts,
		SelectedOptions: selected,
	}
}

// Latest returns the last selection per part in first-selection order.
func (d *Document) Latest() []SelectedOption {
	index := make(map[string]int)
	var out []SelectedOption
	for _, o := range d.SelectedOptions {
		if i, ok := index[o.UniqueID]; ok {
			out[i] = o
			continue
		}
		index[o.UniqueID] = len(out)
		out = append(out, o)
	}
	return out
}

// Product returns the product description the document was created from.
func (d *Document) Product() *Product {
	parts := make([]Part, len(d.Parts))
	copy(parts, d.Parts)
	return &Product{Name: d.ProductName, Language: d.Language, Parts: parts}
}
