// Package templates manages product templates and their attribute schemas,
// the masterdata every lot, sale and shipment line is validated against.
package templates

import (
	"time"

	"github.com/siraevrus/stockyard/internal/attribute"
)

// Template defines a family of goods: its unit of measure and the optional
// formula deriving a volume from attribute values.
type Template struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	Formula   string    `json:"formula,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attribute is one entry of a template's immutable attribute schema.
type Attribute struct {
	ID         int64          `json:"id"`
	TemplateID int64          `json:"template_id"`
	Name       string         `json:"name"`
	Variable   string         `json:"variable"`
	Kind       attribute.Kind `json:"kind"`
	Options    []string       `json:"options,omitempty"`
	Required   bool           `json:"required"`
	InFormula  bool           `json:"in_formula"`
	SortOrder  int            `json:"sort_order"`
}

// Schema bundles a template with its attributes for validation consumers.
type Schema struct {
	Template   Template
	Attributes []Attribute
}

// ListFilters narrows template listings.
type ListFilters struct {
	Search   string
	IsActive *bool
	Page     int
	PerPage  int
}
