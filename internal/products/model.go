// Package products manages physical lots: the intake flow that validates
// attribute values against the template schema, derives the fingerprint and
// volume, and posts the opening arrival to the stock ledger.
package products

import (
	"time"

	"github.com/siraevrus/stockyard/internal/attribute"
)

// Product is one physical lot received at a warehouse.
type Product struct {
	ID           int64                      `json:"id"`
	TemplateID   int64                      `json:"template_id"`
	WarehouseID  int64                      `json:"warehouse_id"`
	ArrivalDate  time.Time                  `json:"arrival_date"`
	TransportRef string                     `json:"transport_ref,omitempty"`
	Attributes   map[string]attribute.Value `json:"attributes"`
	Volume       *float64                   `json:"volume,omitempty"`
	Fingerprint  string                     `json:"fingerprint"`
	CreatedBy    int64                      `json:"created_by,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// IntakeInput describes a new lot arriving at a warehouse.
type IntakeInput struct {
	TemplateID   int64
	WarehouseID  int64
	Qty          float64
	ArrivalDate  time.Time
	TransportRef string
	Attributes   map[string]string
	Note         string
	ActorID      int64
}

// UpdateInput carries replacement attribute values for an existing lot.
type UpdateInput struct {
	Attributes map[string]string
	ActorID    int64
}

// ListFilters narrows lot listings.
type ListFilters struct {
	WarehouseID int64
	TemplateID  int64
	Fingerprint string
	Page        int
	PerPage     int
}
