// Package shipments tracks goods in transit between locations and turns a
// confirmed delivery into stock arrivals at the destination warehouse.
package shipments

import (
	"errors"
	"time"

	"github.com/siraevrus/stockyard/internal/attribute"
)

// Status is the shipment lifecycle state. Transitions are monotonic:
// in_transit → arrived → confirmed, and confirmed is terminal.
type Status string

const (
	StatusInTransit Status = "in_transit"
	StatusArrived   Status = "arrived"
	StatusConfirmed Status = "confirmed"
)

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusInTransit, StatusArrived, StatusConfirmed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusInTransit:
		return next == StatusArrived
	case StatusArrived:
		return next == StatusConfirmed
	}
	return false
}

var (
	// ErrNotFound indicates a missing shipment.
	ErrNotFound = errors.New("shipments: not found")
	// ErrTerminalState indicates a mutation against a confirmed shipment.
	ErrTerminalState = errors.New("shipments: shipment is confirmed and immutable")
	// ErrInvalidTransition indicates a status change that skips or reverses
	// the lifecycle.
	ErrInvalidTransition = errors.New("shipments: invalid status transition")
	// ErrNoLines indicates a confirm against a shipment without line items.
	ErrNoLines = errors.New("shipments: shipment has no line items")
)

// Line is one template's worth of goods on a shipment. The fingerprint is
// derived from the typed attribute values at creation so confirmation lands
// the quantity in the right bucket.
type Line struct {
	ID          int64                      `json:"id"`
	ShipmentID  int64                      `json:"shipment_id"`
	TemplateID  int64                      `json:"template_id"`
	Qty         float64                    `json:"qty"`
	Attributes  map[string]attribute.Value `json:"attributes"`
	Volume      *float64                   `json:"volume,omitempty"`
	Fingerprint string                     `json:"fingerprint"`
}

// Document is opaque metadata about a file accompanying the shipment.
type Document struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Path string `json:"path"`
}

// ShipmentLot is a consignment travelling from a departure location to a
// destination warehouse.
type ShipmentLot struct {
	ID             int64      `json:"id"`
	DepartureName  string     `json:"departure_name"`
	DepartureDate  time.Time  `json:"departure_date"`
	WarehouseID    int64      `json:"warehouse_id"`
	PlannedArrival time.Time  `json:"planned_arrival"`
	Status         Status     `json:"status"`
	Lines          []Line     `json:"lines"`
	Documents      []Document `json:"documents,omitempty"`
	Overdue        bool       `json:"overdue,omitempty"`
	CreatedBy      int64      `json:"created_by,omitempty"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// LineInput is one raw line item on an incoming create request.
type LineInput struct {
	TemplateID int64
	Qty        float64
	Attributes map[string]string
}

// CreateInput describes a new shipment.
type CreateInput struct {
	DepartureName  string
	DepartureDate  time.Time
	WarehouseID    int64
	PlannedArrival time.Time
	Lines          []LineInput
	Documents      []Document
	ActorID        int64
}

// UpdateInput carries header edits for a not-yet-confirmed shipment.
type UpdateInput struct {
	DepartureName  string
	PlannedArrival time.Time
	Documents      []Document
}

// ListFilters narrows shipment listings.
type ListFilters struct {
	WarehouseID int64
	Status      Status
	Page        int
	PerPage     int
}
