// Package stock holds the current-balance ledger, the append-only movement
// journal and the transaction coordinator that is the only path through
// which domain events may touch them.
package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/siraevrus/stockyard/internal/attribute"
)

// MovementKind is the canonical operation enumeration shared by the ledger,
// the journal and every caller.
type MovementKind string

const (
	// KindArrival is an inbound intake, manual or from a confirmed shipment.
	KindArrival MovementKind = "arrival"
	// KindSale is an outbound sale.
	KindSale MovementKind = "sale"
	// KindTransfer moves stock between warehouses.
	KindTransfer MovementKind = "transfer"
	// KindAdjustment is a signed manual correction.
	KindAdjustment MovementKind = "adjustment"
)

// Valid reports whether k is one of the canonical kinds.
func (k MovementKind) Valid() bool {
	switch k {
	case KindArrival, KindSale, KindTransfer, KindAdjustment:
		return true
	}
	return false
}

// Bucket identifies one stock balance: a warehouse, a product template and
// the fingerprint of the distinguishing attribute set.
type Bucket struct {
	WarehouseID int64
	TemplateID  int64
	Fingerprint string
}

// String renders the bucket key, also used for cache and idempotency keys.
func (b Bucket) String() string {
	return fmt.Sprintf("%d:%d:%s", b.WarehouseID, b.TemplateID, b.Fingerprint)
}

// Less orders buckets deterministically, so cross-bucket operations always
// acquire row locks in the same order regardless of transfer direction.
func (b Bucket) Less(o Bucket) bool {
	return b.String() < o.String()
}

// Balance summarises stock on hand for one bucket.
type Balance struct {
	Bucket
	Qty       float64
	Reserved  float64
	UpdatedAt time.Time
}

// Available is the quantity sellable right now: on hand minus reserved.
// This definition is applied uniformly to validation, reporting and display.
func (b Balance) Available() float64 {
	return b.Qty - b.Reserved
}

// MovementRecord is one immutable journal entry. QtyAfter always equals
// QtyBefore + QtyChange, and committed records for a bucket form a chain
// where each record's before equals the previous record's after.
type MovementRecord struct {
	ID int64
	Bucket
	Kind      MovementKind
	QtyChange float64
	QtyBefore float64
	QtyAfter  float64
	Note      string
	ProductID int64
	SaleID    int64
	ActorID   int64
	RefID     string
	CreatedAt time.Time
}

// Sale is the commercial record matching exactly one "sale" movement.
type Sale struct {
	ID int64
	Bucket
	Qty            float64
	CashAmount     decimal.Decimal
	CashlessAmount decimal.Decimal
	Total          decimal.Decimal
	Note           string
	ActorID        int64
	CreatedAt      time.Time
}

// ProductDraft is the physical-lot row created together with an arrival.
type ProductDraft struct {
	TemplateID   int64
	WarehouseID  int64
	ArrivalDate  time.Time
	TransportRef string
	Attributes   map[string]attribute.Value
	Volume       *float64
	Fingerprint  string
	CreatedBy    int64
}

// ArrivalInput describes an inbound intake.
type ArrivalInput struct {
	Bucket
	Qty     float64
	Note    string
	ActorID int64
	RefID   string
	Product *ProductDraft
}

// SaleInput describes a sale request.
type SaleInput struct {
	Bucket
	Qty            float64
	CashAmount     decimal.Decimal
	CashlessAmount decimal.Decimal
	Note           string
	ActorID        int64
}

// AdjustmentInput describes a signed manual correction. Note is mandatory.
type AdjustmentInput struct {
	Bucket
	Delta   float64
	Note    string
	ActorID int64
}

// TransferInput moves stock of one bucket between two warehouses.
type TransferInput struct {
	TemplateID   int64
	Fingerprint  string
	SrcWarehouse int64
	DstWarehouse int64
	Qty          float64
	Note         string
	ActorID      int64
}

// ReserveInput adjusts the reserved quantity of a bucket.
type ReserveInput struct {
	Bucket
	Delta   float64
	ActorID int64
}

// MovementFilter narrows journal queries. Zero fields are ignored.
type MovementFilter struct {
	WarehouseID int64
	TemplateID  int64
	Fingerprint string
	Kind        MovementKind
	From        time.Time
	To          time.Time
	Page        int
	PerPage     int
}

// SummaryFilter scopes the aggregated period report.
type SummaryFilter struct {
	WarehouseID int64
	TemplateID  int64
	From        time.Time
	To          time.Time
}

// SummaryRow aggregates movement totals per (warehouse, template).
type SummaryRow struct {
	WarehouseID int64
	TemplateID  int64
	Arrivals    float64
	Sales       float64
	Adjustments float64
	Net         float64
}

// InsufficientStockError rejects a decrement that exceeds what the bucket
// can give up. Available carries the amount actually sellable.
type InsufficientStockError struct {
	Bucket    Bucket
	Requested float64
	Available float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock: insufficient stock in bucket %s: requested %g, available %g", e.Bucket, e.Requested, e.Available)
}

// ErrInvalidQuantity indicates a non-positive quantity where a positive one
// is required, or a zero delta.
var ErrInvalidQuantity = errors.New("stock: invalid quantity")

// ErrNoteRequired rejects adjustments without an explanatory note.
var ErrNoteRequired = errors.New("stock: adjustment note required")

// ErrSameWarehouse rejects transfers whose endpoints coincide.
var ErrSameWarehouse = errors.New("stock: source and destination warehouse must differ")

// ErrReservedExceedsStock rejects reservation changes breaking
// 0 <= reserved <= quantity.
var ErrReservedExceedsStock = errors.New("stock: reserved quantity out of range")

// ErrConflict is surfaced after bounded retries against concurrent writers;
// the caller should retry the whole operation.
var ErrConflict = errors.New("stock: concurrent update conflict, retry the operation")
