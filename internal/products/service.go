package products

import (
	"context"
	"log/slog"
	"time"

	"github.com/siraevrus/stockyard/internal/attribute"
	"github.com/siraevrus/stockyard/internal/shared"
	"github.com/siraevrus/stockyard/internal/stock"
	"github.com/siraevrus/stockyard/internal/templates"
)

// SchemaPort loads template schemas for intake validation.
type SchemaPort interface {
	GetSchema(ctx context.Context, id int64) (templates.Schema, error)
}

// LedgerPort posts the opening arrival for a new lot.
type LedgerPort interface {
	PostArrival(ctx context.Context, input stock.ArrivalInput) (stock.MovementRecord, error)
}

// MetricsPort counts formula evaluation failures.
type MetricsPort interface {
	FormulaFailure()
}

// Service drives the lot intake and attribute-edit flows.
type Service struct {
	repo    Repository
	schemas SchemaPort
	ledger  LedgerPort
	metrics MetricsPort
	logger  *slog.Logger
}

// NewService constructs the products service.
func NewService(repo Repository, schemas SchemaPort, ledger LedgerPort, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, schemas: schemas, ledger: ledger, metrics: metrics, logger: logger}
}

// CreateIntake validates a new lot against its template schema and posts the
// opening arrival. The lot row and the ledger movement commit in one
// transaction, so a rejected intake leaves no trace.
func (s *Service) CreateIntake(ctx context.Context, in IntakeInput) (stock.MovementRecord, error) {
	if in.Qty <= 0 {
		return stock.MovementRecord{}, stock.ErrInvalidQuantity
	}
	schema, err := s.schemas.GetSchema(ctx, in.TemplateID)
	if err != nil {
		return stock.MovementRecord{}, err
	}
	if !schema.Template.IsActive {
		return stock.MovementRecord{}, shared.NewValidationError("template_id", "template is inactive")
	}

	values, err := templates.ValidateValues(schema, in.Attributes)
	if err != nil {
		return stock.MovementRecord{}, err
	}
	fingerprint := attribute.Fingerprint(values)
	volume := s.computeVolume(ctx, schema, values)

	arrivalDate := in.ArrivalDate
	if arrivalDate.IsZero() {
		arrivalDate = time.Now().UTC()
	}

	return s.ledger.PostArrival(ctx, stock.ArrivalInput{
		Bucket: stock.Bucket{
			WarehouseID: in.WarehouseID,
			TemplateID:  in.TemplateID,
			Fingerprint: fingerprint,
		},
		Qty:     in.Qty,
		Note:    in.Note,
		ActorID: in.ActorID,
		Product: &stock.ProductDraft{
			TemplateID:   in.TemplateID,
			WarehouseID:  in.WarehouseID,
			ArrivalDate:  arrivalDate,
			TransportRef: in.TransportRef,
			Attributes:   values,
			Volume:       volume,
			Fingerprint:  fingerprint,
			CreatedBy:    in.ActorID,
		},
	})
}

// Get loads one lot.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.Get(ctx, id)
}

// List returns lots matching the filters plus the total count.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters)
}

// UpdateAttributes replaces a lot's attribute values, recomputing volume and
// fingerprint. Ledger history stays untouched: movements already posted keep
// the fingerprint they were recorded under.
func (s *Service) UpdateAttributes(ctx context.Context, id int64, in UpdateInput) (Product, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	schema, err := s.schemas.GetSchema(ctx, current.TemplateID)
	if err != nil {
		return Product{}, err
	}
	values, err := templates.ValidateValues(schema, in.Attributes)
	if err != nil {
		return Product{}, err
	}
	fingerprint := attribute.Fingerprint(values)
	volume := s.computeVolume(ctx, schema, values)

	if err := s.repo.UpdateAttributes(ctx, id, values, volume, fingerprint); err != nil {
		return Product{}, err
	}
	s.logger.Info("lot attributes updated",
		"product_id", id, "actor_id", in.ActorID, "fingerprint", fingerprint)
	return s.repo.Get(ctx, id)
}

// computeVolume evaluates the template formula. Evaluation failure is not
// fatal for intake: the lot is stored with a null volume and the failure is
// logged and counted.
func (s *Service) computeVolume(ctx context.Context, schema templates.Schema, values map[string]attribute.Value) *float64 {
	volume, err := templates.ComputeVolume(schema, values)
	if err != nil {
		s.logger.WarnContext(ctx, "volume formula failed",
			"template_id", schema.Template.ID, "formula", schema.Template.Formula, "error", err)
		if s.metrics != nil {
			s.metrics.FormulaFailure()
		}
		return nil
	}
	return volume
}
