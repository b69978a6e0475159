package shipments

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/siraevrus/stockyard/internal/attribute"
	"github.com/siraevrus/stockyard/internal/shared"
	"github.com/siraevrus/stockyard/internal/stock"
	"github.com/siraevrus/stockyard/internal/templates"
)

// SchemaPort loads template schemas for line validation.
type SchemaPort interface {
	GetSchema(ctx context.Context, id int64) (templates.Schema, error)
}

// LedgerPort receives post-commit notifications for the arrivals posted
// inside the confirm transaction, so cached balances and movement counters
// stay in step with the ledger.
type LedgerPort interface {
	MovementsCommitted(ctx context.Context, kind stock.MovementKind, buckets ...stock.Bucket)
}

// Service drives the shipment lifecycle.
type Service struct {
	repo    Repository
	schemas SchemaPort
	ledger  LedgerPort
	audit   stock.AuditPort
	logger  *slog.Logger
}

// NewService constructs the shipments service. ledger and audit may be nil.
func NewService(repo Repository, schemas SchemaPort, ledger LedgerPort, audit stock.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, schemas: schemas, ledger: ledger, audit: audit, logger: logger}
}

// Create validates and registers a new in-transit shipment. Line attributes
// are validated against their template schema up front, and each line's
// fingerprint is fixed at creation so confirmation lands in a known bucket.
func (s *Service) Create(ctx context.Context, in CreateInput) (ShipmentLot, error) {
	if err := validateHeader(in); err != nil {
		return ShipmentLot{}, err
	}

	lines := make([]Line, 0, len(in.Lines))
	for i, li := range in.Lines {
		if li.Qty <= 0 {
			return ShipmentLot{}, shared.NewValidationError(fmt.Sprintf("lines[%d].qty", i), "must be positive")
		}
		schema, err := s.schemas.GetSchema(ctx, li.TemplateID)
		if err != nil {
			return ShipmentLot{}, shared.NewValidationError(fmt.Sprintf("lines[%d].template_id", i), "unknown template")
		}
		if !schema.Template.IsActive {
			return ShipmentLot{}, shared.NewValidationError(fmt.Sprintf("lines[%d].template_id", i), "template is inactive")
		}
		values, err := templates.ValidateValues(schema, li.Attributes)
		if err != nil {
			return ShipmentLot{}, err
		}
		volume, err := templates.ComputeVolume(schema, values)
		if err != nil {
			s.logger.WarnContext(ctx, "shipment line volume formula failed",
				"template_id", li.TemplateID, "error", err)
			volume = nil
		}
		lines = append(lines, Line{
			TemplateID:  li.TemplateID,
			Qty:         li.Qty,
			Attributes:  values,
			Volume:      volume,
			Fingerprint: attribute.Fingerprint(values),
		})
	}

	lot, err := s.repo.Create(ctx, ShipmentLot{
		DepartureName:  in.DepartureName,
		DepartureDate:  in.DepartureDate,
		WarehouseID:    in.WarehouseID,
		PlannedArrival: in.PlannedArrival,
		Status:         StatusInTransit,
		Lines:          lines,
		Documents:      in.Documents,
		CreatedBy:      in.ActorID,
	})
	if err != nil {
		return ShipmentLot{}, err
	}
	s.logger.Info("shipment created",
		"shipment_id", lot.ID, "warehouse_id", lot.WarehouseID, "lines", len(lot.Lines))
	return lot, nil
}

// Get loads one shipment with its lines.
func (s *Service) Get(ctx context.Context, id int64) (ShipmentLot, error) {
	return s.repo.Get(ctx, id)
}

// List returns shipments matching the filters plus the total count.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]ShipmentLot, int, error) {
	return s.repo.List(ctx, filters)
}

// Update edits header fields of a not-yet-confirmed shipment.
func (s *Service) Update(ctx context.Context, id int64, upd UpdateInput) error {
	if upd.DepartureName == "" {
		return shared.NewValidationError("departure_name", "required")
	}
	if upd.PlannedArrival.IsZero() {
		return shared.NewValidationError("planned_arrival", "required")
	}
	return s.repo.UpdateDetails(ctx, id, upd)
}

// MarkArrived moves an in-transit shipment to arrived.
func (s *Service) MarkArrived(ctx context.Context, id int64) error {
	if err := s.repo.SetStatus(ctx, id, StatusInTransit, StatusArrived); err != nil {
		return err
	}
	s.logger.Info("shipment arrived", "shipment_id", id)
	return nil
}

// Confirm posts one arrival per line item and flips the shipment to
// confirmed, all in a single transaction. A failure on any line rolls back
// the status flip and every arrival already posted.
func (s *Service) Confirm(ctx context.Context, id int64, actorID int64) error {
	refID := uuid.NewString()
	var buckets []stock.Bucket
	err := s.repo.Confirm(ctx, id, func(ledger stock.TxRepository, lot ShipmentLot) error {
		buckets = buckets[:0]
		if len(lot.Lines) == 0 {
			return ErrNoLines
		}
		for _, line := range lot.Lines {
			bucket := stock.Bucket{
				WarehouseID: lot.WarehouseID,
				TemplateID:  line.TemplateID,
				Fingerprint: line.Fingerprint,
			}
			_, err := stock.Apply(ctx, ledger, stock.MovementParams{
				Bucket:  bucket,
				Kind:    stock.KindArrival,
				Delta:   line.Qty,
				Note:    fmt.Sprintf("shipment #%d from %s", lot.ID, lot.DepartureName),
				ActorID: actorID,
				RefID:   refID,
				Product: &stock.ProductDraft{
					TemplateID:   line.TemplateID,
					WarehouseID:  lot.WarehouseID,
					ArrivalDate:  time.Now().UTC(),
					TransportRef: fmt.Sprintf("shipment:%d", lot.ID),
					Attributes:   line.Attributes,
					Volume:       line.Volume,
					Fingerprint:  line.Fingerprint,
					CreatedBy:    actorID,
				},
			})
			if err != nil {
				return err
			}
			buckets = append(buckets, bucket)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.ledger != nil {
		s.ledger.MovementsCommitted(ctx, stock.KindArrival, buckets...)
	}

	s.logger.Info("shipment confirmed", "shipment_id", id, "actor_id", actorID, "ref_id", refID)
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "shipment.confirm",
			Entity:   "shipment",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"ref_id": refID},
		}); err != nil {
			s.logger.Warn("audit record failed", "shipment_id", id, "error", err)
		}
	}
	return nil
}

// ScanOverdue flags in-transit shipments past their planned arrival.
// Returns how many were newly flagged.
func (s *Service) ScanOverdue(ctx context.Context, asOf time.Time) (int, error) {
	lots, err := s.repo.ListOverdue(ctx, asOf)
	if err != nil {
		return 0, err
	}
	for _, lot := range lots {
		if err := s.repo.MarkOverdue(ctx, lot.ID); err != nil {
			return 0, err
		}
		s.logger.Warn("shipment overdue",
			"shipment_id", lot.ID, "warehouse_id", lot.WarehouseID,
			"planned_arrival", lot.PlannedArrival)
	}
	return len(lots), nil
}

func validateHeader(in CreateInput) error {
	fields := map[string]string{}
	if in.DepartureName == "" {
		fields["departure_name"] = "required"
	}
	if in.WarehouseID <= 0 {
		fields["warehouse_id"] = "required"
	}
	if in.PlannedArrival.IsZero() {
		fields["planned_arrival"] = "required"
	}
	if len(in.Lines) == 0 {
		fields["lines"] = "at least one line item required"
	}
	if len(fields) > 0 {
		return shared.NewValidationErrors(fields)
	}
	return nil
}
