package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"

	jobmetrics "github.com/siraevrus/stockyard/internal/jobs"
	"github.com/siraevrus/stockyard/internal/observability"
	"github.com/siraevrus/stockyard/internal/shared"
	"github.com/siraevrus/stockyard/internal/shipments"
)

// DB is the query surface the reconciliation task needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Handlers bundles the dependencies the background tasks run against.
type Handlers struct {
	db          DB
	idempotency *shared.IdempotencyStore
	shipments   *shipments.Service
	metrics     *observability.Metrics
	jobMetrics  *jobmetrics.Metrics
	logger      *slog.Logger

	idempotencyTTL time.Duration
}

// NewHandlers constructs the task handlers.
func NewHandlers(db DB, idempotency *shared.IdempotencyStore, shipmentSvc *shipments.Service, metrics *observability.Metrics, logger *slog.Logger, idempotencyTTL time.Duration) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &Handlers{
		db:             db,
		idempotency:    idempotency,
		shipments:      shipmentSvc,
		metrics:        metrics,
		jobMetrics:     jobmetrics.NewMetrics(metrics.Registerer()),
		logger:         logger,
		idempotencyTTL: idempotencyTTL,
	}
}

// drift is one bucket whose stored balance disagrees with its journal sum.
type drift struct {
	WarehouseID int64
	TemplateID  int64
	Fingerprint string
	Balance     float64
	JournalSum  float64
}

// HandleLedgerReconcile sums qty_change per bucket and compares it against
// the stored balance. Drift is reported, never auto-corrected: a balance
// that disagrees with its journal means a writer bypassed the coordinator,
// and that needs a human.
func (h *Handlers) HandleLedgerReconcile(ctx context.Context, t *asynq.Task) error {
	return h.jobMetrics.Track("ledger_reconcile").End(h.ledgerReconcile(ctx, t))
}

func (h *Handlers) ledgerReconcile(ctx context.Context, t *asynq.Task) error {
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	// Balances accumulate float additions in commit order while the SUM may
	// add in any order, so the comparison carries an epsilon well below the
	// smallest quantity step anyone records.
	rows, err := h.db.Query(ctx, `
SELECT b.warehouse_id, b.template_id, b.fingerprint, b.qty, COALESCE(m.total, 0)
FROM inventory_balances b
LEFT JOIN (
    SELECT warehouse_id, template_id, fingerprint, SUM(qty_change) AS total
    FROM stock_movements
    GROUP BY warehouse_id, template_id, fingerprint
) m USING (warehouse_id, template_id, fingerprint)
WHERE abs(b.qty - COALESCE(m.total, 0)) > 1e-6`)
	if err != nil {
		return err
	}
	defer rows.Close()

	drifts := []drift{}
	for rows.Next() {
		var d drift
		if err := rows.Scan(&d.WarehouseID, &d.TemplateID, &d.Fingerprint, &d.Balance, &d.JournalSum); err != nil {
			return err
		}
		drifts = append(drifts, d)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	h.metrics.ReconcileDrift(len(drifts))
	for _, d := range drifts {
		h.logger.Error("ledger drift detected",
			"warehouse_id", d.WarehouseID, "template_id", d.TemplateID,
			"fingerprint", d.Fingerprint, "balance", d.Balance, "journal_sum", d.JournalSum)
	}
	if len(drifts) == 0 {
		h.logger.Info("ledger reconciliation clean", "scheduled_for", payload.ScheduledFor)
	}
	return nil
}

// HandleIdempotencyCleanup purges idempotency keys older than the TTL.
func (h *Handlers) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) error {
	return h.jobMetrics.Track("idempotency_cleanup").End(h.idempotencyCleanup(ctx, t))
}

func (h *Handlers) idempotencyCleanup(ctx context.Context, t *asynq.Task) error {
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := h.idempotency.Cleanup(ctx, h.idempotencyTTL); err != nil {
		return err
	}
	h.logger.Info("idempotency keys cleaned", "older_than", h.idempotencyTTL)
	return nil
}

// HandleOverdueShipments flags in-transit shipments past their planned arrival.
func (h *Handlers) HandleOverdueShipments(ctx context.Context, t *asynq.Task) error {
	return h.jobMetrics.Track("overdue_shipments").End(h.overdueShipments(ctx, t))
}

func (h *Handlers) overdueShipments(ctx context.Context, t *asynq.Task) error {
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	n, err := h.shipments.ScanOverdue(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		h.metrics.ShipmentOverdue()
	}
	h.logger.Info("overdue shipment scan finished", "flagged", n)
	return nil
}
