package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/siraevrus/stockyard/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, bucket Bucket) (Balance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]MovementRecord, int, error)
	PeriodSummary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort records domain counters. Implementations must tolerate a nil
// receiver so tests can pass nil.
type MetricsPort interface {
	MovementPosted(kind string)
	StockRejected()
}

// IdempotencyPort guards ref-carrying posts against duplicate delivery.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// maxRetries bounds the serialization-conflict retry loop before ErrConflict
// is surfaced to the caller.
const maxRetries = 3

// Service is the transaction coordinator: every balance-changing event is
// validated, applied to the ledger and journaled inside one transaction here.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     MetricsPort
	cache       *BalanceCache
	logger      *slog.Logger
}

// NewService builds Service. audit, idempotency, metrics and cache may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idempotency IdempotencyPort, metrics MetricsPort, cache *BalanceCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idempotency, metrics: metrics, cache: cache, logger: logger}
}

// MovementParams is the coordinator primitive: one signed delta against one
// bucket, with the rows that must commit alongside it.
type MovementParams struct {
	Bucket  Bucket
	Kind    MovementKind
	Delta   float64
	Note    string
	ActorID int64
	RefID   string
	Product *ProductDraft
	Sale    *Sale
}

// Apply locks the bucket, validates the delta, writes the new balance and
// appends the journal entry, all on the supplied transaction. Exported so
// shipment confirmation can post arrivals inside its own transactional unit.
func Apply(ctx context.Context, tx TxRepository, params MovementParams) (MovementRecord, error) {
	if params.Bucket.WarehouseID == 0 || params.Bucket.TemplateID == 0 {
		return MovementRecord{}, shared.NewValidationError("bucket", "warehouse and template required")
	}
	if !params.Kind.Valid() {
		return MovementRecord{}, shared.NewValidationError("kind", fmt.Sprintf("unknown movement kind %q", params.Kind))
	}
	if params.Delta == 0 {
		return MovementRecord{}, ErrInvalidQuantity
	}

	bal, err := tx.GetBalanceForUpdate(ctx, params.Bucket)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return MovementRecord{}, err
	}
	if errors.Is(err, ErrBalanceNotFound) {
		bal = Balance{Bucket: params.Bucket}
	}

	before := bal.Qty
	after := before + params.Delta
	if params.Delta < 0 && -params.Delta > bal.Available() {
		return MovementRecord{}, &InsufficientStockError{Bucket: params.Bucket, Requested: -params.Delta, Available: bal.Available()}
	}

	rec := MovementRecord{
		Bucket:    params.Bucket,
		Kind:      params.Kind,
		QtyChange: params.Delta,
		QtyBefore: before,
		QtyAfter:  after,
		Note:      params.Note,
		ActorID:   params.ActorID,
		RefID:     params.RefID,
		CreatedAt: time.Now().UTC(),
	}

	if params.Product != nil {
		productID, err := tx.InsertProduct(ctx, *params.Product)
		if err != nil {
			return MovementRecord{}, err
		}
		rec.ProductID = productID
	}
	if params.Sale != nil {
		saleID, err := tx.InsertSale(ctx, *params.Sale)
		if err != nil {
			return MovementRecord{}, err
		}
		rec.SaleID = saleID
	}

	bal.Qty = after
	if err := tx.UpsertBalance(ctx, bal); err != nil {
		return MovementRecord{}, err
	}

	id, err := tx.InsertMovement(ctx, rec)
	if err != nil {
		return MovementRecord{}, err
	}
	rec.ID = id
	return rec, nil
}

// PostArrival applies an inbound intake; when input.Product is set the lot
// row commits in the same transaction.
func (s *Service) PostArrival(ctx context.Context, input ArrivalInput) (MovementRecord, error) {
	if input.Qty <= 0 {
		return MovementRecord{}, ErrInvalidQuantity
	}
	params := MovementParams{
		Bucket:  input.Bucket,
		Kind:    KindArrival,
		Delta:   input.Qty,
		Note:    input.Note,
		ActorID: input.ActorID,
		RefID:   input.RefID,
		Product: input.Product,
	}
	return s.post(ctx, params)
}

// PostSale validates the requested quantity against the available amount
// (on hand minus reserved) and creates the sale row atomically with the
// ledger decrement and its journal entry.
func (s *Service) PostSale(ctx context.Context, input SaleInput) (MovementRecord, error) {
	if input.Qty <= 0 {
		return MovementRecord{}, ErrInvalidQuantity
	}
	if input.CashAmount.IsNegative() || input.CashlessAmount.IsNegative() {
		return MovementRecord{}, shared.NewValidationError("amount", "price components must not be negative")
	}
	sale := Sale{
		Bucket:         input.Bucket,
		Qty:            input.Qty,
		CashAmount:     input.CashAmount,
		CashlessAmount: input.CashlessAmount,
		Total:          input.CashAmount.Add(input.CashlessAmount),
		Note:           input.Note,
		ActorID:        input.ActorID,
	}
	params := MovementParams{
		Bucket:  input.Bucket,
		Kind:    KindSale,
		Delta:   -input.Qty,
		Note:    input.Note,
		ActorID: input.ActorID,
		Sale:    &sale,
	}
	return s.post(ctx, params)
}

// PostAdjustment applies a signed correction. The note is mandatory:
// corrections without an explanation are not auditable.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (MovementRecord, error) {
	if input.Delta == 0 {
		return MovementRecord{}, ErrInvalidQuantity
	}
	if input.Note == "" {
		return MovementRecord{}, ErrNoteRequired
	}
	params := MovementParams{
		Bucket:  input.Bucket,
		Kind:    KindAdjustment,
		Delta:   input.Delta,
		Note:    input.Note,
		ActorID: input.ActorID,
	}
	return s.post(ctx, params)
}

// PostTransfer decrements the source and increments the destination inside
// one transaction. Row locks are taken in deterministic bucket order so two
// opposite transfers cannot deadlock.
func (s *Service) PostTransfer(ctx context.Context, input TransferInput) (out MovementRecord, in MovementRecord, err error) {
	if input.Qty <= 0 {
		return MovementRecord{}, MovementRecord{}, ErrInvalidQuantity
	}
	if input.SrcWarehouse == input.DstWarehouse {
		return MovementRecord{}, MovementRecord{}, ErrSameWarehouse
	}
	src := Bucket{WarehouseID: input.SrcWarehouse, TemplateID: input.TemplateID, Fingerprint: input.Fingerprint}
	dst := Bucket{WarehouseID: input.DstWarehouse, TemplateID: input.TemplateID, Fingerprint: input.Fingerprint}
	refID := uuid.NewString()

	err = s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		first, second := src, dst
		if second.Less(first) {
			first, second = second, first
		}
		if _, err := tx.GetBalanceForUpdate(ctx, first); err != nil && !errors.Is(err, ErrBalanceNotFound) {
			return err
		}
		if _, err := tx.GetBalanceForUpdate(ctx, second); err != nil && !errors.Is(err, ErrBalanceNotFound) {
			return err
		}
		var applyErr error
		out, applyErr = Apply(ctx, tx, MovementParams{
			Bucket:  src,
			Kind:    KindTransfer,
			Delta:   -input.Qty,
			Note:    fmt.Sprintf("transfer to warehouse %d: %s", input.DstWarehouse, input.Note),
			ActorID: input.ActorID,
			RefID:   refID,
		})
		if applyErr != nil {
			return applyErr
		}
		in, applyErr = Apply(ctx, tx, MovementParams{
			Bucket:  dst,
			Kind:    KindTransfer,
			Delta:   input.Qty,
			Note:    fmt.Sprintf("transfer from warehouse %d: %s", input.SrcWarehouse, input.Note),
			ActorID: input.ActorID,
			RefID:   refID,
		})
		return applyErr
	})
	if err != nil {
		s.observeRejection(err)
		return MovementRecord{}, MovementRecord{}, err
	}
	s.afterCommit(ctx, KindTransfer, input.ActorID, src, dst)
	return out, in, nil
}

// Reserve adjusts the reserved quantity of a bucket, keeping
// 0 <= reserved <= quantity. Reservations change no on-hand quantity and
// therefore produce no journal entry.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (Balance, error) {
	if input.Delta == 0 {
		return Balance{}, ErrInvalidQuantity
	}
	var result Balance
	err := s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.GetBalanceForUpdate(ctx, input.Bucket)
		if err != nil && !errors.Is(err, ErrBalanceNotFound) {
			return err
		}
		if errors.Is(err, ErrBalanceNotFound) {
			bal = Balance{Bucket: input.Bucket}
		}
		reserved := bal.Reserved + input.Delta
		if reserved < 0 || reserved > bal.Qty {
			return ErrReservedExceedsStock
		}
		bal.Reserved = reserved
		if err := tx.UpsertBalance(ctx, bal); err != nil {
			return err
		}
		result = bal
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	s.afterCommit(ctx, "reserve", input.ActorID, input.Bucket)
	return result, nil
}

// GetBalance returns the current balance, zero-valued for untouched buckets.
// Reads go through the short-TTL cache when one is configured.
func (s *Service) GetBalance(ctx context.Context, bucket Bucket) (Balance, error) {
	if s.cache == nil {
		return s.repo.GetBalance(ctx, bucket)
	}
	return s.cache.Get(ctx, bucket, func(ctx context.Context) (Balance, error) {
		return s.repo.GetBalance(ctx, bucket)
	})
}

// ListMovements exposes the read-only journal feed, newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]MovementRecord, shared.Pagination, error) {
	records, total, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return records, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// PeriodSummary aggregates movement totals for reporting.
func (s *Service) PeriodSummary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	return s.repo.PeriodSummary(ctx, filter)
}

func (s *Service) post(ctx context.Context, params MovementParams) (MovementRecord, error) {
	// The key is claimed before the transaction and released when the post
	// fails. A crash between a failed commit and the release leaves the key
	// blocking retries of that reference until the cleanup job expires it;
	// duplicates during the window cost more than a delayed retry.
	var idemKey string
	if s.idempotency != nil && params.RefID != "" {
		idemKey = fmt.Sprintf("%s:%s:%s", params.Kind, params.RefID, params.Bucket)
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "stock"); err != nil {
			return MovementRecord{}, err
		}
	}
	var rec MovementRecord
	err := s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		var applyErr error
		rec, applyErr = Apply(ctx, tx, params)
		return applyErr
	})
	if err != nil {
		if idemKey != "" {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		s.observeRejection(err)
		return MovementRecord{}, err
	}
	s.afterCommit(ctx, params.Kind, params.ActorID, params.Bucket)
	return rec, nil
}

// withRetry re-runs the transactional unit on serialization conflicts up to
// maxRetries times, then surfaces ErrConflict.
func (s *Service) withRetry(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
			}
		}
		err = s.repo.WithTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		s.logger.Warn("stock: transaction conflict, retrying",
			slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
	return fmt.Errorf("%w (last: %v)", ErrConflict, err)
}

// isRetryable matches PostgreSQL serialization failures, deadlocks and lock
// timeouts.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

func (s *Service) afterCommit(ctx context.Context, kind MovementKind, actorID int64, buckets ...Bucket) {
	for _, bucket := range buckets {
		if s.cache != nil {
			s.cache.Invalidate(ctx, bucket)
		}
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  actorID,
				Action:   fmt.Sprintf("stock:%s", kind),
				Entity:   "stock_bucket",
				EntityID: bucket.String(),
				Meta: map[string]any{
					"warehouse_id": bucket.WarehouseID,
					"template_id":  bucket.TemplateID,
					"fingerprint":  bucket.Fingerprint,
				},
			})
		}
	}
	if s.metrics != nil && kind.Valid() {
		s.metrics.MovementPosted(string(kind))
	}
}

// MovementsCommitted records the post-commit effects of movements posted
// through Apply on a transaction the coordinator did not open itself, such
// as shipment confirmation. The balance cache is dropped and the movement
// counter incremented for each bucket, keeping cached reads and metrics in
// step with every committed movement.
func (s *Service) MovementsCommitted(ctx context.Context, kind MovementKind, buckets ...Bucket) {
	for _, bucket := range buckets {
		if s.cache != nil {
			s.cache.Invalidate(ctx, bucket)
		}
		if s.metrics != nil && kind.Valid() {
			s.metrics.MovementPosted(string(kind))
		}
	}
}

func (s *Service) observeRejection(err error) {
	var insufficient *InsufficientStockError
	if errors.As(err, &insufficient) && s.metrics != nil {
		s.metrics.StockRejected()
	}
}
