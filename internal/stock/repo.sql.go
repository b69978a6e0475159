package stock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs. Declared as an
// interface so SQL can be exercised with pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Repository persists ledger, journal and sale rows in PostgreSQL.
type Repository struct {
	db DB
}

// NewRepository constructs Repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// TxRepository exposes the transactional operations used by the coordinator.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, bucket Bucket) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, rec MovementRecord) (int64, error)
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertProduct(ctx context.Context, draft ProductDraft) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other modules (shipment
// confirmation) can post movements inside their own transactional unit.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// ErrBalanceNotFound indicates a bucket that has never been touched.
var ErrBalanceNotFound = errors.New("stock: balance not found")

// WithTx executes the callback inside a repeatable-read transaction. The
// transaction commits only when the callback returns nil; any error rolls
// back every staged effect.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock: repository not initialised")
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetBalance reads the current balance outside any transaction. Untouched
// buckets yield a zero-value balance, not an error.
func (r *Repository) GetBalance(ctx context.Context, bucket Bucket) (Balance, error) {
	var bal Balance
	err := r.db.QueryRow(ctx, `SELECT warehouse_id, template_id, fingerprint, qty, reserved, updated_at
FROM inventory_balances WHERE warehouse_id=$1 AND template_id=$2 AND fingerprint=$3`,
		bucket.WarehouseID, bucket.TemplateID, bucket.Fingerprint).
		Scan(&bal.WarehouseID, &bal.TemplateID, &bal.Fingerprint, &bal.Qty, &bal.Reserved, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{Bucket: bucket}, nil
		}
		return Balance{}, err
	}
	return bal, nil
}

// ListMovements returns journal entries newest first with a total count.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]MovementRecord, int, error) {
	where := ` WHERE ($1::bigint = 0 OR warehouse_id = $1)
AND ($2::bigint = 0 OR template_id = $2)
AND ($3::text = '' OR fingerprint = $3)
AND ($4::text = '' OR kind = $4)
AND ($5::timestamptz IS NULL OR created_at >= $5)
AND ($6::timestamptz IS NULL OR created_at <= $6)`
	args := []any{filter.WarehouseID, filter.TemplateID, filter.Fingerprint, string(filter.Kind), nullTime(filter.From), nullTime(filter.To)}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	rows, err := r.db.Query(ctx, `SELECT id, warehouse_id, template_id, fingerprint, kind, qty_change, qty_before, qty_after, note, COALESCE(product_id, 0), COALESCE(sale_id, 0), COALESCE(actor_id, 0), COALESCE(ref_id::text, ''), created_at
FROM stock_movements`+where+` ORDER BY created_at DESC, id DESC LIMIT $7 OFFSET $8`,
		append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := []MovementRecord{}
	for rows.Next() {
		var rec MovementRecord
		if err := rows.Scan(&rec.ID, &rec.WarehouseID, &rec.TemplateID, &rec.Fingerprint, &rec.Kind, &rec.QtyChange, &rec.QtyBefore, &rec.QtyAfter, &rec.Note, &rec.ProductID, &rec.SaleID, &rec.ActorID, &rec.RefID, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// PeriodSummary aggregates arrivals, sales and adjustments per
// (warehouse, template) over a date range.
func (r *Repository) PeriodSummary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	rows, err := r.db.Query(ctx, `SELECT warehouse_id, template_id,
COALESCE(SUM(qty_change) FILTER (WHERE kind = 'arrival'), 0),
COALESCE(SUM(-qty_change) FILTER (WHERE kind = 'sale'), 0),
COALESCE(SUM(qty_change) FILTER (WHERE kind = 'adjustment'), 0),
COALESCE(SUM(qty_change), 0)
FROM stock_movements
WHERE ($1::bigint = 0 OR warehouse_id = $1)
AND ($2::bigint = 0 OR template_id = $2)
AND ($3::timestamptz IS NULL OR created_at >= $3)
AND ($4::timestamptz IS NULL OR created_at <= $4)
GROUP BY warehouse_id, template_id
ORDER BY warehouse_id, template_id`,
		filter.WarehouseID, filter.TemplateID, nullTime(filter.From), nullTime(filter.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := []SummaryRow{}
	for rows.Next() {
		var row SummaryRow
		if err := rows.Scan(&row.WarehouseID, &row.TemplateID, &row.Arrivals, &row.Sales, &row.Adjustments, &row.Net); err != nil {
			return nil, err
		}
		summary = append(summary, row)
	}
	return summary, rows.Err()
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, bucket Bucket) (Balance, error) {
	var bal Balance
	err := r.tx.QueryRow(ctx, `SELECT warehouse_id, template_id, fingerprint, qty, reserved, updated_at
FROM inventory_balances WHERE warehouse_id=$1 AND template_id=$2 AND fingerprint=$3 FOR UPDATE`,
		bucket.WarehouseID, bucket.TemplateID, bucket.Fingerprint).
		Scan(&bal.WarehouseID, &bal.TemplateID, &bal.Fingerprint, &bal.Qty, &bal.Reserved, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{Bucket: bucket}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (warehouse_id, template_id, fingerprint, qty, reserved, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (warehouse_id, template_id, fingerprint)
DO UPDATE SET qty=EXCLUDED.qty, reserved=EXCLUDED.reserved, updated_at=NOW()`,
		balance.WarehouseID, balance.TemplateID, balance.Fingerprint, balance.Qty, balance.Reserved)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, rec MovementRecord) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (warehouse_id, template_id, fingerprint, kind, qty_change, qty_before, qty_after, note, product_id, sale_id, actor_id, ref_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW()) RETURNING id`,
		rec.WarehouseID, rec.TemplateID, rec.Fingerprint, string(rec.Kind), rec.QtyChange, rec.QtyBefore, rec.QtyAfter, rec.Note, nullInt(rec.ProductID), nullInt(rec.SaleID), nullInt(rec.ActorID), nullUUID(rec.RefID)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (warehouse_id, template_id, fingerprint, qty, cash_amount, cashless_amount, total_amount, note, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		sale.WarehouseID, sale.TemplateID, sale.Fingerprint, sale.Qty, sale.CashAmount, sale.CashlessAmount, sale.Total, sale.Note, nullInt(sale.ActorID)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertProduct(ctx context.Context, draft ProductDraft) (int64, error) {
	attrs, err := json.Marshal(draft.Attributes)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO products (template_id, warehouse_id, arrival_date, transport_ref, attrs, volume, fingerprint, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW()) RETURNING id`,
		draft.TemplateID, draft.WarehouseID, draft.ArrivalDate, draft.TransportRef, attrs, draft.Volume, draft.Fingerprint, nullInt(draft.CreatedBy)).Scan(&id)
	return id, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullUUID(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
