package shipments

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siraevrus/stockyard/internal/platform/db"
	"github.com/siraevrus/stockyard/internal/stock"
)

// Repository persists shipments. Confirm runs the caller's ledger posting on
// the same transaction that flips the status, so arrivals and the state
// change commit or roll back together.
type Repository interface {
	Create(ctx context.Context, lot ShipmentLot) (ShipmentLot, error)
	Get(ctx context.Context, id int64) (ShipmentLot, error)
	List(ctx context.Context, filters ListFilters) ([]ShipmentLot, int, error)
	UpdateDetails(ctx context.Context, id int64, upd UpdateInput) error
	SetStatus(ctx context.Context, id int64, from, to Status) error
	Confirm(ctx context.Context, id int64, post func(ledger stock.TxRepository, lot ShipmentLot) error) error
	ListOverdue(ctx context.Context, asOf time.Time) ([]ShipmentLot, error)
	MarkOverdue(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const shipmentColumns = `id, departure_name, departure_date, warehouse_id, planned_arrival, status, documents, overdue, COALESCE(created_by, 0), confirmed_at, created_at, updated_at`

func (r *repository) Create(ctx context.Context, lot ShipmentLot) (ShipmentLot, error) {
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		docs, err := json.Marshal(lot.Documents)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx, `INSERT INTO shipments (departure_name, departure_date, warehouse_id, planned_arrival, status, documents, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id, created_at, updated_at`,
			lot.DepartureName, lot.DepartureDate, lot.WarehouseID, lot.PlannedArrival,
			string(lot.Status), docs, nullInt(lot.CreatedBy)).
			Scan(&lot.ID, &lot.CreatedAt, &lot.UpdatedAt)
		if err != nil {
			return err
		}
		for i := range lot.Lines {
			lot.Lines[i].ShipmentID = lot.ID
			attrs, err := json.Marshal(lot.Lines[i].Attributes)
			if err != nil {
				return err
			}
			err = tx.QueryRow(ctx, `INSERT INTO shipment_lines (shipment_id, template_id, qty, attrs, volume, fingerprint)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
				lot.ID, lot.Lines[i].TemplateID, lot.Lines[i].Qty, attrs,
				lot.Lines[i].Volume, lot.Lines[i].Fingerprint).Scan(&lot.Lines[i].ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ShipmentLot{}, err
	}
	return lot, nil
}

func (r *repository) Get(ctx context.Context, id int64) (ShipmentLot, error) {
	row := r.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id=$1`, id)
	lot, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ShipmentLot{}, ErrNotFound
		}
		return ShipmentLot{}, err
	}
	lot.Lines, err = r.loadLines(ctx, r.db, id)
	return lot, err
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]ShipmentLot, int, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM shipments WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.WarehouseID > 0 {
		argCount++
		clause := ` AND warehouse_id = $` + strconv.Itoa(argCount)
		query += clause
		countQuery += clause
		args = append(args, filters.WarehouseID)
	}
	if filters.Status != "" {
		argCount++
		clause := ` AND status = $` + strconv.Itoa(argCount)
		query += clause
		countQuery += clause
		args = append(args, string(filters.Status))
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filters.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	query += ` ORDER BY planned_arrival ASC, id ASC LIMIT $` + strconv.Itoa(argCount+1) + ` OFFSET $` + strconv.Itoa(argCount+2)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	lots := []ShipmentLot{}
	for rows.Next() {
		lot, err := scanShipment(rows)
		if err != nil {
			return nil, 0, err
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range lots {
		if lots[i].Lines, err = r.loadLines(ctx, r.db, lots[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return lots, total, nil
}

func (r *repository) UpdateDetails(ctx context.Context, id int64, upd UpdateInput) error {
	docs, err := json.Marshal(upd.Documents)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `UPDATE shipments SET departure_name=$2, planned_arrival=$3, documents=$4, updated_at=NOW()
WHERE id=$1 AND status <> $5`, id, upd.DepartureName, upd.PlannedArrival, docs, string(StatusConfirmed))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// distinguish missing from confirmed
		var status string
		err := r.db.QueryRow(ctx, `SELECT status FROM shipments WHERE id=$1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrTerminalState
	}
	return nil
}

func (r *repository) SetStatus(ctx context.Context, id int64, from, to Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE shipments SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`,
		id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := r.db.QueryRow(ctx, `SELECT status FROM shipments WHERE id=$1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if Status(status) == StatusConfirmed {
			return ErrTerminalState
		}
		return ErrInvalidTransition
	}
	return nil
}

func (r *repository) Confirm(ctx context.Context, id int64, post func(ledger stock.TxRepository, lot ShipmentLot) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id=$1 FOR UPDATE`, id)
		lot, err := scanShipment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if lot.Status == StatusConfirmed {
			return ErrTerminalState
		}
		if !lot.Status.CanTransition(StatusConfirmed) {
			return ErrInvalidTransition
		}
		if lot.Lines, err = r.loadLines(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE shipments SET status=$2, confirmed_at=NOW(), updated_at=NOW() WHERE id=$1`,
			id, string(StatusConfirmed)); err != nil {
			return err
		}
		return post(stock.NewTxRepository(tx), lot)
	})
}

func (r *repository) ListOverdue(ctx context.Context, asOf time.Time) ([]ShipmentLot, error) {
	rows, err := r.db.Query(ctx, `SELECT `+shipmentColumns+` FROM shipments
WHERE status=$1 AND planned_arrival < $2 AND NOT overdue ORDER BY planned_arrival ASC`,
		string(StatusInTransit), asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := []ShipmentLot{}
	for rows.Next() {
		lot, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (r *repository) MarkOverdue(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE shipments SET overdue=TRUE, updated_at=NOW() WHERE id=$1`, id)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *repository) loadLines(ctx context.Context, q querier, shipmentID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, shipment_id, template_id, qty, attrs, volume, fingerprint
FROM shipment_lines WHERE shipment_id=$1 ORDER BY id ASC`, shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []Line{}
	for rows.Next() {
		var line Line
		var attrs []byte
		if err := rows.Scan(&line.ID, &line.ShipmentID, &line.TemplateID, &line.Qty, &attrs, &line.Volume, &line.Fingerprint); err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &line.Attributes); err != nil {
				return nil, err
			}
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanShipment(row pgx.Row) (ShipmentLot, error) {
	var lot ShipmentLot
	var status string
	var docs []byte
	err := row.Scan(&lot.ID, &lot.DepartureName, &lot.DepartureDate, &lot.WarehouseID, &lot.PlannedArrival,
		&status, &docs, &lot.Overdue, &lot.CreatedBy, &lot.ConfirmedAt, &lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		return ShipmentLot{}, err
	}
	lot.Status = Status(status)
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &lot.Documents); err != nil {
			return ShipmentLot{}, err
		}
	}
	return lot, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
