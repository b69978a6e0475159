package products

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siraevrus/stockyard/internal/attribute"
)

// ErrNotFound indicates a missing lot.
var ErrNotFound = errors.New("products: not found")

// Repository reads and updates lot rows. Inserts happen inside the arrival
// transaction owned by the stock ledger, never here.
type Repository interface {
	Get(ctx context.Context, id int64) (Product, error)
	List(ctx context.Context, filters ListFilters) ([]Product, int, error)
	UpdateAttributes(ctx context.Context, id int64, attrs map[string]attribute.Value, volume *float64, fingerprint string) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const productColumns = `id, template_id, warehouse_id, arrival_date, COALESCE(transport_ref, ''), attrs, volume, fingerprint, COALESCE(created_by, 0), created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	row := r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM products WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.WarehouseID > 0 {
		argCount++
		clause := ` AND warehouse_id = $` + strconv.Itoa(argCount)
		query += clause
		countQuery += clause
		args = append(args, filters.WarehouseID)
	}
	if filters.TemplateID > 0 {
		argCount++
		clause := ` AND template_id = $` + strconv.Itoa(argCount)
		query += clause
		countQuery += clause
		args = append(args, filters.TemplateID)
	}
	if filters.Fingerprint != "" {
		argCount++
		clause := ` AND fingerprint = $` + strconv.Itoa(argCount)
		query += clause
		countQuery += clause
		args = append(args, filters.Fingerprint)
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
	query += ` ORDER BY arrival_date DESC, id DESC LIMIT $` + strconv.Itoa(argCount+1) + ` OFFSET $` + strconv.Itoa(argCount+2)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	lots := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		lots = append(lots, p)
	}
	return lots, total, rows.Err()
}

func (r *repository) UpdateAttributes(ctx context.Context, id int64, attrs map[string]attribute.Value, volume *float64, fingerprint string) error {
	payload, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `UPDATE products SET attrs=$2, volume=$3, fingerprint=$4, updated_at=NOW() WHERE id=$1`,
		id, payload, volume, fingerprint)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var attrs []byte
	err := row.Scan(&p.ID, &p.TemplateID, &p.WarehouseID, &p.ArrivalDate, &p.TransportRef,
		&attrs, &p.Volume, &p.Fingerprint, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return Product{}, err
		}
	}
	return p, nil
}
