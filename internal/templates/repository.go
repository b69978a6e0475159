package templates

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates a missing template.
var ErrNotFound = errors.New("templates: not found")

// Repository persists templates and their attribute schemas.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Template, int, error)
	GetSchema(ctx context.Context, id int64) (Schema, error)
	Create(ctx context.Context, tpl Template, attrs []Attribute) (Schema, error)
	Update(ctx context.Context, id int64, tpl Template) error
	Deactivate(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Template, int, error) {
	query := `SELECT id, name, unit, COALESCE(formula, ''), is_active, created_at, updated_at FROM product_templates WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM product_templates WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		clause := ` AND name ILIKE $` + strconv.Itoa(argCount)
		query += clause
		countQuery += clause
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.IsActive != nil {
		argCount++
		clause := ` AND is_active = $` + strconv.Itoa(argCount)
		query += clause
		countQuery += clause
		args = append(args, *filters.IsActive)
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
	query += ` ORDER BY name ASC LIMIT $` + strconv.Itoa(argCount+1) + ` OFFSET $` + strconv.Itoa(argCount+2)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	templates := []Template{}
	for rows.Next() {
		var tpl Template
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.Unit, &tpl.Formula, &tpl.IsActive, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, 0, err
		}
		templates = append(templates, tpl)
	}
	return templates, total, rows.Err()
}

func (r *repository) GetSchema(ctx context.Context, id int64) (Schema, error) {
	var schema Schema
	err := r.db.QueryRow(ctx, `SELECT id, name, unit, COALESCE(formula, ''), is_active, created_at, updated_at
FROM product_templates WHERE id=$1`, id).
		Scan(&schema.Template.ID, &schema.Template.Name, &schema.Template.Unit, &schema.Template.Formula,
			&schema.Template.IsActive, &schema.Template.CreatedAt, &schema.Template.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Schema{}, ErrNotFound
		}
		return Schema{}, err
	}

	rows, err := r.db.Query(ctx, `SELECT id, template_id, name, variable, kind, options, required, in_formula, sort_order
FROM template_attributes WHERE template_id=$1 ORDER BY sort_order ASC, id ASC`, id)
	if err != nil {
		return Schema{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var attr Attribute
		if err := rows.Scan(&attr.ID, &attr.TemplateID, &attr.Name, &attr.Variable, &attr.Kind, &attr.Options, &attr.Required, &attr.InFormula, &attr.SortOrder); err != nil {
			return Schema{}, err
		}
		schema.Attributes = append(schema.Attributes, attr)
	}
	return schema, rows.Err()
}

func (r *repository) Create(ctx context.Context, tpl Template, attrs []Attribute) (Schema, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Schema{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = tx.QueryRow(ctx, `INSERT INTO product_templates (name, unit, formula, is_active, created_at, updated_at)
VALUES ($1,$2,NULLIF($3,''),$4,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		tpl.Name, tpl.Unit, tpl.Formula, tpl.IsActive).Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return Schema{}, err
	}

	for i := range attrs {
		attrs[i].TemplateID = tpl.ID
		err = tx.QueryRow(ctx, `INSERT INTO template_attributes (template_id, name, variable, kind, options, required, in_formula, sort_order)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			tpl.ID, attrs[i].Name, attrs[i].Variable, string(attrs[i].Kind), attrs[i].Options, attrs[i].Required, attrs[i].InFormula, attrs[i].SortOrder).Scan(&attrs[i].ID)
		if err != nil {
			return Schema{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Schema{}, err
	}
	return Schema{Template: tpl, Attributes: attrs}, nil
}

func (r *repository) Update(ctx context.Context, id int64, tpl Template) error {
	tag, err := r.db.Exec(ctx, `UPDATE product_templates SET name=$2, unit=$3, formula=NULLIF($4,''), is_active=$5, updated_at=NOW() WHERE id=$1`,
		id, tpl.Name, tpl.Unit, tpl.Formula, tpl.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE product_templates SET is_active=FALSE, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
