package stock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func pgxmockTxOptions() pgx.TxOptions {
	return pgx.TxOptions{IsoLevel: pgx.RepeatableRead}
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewRepository(mock)
}

func TestGetBalanceZeroValueForUntouchedBucket(t *testing.T) {
	mock, repo := newMockRepo(t)
	bucket := Bucket{WarehouseID: 1, TemplateID: 2, Fingerprint: "fp"}

	// No row is not an error: a fresh bucket reads as zero.
	mock.ExpectQuery(`SELECT warehouse_id, template_id, fingerprint, qty, reserved, updated_at`).
		WithArgs(bucket.WarehouseID, bucket.TemplateID, bucket.Fingerprint).
		WillReturnError(pgx.ErrNoRows)

	bal, err := repo.GetBalance(context.Background(), bucket)
	require.NoError(t, err)
	require.Equal(t, bucket, bal.Bucket)
	require.Zero(t, bal.Qty)
	require.Zero(t, bal.Reserved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBalancePropagatesQueryError(t *testing.T) {
	mock, repo := newMockRepo(t)
	bucket := Bucket{WarehouseID: 1, TemplateID: 2, Fingerprint: "fp"}

	mock.ExpectQuery(`SELECT warehouse_id, template_id, fingerprint, qty, reserved, updated_at`).
		WithArgs(bucket.WarehouseID, bucket.TemplateID, bucket.Fingerprint).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.GetBalance(context.Background(), bucket)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitsMovement(t *testing.T) {
	mock, repo := newMockRepo(t)
	bucket := Bucket{WarehouseID: 1, TemplateID: 2, Fingerprint: "fp"}
	now := time.Now()

	mock.ExpectBeginTx(pgxmockTxOptions())
	mock.ExpectQuery(`FROM inventory_balances WHERE warehouse_id=\$1 AND template_id=\$2 AND fingerprint=\$3 FOR UPDATE`).
		WithArgs(bucket.WarehouseID, bucket.TemplateID, bucket.Fingerprint).
		WillReturnRows(pgxmock.NewRows([]string{"warehouse_id", "template_id", "fingerprint", "qty", "reserved", "updated_at"}).
			AddRow(bucket.WarehouseID, bucket.TemplateID, bucket.Fingerprint, 4.0, 0.0, now))
	mock.ExpectExec(`INSERT INTO inventory_balances`).
		WithArgs(bucket.WarehouseID, bucket.TemplateID, bucket.Fingerprint, 10.0, 0.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`INSERT INTO stock_movements`).
		WithArgs(bucket.WarehouseID, bucket.TemplateID, bucket.Fingerprint, "arrival", 6.0, 4.0, 10.0, "intake", nil, nil, int64(9), nil).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(77)))
	mock.ExpectCommit()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.GetBalanceForUpdate(ctx, bucket)
		if err != nil {
			return err
		}
		bal.Qty += 6
		if err := tx.UpsertBalance(ctx, bal); err != nil {
			return err
		}
		_, err = tx.InsertMovement(ctx, MovementRecord{
			Bucket:    bucket,
			Kind:      KindArrival,
			QtyChange: 6,
			QtyBefore: 4,
			QtyAfter:  10,
			Note:      "intake",
			ActorID:   9,
		})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	mock, repo := newMockRepo(t)
	bucket := Bucket{WarehouseID: 1, TemplateID: 2, Fingerprint: "fp"}

	mock.ExpectBeginTx(pgxmockTxOptions())
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(bucket.WarehouseID, bucket.TemplateID, bucket.Fingerprint).
		WillReturnRows(pgxmock.NewRows([]string{"warehouse_id", "template_id", "fingerprint", "qty", "reserved", "updated_at"}).
			AddRow(bucket.WarehouseID, bucket.TemplateID, bucket.Fingerprint, 1.0, 0.0, time.Now()))
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.GetBalanceForUpdate(ctx, bucket)
		if err != nil {
			return err
		}
		return &InsufficientStockError{Bucket: bucket, Requested: 5, Available: bal.Available()}
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.NoError(t, mock.ExpectationsWereMet())
}
