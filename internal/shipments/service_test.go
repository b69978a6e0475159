package shipments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siraevrus/stockyard/internal/attribute"
	"github.com/siraevrus/stockyard/internal/shared"
	"github.com/siraevrus/stockyard/internal/stock"
	"github.com/siraevrus/stockyard/internal/templates"
)

// memoryLedgerTx stages ledger writes and commits them only when the
// surrounding confirm succeeds, mirroring the transactional repository.
type memoryLedgerTx struct {
	base      map[stock.Bucket]stock.Balance
	staged    map[stock.Bucket]stock.Balance
	movements []stock.MovementRecord
	products  []stock.ProductDraft
	failOn    int // fail the nth movement insert, 0 disables
}

func (m *memoryLedgerTx) GetBalanceForUpdate(_ context.Context, bucket stock.Bucket) (stock.Balance, error) {
	if bal, ok := m.staged[bucket]; ok {
		return bal, nil
	}
	if bal, ok := m.base[bucket]; ok {
		return bal, nil
	}
	return stock.Balance{}, stock.ErrBalanceNotFound
}

func (m *memoryLedgerTx) UpsertBalance(_ context.Context, balance stock.Balance) error {
	m.staged[balance.Bucket] = balance
	return nil
}

func (m *memoryLedgerTx) InsertMovement(_ context.Context, rec stock.MovementRecord) (int64, error) {
	if m.failOn > 0 && len(m.movements)+1 == m.failOn {
		return 0, errors.New("injected insert failure")
	}
	m.movements = append(m.movements, rec)
	return int64(len(m.movements)), nil
}

func (m *memoryLedgerTx) InsertSale(_ context.Context, _ stock.Sale) (int64, error) {
	return 0, errors.New("unexpected sale during confirm")
}

func (m *memoryLedgerTx) InsertProduct(_ context.Context, draft stock.ProductDraft) (int64, error) {
	m.products = append(m.products, draft)
	return int64(len(m.products)), nil
}

type memoryRepo struct {
	nextID    int64
	lots      map[int64]ShipmentLot
	balances  map[stock.Bucket]stock.Balance
	movements []stock.MovementRecord
	products  []stock.ProductDraft
	failOn    int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, lots: map[int64]ShipmentLot{}, balances: map[stock.Bucket]stock.Balance{}}
}

func (m *memoryRepo) Create(_ context.Context, lot ShipmentLot) (ShipmentLot, error) {
	lot.ID = m.nextID
	m.nextID++
	for i := range lot.Lines {
		lot.Lines[i].ID = int64(i + 1)
		lot.Lines[i].ShipmentID = lot.ID
	}
	m.lots[lot.ID] = lot
	return lot, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (ShipmentLot, error) {
	lot, ok := m.lots[id]
	if !ok {
		return ShipmentLot{}, ErrNotFound
	}
	return lot, nil
}

func (m *memoryRepo) List(_ context.Context, filters ListFilters) ([]ShipmentLot, int, error) {
	out := []ShipmentLot{}
	for _, lot := range m.lots {
		if filters.Status != "" && lot.Status != filters.Status {
			continue
		}
		out = append(out, lot)
	}
	return out, len(out), nil
}

func (m *memoryRepo) UpdateDetails(_ context.Context, id int64, upd UpdateInput) error {
	lot, ok := m.lots[id]
	if !ok {
		return ErrNotFound
	}
	if lot.Status == StatusConfirmed {
		return ErrTerminalState
	}
	lot.DepartureName = upd.DepartureName
	lot.PlannedArrival = upd.PlannedArrival
	lot.Documents = upd.Documents
	m.lots[id] = lot
	return nil
}

func (m *memoryRepo) SetStatus(_ context.Context, id int64, from, to Status) error {
	lot, ok := m.lots[id]
	if !ok {
		return ErrNotFound
	}
	if lot.Status != from {
		if lot.Status == StatusConfirmed {
			return ErrTerminalState
		}
		return ErrInvalidTransition
	}
	lot.Status = to
	m.lots[id] = lot
	return nil
}

func (m *memoryRepo) Confirm(_ context.Context, id int64, post func(ledger stock.TxRepository, lot ShipmentLot) error) error {
	lot, ok := m.lots[id]
	if !ok {
		return ErrNotFound
	}
	if lot.Status == StatusConfirmed {
		return ErrTerminalState
	}
	if !lot.Status.CanTransition(StatusConfirmed) {
		return ErrInvalidTransition
	}

	tx := &memoryLedgerTx{base: m.balances, staged: map[stock.Bucket]stock.Balance{}, failOn: m.failOn}
	if err := post(tx, lot); err != nil {
		return err // rollback: nothing staged reaches the repo
	}
	for bucket, bal := range tx.staged {
		m.balances[bucket] = bal
	}
	m.movements = append(m.movements, tx.movements...)
	m.products = append(m.products, tx.products...)
	now := time.Now()
	lot.Status = StatusConfirmed
	lot.ConfirmedAt = &now
	m.lots[id] = lot
	return nil
}

func (m *memoryRepo) ListOverdue(_ context.Context, asOf time.Time) ([]ShipmentLot, error) {
	out := []ShipmentLot{}
	for _, lot := range m.lots {
		if lot.Status == StatusInTransit && !lot.Overdue && lot.PlannedArrival.Before(asOf) {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (m *memoryRepo) MarkOverdue(_ context.Context, id int64) error {
	lot, ok := m.lots[id]
	if !ok {
		return ErrNotFound
	}
	lot.Overdue = true
	m.lots[id] = lot
	return nil
}

type staticSchemas struct {
	schemas map[int64]templates.Schema
}

func (s *staticSchemas) GetSchema(_ context.Context, id int64) (templates.Schema, error) {
	schema, ok := s.schemas[id]
	if !ok {
		return templates.Schema{}, templates.ErrNotFound
	}
	return schema, nil
}

func lumberSchema() templates.Schema {
	return templates.Schema{
		Template: templates.Template{ID: 7, Name: "Lumber", Unit: "m3", Formula: "length * width", IsActive: true},
		Attributes: []templates.Attribute{
			{Name: "Length", Variable: "length", Kind: attribute.KindNumber, Required: true, InFormula: true},
			{Name: "Width", Variable: "width", Kind: attribute.KindNumber, Required: true, InFormula: true},
		},
	}
}

func newTestService() (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	schemas := &staticSchemas{schemas: map[int64]templates.Schema{7: lumberSchema()}}
	return NewService(repo, schemas, nil, nil, nil), repo
}

func createInput() CreateInput {
	return CreateInput{
		DepartureName:  "Sawmill North",
		DepartureDate:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		WarehouseID:    3,
		PlannedArrival: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		Lines: []LineInput{
			{TemplateID: 7, Qty: 10, Attributes: map[string]string{"Length": "6", "Width": "0.15"}},
			{TemplateID: 7, Qty: 4, Attributes: map[string]string{"Length": "4", "Width": "0.15"}},
		},
		ActorID: 42,
	}
}

func TestCreateValidatesLinesAndDerivesFingerprints(t *testing.T) {
	svc, _ := newTestService()

	lot, err := svc.Create(context.Background(), createInput())
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, lot.Status)
	require.Len(t, lot.Lines, 2)
	require.Len(t, lot.Lines[0].Fingerprint, 64)
	require.NotEqual(t, lot.Lines[0].Fingerprint, lot.Lines[1].Fingerprint)
	require.NotNil(t, lot.Lines[0].Volume)
	require.InDelta(t, 0.9, *lot.Lines[0].Volume, 1e-9)
}

func TestCreateRejectsBadLineAttributes(t *testing.T) {
	svc, _ := newTestService()

	in := createInput()
	in.Lines[1].Attributes = map[string]string{"Length": "four"}
	_, err := svc.Create(context.Background(), in)

	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestConfirmPostsOneArrivalPerLine(t *testing.T) {
	svc, repo := newTestService()
	lot, err := svc.Create(context.Background(), createInput())
	require.NoError(t, err)

	require.NoError(t, svc.MarkArrived(context.Background(), lot.ID))
	require.NoError(t, svc.Confirm(context.Background(), lot.ID, 42))

	require.Len(t, repo.movements, 2)
	require.Len(t, repo.products, 2, "each line lands a lot row")
	for _, rec := range repo.movements {
		require.Equal(t, stock.KindArrival, rec.Kind)
		require.Equal(t, int64(3), rec.WarehouseID)
	}
	require.Equal(t, repo.movements[0].RefID, repo.movements[1].RefID, "lines share one reference id")

	bucket := stock.Bucket{WarehouseID: 3, TemplateID: 7, Fingerprint: lot.Lines[0].Fingerprint}
	require.Equal(t, 10.0, repo.balances[bucket].Qty)

	got, err := svc.Get(context.Background(), lot.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
}

func TestConfirmRequiresArrived(t *testing.T) {
	svc, repo := newTestService()
	lot, err := svc.Create(context.Background(), createInput())
	require.NoError(t, err)

	err = svc.Confirm(context.Background(), lot.ID, 42)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Empty(t, repo.movements)
}

func TestConfirmFailureRollsBackEverything(t *testing.T) {
	svc, repo := newTestService()
	lot, err := svc.Create(context.Background(), createInput())
	require.NoError(t, err)
	require.NoError(t, svc.MarkArrived(context.Background(), lot.ID))

	repo.failOn = 2 // second line's movement insert fails
	err = svc.Confirm(context.Background(), lot.ID, 42)
	require.Error(t, err)

	require.Empty(t, repo.movements, "no partial arrivals")
	require.Empty(t, repo.balances, "no balance changes")
	got, err := svc.Get(context.Background(), lot.ID)
	require.NoError(t, err)
	require.Equal(t, StatusArrived, got.Status, "status flip rolled back with the arrivals")
}

type recordingLedger struct {
	kind    stock.MovementKind
	buckets []stock.Bucket
}

func (r *recordingLedger) MovementsCommitted(_ context.Context, kind stock.MovementKind, buckets ...stock.Bucket) {
	r.kind = kind
	r.buckets = append(r.buckets, buckets...)
}

func TestConfirmNotifiesLedgerPerLineBucket(t *testing.T) {
	repo := newMemoryRepo()
	schemas := &staticSchemas{schemas: map[int64]templates.Schema{7: lumberSchema()}}
	ledger := &recordingLedger{}
	svc := NewService(repo, schemas, ledger, nil, nil)

	lot, err := svc.Create(context.Background(), createInput())
	require.NoError(t, err)
	require.NoError(t, svc.MarkArrived(context.Background(), lot.ID))
	require.NoError(t, svc.Confirm(context.Background(), lot.ID, 42))

	// Cached balances for every touched bucket must be droppable after the
	// commit, so each line's bucket has to reach the hook.
	require.Equal(t, stock.KindArrival, ledger.kind)
	require.Len(t, ledger.buckets, len(lot.Lines))
	for i, line := range lot.Lines {
		require.Equal(t, stock.Bucket{
			WarehouseID: lot.WarehouseID,
			TemplateID:  line.TemplateID,
			Fingerprint: line.Fingerprint,
		}, ledger.buckets[i])
	}
}

func TestFailedConfirmNotifiesNoBuckets(t *testing.T) {
	repo := newMemoryRepo()
	schemas := &staticSchemas{schemas: map[int64]templates.Schema{7: lumberSchema()}}
	ledger := &recordingLedger{}
	svc := NewService(repo, schemas, ledger, nil, nil)

	lot, err := svc.Create(context.Background(), createInput())
	require.NoError(t, err)
	require.NoError(t, svc.MarkArrived(context.Background(), lot.ID))

	repo.failOn = 2
	require.Error(t, svc.Confirm(context.Background(), lot.ID, 42))
	require.Empty(t, ledger.buckets, "nothing committed, nothing to invalidate")
}

func TestConfirmIsTerminal(t *testing.T) {
	svc, repo := newTestService()
	lot, err := svc.Create(context.Background(), createInput())
	require.NoError(t, err)
	require.NoError(t, svc.MarkArrived(context.Background(), lot.ID))
	require.NoError(t, svc.Confirm(context.Background(), lot.ID, 42))

	require.ErrorIs(t, svc.Confirm(context.Background(), lot.ID, 42), ErrTerminalState)
	require.ErrorIs(t, svc.MarkArrived(context.Background(), lot.ID), ErrTerminalState)
	err = svc.Update(context.Background(), lot.ID, UpdateInput{
		DepartureName: "Changed", PlannedArrival: time.Now(),
	})
	require.ErrorIs(t, err, ErrTerminalState)
	require.Len(t, repo.movements, 2, "repeat confirm posts nothing")
}

func TestMarkArrivedOnlyFromInTransit(t *testing.T) {
	svc, _ := newTestService()
	lot, err := svc.Create(context.Background(), createInput())
	require.NoError(t, err)

	require.NoError(t, svc.MarkArrived(context.Background(), lot.ID))
	require.ErrorIs(t, svc.MarkArrived(context.Background(), lot.ID), ErrInvalidTransition)
}

func TestScanOverdue(t *testing.T) {
	svc, repo := newTestService()
	lot, err := svc.Create(context.Background(), createInput())
	require.NoError(t, err)

	// before planned arrival: nothing flagged
	n, err := svc.ScanOverdue(context.Background(), lot.PlannedArrival.Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = svc.ScanOverdue(context.Background(), lot.PlannedArrival.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, repo.lots[lot.ID].Overdue)

	// already flagged lots are not re-flagged
	n, err = svc.ScanOverdue(context.Background(), lot.PlannedArrival.Add(2*time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
}
