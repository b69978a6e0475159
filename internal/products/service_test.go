package products

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siraevrus/stockyard/internal/attribute"
	"github.com/siraevrus/stockyard/internal/shared"
	"github.com/siraevrus/stockyard/internal/stock"
	"github.com/siraevrus/stockyard/internal/templates"
)

type fakeSchemas struct {
	schema templates.Schema
}

func (f *fakeSchemas) GetSchema(_ context.Context, id int64) (templates.Schema, error) {
	if id != f.schema.Template.ID {
		return templates.Schema{}, templates.ErrNotFound
	}
	return f.schema, nil
}

type fakeLedger struct {
	arrivals []stock.ArrivalInput
	nextID   int64
}

func (f *fakeLedger) PostArrival(_ context.Context, in stock.ArrivalInput) (stock.MovementRecord, error) {
	f.arrivals = append(f.arrivals, in)
	f.nextID++
	return stock.MovementRecord{
		ID:        f.nextID,
		Bucket:    in.Bucket,
		Kind:      stock.KindArrival,
		QtyChange: in.Qty,
		QtyAfter:  in.Qty,
		ProductID: f.nextID,
	}, nil
}

type fakeRepo struct {
	lots   map[int64]Product
	nextID int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{lots: map[int64]Product{}, nextID: 1}
}

func (f *fakeRepo) Get(_ context.Context, id int64) (Product, error) {
	p, ok := f.lots[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) List(_ context.Context, _ ListFilters) ([]Product, int, error) {
	out := []Product{}
	for _, p := range f.lots {
		out = append(out, p)
	}
	return out, len(out), nil
}

func (f *fakeRepo) UpdateAttributes(_ context.Context, id int64, attrs map[string]attribute.Value, volume *float64, fingerprint string) error {
	p, ok := f.lots[id]
	if !ok {
		return ErrNotFound
	}
	p.Attributes = attrs
	p.Volume = volume
	p.Fingerprint = fingerprint
	p.UpdatedAt = time.Now()
	f.lots[id] = p
	return nil
}

type fakeMetrics struct {
	formulaFailures int
}

func (f *fakeMetrics) FormulaFailure() { f.formulaFailures++ }

func lumberSchema() templates.Schema {
	return templates.Schema{
		Template: templates.Template{ID: 7, Name: "Lumber", Unit: "m3", Formula: "length * width * height", IsActive: true},
		Attributes: []templates.Attribute{
			{Name: "Length", Variable: "length", Kind: attribute.KindNumber, Required: true, InFormula: true},
			{Name: "Width", Variable: "width", Kind: attribute.KindNumber, Required: true, InFormula: true},
			{Name: "Height", Variable: "height", Kind: attribute.KindNumber, Required: true, InFormula: true},
			{Name: "Grade", Variable: "grade", Kind: attribute.KindSelect, Options: []string{"A", "B"}, Required: true},
		},
	}
}

func newIntakeService(schema templates.Schema) (*Service, *fakeRepo, *fakeLedger, *fakeMetrics) {
	repo := newFakeRepo()
	ledger := &fakeLedger{}
	metrics := &fakeMetrics{}
	svc := NewService(repo, &fakeSchemas{schema: schema}, ledger, metrics, nil)
	return svc, repo, ledger, metrics
}

func rawLumber() map[string]string {
	return map[string]string{"Length": "6", "Width": "0.15", "Height": "0.05", "Grade": "A"}
}

func TestIntakePostsArrivalWithDerivedLot(t *testing.T) {
	svc, _, ledger, metrics := newIntakeService(lumberSchema())

	rec, err := svc.CreateIntake(context.Background(), IntakeInput{
		TemplateID: 7, WarehouseID: 3, Qty: 10, Attributes: rawLumber(), ActorID: 42,
	})
	require.NoError(t, err)
	require.Len(t, ledger.arrivals, 1)
	require.Equal(t, 0, metrics.formulaFailures)

	arrival := ledger.arrivals[0]
	require.Equal(t, int64(3), arrival.WarehouseID)
	require.Equal(t, int64(7), arrival.TemplateID)
	require.Len(t, arrival.Fingerprint, 64)
	require.NotNil(t, arrival.Product)
	require.NotNil(t, arrival.Product.Volume)
	require.InDelta(t, 0.045, *arrival.Product.Volume, 1e-9)
	require.Equal(t, arrival.Fingerprint, arrival.Product.Fingerprint)
	require.Equal(t, int64(42), arrival.Product.CreatedBy)
	require.NotZero(t, rec.ProductID)
}

func TestIntakeFingerprintIgnoresInputOrdering(t *testing.T) {
	svc, _, ledger, _ := newIntakeService(lumberSchema())

	_, err := svc.CreateIntake(context.Background(), IntakeInput{
		TemplateID: 7, WarehouseID: 3, Qty: 5, Attributes: rawLumber(),
	})
	require.NoError(t, err)

	// same values, numerically equivalent representation
	_, err = svc.CreateIntake(context.Background(), IntakeInput{
		TemplateID: 7, WarehouseID: 3, Qty: 5,
		Attributes: map[string]string{"Grade": "A", "Height": "0.050", "Width": "0.15", "Length": "6.0"},
	})
	require.NoError(t, err)

	require.Len(t, ledger.arrivals, 2)
	require.Equal(t, ledger.arrivals[0].Fingerprint, ledger.arrivals[1].Fingerprint)
}

func TestIntakeRejectsInvalidAttributes(t *testing.T) {
	svc, _, ledger, _ := newIntakeService(lumberSchema())

	_, err := svc.CreateIntake(context.Background(), IntakeInput{
		TemplateID: 7, WarehouseID: 3, Qty: 5,
		Attributes: map[string]string{"Length": "six", "Grade": "Z"},
	})
	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Empty(t, ledger.arrivals, "rejected intake must not reach the ledger")
}

func TestIntakeRejectsInactiveTemplate(t *testing.T) {
	schema := lumberSchema()
	schema.Template.IsActive = false
	svc, _, ledger, _ := newIntakeService(schema)

	_, err := svc.CreateIntake(context.Background(), IntakeInput{
		TemplateID: 7, WarehouseID: 3, Qty: 5, Attributes: rawLumber(),
	})
	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Empty(t, ledger.arrivals)
}

func TestIntakeFormulaFailureIsNonFatal(t *testing.T) {
	schema := lumberSchema()
	schema.Template.Formula = "length / scale"
	schema.Attributes = append(schema.Attributes, templates.Attribute{
		Name: "Scale", Variable: "scale", Kind: attribute.KindNumber, Required: true, InFormula: true,
	})
	svc, _, ledger, metrics := newIntakeService(schema)

	raw := rawLumber()
	raw["Scale"] = "0"
	_, err := svc.CreateIntake(context.Background(), IntakeInput{
		TemplateID: 7, WarehouseID: 3, Qty: 5, Attributes: raw,
	})
	require.NoError(t, err)
	require.Len(t, ledger.arrivals, 1)
	require.Nil(t, ledger.arrivals[0].Product.Volume, "failed formula stores a null volume")
	require.Equal(t, 1, metrics.formulaFailures)
}

func TestUpdateAttributesRecomputesWithoutLedgerTouch(t *testing.T) {
	svc, repo, ledger, _ := newIntakeService(lumberSchema())

	oldValues, err := templates.ValidateValues(lumberSchema(), rawLumber())
	require.NoError(t, err)
	repo.lots[1] = Product{
		ID: 1, TemplateID: 7, WarehouseID: 3,
		Attributes:  oldValues,
		Fingerprint: attribute.Fingerprint(oldValues),
	}
	oldFingerprint := repo.lots[1].Fingerprint

	raw := rawLumber()
	raw["Length"] = "4"
	lot, err := svc.UpdateAttributes(context.Background(), 1, UpdateInput{Attributes: raw, ActorID: 42})
	require.NoError(t, err)
	require.NotEqual(t, oldFingerprint, lot.Fingerprint)
	require.NotNil(t, lot.Volume)
	require.InDelta(t, 0.03, *lot.Volume, 1e-9)
	require.Empty(t, ledger.arrivals, "attribute edits never post movements")
}

func TestUpdateAttributesUnknownLot(t *testing.T) {
	svc, _, _, _ := newIntakeService(lumberSchema())

	_, err := svc.UpdateAttributes(context.Background(), 99, UpdateInput{Attributes: rawLumber()})
	require.ErrorIs(t, err, ErrNotFound)
}
