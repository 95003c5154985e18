package inventory_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/inventory"
	"github.com/odyssey-erp/ledgercore/internal/shared"
	"github.com/odyssey-erp/ledgercore/internal/testing/memdb"
)

var (
	clock = time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	actor = shared.Actor{UserID: 4, CompanyID: 1}
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newInventory(t *testing.T, allowNegative bool) (*inventory.Service, *memdb.DB) {
	t.Helper()
	db := memdb.New()
	recorder := audit.NewRecorder(nil).WithNow(func() time.Time { return clock })
	svc := inventory.NewService(db.Inventory(), recorder, inventory.ServiceConfig{AllowNegativeStock: allowNegative}).
		WithNow(func() time.Time { return clock })
	return svc, db
}

func resolve(t *testing.T, svc *inventory.Service, db *memdb.DB, description string) inventory.Product {
	t.Helper()
	var p inventory.Product
	require.NoError(t, db.Update(context.Background(), func(ctx context.Context, tx *memdb.Tx) error {
		var err error
		p, err = svc.Resolve(ctx, tx, actor, description)
		return err
	}))
	return p
}

func TestResolveCreatesThenReusesProducts(t *testing.T) {
	svc, db := newInventory(t, true)

	created := resolve(t, svc, db, "Cable UTP Cat6 305m")
	require.NotZero(t, created.ID)
	require.Equal(t, inventory.DefaultCategory, created.Category)
	require.True(t, strings.HasPrefix(created.SKU, "SKU-"))

	again := resolve(t, svc, db, "cable utp cat6 305M")
	require.Equal(t, created.ID, again.ID)
	require.Len(t, db.Products(), 1)
}

func TestResolveLearnsAlternateNamesFromPrefixMatches(t *testing.T) {
	svc, db := newInventory(t, true)
	base := resolve(t, svc, db, "Switch Gigabit 24 puertos administrable marca TP-Link")

	longer := "Switch Gigabit 24 puertos administrable marca TP-Link modelo TL-SG3428"
	matched := resolve(t, svc, db, longer)
	require.Equal(t, base.ID, matched.ID)
	require.Equal(t, []string{longer}, db.Product(base.ID).AltNames)

	exact := resolve(t, svc, db, longer)
	require.Equal(t, base.ID, exact.ID)
	require.Len(t, db.Product(base.ID).AltNames, 1)
}

func TestAdjustStockRecordsAndAudits(t *testing.T) {
	ctx := context.Background()
	svc, db := newInventory(t, false)
	p, err := svc.CreateProduct(ctx, actor, inventory.ProductInput{Name: "Router", SKU: "RT-1"})
	require.NoError(t, err)

	_, err = svc.AdjustStock(ctx, actor, inventory.AdjustmentInput{ProductID: p.ID, Type: inventory.AdjustIn, Qty: dec("10"), Reason: "initial count"})
	require.NoError(t, err)
	adj, err := svc.AdjustStock(ctx, actor, inventory.AdjustmentInput{ProductID: p.ID, Type: inventory.AdjustOut, Qty: dec("3"), Reason: "damaged"})
	require.NoError(t, err)
	require.Equal(t, int64(4), adj.UserID)
	require.Equal(t, "7", db.Product(p.ID).Stock.String())

	entries := db.AuditEntries()
	last := entries[len(entries)-1]
	require.Equal(t, audit.ActionUpdate, last.Action)
	require.Equal(t, "[EDIT] Stock RT-1: 10 -> 7 (adjustment: damaged)", last.Summary)
}

func TestAdjustStockRejectsNegativeWhenDisallowed(t *testing.T) {
	ctx := context.Background()
	svc, db := newInventory(t, false)
	p, err := svc.CreateProduct(ctx, actor, inventory.ProductInput{Name: "Router"})
	require.NoError(t, err)

	_, err = svc.AdjustStock(ctx, actor, inventory.AdjustmentInput{ProductID: p.ID, Type: inventory.AdjustOut, Qty: dec("1"), Reason: "sold"})
	require.ErrorIs(t, err, inventory.ErrNegativeStock)
	require.True(t, db.Product(p.ID).Stock.IsZero())

	_, err = svc.AdjustStock(ctx, actor, inventory.AdjustmentInput{ProductID: p.ID, Type: inventory.AdjustIn, Qty: dec("0"), Reason: "x"})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestApplyDeltasTouchesEachProductOnce(t *testing.T) {
	svc, db := newInventory(t, true)
	a := resolve(t, svc, db, "Patch cord 1m")
	b := resolve(t, svc, db, "Conector RJ45")
	before := len(db.AuditEntries())

	deltas := inventory.NewDeltas()
	deltas.Add(b.ID, dec("5"))
	deltas.Add(a.ID, dec("2"))
	deltas.Add(b.ID, dec("-5"))
	deltas.Add(a.ID, dec("1"))
	require.Equal(t, []int64{a.ID, b.ID}, deltas.ProductIDs())

	require.NoError(t, db.Update(context.Background(), func(ctx context.Context, tx *memdb.Tx) error {
		return svc.ApplyDeltas(ctx, tx, actor, deltas, "test")
	}))
	require.Equal(t, "3", db.Product(a.ID).Stock.String())
	require.True(t, db.Product(b.ID).Stock.IsZero())
	require.Len(t, db.AuditEntries(), before+1)
}

func TestRepriceFlagsSignificantIncreases(t *testing.T) {
	svc, db := newInventory(t, true)
	p := resolve(t, svc, db, "Fibra optica")

	var first, second inventory.PriceChange
	require.NoError(t, db.Update(context.Background(), func(ctx context.Context, tx *memdb.Tx) error {
		var err error
		if first, err = svc.Reprice(ctx, tx, actor, p.ID, func(decimal.Decimal) decimal.Decimal { return dec("100") }); err != nil {
			return err
		}
		second, err = svc.Reprice(ctx, tx, actor, p.ID, func(old decimal.Decimal) decimal.Decimal { return old.Mul(dec("1.06")) })
		return err
	}))
	require.False(t, first.Significant())
	require.True(t, second.Significant())
	require.Equal(t, "106.0000", db.Product(p.ID).PurchasePrice.StringFixed(4))

	small := inventory.PriceChange{Old: dec("100"), New: dec("105")}
	require.False(t, small.Significant())
}

func TestStockCardRunsBalance(t *testing.T) {
	ctx := context.Background()
	svc, _ := newInventory(t, true)
	p, err := svc.CreateProduct(ctx, actor, inventory.ProductInput{Name: "Rack"})
	require.NoError(t, err)
	_, err = svc.AdjustStock(ctx, actor, inventory.AdjustmentInput{ProductID: p.ID, Type: inventory.AdjustIn, Qty: dec("4"), Reason: "count"})
	require.NoError(t, err)

	card, err := svc.StockCard(ctx, actor, p.ID)
	require.NoError(t, err)
	require.Len(t, card, 1)
	require.Equal(t, "4", card[0].Balance.String())

	_, err = svc.StockCard(ctx, shared.Actor{UserID: 1, CompanyID: 9}, p.ID)
	require.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestBuildStockCardOrdersByTime(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	card := inventory.BuildStockCard([]inventory.StockEvent{
		{At: t0.AddDate(0, 0, 2), Source: "SALE", Qty: dec("-3")},
		{At: t0, Source: "PURCHASE", Qty: dec("10")},
	})
	require.Equal(t, "PURCHASE", card[0].Source)
	require.Equal(t, "10", card[0].Balance.String())
	require.Equal(t, "3", card[1].QtyOut.String())
	require.Equal(t, "7", card[1].Balance.String())
}
