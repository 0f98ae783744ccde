package auction

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wasteloop/auction-server/configs"
	"github.com/wasteloop/auction-server/internal/listings"
	"github.com/wasteloop/auction-server/internal/store"
	"github.com/wasteloop/auction-server/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testNow is the fixed wall clock for deterministic lifecycle tests.
var testNow = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

type env struct {
	dir     string
	db      store.Service
	gateway listings.Gateway
	manager *Manager
	engine  *Engine
}

func newEnv(t *testing.T, seeds []configs.SeedAuction) *env {
	t.Helper()

	dir := t.TempDir()
	db, err := store.New(dir)
	require.NoError(t, err)

	gw := listings.NewGateway(db)
	manager := NewManager(db, gw, seeds)
	manager.now = func() time.Time { return testNow }

	engine := NewEngine(db, manager, gw, nil)
	engine.now = func() time.Time { return testNow }

	return &env{dir: dir, db: db, gateway: gw, manager: manager, engine: engine}
}

func (e *env) writeListings(t *testing.T, items []types.Listing) {
	t.Helper()
	writeCollection(t, e.dir, "listings.json", items)
}

func writeCollection(t *testing.T, dir, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func activeListing(id, sellerID int, saleType string, totalValue float64) types.Listing {
	return types.Listing{
		ID:           id,
		SellerID:     sellerID,
		Title:        "Shredded HDPE bales",
		MaterialName: "HDPE",
		Category:     "plastics",
		Quantity:     40,
		QuantityUnit: "t",
		Location:     "Rotterdam",
		PricePerUnit: dec(450),
		TotalValue:   dec(totalValue),
		SaleType:     saleType,
		Status:       types.ListingStatusActive,
		Views:        50,
		Inquiries:    8,
		CreatedAt:    testNow.Add(-72 * time.Hour),
	}
}
