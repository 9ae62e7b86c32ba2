package contract

import (
	"testing"
	"time"

	"agromarket/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registerTestProduct is shared setup: alice the farmer registers a product
// and the new ID is returned.
func (h *testHarness) registerTestProduct(name string) uint64 {
	h.t.Helper()
	var productID uint64
	h.as(aliceID)
	h.mustTx(func() error {
		var err error
		productID, err = h.contract.RegisterProduct(h.ctx, name, "vegetables", 250, "kg", 120,
			h.rfc3339(h.now.Add(-48*time.Hour)), "B", "QmTestReportHash")
		return err
	})
	return productID
}

func TestRegisterProduct(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.drainEvents()

	productID := h.registerTestProduct("Roma Tomatoes")
	assert.Equal(t, uint64(1), productID)

	product, err := h.contract.GetProduct(h.ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, "Roma Tomatoes", product.Name)
	assert.Equal(t, "vegetables", product.Category)
	assert.Equal(t, float64(250), product.Quantity)
	assert.Equal(t, "kg", product.Unit)
	assert.Equal(t, uint64(120), product.PricePerUnit)
	assert.Equal(t, model.GradeB, product.Grade)
	assert.Equal(t, model.ProductRegistered, product.Status)
	assert.Equal(t, aliceID, product.CurrentHolder)
	assert.Equal(t, "alice", product.CurrentHolderAlias)
	assert.Equal(t, uint64(0), product.TransferCount)

	// Registration writes the first custody record.
	history, err := h.contract.GetProductHistory(h.ctx, productID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "", history[0].From)
	assert.Equal(t, aliceID, history[0].To)
	assert.Equal(t, uint64(1), history[0].Seq)

	assert.Equal(t, "ProductRegistered", h.lastEvent().EventName)

	total, err := h.contract.GetTotalProducts(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
}

func TestRegisterProductValidation(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	harvestDate := h.rfc3339(h.now.Add(-24 * time.Hour))

	h.as(aliceID)
	err := h.tx(func() error {
		_, err := h.contract.RegisterProduct(h.ctx, "", "fruit", 10, "kg", 50, harvestDate, "A", "")
		return err
	})
	assert.ErrorContains(t, err, "name cannot be empty")

	err = h.tx(func() error {
		_, err := h.contract.RegisterProduct(h.ctx, "Apples", "fruit", 0, "kg", 50, harvestDate, "A", "")
		return err
	})
	assert.ErrorContains(t, err, "quantity must be positive")

	err = h.tx(func() error {
		_, err := h.contract.RegisterProduct(h.ctx, "Apples", "fruit", 10, "kg", 50, harvestDate, "Z", "")
		return err
	})
	assert.ErrorContains(t, err, "invalid grade 'Z'")

	err = h.tx(func() error {
		_, err := h.contract.RegisterProduct(h.ctx, "Apples", "fruit", 10, "kg", 50, "yesterday", "A", "")
		return err
	})
	assert.ErrorContains(t, err, "invalid format for harvestDate")

	// Only farmers (or admins via bypass) may register.
	h.as(caraID)
	err = h.tx(func() error {
		_, err := h.contract.RegisterProduct(h.ctx, "Apples", "fruit", 10, "kg", 50, harvestDate, "A", "")
		return err
	})
	assert.ErrorContains(t, err, "does not have required role 'farmer'")

	h.as(adminID)
	h.mustTx(func() error {
		_, err := h.contract.RegisterProduct(h.ctx, "Admin Apples", "fruit", 10, "kg", 50, harvestDate, "A", "")
		return err
	})
}

func TestTransferOwnershipChain(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	productID := h.registerTestProduct("Roma Tomatoes")
	h.drainEvents()

	h.as(aliceID)
	h.mustTx(func() error { return h.contract.TransferOwnership(h.ctx, productID, "bob", "Green Valley loading dock") })
	assert.Equal(t, "OwnershipTransferred", h.lastEvent().EventName)

	h.advance(6 * time.Hour)
	h.as(bobID)
	h.mustTx(func() error { return h.contract.TransferOwnership(h.ctx, productID, "cara", "City Market warehouse") })

	product, err := h.contract.GetProduct(h.ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, caraID, product.CurrentHolder)
	assert.Equal(t, "cara", product.CurrentHolderAlias)
	assert.Equal(t, uint64(2), product.TransferCount)

	// Two transfers plus the registration record.
	history, err := h.contract.GetProductHistory(h.ctx, productID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "", history[0].From)
	assert.Equal(t, aliceID, history[1].From)
	assert.Equal(t, bobID, history[1].To)
	assert.Equal(t, "Green Valley loading dock", history[1].Location)
	assert.Equal(t, bobID, history[2].From)
	assert.Equal(t, caraID, history[2].To)
	assert.Equal(t, uint64(3), history[2].Seq)
}

func TestTransferOwnershipRejections(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	productID := h.registerTestProduct("Roma Tomatoes")

	// Only the current holder may transfer.
	h.as(bobID)
	err := h.tx(func() error { return h.contract.TransferOwnership(h.ctx, productID, "cara", "") })
	assert.ErrorContains(t, err, "not the current holder")

	h.as(aliceID)
	err = h.tx(func() error { return h.contract.TransferOwnership(h.ctx, productID, "", "") })
	assert.ErrorContains(t, err, "to cannot be empty")

	err = h.tx(func() error { return h.contract.TransferOwnership(h.ctx, productID, "alice", "") })
	assert.ErrorContains(t, err, "cannot transfer to self")

	err = h.tx(func() error { return h.contract.TransferOwnership(h.ctx, productID, "nobody", "") })
	assert.ErrorContains(t, err, "alias 'nobody' not found")

	err = h.tx(func() error { return h.contract.TransferOwnership(h.ctx, 99, "bob", "") })
	assert.ErrorContains(t, err, "product with ID 99 does not exist")

	product, getErr := h.contract.GetProduct(h.ctx, productID)
	require.NoError(t, getErr)
	assert.Equal(t, uint64(0), product.TransferCount, "failed transfers leave the chain untouched")
}

func TestUpdateProductStatus(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	productID := h.registerTestProduct("Roma Tomatoes")

	h.as(aliceID)
	h.mustTx(func() error { return h.contract.UpdateProductStatus(h.ctx, productID, "LISTED", "ready for sale") })

	product, err := h.contract.GetProduct(h.ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductListed, product.Status)

	err = h.tx(func() error { return h.contract.UpdateProductStatus(h.ctx, productID, "MISSING", "") })
	assert.ErrorContains(t, err, "invalid product status 'MISSING'")

	h.as(bobID)
	err = h.tx(func() error { return h.contract.UpdateProductStatus(h.ctx, productID, "SOLD", "") })
	assert.ErrorContains(t, err, "only the current holder or an admin")

	// Admins may force a status, e.g. a recall.
	h.as(adminID)
	h.mustTx(func() error { return h.contract.UpdateProductStatus(h.ctx, productID, "RECALLED", "contamination report") })
	product, err = h.contract.GetProduct(h.ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductRecalled, product.Status)
}

func TestUpdateProductPrice(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	productID := h.registerTestProduct("Roma Tomatoes")

	h.as(aliceID)
	h.mustTx(func() error { return h.contract.UpdateProductPrice(h.ctx, productID, 150) })

	product, err := h.contract.GetProduct(h.ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), product.PricePerUnit)

	h.as(bobID)
	err = h.tx(func() error { return h.contract.UpdateProductPrice(h.ctx, productID, 90) })
	assert.ErrorContains(t, err, "not the current holder")
}

func TestAddQualityCheckLatestGradeWins(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	productID := h.registerTestProduct("Roma Tomatoes")
	h.drainEvents()

	h.as(inezID)
	h.mustTx(func() error { return h.contract.AddQualityCheck(h.ctx, productID, "A", "QmReport1", "excellent batch") })
	assert.Equal(t, "QualityCheckAdded", h.lastEvent().EventName)

	product, err := h.contract.GetProduct(h.ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, model.GradeA, product.Grade)

	h.advance(2 * time.Hour)
	h.mustTx(func() error { return h.contract.AddQualityCheck(h.ctx, productID, "C", "QmReport2", "degraded in transit") })

	// The product carries the latest grade; earlier checks stay in history.
	product, err = h.contract.GetProduct(h.ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, model.GradeC, product.Grade)
	assert.Equal(t, uint64(2), product.QualityCheckCount)

	checks, err := h.contract.GetQualityChecks(h.ctx, productID)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.Equal(t, model.GradeA, checks[0].Grade)
	assert.Equal(t, model.GradeC, checks[1].Grade)
	assert.Equal(t, inezID, checks[1].Inspector)
	assert.Equal(t, "QmReport2", checks[1].ReportHash)
}

func TestAddQualityCheckRequiresInspector(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	productID := h.registerTestProduct("Roma Tomatoes")

	h.as(bobID)
	err := h.tx(func() error { return h.contract.AddQualityCheck(h.ctx, productID, "A", "", "") })
	assert.ErrorContains(t, err, "does not have required role 'inspector'")

	h.as(inezID)
	err = h.tx(func() error { return h.contract.AddQualityCheck(h.ctx, 99, "A", "", "") })
	assert.ErrorContains(t, err, "product with ID 99 does not exist")
}

func TestPauseBlocksRegistryMutations(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	h.fund("cara", 100_000)
	productID := h.registerTestProduct("Roma Tomatoes")
	harvestDate := h.rfc3339(h.now.Add(-24 * time.Hour))

	h.as(caraID)
	err := h.tx(func() error { return h.contract.PauseRegistry(h.ctx) })
	assert.ErrorContains(t, err, "not an admin")

	h.as(adminID)
	h.mustTx(func() error { return h.contract.PauseRegistry(h.ctx) })
	paused, err := h.contract.IsRegistryPaused(h.ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	// Every provenance mutation is rejected while paused.
	h.as(aliceID)
	err = h.tx(func() error {
		_, err := h.contract.RegisterProduct(h.ctx, "Apples", "fruit", 10, "kg", 50, harvestDate, "A", "")
		return err
	})
	assert.ErrorContains(t, err, "registry is paused")
	err = h.tx(func() error { return h.contract.TransferOwnership(h.ctx, productID, "bob", "") })
	assert.ErrorContains(t, err, "registry is paused")
	err = h.tx(func() error { return h.contract.UpdateProductStatus(h.ctx, productID, "LISTED", "") })
	assert.ErrorContains(t, err, "registry is paused")
	err = h.tx(func() error { return h.contract.UpdateProductPrice(h.ctx, productID, 99) })
	assert.ErrorContains(t, err, "registry is paused")
	h.as(inezID)
	err = h.tx(func() error { return h.contract.AddQualityCheck(h.ctx, productID, "A", "", "") })
	assert.ErrorContains(t, err, "registry is paused")

	// Reads and escrow settlement stay available.
	_, err = h.contract.GetProduct(h.ctx, productID)
	assert.NoError(t, err)
	paymentID := h.createEscrowedPayment(caraID, "order-1", "alice", 100_000, time.Hour)
	h.as(caraID)
	h.mustTx(func() error { return h.contract.ReleasePayment(h.ctx, paymentID) })

	h.as(adminID)
	h.mustTx(func() error { return h.contract.UnpauseRegistry(h.ctx) })
	h.as(aliceID)
	h.mustTx(func() error {
		_, err := h.contract.RegisterProduct(h.ctx, "Apples", "fruit", 10, "kg", 50, harvestDate, "A", "")
		return err
	})
}

func TestGetProductsByHolder(t *testing.T) {
	h := newHarness(t)
	h.bootstrap()
	first := h.registerTestProduct("Roma Tomatoes")
	second := h.registerTestProduct("Sweet Corn")
	h.registerTestProduct("Red Onions")

	h.as(aliceID)
	h.mustTx(func() error { return h.contract.TransferOwnership(h.ctx, second, "bob", "") })

	products, err := h.contract.GetProductsByHolder(h.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, first, products[0].ID)

	products, err = h.contract.GetProductsByHolder(h.ctx, "bob")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, second, products[0].ID)

	products, err = h.contract.GetProductsByHolder(h.ctx, "cara")
	require.NoError(t, err)
	assert.Empty(t, products)
}
