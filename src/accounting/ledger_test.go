package accounting

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/coinfolio/backend/src/assets"
	"github.com/username/coinfolio/backend/src/logger"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

const yearSecs = int64(365 * 24 * 3600)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testAsset(t *testing.T, identifier string) assets.Asset {
	t.Helper()
	asset, err := assets.NewResolver().Resolve(identifier)
	require.NoError(t, err)
	return asset
}

func TestLedgerConsumeFIFO(t *testing.T) {
	ledger := NewAssetLedger(testAsset(t, "BTC"))
	ledger.AddLot(d("2"), d("100"), decimal.Zero, 1000)
	ledger.AddLot(d("3"), d("200"), decimal.Zero, 2000)

	result, err := ledger.Consume(d("4"), 3000, 0)
	require.NoError(t, err)

	// 2 units from the first lot, 2 from the second.
	require.Len(t, result.Entries, 2)
	assert.True(t, result.Entries[0].AmountTaken.Equal(d("2")))
	assert.Equal(t, int64(1000), result.Entries[0].Timestamp)
	assert.True(t, result.Entries[1].AmountTaken.Equal(d("2")))
	assert.Equal(t, int64(2000), result.Entries[1].Timestamp)
	assert.True(t, result.TotalCost.Equal(d("600")))
	assert.True(t, result.ShortfallAmount.IsZero())
	assert.True(t, ledger.Remaining().Equal(d("1")))
}

func TestLedgerConsumeProportionalFeeShare(t *testing.T) {
	ledger := NewAssetLedger(testAsset(t, "DASH"))
	ledger.AddLot(d("40"), d("8.9"), d("0.55"), 1000)

	result, err := ledger.Consume(d("10"), 2000, 0)
	require.NoError(t, err)

	// A quarter of the lot carries a quarter of its fee cost.
	expected := d("10").Mul(d("8.9")).Add(d("0.1375"))
	assert.True(t, result.TotalCost.Equal(expected), "got %s", result.TotalCost)

	// The remaining cost carries the other three quarters.
	remainingExpected := d("30").Mul(d("8.9")).Add(d("0.4125"))
	assert.True(t, ledger.RemainingCost().Equal(remainingExpected), "got %s", ledger.RemainingCost())
}

func TestLedgerConsumeShortfall(t *testing.T) {
	ledger := NewAssetLedger(testAsset(t, "ETH"))
	ledger.AddLot(d("1"), d("10"), decimal.Zero, 1000)

	result, err := ledger.Consume(d("3"), 2000, yearSecs)
	require.NoError(t, err)

	// The uncovered part has no cost basis and counts as taxable.
	assert.True(t, result.ShortfallAmount.Equal(d("2")))
	assert.True(t, result.TotalCost.Equal(d("10")))
	assert.True(t, result.TaxableAmount.Equal(d("3")))
	assert.True(t, ledger.Remaining().IsZero())
}

func TestLedgerConsumeRejectsNonPositiveAmount(t *testing.T) {
	ledger := NewAssetLedger(testAsset(t, "ETH"))
	ledger.AddLot(d("1"), d("10"), decimal.Zero, 1000)

	_, err := ledger.Consume(decimal.Zero, 2000, 0)
	assert.Error(t, err)
	_, err = ledger.Consume(d("-1"), 2000, 0)
	assert.Error(t, err)
}

func TestLedgerTaxableSplit(t *testing.T) {
	ledger := NewAssetLedger(testAsset(t, "BTC"))
	oldTs := int64(1_000_000)
	recentTs := oldTs + yearSecs // exactly at the boundary: already tax free
	disposalTs := oldTs + 2*yearSecs

	ledger.AddLot(d("1"), d("100"), decimal.Zero, oldTs)
	ledger.AddLot(d("1"), d("200"), decimal.Zero, recentTs)
	ledger.AddLot(d("1"), d("300"), decimal.Zero, disposalTs-1)

	result, err := ledger.Consume(d("3"), disposalTs, yearSecs)
	require.NoError(t, err)

	assert.True(t, result.TaxfreeAmount.Equal(d("2")))
	assert.True(t, result.TaxableAmount.Equal(d("1")))
	assert.True(t, result.TaxfreeCost.Equal(d("300")))
	assert.True(t, result.TaxableCost.Equal(d("300")))
}

func TestLedgerZeroPeriodMeansAlwaysTaxable(t *testing.T) {
	ledger := NewAssetLedger(testAsset(t, "BTC"))
	ledger.AddLot(d("1"), d("100"), decimal.Zero, 1)

	result, err := ledger.Consume(d("1"), 1<<40, 0)
	require.NoError(t, err)
	assert.True(t, result.TaxableAmount.Equal(d("1")))
	assert.True(t, result.TaxfreeAmount.IsZero())
}

func TestLedgerAmountConservation(t *testing.T) {
	ledger := NewAssetLedger(testAsset(t, "ETH"))
	ledger.AddLot(d("10"), d("1"), decimal.Zero, 100)
	ledger.AddLot(d("5"), d("2"), decimal.Zero, 200)

	for _, amount := range []string{"3", "4", "0.5"} {
		_, err := ledger.Consume(d(amount), 300, 0)
		require.NoError(t, err)
	}

	// bought - sold == remaining, and no lot ever goes negative.
	assert.True(t, ledger.Remaining().Equal(d("7.5")))
	for _, lot := range ledger.Lots() {
		assert.False(t, lot.Remaining.IsNegative())
	}
}

func TestLedgerTaxfreeRemaining(t *testing.T) {
	ledger := NewAssetLedger(testAsset(t, "BTC"))
	ledger.AddLot(d("2"), d("100"), decimal.Zero, 1000)
	ledger.AddLot(d("3"), d("200"), decimal.Zero, 1000+yearSecs)

	now := 1000 + yearSecs + 10
	assert.True(t, ledger.TaxfreeRemaining(now, yearSecs).Equal(d("2")))

	// Consuming eats the tax free lot first.
	_, err := ledger.Consume(d("1.5"), now, yearSecs)
	require.NoError(t, err)
	assert.True(t, ledger.TaxfreeRemaining(now, yearSecs).Equal(d("0.5")))
}
