package accounting

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/coinfolio/backend/src/assets"
	"github.com/username/coinfolio/backend/src/messages"
	"github.com/username/coinfolio/backend/src/models"
	"github.com/username/coinfolio/backend/src/pricing"
)

// Historical EUR rates backing the fixture history below, at the exact
// event timestamps.
func fixtureOracle() pricing.Oracle {
	rates := map[string]map[int64]decimal.Decimal{
		"BTC": {
			1464393600: d("422.90"),
			1473505138: d("556.435"),
			1473897600: d("542.87"),
			1475042230: d("537.805"),
			1476536704: d("585.96"),
			1479200704: d("667.185"),
			1480683904: d("723.505"),
			1484629704: d("810.49"),
			1486299904: d("942.78"),
			1491177600: d("1039.935"),
			1495969504: d("1964.685"),
			1498694400: d("2244.255"),
		},
		"ETH": {
			1463184190: d("9.185"),
			1463508234: d("10.785"),
			1473505138: d("10.365"),
			1475042230: d("11.925"),
			1476536704: d("10.775"),
			1479510304: d("8.915"),
			1491062063: d("47.5"),
			1493291104: d("52.885"),
			1511626623: d("393.955"),
		},
		"DASH": {
			1480683904: d("8.104679571509114828039"),
			1483351504: d("10.9698996"),
			1484629704: d("12.4625608386372145"),
			1485252304: d("13.22106438"),
			1486299904: d("15.36169816590634019"),
			1487027104: d("15.73995672"),
			1502715904: d("173.77"),
		},
	}
	return pricing.NewStaticRates("EUR", rates)
}

// fixtureHistory covers every event kind, events outside the query window
// on both sides, settlements, virtual trade legs and a partly taxable sell.
func fixtureHistory() models.History {
	return models.History{
		Trades: []models.Trade{
			{Timestamp: 1446979735, Pair: "BTC_EUR", Type: models.TradeTypeBuy, Rate: d("268.678317859"), Fee: decimal.Zero, FeeCurrency: "BTC", Amount: d("5"), Location: "external"},
			{Timestamp: 1446979735, Pair: "ETH_EUR", Type: models.TradeTypeBuy, Rate: d("0.2315893"), Fee: decimal.Zero, FeeCurrency: "ETH", Amount: d("1450"), Location: "external"},
			{Timestamp: 1467378304, Pair: "BTC_EUR", Type: models.TradeTypeSell, Rate: d("612.45"), Fee: d("0.15"), FeeCurrency: "EUR", Amount: d("2.5"), Location: "kraken"},
			{Timestamp: 1473505138, Pair: "ETH_BTC", Type: models.TradeTypeBuy, Rate: d("0.01858275"), Fee: d("0.06999999999999999"), FeeCurrency: "ETH", Amount: d("50"), Location: "poloniex"},
			{Timestamp: 1475042230, Pair: "ETH_BTC", Type: models.TradeTypeSell, Rate: d("0.022165"), Fee: d("0.001"), FeeCurrency: "ETH", Amount: d("25"), Location: "poloniex"},
			{Timestamp: 1476536704, Pair: "ETH_BTC", Type: models.TradeTypeSell, Rate: d("0.018355"), Fee: d("0.01"), FeeCurrency: "ETH", Amount: d("180"), Location: "poloniex"},
			{Timestamp: 1479200704, Pair: "DASH_BTC", Type: models.TradeTypeBuy, Rate: d("0.0134"), Fee: d("0.00082871175"), FeeCurrency: "BTC", Amount: d("40"), Location: "poloniex"},
			{Timestamp: 1480683904, Pair: "DASH_BTC", Type: models.TradeTypeSettlementSell, Rate: d("0.011265"), Fee: d("0.005"), FeeCurrency: "DASH", Amount: d("0.13"), Location: "poloniex"},
			{Timestamp: 1483520704, Pair: "DASH_EUR", Type: models.TradeTypeSell, Rate: d("12.92517"), Fee: d("0.01"), FeeCurrency: "EUR", Amount: d("10"), Location: "kraken"},
			{Timestamp: 1484629704, Pair: "DASH_BTC", Type: models.TradeTypeSettlementBuy, Rate: d("0.015855"), Fee: d("0.15"), FeeCurrency: "DASH", Amount: d("0.5"), Location: "poloniex"},
			{Timestamp: 1486299904, Pair: "DASH_BTC", Type: models.TradeTypeSettlementSell, Rate: d("0.016315"), Fee: d("0.01"), FeeCurrency: "DASH", Amount: d("0.15"), Location: "poloniex"},
			{Timestamp: 1488373504, Pair: "BTC_EUR", Type: models.TradeTypeSell, Rate: d("1146.22"), Fee: d("0.01"), FeeCurrency: "EUR", Amount: d("2"), Location: "kraken"},
		},
		Loans: []models.Loan{
			{OpenTime: 1463481392, CloseTime: 1463508234, Currency: "ETH", Fee: d("0.000001"), Earned: d("0.0002"), AmountLent: d("2")},
			{OpenTime: 1483320992, CloseTime: 1483351504, Currency: "DASH", Fee: d("0.0001"), Earned: d("0.002"), AmountLent: d("2")},
			{OpenTime: 1485237904, CloseTime: 1485252304, Currency: "DASH", Fee: d("0.00015"), Earned: d("0.003"), AmountLent: d("2")},
			{OpenTime: 1487012821, CloseTime: 1487027104, Currency: "DASH", Fee: d("0.00011"), Earned: d("0.0035"), AmountLent: d("2")},
			// After the query window, must not matter.
			{OpenTime: 1520103904, CloseTime: 1520118304, Currency: "DASH", Fee: d("0.0001"), Earned: d("0.0025"), AmountLent: d("2")},
		},
		AssetMovements: []models.AssetMovement{
			{Exchange: "kraken", Category: models.MovementWithdrawal, Timestamp: 1479510304, Asset: "ETH", Amount: d("95"), Fee: d("0.001")},
			{Exchange: "kraken", Category: models.MovementWithdrawal, Timestamp: 1493291104, Asset: "ETH", Amount: d("125"), Fee: d("0.0087")},
			{Exchange: "kraken", Category: models.MovementDeposit, Timestamp: 1493636704, Asset: "EUR", Amount: d("750"), Fee: decimal.Zero},
			{Exchange: "poloniex", Category: models.MovementWithdrawal, Timestamp: 1495969504, Asset: "BTC", Amount: d("8.5"), Fee: d("0.00029")},
			{Exchange: "poloniex", Category: models.MovementWithdrawal, Timestamp: 1502715904, Asset: "DASH", Amount: d("20"), Fee: d("0.0078")},
			// After the query window, must not matter.
			{Exchange: "bittrex", Category: models.MovementWithdrawal, Timestamp: 1517663104, Asset: "ETH", Amount: d("120"), Fee: d("0.001")},
		},
		EthTransactions: []models.EthTransaction{
			{Timestamp: 1463184190, Gas: 5000000, GasPrice: 2000000000, GasUsed: 25000000, Hash: "0x0"},
			{Timestamp: 1491062063, Gas: 5000000, GasPrice: 2000000000, GasUsed: 1000000, Hash: "0x0"},
			{Timestamp: 1511626623, Gas: 5000000, GasPrice: 2200000000, GasUsed: 2500000, Hash: "0x0"},
			// After the query window, must not matter.
			{Timestamp: 1523399409, Gas: 5000000, GasPrice: 2100000000, GasUsed: 1900000, Hash: "0x0"},
		},
		MarginPositions: []models.MarginPosition{
			{Exchange: "poloniex", OpenTime: 1463184190, CloseTime: 1464393600, ProfitLoss: d("0.05"), PLCurrency: "BTC", Notes: "margin1"},
			{Exchange: "poloniex", OpenTime: 1472428800, CloseTime: 1473897600, ProfitLoss: d("-0.042"), PLCurrency: "BTC", Notes: "margin2"},
			{Exchange: "poloniex", OpenTime: 1489276800, CloseTime: 1491177600, ProfitLoss: d("-0.042"), PLCurrency: "BTC", Notes: "margin3"},
			{Exchange: "poloniex", OpenTime: 1496534400, CloseTime: 1498694400, ProfitLoss: d("0.124"), PLCurrency: "BTC", Notes: "margin4"},
		},
	}
}

func fixtureSettings(t *testing.T) Settings {
	t.Helper()
	return Settings{
		ProfitCurrency:       testAsset(t, "EUR"),
		TaxfreeAfterPeriod:   yearSecs,
		IncludeCrypto2Crypto: true,
		IncludeGasCosts:      true,
	}
}

func newFixtureAccountant(t *testing.T) (*Accountant, *messages.Aggregator) {
	t.Helper()
	msgs := messages.NewAggregator()
	acc := NewAccountant(fixtureSettings(t), fixtureOracle(), assets.NewResolver(), msgs)
	return acc, msgs
}

func assertDecimalClose(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	diff := actual.Sub(d(expected)).Abs()
	assert.True(t, diff.LessThan(d("0.000001")), "expected %s, got %s", expected, actual)
}

func TestProcessHistoryFullRange(t *testing.T) {
	acc, _ := newFixtureAccountant(t)

	report, err := acc.ProcessHistory(fixtureHistory(), 0, 1514764799)
	require.NoError(t, err)

	assert.Equal(t, int64(1446979735), acc.StartedProcessingTimestamp())
	assert.Equal(t, int64(1511626623), acc.CurrentlyProcessingTimestamp())

	o := report.Overview
	assertDecimalClose(t, "5032.30394444", o.GeneralTradeProfitLoss)
	assertDecimalClose(t, "3954.94067484", o.TaxableTradeProfitLoss)
	assertDecimalClose(t, "0.114027511004", o.LoanProfit)
	assertDecimalClose(t, "11.8554392326", o.SettlementLosses)
	assertDecimalClose(t, "2.39417915", o.AssetMovementFees)
	assertDecimalClose(t, "2.7210025", o.EthereumTransactionGasCosts)
	assertDecimalClose(t, "232.95481", o.MarginPositionsProfitLoss)

	sumOther := o.LoanProfit.
		Add(o.MarginPositionsProfitLoss).
		Sub(o.SettlementLosses).
		Sub(o.AssetMovementFees).
		Sub(o.EthereumTransactionGasCosts)
	assert.True(t, o.TotalProfitLoss.Equal(o.GeneralTradeProfitLoss.Add(sumOther)))
	assert.True(t, o.TotalTaxableProfitLoss.Equal(o.TaxableTradeProfitLoss.Add(sumOther)))

	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
}

func TestProcessHistoryInPeriod(t *testing.T) {
	acc, _ := newFixtureAccountant(t)

	report, err := acc.ProcessHistory(fixtureHistory(), 1483228800, 1514764799)
	require.NoError(t, err)

	// The window changes what contributes but not what was processed.
	assert.Equal(t, int64(1446979735), acc.StartedProcessingTimestamp())
	assert.Equal(t, int64(1511626623), acc.CurrentlyProcessingTimestamp())

	o := report.Overview
	assertDecimalClose(t, "1506.96912912", o.GeneralTradeProfitLoss)
	assertDecimalClose(t, "642.652537097", o.TaxableTradeProfitLoss)
	assertDecimalClose(t, "0.111881296004", o.LoanProfit)
	assertDecimalClose(t, "10.7553789375", o.SettlementLosses)
	assertDecimalClose(t, "2.38526415", o.AssetMovementFees)
	assertDecimalClose(t, "2.2617525", o.EthereumTransactionGasCosts)
	assertDecimalClose(t, "234.61035", o.MarginPositionsProfitLoss)
}

func TestProcessHistorySkipsUnpriceableAndUnknownAssets(t *testing.T) {
	acc, _ := newFixtureAccountant(t)

	history := models.History{Trades: []models.Trade{
		{Timestamp: 1392685761, Pair: "XCP_BTC", Type: models.TradeTypeBuy, Rate: d("0.100"), Fee: d("0.15"), FeeCurrency: "XCP", Amount: d("2.5"), Location: "kraken"},
		{Timestamp: 1492685761, Pair: "EXC_BTC", Type: models.TradeTypeBuy, Rate: d("0.100"), Fee: d("0.15"), FeeCurrency: "EXC", Amount: d("2.5"), Location: "kraken"},
	}}
	report, err := acc.ProcessHistory(history, 0, 1514764799)
	require.NoError(t, err)

	require.Len(t, report.Errors, 2)
	assert.Contains(t, report.Errors[0], "due to inability to find a price at that point in time")
	assert.Contains(t, report.Errors[1], "due to an unknown asset being involved")
	assert.True(t, report.Overview.TotalProfitLoss.IsZero())
}

func TestProcessHistorySkipsUnsupportedAssets(t *testing.T) {
	acc, _ := newFixtureAccountant(t)

	history := models.History{Trades: []models.Trade{
		{Timestamp: 1473505138, Pair: "KFEE_EUR", Type: models.TradeTypeBuy, Rate: d("0.01"), Fee: decimal.Zero, FeeCurrency: "EUR", Amount: d("100"), Location: "kraken"},
	}}
	report, err := acc.ProcessHistory(history, 0, 1514764799)
	require.NoError(t, err)

	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "due to an unsupported asset being involved")
	assert.True(t, report.Overview.TotalProfitLoss.IsZero())
}

func TestProcessHistorySkipsMalformedEvents(t *testing.T) {
	acc, _ := newFixtureAccountant(t)

	history := models.History{Trades: []models.Trade{
		{Timestamp: 1473505138, Pair: "BTCEUR", Type: models.TradeTypeBuy, Rate: d("500"), Fee: decimal.Zero, FeeCurrency: "EUR", Amount: d("1"), Location: "kraken"},
		{Timestamp: 1473505138, Pair: "BTC_EUR", Type: models.TradeTypeBuy, Rate: d("500"), Fee: decimal.Zero, FeeCurrency: "EUR", Amount: d("-1"), Location: "kraken"},
		{Timestamp: 1473505138, Pair: "BTC_EUR", Type: models.TradeTypeBuy, Rate: d("500"), Fee: decimal.Zero, FeeCurrency: "EUR", Amount: d("1"), Location: "kraken"},
	}}
	report, err := acc.ProcessHistory(history, 0, 1514764799)
	require.NoError(t, err)

	// The malformed two are skipped, the valid one still lands in the ledger.
	assert.Len(t, report.Errors, 2)
	assert.True(t, acc.Ledgers()["BTC"].Remaining().Equal(d("1")))
}

func TestProcessHistoryShortfallWarning(t *testing.T) {
	acc, _ := newFixtureAccountant(t)

	history := models.History{Trades: []models.Trade{
		{Timestamp: 1488373504, Pair: "BTC_EUR", Type: models.TradeTypeSell, Rate: d("1146.22"), Fee: decimal.Zero, FeeCurrency: "EUR", Amount: d("2"), Location: "kraken"},
	}}
	report, err := acc.ProcessHistory(history, 0, 1514764799)
	require.NoError(t, err)

	// No acquisition on record: the whole sale is taxable gain at zero cost.
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "No documented acquisition found")
	assertDecimalClose(t, "2292.44", report.Overview.GeneralTradeProfitLoss)
	assertDecimalClose(t, "2292.44", report.Overview.TaxableTradeProfitLoss)
}

func TestProcessHistoryZeroTaxfreePeriodMakesEverythingTaxable(t *testing.T) {
	taxableFor := func(period int64) decimal.Decimal {
		settings := fixtureSettings(t)
		settings.TaxfreeAfterPeriod = period
		acc := NewAccountant(settings, fixtureOracle(), assets.NewResolver(), messages.NewAggregator())
		report, err := acc.ProcessHistory(fixtureHistory(), 0, 1514764799)
		require.NoError(t, err)
		return report.Overview.TaxableTradeProfitLoss
	}

	// Without a tax-free holding period every disposal is taxable, so the
	// taxable profit/loss equals the general one; granting a holding period
	// can only move disposals out of the taxable bucket.
	alwaysTaxable := taxableFor(0)
	withHoldingPeriod := taxableFor(yearSecs)
	assertDecimalClose(t, "5032.30394444", alwaysTaxable)
	assertDecimalClose(t, "3954.94067484", withHoldingPeriod)
	assert.True(t, withHoldingPeriod.LessThanOrEqual(alwaysTaxable))
}

func TestProcessHistoryVirtualDisposalInvariantAborts(t *testing.T) {
	acc, _ := newFixtureAccountant(t)

	// A zero-rate crypto-to-crypto buy pays with zero quote units; the
	// implied disposal violates the ledger's positive-amount invariant and
	// must end the run instead of being silently dropped.
	history := models.History{Trades: []models.Trade{
		{Timestamp: 1475042230, Pair: "ETH_BTC", Type: models.TradeTypeBuy, Rate: d("0"), Fee: decimal.Zero, FeeCurrency: "ETH", Amount: d("10"), Location: "poloniex"},
	}}
	_, err := acc.ProcessHistory(history, 0, 1514764799)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consume amount must be positive")
}

func TestProcessHistoryCrypto2CryptoExcluded(t *testing.T) {
	settings := fixtureSettings(t)
	settings.IncludeCrypto2Crypto = false
	msgs := messages.NewAggregator()
	acc := NewAccountant(settings, fixtureOracle(), assets.NewResolver(), msgs)

	history := models.History{Trades: []models.Trade{
		{Timestamp: 1446979735, Pair: "ETH_EUR", Type: models.TradeTypeBuy, Rate: d("0.2315893"), Fee: decimal.Zero, FeeCurrency: "ETH", Amount: d("1450"), Location: "external"},
		// Crypto to crypto: skipped entirely under these settings.
		{Timestamp: 1475042230, Pair: "ETH_BTC", Type: models.TradeTypeSell, Rate: d("0.022165"), Fee: d("0.001"), FeeCurrency: "ETH", Amount: d("25"), Location: "poloniex"},
	}}
	report, err := acc.ProcessHistory(history, 0, 1514764799)
	require.NoError(t, err)

	assert.True(t, report.Overview.GeneralTradeProfitLoss.IsZero())
	assert.True(t, acc.Ledgers()["ETH"].Remaining().Equal(d("1450")))
	_, hasBTC := acc.Ledgers()["BTC"]
	assert.False(t, hasBTC)
}

func TestProcessHistoryIgnoredAssets(t *testing.T) {
	settings := fixtureSettings(t)
	settings.IgnoredAssets = map[string]struct{}{"DASH": {}}
	msgs := messages.NewAggregator()
	acc := NewAccountant(settings, fixtureOracle(), assets.NewResolver(), msgs)

	history := models.History{Trades: []models.Trade{
		{Timestamp: 1483520704, Pair: "DASH_EUR", Type: models.TradeTypeBuy, Rate: d("12.92517"), Fee: decimal.Zero, FeeCurrency: "EUR", Amount: d("10"), Location: "kraken"},
	}}
	report, err := acc.ProcessHistory(history, 0, 1514764799)
	require.NoError(t, err)

	assert.Empty(t, report.Errors)
	assert.Empty(t, acc.Ledgers())
}

func TestProcessHistoryEventsAfterWindowNeverTouched(t *testing.T) {
	acc, _ := newFixtureAccountant(t)

	history := models.History{Trades: []models.Trade{
		{Timestamp: 1446979735, Pair: "BTC_EUR", Type: models.TradeTypeBuy, Rate: d("268.678317859"), Fee: decimal.Zero, FeeCurrency: "BTC", Amount: d("5"), Location: "external"},
		// Beyond the window end: not even the ledger sees it.
		{Timestamp: 1600000000, Pair: "BTC_EUR", Type: models.TradeTypeBuy, Rate: d("9000"), Fee: decimal.Zero, FeeCurrency: "BTC", Amount: d("1"), Location: "external"},
	}}
	_, err := acc.ProcessHistory(history, 0, 1514764799)
	require.NoError(t, err)

	assert.True(t, acc.Ledgers()["BTC"].Remaining().Equal(d("5")))
	assert.Equal(t, int64(1446979735), acc.CurrentlyProcessingTimestamp())
}
