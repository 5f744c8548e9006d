package external

import (
	"os"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/coinfolio/backend/src/assets"
	"github.com/username/coinfolio/backend/src/logger"
	"github.com/username/coinfolio/backend/src/messages"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func TestParseCanonicalDocument(t *testing.T) {
	doc := `{
		"trades": [
			{"timestamp": 1446979735, "pair": "BTC_EUR", "trade_type": "buy",
			 "amount": "5", "rate": "268.678317859", "fee": "0", "fee_currency": "BTC", "location": "external"}
		],
		"loans": [
			{"open_time": 1483320992, "close_time": 1483351504, "currency": "DASH",
			 "fee": "0.0001", "earned": "0.002", "amount_lent": "2"}
		],
		"asset_movements": [
			{"exchange": "kraken", "category": "withdrawal", "timestamp": 1493291104,
			 "asset": "ETH", "amount": "125", "fee": "0.0087"}
		],
		"eth_transactions": [
			{"timestamp": 1491062063, "gas": 5000000, "gas_price": 2000000000, "gas_used": 1000000, "hash": "0x0"}
		],
		"margin_positions": [
			{"exchange": "poloniex", "open_time": 1489276800, "close_time": 1491177600,
			 "profit_loss": "-0.042", "pl_currency": "BTC", "notes": "margin3"}
		]
	}`
	msgs := messages.NewAggregator()
	parser := NewParser(assets.NewResolver(), msgs)
	history, err := parser.Parse(strings.NewReader(doc))
	require.NoError(t, err)

	require.Len(t, history.Trades, 1)
	assert.True(t, history.Trades[0].Amount.Equal(decimal.RequireFromString("5")))
	require.Len(t, history.Loans, 1)
	require.Len(t, history.AssetMovements, 1)
	require.Len(t, history.EthTransactions, 1)
	require.Len(t, history.MarginPositions, 1)
	assert.True(t, history.MarginPositions[0].ProfitLoss.IsNegative())
	assert.Equal(t, 0, msgs.ErrorCount())
}

func TestParseSkipsInvalidRows(t *testing.T) {
	doc := `{
		"trades": [
			{"timestamp": 1446979735, "pair": "BTCEUR", "trade_type": "buy",
			 "amount": "5", "rate": "100", "fee": "0", "fee_currency": "BTC"},
			{"timestamp": 1446979735, "pair": "NOPE_EUR", "trade_type": "buy",
			 "amount": "5", "rate": "100", "fee": "0", "fee_currency": "EUR"},
			{"timestamp": 1446979735, "pair": "BTC_EUR", "trade_type": "buy",
			 "amount": "5", "rate": "100", "fee": "0", "fee_currency": "BTC"}
		],
		"loans": [
			{"open_time": 0, "close_time": 0, "currency": "", "fee": "0", "earned": "0", "amount_lent": "0"}
		]
	}`
	msgs := messages.NewAggregator()
	parser := NewParser(assets.NewResolver(), msgs)
	history, err := parser.Parse(strings.NewReader(doc))
	require.NoError(t, err)

	require.Len(t, history.Trades, 1)
	assert.Equal(t, "BTC_EUR", history.Trades[0].Pair)
	assert.Empty(t, history.Loans)
	assert.Equal(t, 3, msgs.ErrorCount())
}
