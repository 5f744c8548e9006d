package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformedEvent marks an event that fails structural validation. The
// accounting engine skips such events and logs them instead of aborting.
var ErrMalformedEvent = errors.New("malformed event")

// TradeType distinguishes ordinary spot trades from the settlement trades
// that close out margin positions.
type TradeType string

const (
	TradeTypeBuy            TradeType = "buy"
	TradeTypeSell           TradeType = "sell"
	TradeTypeSettlementBuy  TradeType = "settlement_buy"
	TradeTypeSettlementSell TradeType = "settlement_sell"
)

// ParseTradeType maps the serialized trade type vocabulary to a TradeType.
func ParseTradeType(s string) (TradeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return TradeTypeBuy, nil
	case "sell":
		return TradeTypeSell, nil
	case "settlement_buy", "settlement buy":
		return TradeTypeSettlementBuy, nil
	case "settlement_sell", "settlement sell":
		return TradeTypeSettlementSell, nil
	}
	return "", fmt.Errorf("%w: unknown trade type %q", ErrMalformedEvent, s)
}

// Trade is a spot or settlement trade in a BASE_QUOTE pair: amount is in the
// base asset, rate is quote units per base unit.
type Trade struct {
	Timestamp   int64           `json:"timestamp"`
	Pair        string          `json:"pair"` // e.g. "BTC_EUR"
	Type        TradeType       `json:"trade_type"`
	Amount      decimal.Decimal `json:"amount"`
	Rate        decimal.Decimal `json:"rate"`
	Fee         decimal.Decimal `json:"fee"`
	FeeCurrency string          `json:"fee_currency"`
	Location    string          `json:"location"`
}

// BaseQuote splits the pair into its legs.
func (t Trade) BaseQuote() (base, quote string, err error) {
	parts := strings.Split(t.Pair, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: bad trade pair %q", ErrMalformedEvent, t.Pair)
	}
	return parts[0], parts[1], nil
}

func (t Trade) Validate() error {
	if _, _, err := t.BaseQuote(); err != nil {
		return err
	}
	if t.Timestamp <= 0 {
		return fmt.Errorf("%w: trade missing timestamp", ErrMalformedEvent)
	}
	switch t.Type {
	case TradeTypeBuy, TradeTypeSell, TradeTypeSettlementBuy, TradeTypeSettlementSell:
	default:
		return fmt.Errorf("%w: unknown trade type %q", ErrMalformedEvent, t.Type)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: trade amount must be positive, got %s", ErrMalformedEvent, t.Amount)
	}
	if t.Rate.IsNegative() {
		return fmt.Errorf("%w: trade rate must not be negative, got %s", ErrMalformedEvent, t.Rate)
	}
	if t.Fee.IsNegative() {
		return fmt.Errorf("%w: trade fee must not be negative, got %s", ErrMalformedEvent, t.Fee)
	}
	return nil
}

// Loan records a completed lending round. Only the net earned minus fee
// delta matters for taxation; the lent principal never touches the ledger.
type Loan struct {
	OpenTime   int64           `json:"open_time"`
	CloseTime  int64           `json:"close_time"`
	Currency   string          `json:"currency"`
	Fee        decimal.Decimal `json:"fee"`
	Earned     decimal.Decimal `json:"earned"`
	AmountLent decimal.Decimal `json:"amount_lent"`
}

func (l Loan) Validate() error {
	if l.CloseTime <= 0 {
		return fmt.Errorf("%w: loan missing close time", ErrMalformedEvent)
	}
	if l.Currency == "" {
		return fmt.Errorf("%w: loan missing currency", ErrMalformedEvent)
	}
	return nil
}

// MovementCategory is the direction of an asset movement.
type MovementCategory string

const (
	MovementDeposit    MovementCategory = "deposit"
	MovementWithdrawal MovementCategory = "withdrawal"
)

// AssetMovement is a deposit to or withdrawal from an exchange. Only
// withdrawal fees affect profit/loss.
type AssetMovement struct {
	Exchange  string           `json:"exchange"`
	Category  MovementCategory `json:"category"`
	Timestamp int64            `json:"timestamp"`
	Asset     string           `json:"asset"`
	Amount    decimal.Decimal  `json:"amount"`
	Fee       decimal.Decimal  `json:"fee"`
}

func (m AssetMovement) Validate() error {
	if m.Timestamp <= 0 {
		return fmt.Errorf("%w: asset movement missing timestamp", ErrMalformedEvent)
	}
	if m.Asset == "" {
		return fmt.Errorf("%w: asset movement missing asset", ErrMalformedEvent)
	}
	switch m.Category {
	case MovementDeposit, MovementWithdrawal:
	default:
		return fmt.Errorf("%w: unknown movement category %q", ErrMalformedEvent, m.Category)
	}
	return nil
}

// EthTransaction carries only the gas data of an on-chain transaction.
// Value transfers between own accounts are not taxable events.
type EthTransaction struct {
	Timestamp int64  `json:"timestamp"`
	Gas       int64  `json:"gas"`
	GasPrice  int64  `json:"gas_price"` // in wei
	GasUsed   int64  `json:"gas_used"`
	Hash      string `json:"hash"`
}

func (e EthTransaction) Validate() error {
	if e.Timestamp <= 0 {
		return fmt.Errorf("%w: ethereum transaction missing timestamp", ErrMalformedEvent)
	}
	if e.GasPrice < 0 || e.GasUsed < 0 {
		return fmt.Errorf("%w: ethereum transaction with negative gas data", ErrMalformedEvent)
	}
	return nil
}

// MarginPosition is a leveraged trade realized as a lump profit or loss in
// PLCurrency at close time. Attribution is by close time only.
type MarginPosition struct {
	Exchange   string          `json:"exchange"`
	OpenTime   int64           `json:"open_time"` // 0 when unknown
	CloseTime  int64           `json:"close_time"`
	ProfitLoss decimal.Decimal `json:"profit_loss"`
	PLCurrency string          `json:"pl_currency"`
	Notes      string          `json:"notes"`
}

func (m MarginPosition) Validate() error {
	if m.CloseTime <= 0 {
		return fmt.Errorf("%w: margin position missing close time", ErrMalformedEvent)
	}
	if m.PLCurrency == "" {
		return fmt.Errorf("%w: margin position missing profit/loss currency", ErrMalformedEvent)
	}
	return nil
}

// History bundles the five kinds of events fed to the accounting engine.
type History struct {
	Trades          []Trade
	Loans           []Loan
	AssetMovements  []AssetMovement
	EthTransactions []EthTransaction
	MarginPositions []MarginPosition
}
