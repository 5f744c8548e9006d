package poloniex

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/username/coinfolio/backend/src/assets"
	"github.com/username/coinfolio/backend/src/logger"
	"github.com/username/coinfolio/backend/src/messages"
	"github.com/username/coinfolio/backend/src/models"
)

// poloniexDateLayout is how the poloniex export formats datetimes.
const poloniexDateLayout = "2006-01-02 15:04:05"

type rawTrade struct {
	Date     string          `json:"date"`
	Type     string          `json:"type"`
	Category string          `json:"category"`
	Rate     decimal.Decimal `json:"rate"`
	Amount   decimal.Decimal `json:"amount"`
	Fee      decimal.Decimal `json:"fee"` // a percentage, not an absolute amount
}

type rawLoan struct {
	Open     string          `json:"open"`
	Close    string          `json:"close"`
	Currency string          `json:"currency"`
	Fee      decimal.Decimal `json:"fee"`
	Earned   decimal.Decimal `json:"earned"`
	Amount   decimal.Decimal `json:"amount"`
}

type rawMovement struct {
	Timestamp int64           `json:"timestamp"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
}

type document struct {
	Trades      map[string][]rawTrade `json:"trades"`
	Loans       []rawLoan             `json:"loans"`
	Deposits    []rawMovement         `json:"deposits"`
	Withdrawals []rawMovement         `json:"withdrawals"`
}

// Parser reads a poloniex account export. Rows naming assets outside the
// canonical universe are skipped with a warning, matching how the engine
// treats them.
type Parser struct {
	resolver *assets.Resolver
	msgs     *messages.Aggregator
}

func NewParser(resolver *assets.Resolver, msgs *messages.Aggregator) *Parser {
	return &Parser{resolver: resolver, msgs: msgs}
}

func (p *Parser) Parse(file io.Reader) (models.History, error) {
	var doc document
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return models.History{}, fmt.Errorf("failed to decode poloniex export: %w", err)
	}

	var history models.History
	for pair, rawTrades := range doc.Trades {
		for _, raw := range rawTrades {
			trade, err := p.convertTrade(pair, raw)
			if err != nil {
				p.skipRow(fmt.Sprintf("trade in pair %s", pair), err)
				continue
			}
			history.Trades = append(history.Trades, trade)
		}
	}
	for _, raw := range doc.Loans {
		loan, err := p.convertLoan(raw)
		if err != nil {
			p.skipRow(fmt.Sprintf("loan of %s", raw.Currency), err)
			continue
		}
		history.Loans = append(history.Loans, loan)
	}
	for _, raw := range doc.Withdrawals {
		movement, err := p.convertMovement(raw, models.MovementWithdrawal)
		if err != nil {
			p.skipRow(fmt.Sprintf("withdrawal of %s", raw.Currency), err)
			continue
		}
		history.AssetMovements = append(history.AssetMovements, movement)
	}
	for _, raw := range doc.Deposits {
		movement, err := p.convertMovement(raw, models.MovementDeposit)
		if err != nil {
			p.skipRow(fmt.Sprintf("deposit of %s", raw.Currency), err)
			continue
		}
		history.AssetMovements = append(history.AssetMovements, movement)
	}
	return history, nil
}

func (p *Parser) skipRow(what string, err error) {
	logger.L.Warn("Skipping poloniex row", "row", what, "error", err)
	if errors.Is(err, assets.ErrUnknownAsset) || errors.Is(err, assets.ErrUnsupportedAsset) {
		p.msgs.AddWarning(fmt.Sprintf("Found poloniex %s with an asset outside the known universe. Ignoring it.", what))
		return
	}
	p.msgs.AddError(fmt.Sprintf("Deserialization error while reading a poloniex %s. Ignoring it.", what))
}

// convertTrade turns a poloniex trade into canonical form. Poloniex pairs
// are COST_TRADED: in BTC_ETH you buy ETH with BTC and sell ETH for BTC. The
// canonical convention is BASE_QUOTE with amounts in the base, so the pair
// is inverted. The reported fee is a percentage: for buys it applies to the
// traded amount, for sells to the cost.
func (p *Parser) convertTrade(pair string, raw rawTrade) (models.Trade, error) {
	parts := strings.Split(pair, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return models.Trade{}, fmt.Errorf("%w: bad poloniex pair %q", models.ErrMalformedEvent, pair)
	}
	costAsset, err := p.resolver.ResolveFromExchange("poloniex", parts[0])
	if err != nil {
		return models.Trade{}, err
	}
	tradedAsset, err := p.resolver.ResolveFromExchange("poloniex", parts[1])
	if err != nil {
		return models.Trade{}, err
	}

	ts, err := parsePoloniexDate(raw.Date)
	if err != nil {
		return models.Trade{}, err
	}

	tradeType, err := models.ParseTradeType(raw.Type)
	if err != nil {
		return models.Trade{}, err
	}

	cost := raw.Rate.Mul(raw.Amount)
	var fee decimal.Decimal
	var feeCurrency string
	switch tradeType {
	case models.TradeTypeBuy:
		fee = raw.Amount.Mul(raw.Fee)
		feeCurrency = tradedAsset.Identifier()
	case models.TradeTypeSell:
		fee = cost.Mul(raw.Fee)
		feeCurrency = costAsset.Identifier()
	default:
		return models.Trade{}, fmt.Errorf("%w: unexpected poloniex trade type %q", models.ErrMalformedEvent, raw.Type)
	}

	if raw.Category == "settlement" {
		if tradeType == models.TradeTypeBuy {
			tradeType = models.TradeTypeSettlementBuy
		} else {
			tradeType = models.TradeTypeSettlementSell
		}
	}

	return models.Trade{
		Timestamp:   ts,
		Pair:        tradedAsset.Identifier() + "_" + costAsset.Identifier(),
		Type:        tradeType,
		Amount:      raw.Amount,
		Rate:        raw.Rate,
		Fee:         fee,
		FeeCurrency: feeCurrency,
		Location:    "poloniex",
	}, nil
}

func (p *Parser) convertLoan(raw rawLoan) (models.Loan, error) {
	asset, err := p.resolver.ResolveFromExchange("poloniex", raw.Currency)
	if err != nil {
		return models.Loan{}, err
	}
	openTs, err := parsePoloniexDate(raw.Open)
	if err != nil {
		return models.Loan{}, err
	}
	closeTs, err := parsePoloniexDate(raw.Close)
	if err != nil {
		return models.Loan{}, err
	}
	return models.Loan{
		OpenTime:   openTs,
		CloseTime:  closeTs,
		Currency:   asset.Identifier(),
		Fee:        raw.Fee,
		Earned:     raw.Earned,
		AmountLent: raw.Amount,
	}, nil
}

func (p *Parser) convertMovement(raw rawMovement, category models.MovementCategory) (models.AssetMovement, error) {
	asset, err := p.resolver.ResolveFromExchange("poloniex", raw.Currency)
	if err != nil {
		return models.AssetMovement{}, err
	}
	fee := raw.Fee
	if category == models.MovementDeposit {
		// Deposits never carry a taxable fee.
		fee = decimal.Zero
	}
	return models.AssetMovement{
		Exchange:  "poloniex",
		Category:  category,
		Timestamp: raw.Timestamp,
		Asset:     asset.Identifier(),
		Amount:    raw.Amount,
		Fee:       fee,
	}, nil
}

func parsePoloniexDate(value string) (int64, error) {
	t, err := time.Parse(poloniexDateLayout, value)
	if err != nil {
		return 0, fmt.Errorf("%w: bad poloniex date %q", models.ErrMalformedEvent, value)
	}
	return t.Unix(), nil
}
