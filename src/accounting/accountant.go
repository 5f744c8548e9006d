package accounting

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/username/coinfolio/backend/src/assets"
	"github.com/username/coinfolio/backend/src/logger"
	"github.com/username/coinfolio/backend/src/messages"
	"github.com/username/coinfolio/backend/src/models"
	"github.com/username/coinfolio/backend/src/pricing"
)

// Settings is the per-run accounting configuration.
type Settings struct {
	ProfitCurrency       assets.Asset
	TaxfreeAfterPeriod   int64 // seconds; 0 means every disposal is taxable
	IncludeCrypto2Crypto bool
	IncludeGasCosts      bool
	IgnoredAssets        map[string]struct{}
}

// Totals is the running accumulator updated one event at a time.
type Totals struct {
	GeneralTradeProfitLoss      decimal.Decimal
	TaxableTradeProfitLoss      decimal.Decimal
	LoanProfit                  decimal.Decimal
	SettlementLosses            decimal.Decimal
	AssetMovementFees           decimal.Decimal
	EthereumTransactionGasCosts decimal.Decimal
	MarginPositionsProfitLoss   decimal.Decimal
}

func newTotals() Totals {
	return Totals{
		GeneralTradeProfitLoss:      decimal.Zero,
		TaxableTradeProfitLoss:      decimal.Zero,
		LoanProfit:                  decimal.Zero,
		SettlementLosses:            decimal.Zero,
		AssetMovementFees:           decimal.Zero,
		EthereumTransactionGasCosts: decimal.Zero,
		MarginPositionsProfitLoss:   decimal.Zero,
	}
}

// Accountant drives the cost-basis computation over a merged, time-ordered
// event stream. It is constructed once per report run; collaborators (price
// oracle, asset resolver, message aggregator) are injected rather than
// looked up globally so runs are deterministic and testable.
type Accountant struct {
	settings Settings
	oracle   pricing.Oracle
	resolver *assets.Resolver
	msgs     *messages.Aggregator

	ledgers map[string]*AssetLedger
	totals  Totals

	startTs int64
	endTs   int64

	startedProcessingTimestamp   int64
	currentlyProcessingTimestamp int64
}

func NewAccountant(settings Settings, oracle pricing.Oracle, resolver *assets.Resolver, msgs *messages.Aggregator) *Accountant {
	return &Accountant{
		settings: settings,
		oracle:   oracle,
		resolver: resolver,
		msgs:     msgs,
		ledgers:  make(map[string]*AssetLedger),
		totals:   newTotals(),
	}
}

// StartedProcessingTimestamp is the timestamp of the first event seen.
func (a *Accountant) StartedProcessingTimestamp() int64 { return a.startedProcessingTimestamp }

// CurrentlyProcessingTimestamp is the timestamp of the most recent event
// seen before the end of the query window.
func (a *Accountant) CurrentlyProcessingTimestamp() int64 { return a.currentlyProcessingTimestamp }

// Ledgers exposes the per-asset cost-basis state, for per-asset detail.
func (a *Accountant) Ledgers() map[string]*AssetLedger { return a.ledgers }

// Settings returns the run configuration.
func (a *Accountant) Settings() Settings { return a.settings }

// event kind priority for same-timestamp ordering. Any consistent total
// order works; this one keeps runs deterministic.
const (
	kindTrade = iota
	kindMargin
	kindLoan
	kindMovement
	kindGas
)

type timedEvent struct {
	timestamp int64
	kind      int
	index     int
}

// ProcessHistory runs the state machine over the full history and produces
// the report for [startTs, endTs]. History must always include everything
// from time zero: events before startTs still shape the ledger so cost basis
// carries into the window; events after endTs are never touched.
func (a *Accountant) ProcessHistory(history models.History, startTs, endTs int64) (*Report, error) {
	a.startTs = startTs
	a.endTs = endTs
	a.ledgers = make(map[string]*AssetLedger)
	a.totals = newTotals()
	a.startedProcessingTimestamp = 0
	a.currentlyProcessingTimestamp = 0

	merged := make([]timedEvent, 0,
		len(history.Trades)+len(history.MarginPositions)+len(history.Loans)+
			len(history.AssetMovements)+len(history.EthTransactions))
	for i, t := range history.Trades {
		merged = append(merged, timedEvent{t.Timestamp, kindTrade, i})
	}
	for i, m := range history.MarginPositions {
		merged = append(merged, timedEvent{m.CloseTime, kindMargin, i})
	}
	for i, l := range history.Loans {
		merged = append(merged, timedEvent{l.CloseTime, kindLoan, i})
	}
	for i, m := range history.AssetMovements {
		merged = append(merged, timedEvent{m.Timestamp, kindMovement, i})
	}
	for i, e := range history.EthTransactions {
		merged = append(merged, timedEvent{e.Timestamp, kindGas, i})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].timestamp != merged[j].timestamp {
			return merged[i].timestamp < merged[j].timestamp
		}
		return merged[i].kind < merged[j].kind
	})

	for _, ev := range merged {
		if ev.timestamp > endTs {
			break
		}
		if a.startedProcessingTimestamp == 0 {
			a.startedProcessingTimestamp = ev.timestamp
		}
		a.currentlyProcessingTimestamp = ev.timestamp

		var err error
		switch ev.kind {
		case kindTrade:
			err = a.processTrade(history.Trades[ev.index])
		case kindMargin:
			err = a.processMarginPosition(history.MarginPositions[ev.index])
		case kindLoan:
			err = a.processLoan(history.Loans[ev.index])
		case kindMovement:
			err = a.processAssetMovement(history.AssetMovements[ev.index])
		case kindGas:
			err = a.processEthTransaction(history.EthTransactions[ev.index])
		}
		if err != nil {
			// Recoverable failures are funneled into the aggregator by the
			// processors themselves; anything surfacing here is structural.
			return nil, err
		}
	}

	report := a.BuildReport()
	return report, nil
}

// inWindow reports whether an event at ts contributes to the requested
// reporting window. Events before the window still mutate the ledger.
func (a *Accountant) inWindow(ts int64) bool {
	return ts >= a.startTs
}

func (a *Accountant) ledgerFor(asset assets.Asset) *AssetLedger {
	ledger, ok := a.ledgers[asset.Identifier()]
	if !ok {
		ledger = NewAssetLedger(asset)
		a.ledgers[asset.Identifier()] = ledger
	}
	return ledger
}

func (a *Accountant) isIgnored(identifier string) bool {
	_, ok := a.settings.IgnoredAssets[identifier]
	return ok
}

// rateInProfitCurrency prices one unit of asset in the profit currency.
func (a *Accountant) rateInProfitCurrency(asset assets.Asset, ts int64) (decimal.Decimal, error) {
	if asset.Identifier() == a.settings.ProfitCurrency.Identifier() {
		return decimal.NewFromInt(1), nil
	}
	return a.oracle.HistoricalRate(asset, a.settings.ProfitCurrency, ts)
}

// skipRecoverable classifies an error against the recoverable taxonomy. When
// recoverable it records the appropriate message and returns true; the
// caller then drops the event and carries on.
func (a *Accountant) skipRecoverable(err error, what string, ts int64) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, pricing.ErrPriceNotFound):
		a.msgs.AddError(fmt.Sprintf(
			"Skipping %s at time %d during history processing due to inability to find a price at that point in time",
			what, ts))
		return true, nil
	case errors.Is(err, assets.ErrUnsupportedAsset):
		a.msgs.AddError(fmt.Sprintf(
			"Skipping %s at time %d during history processing due to an unsupported asset being involved",
			what, ts))
		return true, nil
	case errors.Is(err, assets.ErrUnknownAsset):
		a.msgs.AddError(fmt.Sprintf(
			"Skipping %s at time %d during history processing due to an unknown asset being involved",
			what, ts))
		return true, nil
	case errors.Is(err, models.ErrMalformedEvent):
		a.msgs.AddError(fmt.Sprintf(
			"Skipping malformed %s at time %d during history processing: %s", what, ts, err))
		return true, nil
	default:
		// Invariant violation or logic bug: abort rather than silently
		// produce a wrong number.
		return false, err
	}
}

func (a *Accountant) processTrade(trade models.Trade) error {
	what := fmt.Sprintf("trade with pair %s", trade.Pair)

	err := a.handleTrade(trade)
	if skipped, fatal := a.skipRecoverable(err, what, trade.Timestamp); fatal != nil {
		return fatal
	} else if skipped {
		logger.L.Warn("Skipped trade during history processing", "pair", trade.Pair, "timestamp", trade.Timestamp, "error", err)
	}
	return nil
}

func (a *Accountant) handleTrade(trade models.Trade) error {
	if err := trade.Validate(); err != nil {
		return err
	}
	baseID, quoteID, err := trade.BaseQuote()
	if err != nil {
		return err
	}
	if a.isIgnored(baseID) || a.isIgnored(quoteID) {
		logger.L.Debug("Ignoring trade with ignored asset", "pair", trade.Pair, "timestamp", trade.Timestamp)
		return nil
	}

	base, err := a.resolver.Resolve(baseID)
	if err != nil {
		return err
	}
	quote, err := a.resolver.Resolve(quoteID)
	if err != nil {
		return err
	}

	if !a.settings.IncludeCrypto2Crypto && base.IsCrypto() && quote.IsCrypto() {
		logger.L.Debug("Ignoring crypto to crypto trade per settings", "pair", trade.Pair, "timestamp", trade.Timestamp)
		return nil
	}

	// Resolve every price the event needs up front, so a missing price
	// skips the event atomically without half-mutated ledger state.
	quoteRate, err := a.rateInProfitCurrency(quote, trade.Timestamp)
	if err != nil {
		return err
	}
	feeCost := decimal.Zero
	if trade.Fee.IsPositive() {
		feeAsset, err := a.resolver.Resolve(trade.FeeCurrency)
		if err != nil {
			return err
		}
		feeRate, err := a.rateInProfitCurrency(feeAsset, trade.Timestamp)
		if err != nil {
			return err
		}
		feeCost = trade.Fee.Mul(feeRate)
	}

	switch trade.Type {
	case models.TradeTypeBuy, models.TradeTypeSettlementBuy:
		return a.addBuy(buyParams{
			bought:       base,
			boughtAmount: trade.Amount,
			paidWith:     quote,
			tradeRate:    trade.Rate,
			paidWithRate: quoteRate,
			feeCost:      feeCost,
			timestamp:    trade.Timestamp,
			settlement:   trade.Type == models.TradeTypeSettlementBuy,
		})

	case models.TradeTypeSell, models.TradeTypeSettlementSell:
		// The lot created for the receiving crypto leg is priced through the
		// sold asset, so that rate is needed before any mutation too.
		baseRate := decimal.Zero
		if quote.IsCrypto() {
			baseRate, err = a.rateInProfitCurrency(base, trade.Timestamp)
			if err != nil {
				return err
			}
		}
		return a.addSell(sellParams{
			selling:       base,
			sellingAmount: trade.Amount,
			sellingRate:   trade.Rate.Mul(quoteRate),
			receiving:     quote,
			receivingRate: baseRate,
			tradeRate:     trade.Rate,
			feeCost:       feeCost,
			timestamp:     trade.Timestamp,
			settlement:    trade.Type == models.TradeTypeSettlementSell,
		})
	}
	return fmt.Errorf("%w: unhandled trade type %q", models.ErrMalformedEvent, trade.Type)
}

type buyParams struct {
	bought       assets.Asset
	boughtAmount decimal.Decimal
	paidWith     assets.Asset
	tradeRate    decimal.Decimal // paidWith units per bought unit
	paidWithRate decimal.Decimal // profit currency per paidWith unit
	feeCost      decimal.Decimal // already in profit currency
	timestamp    int64
	settlement   bool
	virtual      bool
}

// addBuy appends a lot for the bought asset. Paying with a crypto asset is
// also a disposal of that asset, processed as a virtual sell. The trade fee
// both inflates the new lot's cost and reduces the virtual disposal's gain:
// that is how the reference implementation accounts it.
func (a *Accountant) addBuy(p buyParams) error {
	buyRate := p.tradeRate.Mul(p.paidWithRate)
	a.ledgerFor(p.bought).AddLot(p.boughtAmount, buyRate, p.feeCost, p.timestamp)

	logger.L.Debug("Processed buy",
		"asset", p.bought.Identifier(),
		"amount", p.boughtAmount,
		"rate", buyRate,
		"timestamp", p.timestamp,
		"virtual", p.virtual)

	if p.paidWith.IsCrypto() && !p.virtual {
		soldAmount := p.boughtAmount.Mul(p.tradeRate)
		// The needed price is already resolved; if the virtual sell still
		// fails it is a ledger invariant violation and aborts the run.
		return a.addSell(sellParams{
			selling:       p.paidWith,
			sellingAmount: soldAmount,
			sellingRate:   p.paidWithRate,
			receiving:     p.bought,
			tradeRate:     p.tradeRate,
			feeCost:       p.feeCost,
			timestamp:     p.timestamp,
			settlement:    p.settlement,
			virtual:       true,
		})
	}
	return nil
}

type sellParams struct {
	selling       assets.Asset
	sellingAmount decimal.Decimal
	sellingRate   decimal.Decimal // profit currency per sold unit
	receiving     assets.Asset
	receivingRate decimal.Decimal // profit currency per sold unit's asset, for the virtual lot
	tradeRate     decimal.Decimal
	feeCost       decimal.Decimal
	timestamp     int64
	settlement    bool
	virtual       bool
}

// addSell disposes of the sold asset FIFO and accumulates either trade
// profit/loss or, for settlements, the settlement loss bucket. Receiving a
// crypto asset in exchange is an acquisition, processed as a virtual buy.
func (a *Accountant) addSell(p sellParams) error {
	if p.selling.IsFiat() {
		// Fiat disposals carry no cost basis in this model.
		logger.L.Debug("Skipping fiat disposal", "asset", p.selling.Identifier(), "timestamp", p.timestamp)
		return nil
	}

	grossGain := p.sellingAmount.Mul(p.sellingRate)
	ledger := a.ledgerFor(p.selling)
	result, err := ledger.Consume(p.sellingAmount, p.timestamp, a.settings.TaxfreeAfterPeriod)
	if err != nil {
		return err
	}
	if result.ShortfallAmount.IsPositive() {
		a.msgs.AddWarning(fmt.Sprintf(
			"No documented acquisition found for %s %s sold at time %d; the missing amount is accounted with zero cost basis",
			result.ShortfallAmount, p.selling.Identifier(), p.timestamp))
	}

	contributes := a.inWindow(p.timestamp)

	if p.settlement {
		loss := grossGain.Add(p.feeCost)
		if contributes {
			a.totals.SettlementLosses = a.totals.SettlementLosses.Add(loss)
		}
		logger.L.Debug("Processed settlement disposal",
			"asset", p.selling.Identifier(),
			"amount", p.sellingAmount,
			"loss", loss,
			"timestamp", p.timestamp)
	} else {
		netGain := grossGain.Sub(p.feeCost)
		if contributes {
			profit := netGain.Sub(result.TotalCost)
			a.totals.GeneralTradeProfitLoss = a.totals.GeneralTradeProfitLoss.Add(profit)

			taxableGain := netGain.Mul(result.TaxableAmount).Div(p.sellingAmount)
			taxableProfit := taxableGain.Sub(result.TaxableCost)
			a.totals.TaxableTradeProfitLoss = a.totals.TaxableTradeProfitLoss.Add(taxableProfit)

			logger.L.Debug("Processed sell",
				"asset", p.selling.Identifier(),
				"amount", p.sellingAmount,
				"profit", profit,
				"taxableProfit", taxableProfit,
				"timestamp", p.timestamp,
				"virtual", p.virtual)
		}
	}

	if p.receiving.IsCrypto() && !p.virtual && p.tradeRate.IsPositive() {
		return a.addBuy(buyParams{
			bought:       p.receiving,
			boughtAmount: p.sellingAmount.Mul(p.tradeRate),
			paidWith:     p.selling,
			tradeRate:    decimal.NewFromInt(1).Div(p.tradeRate),
			paidWithRate: p.receivingRate,
			feeCost:      p.feeCost,
			timestamp:    p.timestamp,
			virtual:      true,
		})
	}
	return nil
}

func (a *Accountant) processLoan(loan models.Loan) error {
	what := fmt.Sprintf("loan of %s", loan.Currency)
	err := a.handleLoan(loan)
	if skipped, fatal := a.skipRecoverable(err, what, loan.CloseTime); fatal != nil {
		return fatal
	} else if skipped {
		logger.L.Warn("Skipped loan during history processing", "currency", loan.Currency, "closeTime", loan.CloseTime, "error", err)
	}
	return nil
}

func (a *Accountant) handleLoan(loan models.Loan) error {
	if err := loan.Validate(); err != nil {
		return err
	}
	if a.isIgnored(loan.Currency) {
		return nil
	}
	if !a.inWindow(loan.CloseTime) {
		return nil
	}
	currency, err := a.resolver.Resolve(loan.Currency)
	if err != nil {
		return err
	}
	rate, err := a.rateInProfitCurrency(currency, loan.CloseTime)
	if err != nil {
		return err
	}
	profit := loan.Earned.Sub(loan.Fee).Mul(rate)
	a.totals.LoanProfit = a.totals.LoanProfit.Add(profit)
	logger.L.Debug("Processed loan", "currency", loan.Currency, "profit", profit, "closeTime", loan.CloseTime)
	return nil
}

func (a *Accountant) processAssetMovement(movement models.AssetMovement) error {
	what := fmt.Sprintf("%s of %s", movement.Category, movement.Asset)
	err := a.handleAssetMovement(movement)
	if skipped, fatal := a.skipRecoverable(err, what, movement.Timestamp); fatal != nil {
		return fatal
	} else if skipped {
		logger.L.Warn("Skipped asset movement during history processing", "asset", movement.Asset, "timestamp", movement.Timestamp, "error", err)
	}
	return nil
}

func (a *Accountant) handleAssetMovement(movement models.AssetMovement) error {
	if err := movement.Validate(); err != nil {
		return err
	}
	// Deposits carry no profit/loss effect; any reported fee is forced to
	// zero rather than trusted.
	if movement.Category == models.MovementDeposit {
		return nil
	}
	if a.isIgnored(movement.Asset) {
		return nil
	}
	if !movement.Fee.IsPositive() {
		return nil
	}
	if !a.inWindow(movement.Timestamp) {
		return nil
	}
	asset, err := a.resolver.Resolve(movement.Asset)
	if err != nil {
		return err
	}
	rate, err := a.rateInProfitCurrency(asset, movement.Timestamp)
	if err != nil {
		return err
	}
	fee := movement.Fee.Mul(rate)
	a.totals.AssetMovementFees = a.totals.AssetMovementFees.Add(fee)
	logger.L.Debug("Processed withdrawal fee", "asset", movement.Asset, "fee", fee, "timestamp", movement.Timestamp)
	return nil
}

var weiPerEth = decimal.New(1, 18)

func (a *Accountant) processEthTransaction(tx models.EthTransaction) error {
	err := a.handleEthTransaction(tx)
	if skipped, fatal := a.skipRecoverable(err, "ethereum transaction", tx.Timestamp); fatal != nil {
		return fatal
	} else if skipped {
		logger.L.Warn("Skipped ethereum transaction during history processing", "timestamp", tx.Timestamp, "error", err)
	}
	return nil
}

func (a *Accountant) handleEthTransaction(tx models.EthTransaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if !a.settings.IncludeGasCosts {
		return nil
	}
	if !a.inWindow(tx.Timestamp) {
		return nil
	}
	eth, err := a.resolver.Resolve("ETH")
	if err != nil {
		return err
	}
	rate, err := a.rateInProfitCurrency(eth, tx.Timestamp)
	if err != nil {
		return err
	}
	gasEth := decimal.NewFromInt(tx.GasPrice).Mul(decimal.NewFromInt(tx.GasUsed)).Div(weiPerEth)
	cost := gasEth.Mul(rate)
	a.totals.EthereumTransactionGasCosts = a.totals.EthereumTransactionGasCosts.Add(cost)
	logger.L.Debug("Processed ethereum transaction gas cost", "cost", cost, "timestamp", tx.Timestamp)
	return nil
}

func (a *Accountant) processMarginPosition(position models.MarginPosition) error {
	what := fmt.Sprintf("margin position in %s", position.PLCurrency)
	err := a.handleMarginPosition(position)
	if skipped, fatal := a.skipRecoverable(err, what, position.CloseTime); fatal != nil {
		return fatal
	} else if skipped {
		logger.L.Warn("Skipped margin position during history processing", "plCurrency", position.PLCurrency, "closeTime", position.CloseTime, "error", err)
	}
	return nil
}

func (a *Accountant) handleMarginPosition(position models.MarginPosition) error {
	if err := position.Validate(); err != nil {
		return err
	}
	if a.isIgnored(position.PLCurrency) {
		return nil
	}
	currency, err := a.resolver.Resolve(position.PLCurrency)
	if err != nil {
		return err
	}
	rate, err := a.rateInProfitCurrency(currency, position.CloseTime)
	if err != nil {
		return err
	}

	// The realized amount enters or leaves the pl-currency ledger even when
	// the close predates the window, so later cost basis stays correct.
	if position.ProfitLoss.IsPositive() {
		a.ledgerFor(currency).AddLot(position.ProfitLoss, rate, decimal.Zero, position.CloseTime)
	} else if position.ProfitLoss.IsNegative() {
		result, err := a.ledgerFor(currency).Consume(position.ProfitLoss.Neg(), position.CloseTime, a.settings.TaxfreeAfterPeriod)
		if err != nil {
			return err
		}
		if result.ShortfallAmount.IsPositive() {
			a.msgs.AddWarning(fmt.Sprintf(
				"No documented acquisition found for %s %s lost in a margin position at time %d",
				result.ShortfallAmount, position.PLCurrency, position.CloseTime))
		}
	}

	if a.inWindow(position.CloseTime) {
		pl := position.ProfitLoss.Mul(rate)
		a.totals.MarginPositionsProfitLoss = a.totals.MarginPositionsProfitLoss.Add(pl)
		logger.L.Debug("Processed margin position", "plCurrency", position.PLCurrency, "profitLoss", pl, "closeTime", position.CloseTime)
	}
	return nil
}
