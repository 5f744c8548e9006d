package accounting

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/username/coinfolio/backend/src/logger"
	"github.com/username/coinfolio/backend/src/pricing"
)

// Overview is the totals section of a finished report. All amounts are in
// the profit currency.
type Overview struct {
	LoanProfit                  decimal.Decimal `json:"loan_profit"`
	MarginPositionsProfitLoss   decimal.Decimal `json:"margin_positions_profit_loss"`
	SettlementLosses            decimal.Decimal `json:"settlement_losses"`
	EthereumTransactionGasCosts decimal.Decimal `json:"ethereum_transaction_gas_costs"`
	AssetMovementFees           decimal.Decimal `json:"asset_movement_fees"`
	GeneralTradeProfitLoss      decimal.Decimal `json:"general_trade_profit_loss"`
	TaxableTradeProfitLoss      decimal.Decimal `json:"taxable_trade_profit_loss"`
	TotalTaxableProfitLoss      decimal.Decimal `json:"total_taxable_profit_loss"`
	TotalProfitLoss             decimal.Decimal `json:"total_profit_loss"`
}

// AssetDetail is the per-asset holdings section of a finished report.
type AssetDetail struct {
	Asset                  string          `json:"asset"`
	RemainingAmount        decimal.Decimal `json:"remaining_amount"`
	TaxfreeRemainingAmount decimal.Decimal `json:"taxfree_remaining_amount"`
	AverageBuyValue        decimal.Decimal `json:"average_buy_value"`
	// PercentChange is the change of the current price against the average
	// buy value. A zero average buy value always yields "INF", even without
	// a current price; otherwise it stays empty when no price is available.
	PercentChange string `json:"percent_change,omitempty"`
}

// Report is the finished output of one accounting run.
type Report struct {
	Overview                     Overview      `json:"overview"`
	PerAsset                     []AssetDetail `json:"per_asset"`
	StartTs                      int64         `json:"start_ts"`
	EndTs                        int64         `json:"end_ts"`
	StartedProcessingTimestamp   int64         `json:"started_processing_timestamp"`
	CurrentlyProcessingTimestamp int64         `json:"currently_processing_timestamp"`
	Warnings                     []string      `json:"warnings"`
	Errors                       []string      `json:"errors"`
}

// BuildReport assembles the report from the accountant's current state.
// Ledger state and totals are read, never mutated. Accumulated warnings and
// errors are CONSUMED into the report: a second call returns the same totals
// but empty message lists, so build the report once per run.
func (a *Accountant) BuildReport() *Report {
	t := a.totals
	sumOther := t.LoanProfit.
		Add(t.MarginPositionsProfitLoss).
		Sub(t.SettlementLosses).
		Sub(t.AssetMovementFees).
		Sub(t.EthereumTransactionGasCosts)

	overview := Overview{
		LoanProfit:                  t.LoanProfit,
		MarginPositionsProfitLoss:   t.MarginPositionsProfitLoss,
		SettlementLosses:            t.SettlementLosses,
		EthereumTransactionGasCosts: t.EthereumTransactionGasCosts,
		AssetMovementFees:           t.AssetMovementFees,
		GeneralTradeProfitLoss:      t.GeneralTradeProfitLoss,
		TaxableTradeProfitLoss:      t.TaxableTradeProfitLoss,
		TotalProfitLoss:             t.GeneralTradeProfitLoss.Add(sumOther),
		TotalTaxableProfitLoss:      t.TaxableTradeProfitLoss.Add(sumOther),
	}

	report := &Report{
		Overview:                     overview,
		PerAsset:                     a.assetDetails(nil),
		StartTs:                      a.startTs,
		EndTs:                        a.endTs,
		StartedProcessingTimestamp:   a.startedProcessingTimestamp,
		CurrentlyProcessingTimestamp: a.currentlyProcessingTimestamp,
		Warnings:                     a.msgs.ConsumeWarnings(),
		Errors:                       a.msgs.ConsumeErrors(),
	}
	logger.L.Info("Assembled accounting report",
		"totalProfitLoss", overview.TotalProfitLoss,
		"totalTaxableProfitLoss", overview.TotalTaxableProfitLoss,
		"warnings", len(report.Warnings),
		"errors", len(report.Errors))
	return report
}

// AssetDetails computes the per-asset holdings view, optionally enriched
// with a percent change against current market prices.
func (a *Accountant) AssetDetails(pricer pricing.CurrentPricer) []AssetDetail {
	return a.assetDetails(pricer)
}

func (a *Accountant) assetDetails(pricer pricing.CurrentPricer) []AssetDetail {
	hundred := decimal.NewFromInt(100)
	details := make([]AssetDetail, 0, len(a.ledgers))
	for identifier, ledger := range a.ledgers {
		remaining := ledger.Remaining()
		if remaining.IsZero() {
			continue
		}
		detail := AssetDetail{
			Asset:           identifier,
			RemainingAmount: remaining,
			TaxfreeRemainingAmount: ledger.TaxfreeRemaining(
				a.currentlyProcessingTimestamp, a.settings.TaxfreeAfterPeriod),
			AverageBuyValue: ledger.RemainingCost().Div(remaining),
		}
		if detail.AverageBuyValue.IsZero() {
			// Zero cost basis: any price is an infinite gain, no division
			// and no current price needed.
			detail.PercentChange = "INF"
		} else if pricer != nil {
			current, err := pricer.CurrentRate(ledger.Asset(), a.settings.ProfitCurrency)
			if err != nil {
				logger.L.Warn("No current price for asset detail", "asset", identifier, "error", err)
			} else {
				detail.PercentChange = current.Sub(detail.AverageBuyValue).
					Div(detail.AverageBuyValue).Mul(hundred).StringFixed(2)
			}
		}
		details = append(details, detail)
	}
	sort.Slice(details, func(i, j int) bool { return details[i].Asset < details[j].Asset })
	return details
}
