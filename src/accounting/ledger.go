package accounting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/username/coinfolio/backend/src/assets"
)

// BuyLot is one acquisition of an asset. Rate is the cost per unit in the
// profit currency at acquisition time; FeeCost is the total fee attributed
// to the lot, also in profit currency. Consumed lots keep their record with
// Remaining at zero for audit purposes.
type BuyLot struct {
	Amount    decimal.Decimal
	Remaining decimal.Decimal
	Rate      decimal.Decimal
	FeeCost   decimal.Decimal
	Timestamp int64
}

// Consumption describes one lot's contribution to a disposal.
type Consumption struct {
	AmountTaken decimal.Decimal
	Rate        decimal.Decimal
	FeeCost     decimal.Decimal // proportional share of the lot's fee cost
	Timestamp   int64
	Taxable     bool
}

// ConsumptionResult aggregates a FIFO consume across lots. Cost figures
// include the proportional fee share of each touched lot.
type ConsumptionResult struct {
	Entries         []Consumption
	TotalCost       decimal.Decimal
	TaxableCost     decimal.Decimal
	TaxfreeCost     decimal.Decimal
	TaxableAmount   decimal.Decimal
	TaxfreeAmount   decimal.Decimal
	ShortfallAmount decimal.Decimal // acquired-before-history portion, costed at zero
}

// AssetLedger tracks the open buy lots of a single asset in acquisition
// order. Insertion order is FIFO order: events are processed in ascending
// timestamp order, so appending preserves it.
type AssetLedger struct {
	asset       assets.Asset
	lots        []*BuyLot
	totalBought decimal.Decimal
	totalSold   decimal.Decimal
}

func NewAssetLedger(asset assets.Asset) *AssetLedger {
	return &AssetLedger{asset: asset}
}

func (l *AssetLedger) Asset() assets.Asset { return l.asset }

// AddLot appends a new acquisition. Amounts are assumed validated upstream.
func (l *AssetLedger) AddLot(amount, rate, feeCost decimal.Decimal, timestamp int64) {
	l.lots = append(l.lots, &BuyLot{
		Amount:    amount,
		Remaining: amount,
		Rate:      rate,
		FeeCost:   feeCost,
		Timestamp: timestamp,
	})
	l.totalBought = l.totalBought.Add(amount)
}

// Remaining returns the total un-consumed amount across all lots.
func (l *AssetLedger) Remaining() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.lots {
		total = total.Add(lot.Remaining)
	}
	return total
}

// Lots returns the ledger's lots, consumed ones included.
func (l *AssetLedger) Lots() []*BuyLot { return l.lots }

// Consume removes amount units oldest-first. A lot is taxable when held
// shorter than taxfreeAfterSecs at the disposal timestamp; a zero period
// means every disposal is taxable. If the ledger cannot cover the requested
// amount the shortfall is treated as acquired at zero cost: the common case
// of a lot predating tracked history. Callers surface that as a data-quality
// warning, not an error.
func (l *AssetLedger) Consume(amount decimal.Decimal, timestamp int64, taxfreeAfterSecs int64) (ConsumptionResult, error) {
	result := ConsumptionResult{
		TotalCost:       decimal.Zero,
		TaxableCost:     decimal.Zero,
		TaxfreeCost:     decimal.Zero,
		TaxableAmount:   decimal.Zero,
		TaxfreeAmount:   decimal.Zero,
		ShortfallAmount: decimal.Zero,
	}
	if !amount.IsPositive() {
		return result, fmt.Errorf("ledger %s: consume amount must be positive, got %s", l.asset, amount)
	}

	remaining := amount
	for _, lot := range l.lots {
		if !remaining.IsPositive() {
			break
		}
		if !lot.Remaining.IsPositive() {
			if lot.Remaining.IsNegative() {
				// Never legal; indicates a bug rather than bad input data.
				return result, fmt.Errorf("ledger %s: lot at %d has negative remaining %s", l.asset, lot.Timestamp, lot.Remaining)
			}
			continue
		}

		taken := decimal.Min(remaining, lot.Remaining)
		feeShare := decimal.Zero
		if !lot.FeeCost.IsZero() {
			feeShare = taken.Div(lot.Amount).Mul(lot.FeeCost)
		}
		cost := taken.Mul(lot.Rate).Add(feeShare)
		taxable := isTaxable(timestamp, lot.Timestamp, taxfreeAfterSecs)

		result.Entries = append(result.Entries, Consumption{
			AmountTaken: taken,
			Rate:        lot.Rate,
			FeeCost:     feeShare,
			Timestamp:   lot.Timestamp,
			Taxable:     taxable,
		})
		result.TotalCost = result.TotalCost.Add(cost)
		if taxable {
			result.TaxableCost = result.TaxableCost.Add(cost)
			result.TaxableAmount = result.TaxableAmount.Add(taken)
		} else {
			result.TaxfreeCost = result.TaxfreeCost.Add(cost)
			result.TaxfreeAmount = result.TaxfreeAmount.Add(taken)
		}

		lot.Remaining = lot.Remaining.Sub(taken)
		remaining = remaining.Sub(taken)
	}

	if remaining.IsPositive() {
		// Zero-cost fallback: the missing part counts as taxable with no
		// basis, deliberately undercounting cost rather than failing the run.
		result.ShortfallAmount = remaining
		result.TaxableAmount = result.TaxableAmount.Add(remaining)
	}

	l.totalSold = l.totalSold.Add(amount)
	return result, nil
}

// RemainingCost returns the cost basis of everything still in the ledger,
// fee shares included.
func (l *AssetLedger) RemainingCost() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.lots {
		if !lot.Remaining.IsPositive() {
			continue
		}
		cost := lot.Remaining.Mul(lot.Rate)
		if !lot.FeeCost.IsZero() {
			cost = cost.Add(lot.Remaining.Div(lot.Amount).Mul(lot.FeeCost))
		}
		total = total.Add(cost)
	}
	return total
}

// TaxfreeRemaining returns how much of the remaining holdings would already
// be tax free if disposed at the given timestamp.
func (l *AssetLedger) TaxfreeRemaining(timestamp int64, taxfreeAfterSecs int64) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.lots {
		if !lot.Remaining.IsPositive() {
			continue
		}
		if !isTaxable(timestamp, lot.Timestamp, taxfreeAfterSecs) {
			total = total.Add(lot.Remaining)
		}
	}
	return total
}

func isTaxable(disposalTs, acquisitionTs, taxfreeAfterSecs int64) bool {
	if taxfreeAfterSecs == 0 {
		return true
	}
	return disposalTs-acquisitionTs < taxfreeAfterSecs
}
