package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/username/coinfolio/backend/src/assets"
)

// ErrPriceNotFound means no historical rate exists for the asset at the
// requested time. The accounting engine treats it as recoverable: the event
// is skipped and the run continues.
var ErrPriceNotFound = errors.New("price not found")

// Oracle answers historical price queries. HistoricalRate returns how many
// units of the target (profit) currency one unit of asset was worth at the
// given timestamp.
type Oracle interface {
	HistoricalRate(asset assets.Asset, target assets.Asset, timestamp int64) (decimal.Decimal, error)
}

// CurrentPricer is the optional extension used by the report builder for the
// percent-change-vs-now detail. Oracles that cannot answer simply return
// ErrPriceNotFound.
type CurrentPricer interface {
	CurrentRate(asset assets.Asset, target assets.Asset) (decimal.Decimal, error)
}

func notFound(asset assets.Asset, timestamp int64) error {
	return fmt.Errorf("%w: %s at %d", ErrPriceNotFound, asset.Identifier(), timestamp)
}
