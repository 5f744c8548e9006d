package pricing

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/username/coinfolio/backend/src/assets"
	"github.com/username/coinfolio/backend/src/logger"
)

// rateFileEntry is one observation in the historical rates file. Timestamps
// are epoch seconds; rates are strings so no precision is lost in transit.
type rateFileEntry struct {
	Asset     string `json:"asset"`
	Target    string `json:"target"`
	Timestamp int64  `json:"timestamp"`
	Rate      string `json:"rate"`
}

type rateFileDocument struct {
	Observations []rateFileEntry `json:"observations"`
}

// RateFile is an Oracle backed by a local JSON file of dated observations.
// It serves offline runs and tests; observations are matched at hourly
// granularity, like the network oracle.
type RateFile struct {
	rates map[string]decimal.Decimal
}

// LoadRateFile reads and indexes the rates file. Call once at startup.
func LoadRateFile(path string) (*RateFile, error) {
	logger.L.Info("Loading historical rates file", "path", path)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading historical rates file '%s': %w", path, err)
	}

	var doc rateFileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("error unmarshalling historical rates from '%s': %w", path, err)
	}

	rf := &RateFile{rates: make(map[string]decimal.Decimal, len(doc.Observations))}
	for _, obs := range doc.Observations {
		rate, err := decimal.NewFromString(obs.Rate)
		if err != nil {
			logger.L.Warn("Invalid rate value in rates file", "asset", obs.Asset, "timestamp", obs.Timestamp, "value", obs.Rate)
			continue
		}
		rf.rates[fmt.Sprintf("%s_%s_%d", obs.Asset, obs.Target, obs.Timestamp/3600)] = rate
	}
	logger.L.Info("Historical rates loaded", "path", path, "observationCount", len(rf.rates))
	return rf, nil
}

// NewStaticRates builds a RateFile-style oracle directly from memory. Keys
// are asset identifiers, values map epoch timestamps to rates. Used by tests
// and by callers that assemble rates programmatically.
func NewStaticRates(target string, rates map[string]map[int64]decimal.Decimal) *RateFile {
	rf := &RateFile{rates: make(map[string]decimal.Decimal)}
	for asset, byTime := range rates {
		for ts, rate := range byTime {
			rf.rates[fmt.Sprintf("%s_%s_%d", asset, target, ts/3600)] = rate
		}
	}
	return rf
}

// HistoricalRate implements Oracle.
func (r *RateFile) HistoricalRate(asset, target assets.Asset, timestamp int64) (decimal.Decimal, error) {
	if asset.Identifier() == target.Identifier() {
		return decimal.NewFromInt(1), nil
	}
	key := fmt.Sprintf("%s_%s_%d", asset.Identifier(), target.Identifier(), timestamp/3600)
	if rate, ok := r.rates[key]; ok {
		return rate, nil
	}
	return decimal.Zero, notFound(asset, timestamp)
}
