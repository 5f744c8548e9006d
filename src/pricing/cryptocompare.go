package pricing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/net/publicsuffix"

	"github.com/username/coinfolio/backend/src/assets"
	"github.com/username/coinfolio/backend/src/logger"
)

type histoHourResponse struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
	Data     []struct {
		Time  int64   `json:"time"`
		Close float64 `json:"close"`
	} `json:"Data"`
}

// CryptoCompare is an Oracle backed by the cryptocompare REST API. Results
// are memoized per (asset, target, hour) so repeated queries for the same
// point in time never hit the network twice. Lookups happen outside the
// accounting loop proper (the engine only sees the cache-through calls), so
// the core stays deterministic once the cache is warm.
type CryptoCompare struct {
	httpClient http.Client
	baseURL    string
	rateCache  *cache.Cache
}

// NewCryptoCompare creates the oracle. cacheTTL bounds how long resolved
// rates stay memoized.
func NewCryptoCompare(baseURL string, cacheTTL time.Duration) *CryptoCompare {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		logger.L.Error("Failed to create cookie jar", "error", err)
	}

	return &CryptoCompare{
		httpClient: http.Client{
			Jar:     jar,
			Timeout: 20 * time.Second,
		},
		baseURL:   baseURL,
		rateCache: cache.New(cacheTTL, 2*cacheTTL),
	}
}

func rateCacheKey(asset, target assets.Asset, ts int64) string {
	// Hourly granularity matches the histohour endpoint.
	return fmt.Sprintf("%s_%s_%d", asset.Identifier(), target.Identifier(), ts/3600)
}

// HistoricalRate implements Oracle.
func (c *CryptoCompare) HistoricalRate(asset, target assets.Asset, timestamp int64) (decimal.Decimal, error) {
	if asset.Identifier() == target.Identifier() {
		return decimal.NewFromInt(1), nil
	}

	key := rateCacheKey(asset, target, timestamp)
	if cached, found := c.rateCache.Get(key); found {
		if rate, ok := cached.(decimal.Decimal); ok {
			return rate, nil
		}
		// A cached miss is also remembered, to avoid re-querying a hole.
		return decimal.Zero, notFound(asset, timestamp)
	}

	rate, err := c.fetchHourClose(asset, target, timestamp)
	if err != nil {
		return decimal.Zero, err
	}
	if rate.IsZero() {
		c.rateCache.SetDefault(key, nil)
		return decimal.Zero, notFound(asset, timestamp)
	}

	c.rateCache.SetDefault(key, rate)
	return rate, nil
}

// CurrentRate implements CurrentPricer using the present time.
func (c *CryptoCompare) CurrentRate(asset, target assets.Asset) (decimal.Decimal, error) {
	return c.HistoricalRate(asset, target, time.Now().Unix())
}

func (c *CryptoCompare) fetchHourClose(asset, target assets.Asset, timestamp int64) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("fsym", asset.Identifier())
	query.Set("tsym", target.Identifier())
	query.Set("limit", "1")
	query.Set("toTs", fmt.Sprintf("%d", timestamp))
	reqURL := fmt.Sprintf("%s/data/histohour?%s", c.baseURL, query.Encode())

	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("User-Agent", "coinfolio-backend")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to call price API for %s: %w", asset.Identifier(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price API returned status %d for %s", resp.StatusCode, asset.Identifier())
	}

	var data histoHourResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price API response for %s: %w", asset.Identifier(), err)
	}
	if data.Response == "Error" {
		logger.L.Warn("Price API error response", "asset", asset.Identifier(), "message", data.Message)
		return decimal.Zero, notFound(asset, timestamp)
	}

	// Pick the candle closest to but not after the requested timestamp.
	var closePrice float64
	for _, candle := range data.Data {
		if candle.Time <= timestamp {
			closePrice = candle.Close
		}
	}
	if closePrice == 0 && len(data.Data) > 0 {
		closePrice = data.Data[len(data.Data)-1].Close
	}
	return decimal.NewFromFloat(closePrice), nil
}
