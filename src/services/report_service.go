package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/username/coinfolio/backend/src/accounting"
	"github.com/username/coinfolio/backend/src/assets"
	"github.com/username/coinfolio/backend/src/config"
	"github.com/username/coinfolio/backend/src/database"
	"github.com/username/coinfolio/backend/src/logger"
	"github.com/username/coinfolio/backend/src/messages"
	"github.com/username/coinfolio/backend/src/models"
	"github.com/username/coinfolio/backend/src/pricing"
)

const (
	reportCacheKeyFmt    = "report_user_%d_%d_%d"
	reportUserPrefixFmt  = "report_user_%d_"
	DefaultReportExpiry  = 15 * time.Minute
	ReportCleanupDefault = 30 * time.Minute
)

type reportServiceImpl struct {
	oracle      pricing.Oracle
	pricer      pricing.CurrentPricer // optional, enriches holdings
	resolver    *assets.Resolver
	reportCache *cache.Cache
}

func NewReportService(oracle pricing.Oracle, pricer pricing.CurrentPricer, resolver *assets.Resolver, reportCache *cache.Cache) ReportService {
	return &reportServiceImpl{
		oracle:      oracle,
		pricer:      pricer,
		resolver:    resolver,
		reportCache: reportCache,
	}
}

// GenerateReport loads the user's complete history from time zero and runs
// the engine for the requested window. History always starts at zero even
// when startTs is later: cost basis carries across the window boundary.
func (s *reportServiceImpl) GenerateReport(userID int64, startTs, endTs int64) (*accounting.Report, error) {
	cacheKey := fmt.Sprintf(reportCacheKeyFmt, userID, startTs, endTs)
	if cached, found := s.reportCache.Get(cacheKey); found {
		if report, ok := cached.(*accounting.Report); ok {
			logger.L.Debug("Report served from cache", "userID", userID, "key", cacheKey)
			return report, nil
		}
	}

	history, err := s.loadHistory(userID)
	if err != nil {
		return nil, err
	}

	accountant, err := s.newAccountant()
	if err != nil {
		return nil, err
	}
	report, err := accountant.ProcessHistory(history, startTs, endTs)
	if err != nil {
		return nil, fmt.Errorf("error processing history for user %d: %w", userID, err)
	}

	s.reportCache.SetDefault(cacheKey, report)
	return report, nil
}

// Holdings runs the engine over the full history up to endTs and returns
// the per-asset view, with current prices when a pricer is configured.
func (s *reportServiceImpl) Holdings(userID int64, endTs int64) ([]accounting.AssetDetail, error) {
	history, err := s.loadHistory(userID)
	if err != nil {
		return nil, err
	}
	accountant, err := s.newAccountant()
	if err != nil {
		return nil, err
	}
	if _, err := accountant.ProcessHistory(history, 0, endTs); err != nil {
		return nil, fmt.Errorf("error processing history for user %d: %w", userID, err)
	}
	return accountant.AssetDetails(s.pricer), nil
}

// InvalidateUserReports drops every cached report window for the user.
func (s *reportServiceImpl) InvalidateUserReports(userID int64) {
	prefix := fmt.Sprintf(reportUserPrefixFmt, userID)
	for key := range s.reportCache.Items() {
		if strings.HasPrefix(key, prefix) {
			s.reportCache.Delete(key)
		}
	}
	logger.L.Debug("Invalidated cached reports", "userID", userID)
}

func (s *reportServiceImpl) newAccountant() (*accounting.Accountant, error) {
	profitCurrency, err := s.resolver.Resolve(config.Cfg.ProfitCurrency)
	if err != nil {
		return nil, fmt.Errorf("configured profit currency is invalid: %w", err)
	}
	ignored := make(map[string]struct{}, len(config.Cfg.IgnoredAssets))
	for _, identifier := range config.Cfg.IgnoredAssets {
		ignored[strings.ToUpper(strings.TrimSpace(identifier))] = struct{}{}
	}
	settings := accounting.Settings{
		ProfitCurrency:       profitCurrency,
		TaxfreeAfterPeriod:   int64(config.Cfg.TaxfreeAfterPeriod.Seconds()),
		IncludeCrypto2Crypto: config.Cfg.IncludeCrypto2Crypto,
		IncludeGasCosts:      config.Cfg.IncludeGasCosts,
		IgnoredAssets:        ignored,
	}
	return accounting.NewAccountant(settings, s.oracle, s.resolver, messages.NewAggregator()), nil
}

func (s *reportServiceImpl) loadHistory(userID int64) (models.History, error) {
	var history models.History

	rows, err := database.DB.Query(`SELECT timestamp, pair, trade_type, amount, rate, fee, fee_currency, location
		FROM trades WHERE user_id = ? ORDER BY timestamp`, userID)
	if err != nil {
		return history, fmt.Errorf("error loading trades: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t models.Trade
		var tradeType, amount, rate, fee string
		if err := rows.Scan(&t.Timestamp, &t.Pair, &tradeType, &amount, &rate, &fee, &t.FeeCurrency, &t.Location); err != nil {
			return history, fmt.Errorf("error scanning trade: %w", err)
		}
		t.Type = models.TradeType(tradeType)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return history, fmt.Errorf("corrupt trade amount %q: %w", amount, err)
		}
		if t.Rate, err = decimal.NewFromString(rate); err != nil {
			return history, fmt.Errorf("corrupt trade rate %q: %w", rate, err)
		}
		if t.Fee, err = decimal.NewFromString(fee); err != nil {
			return history, fmt.Errorf("corrupt trade fee %q: %w", fee, err)
		}
		history.Trades = append(history.Trades, t)
	}
	if err := rows.Err(); err != nil {
		return history, err
	}

	loanRows, err := database.DB.Query(`SELECT open_time, close_time, currency, fee, earned, amount_lent
		FROM loans WHERE user_id = ? ORDER BY close_time`, userID)
	if err != nil {
		return history, fmt.Errorf("error loading loans: %w", err)
	}
	defer loanRows.Close()
	for loanRows.Next() {
		var l models.Loan
		var fee, earned, amountLent string
		if err := loanRows.Scan(&l.OpenTime, &l.CloseTime, &l.Currency, &fee, &earned, &amountLent); err != nil {
			return history, fmt.Errorf("error scanning loan: %w", err)
		}
		if l.Fee, err = decimal.NewFromString(fee); err != nil {
			return history, fmt.Errorf("corrupt loan fee %q: %w", fee, err)
		}
		if l.Earned, err = decimal.NewFromString(earned); err != nil {
			return history, fmt.Errorf("corrupt loan earned %q: %w", earned, err)
		}
		if l.AmountLent, err = decimal.NewFromString(amountLent); err != nil {
			return history, fmt.Errorf("corrupt loan amount %q: %w", amountLent, err)
		}
		history.Loans = append(history.Loans, l)
	}
	if err := loanRows.Err(); err != nil {
		return history, err
	}

	movementRows, err := database.DB.Query(`SELECT exchange, category, timestamp, asset, amount, fee
		FROM asset_movements WHERE user_id = ? ORDER BY timestamp`, userID)
	if err != nil {
		return history, fmt.Errorf("error loading asset movements: %w", err)
	}
	defer movementRows.Close()
	for movementRows.Next() {
		var m models.AssetMovement
		var category, amount, fee string
		if err := movementRows.Scan(&m.Exchange, &category, &m.Timestamp, &m.Asset, &amount, &fee); err != nil {
			return history, fmt.Errorf("error scanning asset movement: %w", err)
		}
		m.Category = models.MovementCategory(category)
		if m.Amount, err = decimal.NewFromString(amount); err != nil {
			return history, fmt.Errorf("corrupt movement amount %q: %w", amount, err)
		}
		if m.Fee, err = decimal.NewFromString(fee); err != nil {
			return history, fmt.Errorf("corrupt movement fee %q: %w", fee, err)
		}
		history.AssetMovements = append(history.AssetMovements, m)
	}
	if err := movementRows.Err(); err != nil {
		return history, err
	}

	txRows, err := database.DB.Query(`SELECT timestamp, gas, gas_price, gas_used, hash
		FROM eth_transactions WHERE user_id = ? ORDER BY timestamp`, userID)
	if err != nil {
		return history, fmt.Errorf("error loading eth transactions: %w", err)
	}
	defer txRows.Close()
	for txRows.Next() {
		var e models.EthTransaction
		if err := txRows.Scan(&e.Timestamp, &e.Gas, &e.GasPrice, &e.GasUsed, &e.Hash); err != nil {
			return history, fmt.Errorf("error scanning eth transaction: %w", err)
		}
		history.EthTransactions = append(history.EthTransactions, e)
	}
	if err := txRows.Err(); err != nil {
		return history, err
	}

	marginRows, err := database.DB.Query(`SELECT exchange, open_time, close_time, profit_loss, pl_currency, notes
		FROM margin_positions WHERE user_id = ? ORDER BY close_time`, userID)
	if err != nil {
		return history, fmt.Errorf("error loading margin positions: %w", err)
	}
	defer marginRows.Close()
	for marginRows.Next() {
		var m models.MarginPosition
		var profitLoss string
		if err := marginRows.Scan(&m.Exchange, &m.OpenTime, &m.CloseTime, &profitLoss, &m.PLCurrency, &m.Notes); err != nil {
			return history, fmt.Errorf("error scanning margin position: %w", err)
		}
		if m.ProfitLoss, err = decimal.NewFromString(profitLoss); err != nil {
			return history, fmt.Errorf("corrupt margin profit/loss %q: %w", profitLoss, err)
		}
		history.MarginPositions = append(history.MarginPositions, m)
	}
	if err := marginRows.Err(); err != nil {
		return history, err
	}

	if len(history.Trades) == 0 && len(history.Loans) == 0 && len(history.AssetMovements) == 0 &&
		len(history.EthTransactions) == 0 && len(history.MarginPositions) == 0 {
		return history, ErrNoHistory
	}
	return history, nil
}
