package services

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/username/coinfolio/backend/src/assets"
	"github.com/username/coinfolio/backend/src/database"
	"github.com/username/coinfolio/backend/src/logger"
	"github.com/username/coinfolio/backend/src/messages"
	"github.com/username/coinfolio/backend/src/models"
	"github.com/username/coinfolio/backend/src/parsers"
)

type importServiceImpl struct {
	resolver *assets.Resolver
	reports  ReportService
}

func NewImportService(resolver *assets.Resolver, reports ReportService) ImportService {
	return &importServiceImpl{resolver: resolver, reports: reports}
}

// ProcessImport parses the uploaded file with the source-specific parser and
// stores every event in one database transaction tagged with a batch id.
// Cached reports for the user are invalidated so the next request sees the
// new history.
func (s *importServiceImpl) ProcessImport(fileReader io.Reader, userID int64, source string) (*ImportResult, error) {
	startTime := time.Now()
	logger.L.Info("ProcessImport START", "userID", userID, "source", source)

	msgs := messages.NewAggregator()
	parser, err := parsers.GetParser(source, s.resolver, msgs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	history, err := parser.Parse(fileReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	batchID := uuid.New().String()
	if err := s.storeHistory(userID, batchID, history); err != nil {
		return nil, err
	}

	s.reports.InvalidateUserReports(userID)

	result := &ImportResult{
		BatchID:         batchID,
		Trades:          len(history.Trades),
		Loans:           len(history.Loans),
		AssetMovements:  len(history.AssetMovements),
		EthTransactions: len(history.EthTransactions),
		MarginPositions: len(history.MarginPositions),
		Warnings:        msgs.ConsumeWarnings(),
		Errors:          msgs.ConsumeErrors(),
	}
	logger.L.Info("ProcessImport END",
		"userID", userID,
		"batchID", batchID,
		"trades", result.Trades,
		"duration", time.Since(startTime))
	return result, nil
}

func (s *importServiceImpl) storeHistory(userID int64, batchID string, history models.History) error {
	dbTx, err := database.DB.Begin()
	if err != nil {
		return fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	tradeStmt, err := dbTx.Prepare(`INSERT INTO trades
		(user_id, import_batch, timestamp, pair, trade_type, amount, rate, fee, fee_currency, location)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing trade insert: %w", err)
	}
	defer tradeStmt.Close()
	for _, t := range history.Trades {
		if _, err := tradeStmt.Exec(userID, batchID, t.Timestamp, t.Pair, string(t.Type),
			t.Amount.String(), t.Rate.String(), t.Fee.String(), t.FeeCurrency, t.Location); err != nil {
			return fmt.Errorf("error inserting trade at %d: %w", t.Timestamp, err)
		}
	}

	loanStmt, err := dbTx.Prepare(`INSERT INTO loans
		(user_id, import_batch, open_time, close_time, currency, fee, earned, amount_lent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing loan insert: %w", err)
	}
	defer loanStmt.Close()
	for _, l := range history.Loans {
		if _, err := loanStmt.Exec(userID, batchID, l.OpenTime, l.CloseTime, l.Currency,
			l.Fee.String(), l.Earned.String(), l.AmountLent.String()); err != nil {
			return fmt.Errorf("error inserting loan at %d: %w", l.CloseTime, err)
		}
	}

	movementStmt, err := dbTx.Prepare(`INSERT INTO asset_movements
		(user_id, import_batch, exchange, category, timestamp, asset, amount, fee)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing asset movement insert: %w", err)
	}
	defer movementStmt.Close()
	for _, m := range history.AssetMovements {
		if _, err := movementStmt.Exec(userID, batchID, m.Exchange, string(m.Category), m.Timestamp,
			m.Asset, m.Amount.String(), m.Fee.String()); err != nil {
			return fmt.Errorf("error inserting asset movement at %d: %w", m.Timestamp, err)
		}
	}

	txStmt, err := dbTx.Prepare(`INSERT INTO eth_transactions
		(user_id, import_batch, timestamp, gas, gas_price, gas_used, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing eth transaction insert: %w", err)
	}
	defer txStmt.Close()
	for _, e := range history.EthTransactions {
		if _, err := txStmt.Exec(userID, batchID, e.Timestamp, e.Gas, e.GasPrice, e.GasUsed, e.Hash); err != nil {
			return fmt.Errorf("error inserting eth transaction at %d: %w", e.Timestamp, err)
		}
	}

	marginStmt, err := dbTx.Prepare(`INSERT INTO margin_positions
		(user_id, import_batch, exchange, open_time, close_time, profit_loss, pl_currency, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing margin position insert: %w", err)
	}
	defer marginStmt.Close()
	for _, m := range history.MarginPositions {
		if _, err := marginStmt.Exec(userID, batchID, m.Exchange, m.OpenTime, m.CloseTime,
			m.ProfitLoss.String(), m.PLCurrency, m.Notes); err != nil {
			return fmt.Errorf("error inserting margin position at %d: %w", m.CloseTime, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("error committing imported events: %w", err)
	}
	return nil
}
