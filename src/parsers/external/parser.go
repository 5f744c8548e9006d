package external

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/username/coinfolio/backend/src/assets"
	"github.com/username/coinfolio/backend/src/logger"
	"github.com/username/coinfolio/backend/src/messages"
	"github.com/username/coinfolio/backend/src/models"
)

// Parser reads history already expressed in the canonical event format:
// a JSON document with trades, loans, asset_movements, eth_transactions and
// margin_positions arrays. Rows that fail validation or name assets outside
// the canonical universe are skipped with a message.
type Parser struct {
	resolver *assets.Resolver
	msgs     *messages.Aggregator
}

func NewParser(resolver *assets.Resolver, msgs *messages.Aggregator) *Parser {
	return &Parser{resolver: resolver, msgs: msgs}
}

type document struct {
	Trades          []models.Trade          `json:"trades"`
	Loans           []models.Loan           `json:"loans"`
	AssetMovements  []models.AssetMovement  `json:"asset_movements"`
	EthTransactions []models.EthTransaction `json:"eth_transactions"`
	MarginPositions []models.MarginPosition `json:"margin_positions"`
}

func (p *Parser) Parse(file io.Reader) (models.History, error) {
	var doc document
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return models.History{}, fmt.Errorf("failed to decode external history: %w", err)
	}

	var history models.History
	for _, trade := range doc.Trades {
		if err := p.checkTrade(trade); err != nil {
			p.skipRow(fmt.Sprintf("trade with pair %s", trade.Pair), err)
			continue
		}
		history.Trades = append(history.Trades, trade)
	}
	for _, loan := range doc.Loans {
		if err := loan.Validate(); err != nil {
			p.skipRow(fmt.Sprintf("loan of %s", loan.Currency), err)
			continue
		}
		history.Loans = append(history.Loans, loan)
	}
	for _, movement := range doc.AssetMovements {
		if err := movement.Validate(); err != nil {
			p.skipRow(fmt.Sprintf("%s of %s", movement.Category, movement.Asset), err)
			continue
		}
		history.AssetMovements = append(history.AssetMovements, movement)
	}
	for _, tx := range doc.EthTransactions {
		if err := tx.Validate(); err != nil {
			p.skipRow("ethereum transaction", err)
			continue
		}
		history.EthTransactions = append(history.EthTransactions, tx)
	}
	for _, position := range doc.MarginPositions {
		if err := position.Validate(); err != nil {
			p.skipRow(fmt.Sprintf("margin position in %s", position.PLCurrency), err)
			continue
		}
		history.MarginPositions = append(history.MarginPositions, position)
	}
	return history, nil
}

// checkTrade validates structure and confirms both legs resolve, so bad
// rows are reported at import time instead of at the first report run.
func (p *Parser) checkTrade(trade models.Trade) error {
	if err := trade.Validate(); err != nil {
		return err
	}
	base, quote, err := trade.BaseQuote()
	if err != nil {
		return err
	}
	if _, err := p.resolver.Resolve(base); err != nil {
		return err
	}
	if _, err := p.resolver.Resolve(quote); err != nil {
		return err
	}
	return nil
}

func (p *Parser) skipRow(what string, err error) {
	logger.L.Warn("Skipping external history row", "row", what, "error", err)
	p.msgs.AddError(fmt.Sprintf("Deserialization error while reading an external %s. Ignoring it.", what))
}
