package services

import (
	"errors"
	"io"

	"github.com/username/coinfolio/backend/src/accounting"
)

var (
	ErrParsingFailed = errors.New("parsing failed")
	ErrNoHistory     = errors.New("no event history imported")
)

// ImportResult summarizes one import run: how many events of each kind were
// stored, plus the messages produced while reading the file.
type ImportResult struct {
	BatchID         string   `json:"batch_id"`
	Trades          int      `json:"trades"`
	Loans           int      `json:"loans"`
	AssetMovements  int      `json:"asset_movements"`
	EthTransactions int      `json:"eth_transactions"`
	MarginPositions int      `json:"margin_positions"`
	Warnings        []string `json:"warnings,omitempty"`
	Errors          []string `json:"errors,omitempty"`
}

// ImportService parses a raw export file and stores the resulting canonical
// events for the user.
type ImportService interface {
	ProcessImport(fileReader io.Reader, userID int64, source string) (*ImportResult, error)
}

// ReportService runs the accounting engine over a user's stored history.
type ReportService interface {
	GenerateReport(userID int64, startTs, endTs int64) (*accounting.Report, error)
	Holdings(userID int64, endTs int64) ([]accounting.AssetDetail, error)
	InvalidateUserReports(userID int64)
}

// EmailService sends the optional report-ready notification.
type EmailService interface {
	SendReportReadyEmail(toEmail, username string, report *accounting.Report) error
}
