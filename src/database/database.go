package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/coinfolio/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

// InitDB opens the SQLite database and ensures the schema. Decimal amounts
// are stored as TEXT so no precision is lost on the round trip.
func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Ensuring database schema", "databasePath", databasePath)
	} else {
		stdlog.Println("Ensuring database schema for:", databasePath)
	}

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		token TEXT NOT NULL,
		user_agent TEXT,
		client_ip TEXT,
		is_blocked BOOLEAN DEFAULT FALSE,
		expires_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		import_batch TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		pair TEXT NOT NULL,
		trade_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		rate TEXT NOT NULL,
		fee TEXT NOT NULL,
		fee_currency TEXT NOT NULL,
		location TEXT,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS loans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		import_batch TEXT NOT NULL,
		open_time INTEGER NOT NULL,
		close_time INTEGER NOT NULL,
		currency TEXT NOT NULL,
		fee TEXT NOT NULL,
		earned TEXT NOT NULL,
		amount_lent TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS asset_movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		import_batch TEXT NOT NULL,
		exchange TEXT NOT NULL,
		category TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		asset TEXT NOT NULL,
		amount TEXT NOT NULL,
		fee TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS eth_transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		import_batch TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		gas INTEGER NOT NULL,
		gas_price INTEGER NOT NULL,
		gas_used INTEGER NOT NULL,
		hash TEXT,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS margin_positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		import_batch TEXT NOT NULL,
		exchange TEXT NOT NULL,
		open_time INTEGER NOT NULL,
		close_time INTEGER NOT NULL,
		profit_loss TEXT NOT NULL,
		pl_currency TEXT NOT NULL,
		notes TEXT,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_user_ts ON trades(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_loans_user_close ON loans(user_id, close_time);
	CREATE INDEX IF NOT EXISTS idx_movements_user_ts ON asset_movements(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_eth_tx_user_ts ON eth_transactions(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_margin_user_close ON margin_positions(user_id, close_time);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}
