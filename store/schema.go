// store/schema.go
package store

const Schema = `
CREATE TABLE IF NOT EXISTS contracts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	contract_type TEXT NOT NULL,
	symbol TEXT NOT NULL,
	exchange TEXT,
	currency TEXT NOT NULL DEFAULT 'USD',
	con_id INTEGER,
	to_trade INTEGER NOT NULL DEFAULT 1,
	expiry DATETIME,
	strike REAL,
	right TEXT,
	underlying_id INTEGER REFERENCES contracts(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_contracts_symbol ON contracts(symbol, contract_type);
CREATE INDEX IF NOT EXISTS idx_contracts_underlying ON contracts(underlying_id, expiry);

CREATE TABLE IF NOT EXISTS price_bars (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	contract_id INTEGER NOT NULL REFERENCES contracts(id),
	bar_size INTEGER NOT NULL,
	data_kind TEXT NOT NULL,
	ts DATETIME NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	trend INTEGER,
	rsi_ema REAL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (contract_id, bar_size, data_kind, ts)
);

CREATE INDEX IF NOT EXISTS idx_price_bars_series ON price_bars(contract_id, bar_size, data_kind, ts);

CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	contract_id INTEGER NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	direction INTEGER NOT NULL,
	side TEXT NOT NULL,
	size REAL NOT NULL,
	price REAL NOT NULL,
	exit_price REAL,
	bid_at_entry REAL NOT NULL,
	ask_at_entry REAL NOT NULL,
	status TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_orders_contract ON orders(contract_id);
`
