package journal

const Schema = `
CREATE TABLE IF NOT EXISTS risk_events (
	event_id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	day TEXT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS deals (
	deal_id TEXT PRIMARY KEY,
	ticket INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	volume REAL NOT NULL,
	open_price REAL NOT NULL,
	close_price REAL NOT NULL,
	close_time DATETIME NOT NULL,
	profit REAL NOT NULL,
	comment TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_events_time ON risk_events(time);
CREATE INDEX IF NOT EXISTS idx_deals_close_time ON deals(close_time);
`
