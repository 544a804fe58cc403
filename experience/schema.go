package experience

const Schema = `
CREATE TABLE IF NOT EXISTS experiences (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	content_key TEXT NOT NULL UNIQUE,
	instrument TEXT NOT NULL,
	direction TEXT NOT NULL,
	entry_price REAL NOT NULL,
	r_unit REAL NOT NULL,
	units REAL NOT NULL,
	confidence REAL NOT NULL,
	explored INTEGER NOT NULL,
	features TEXT NOT NULL,
	realized_r REAL NOT NULL,
	peak_r REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	exit_reason TEXT NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_experiences_instrument ON experiences(instrument, direction);
CREATE INDEX IF NOT EXISTS idx_experiences_close_time ON experiences(close_time);
`
