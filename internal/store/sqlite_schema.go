package store

// Timestamps are stored as UTC unix nanoseconds, decimals as TEXT.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS signals (
	id              TEXT PRIMARY KEY,
	agent_id        TEXT NOT NULL,
	token_symbol    TEXT NOT NULL,
	side            TEXT NOT NULL,
	size_model      TEXT NOT NULL,
	risk_model      TEXT NOT NULL DEFAULT 'null',
	confidence      REAL NOT NULL,
	reasoning       TEXT NOT NULL DEFAULT '',
	requested_venue TEXT NOT NULL,
	resolved_venue  TEXT,
	source_posts    TEXT NOT NULL DEFAULT '[]',
	source_research TEXT NOT NULL DEFAULT '[]',
	bucket          INTEGER NOT NULL,
	status          TEXT NOT NULL,
	failure_reason  TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	finalized_at    INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_slot ON signals(agent_id, token_symbol, bucket);
CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status, created_at);

CREATE TABLE IF NOT EXISTS routing_configs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id         TEXT UNIQUE,
	venue_priority   TEXT NOT NULL,
	strategy         TEXT NOT NULL,
	failover_enabled INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS routing_decisions (
	id             TEXT PRIMARY KEY,
	signal_id      TEXT NOT NULL,
	agent_id       TEXT NOT NULL,
	token_symbol   TEXT NOT NULL,
	checked        TEXT NOT NULL,
	selected_venue TEXT NOT NULL,
	reason         TEXT NOT NULL,
	latency_ns     INTEGER NOT NULL,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_routing_decisions_created ON routing_decisions(created_at);

CREATE TABLE IF NOT EXISTS agents (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	status           TEXT NOT NULL,
	social_weight    REAL NOT NULL,
	research_weight  REAL NOT NULL,
	venue            TEXT NOT NULL,
	research_sources TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS deployments (
	id                  TEXT PRIMARY KEY,
	agent_id            TEXT NOT NULL,
	status              TEXT NOT NULL,
	subscription_active INTEGER NOT NULL,
	handles             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deployments_agent ON deployments(agent_id);

CREATE TABLE IF NOT EXISTS positions (
	id               TEXT PRIMARY KEY,
	signal_id        TEXT NOT NULL,
	deployment_id    TEXT NOT NULL,
	agent_id         TEXT NOT NULL,
	venue            TEXT NOT NULL,
	token_symbol     TEXT NOT NULL,
	side             TEXT NOT NULL,
	quantity         TEXT NOT NULL,
	entry_price      TEXT NOT NULL,
	stop_loss        TEXT,
	take_profit      TEXT,
	trailing_percent REAL NOT NULL,
	trailing_active  INTEGER NOT NULL,
	high_water       TEXT NOT NULL,
	low_water        TEXT NOT NULL,
	current_price    TEXT,
	last_priced_at   INTEGER,
	status           TEXT NOT NULL,
	exit_price       TEXT,
	exit_reason      TEXT NOT NULL DEFAULT '',
	realized_pnl     TEXT,
	entry_tx_ref     TEXT NOT NULL DEFAULT '',
	exit_tx_ref      TEXT NOT NULL DEFAULT '',
	opened_at        INTEGER NOT NULL,
	closed_at        INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_pair ON positions(signal_id, deployment_id);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status, venue);

CREATE TABLE IF NOT EXISTS execution_attempts (
	id            TEXT PRIMARY KEY,
	signal_id     TEXT NOT NULL,
	deployment_id TEXT NOT NULL,
	venue         TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	failure_kind  TEXT NOT NULL DEFAULT '',
	reason        TEXT NOT NULL DEFAULT '',
	position_id   TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_execution_attempts_signal ON execution_attempts(signal_id, created_at);

CREATE TABLE IF NOT EXISTS social_posts (
	id        TEXT PRIMARY KEY,
	agent_id  TEXT NOT NULL,
	author    TEXT NOT NULL DEFAULT '',
	content   TEXT NOT NULL DEFAULT '',
	posted_at INTEGER NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_social_posts_unprocessed ON social_posts(processed, posted_at);

CREATE TABLE IF NOT EXISTS social_post_tokens (
	post_id      TEXT NOT NULL,
	token_symbol TEXT NOT NULL,
	PRIMARY KEY (post_id, token_symbol)
);
CREATE INDEX IF NOT EXISTS idx_social_post_tokens_token ON social_post_tokens(token_symbol);

CREATE TABLE IF NOT EXISTS research (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL DEFAULT '',
	token_symbol TEXT NOT NULL,
	signal       TEXT NOT NULL,
	reasoning    TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_research_token ON research(token_symbol, created_at);
`
