package sqlstore

import "strings"

// dialect holds the statements that differ between SQLite and MySQL.
type dialect struct {
	name   string
	schema string

	upsertMessage string
	upsertOffer   string
	upsertConfig  string
	insertTask    string
}

// statements splits a multi-statement script; the MySQL driver rejects multi-statement Exec
// unless the DSN opts in.
func statements(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

const negotiationColumns = `id, offer_id, user_id, initial_request, status, final_price,
	is_agent_active, agent_target_price_per_km, agent_state, agent_message, agent_trigger, agent_reply_count,
	email_thread_id, last_email_message_id, email_subject, email_cc, created_at, updated_at, version`

// updateNegotiation writes the mutable columns only if the row still has the version
// the caller loaded.
const updateNegotiation = `UPDATE negotiations SET
	status = ?, final_price = ?,
	is_agent_active = ?, agent_target_price_per_km = ?, agent_state = ?, agent_message = ?, agent_trigger = ?,
	agent_reply_count = ?,
	email_thread_id = ?, last_email_message_id = ?, email_subject = ?, email_cc = ?, updated_at = ?,
	version = version + 1
WHERE id = ? AND version = ?`

const configColumns = `negotiation_id, style,
	notify_price_change, notify_new_terms, notify_target_reached, notify_agreement, notify_confusion, notify_refusal,
	max_auto_replies, notify_after_rounds,
	bypass_price_change, bypass_new_terms, bypass_target_reached, bypass_agreement, bypass_confusion, bypass_refusal,
	updated_at`

const taskColumns = `id, kind, negotiation_id, message_id, user_id, idempotency_key, attempts,
	available_at, leased_until, last_error, created_at`

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
CREATE TABLE IF NOT EXISTS negotiations (
	id TEXT PRIMARY KEY,
	offer_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	initial_request TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	final_price TEXT NOT NULL DEFAULT '',
	is_agent_active INTEGER NOT NULL DEFAULT 0,
	agent_target_price_per_km REAL,
	agent_state TEXT NOT NULL DEFAULT '',
	agent_message TEXT NOT NULL DEFAULT '',
	agent_trigger TEXT NOT NULL DEFAULT '',
	agent_reply_count INTEGER NOT NULL DEFAULT 0,
	email_thread_id TEXT NOT NULL DEFAULT '',
	last_email_message_id TEXT NOT NULL DEFAULT '',
	email_subject TEXT NOT NULL DEFAULT '',
	email_cc TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS negotiation_messages (
	negotiation_id TEXT NOT NULL,
	id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	sender TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	email_message_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (negotiation_id, id)
);
CREATE TABLE IF NOT EXISTS counter_offers (
	negotiation_id TEXT NOT NULL,
	id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	price REAL NOT NULL,
	proposed_by TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (negotiation_id, id)
);
CREATE TABLE IF NOT EXISTS agent_configs (
	negotiation_id TEXT PRIMARY KEY,
	style TEXT NOT NULL,
	notify_price_change INTEGER NOT NULL DEFAULT 1,
	notify_new_terms INTEGER NOT NULL DEFAULT 1,
	notify_target_reached INTEGER NOT NULL DEFAULT 1,
	notify_agreement INTEGER NOT NULL DEFAULT 1,
	notify_confusion INTEGER NOT NULL DEFAULT 1,
	notify_refusal INTEGER NOT NULL DEFAULT 1,
	max_auto_replies INTEGER NOT NULL DEFAULT 3,
	notify_after_rounds INTEGER NOT NULL DEFAULT 5,
	bypass_price_change INTEGER NOT NULL DEFAULT 0,
	bypass_new_terms INTEGER NOT NULL DEFAULT 0,
	bypass_target_reached INTEGER NOT NULL DEFAULT 0,
	bypass_agreement INTEGER NOT NULL DEFAULT 0,
	bypass_confusion INTEGER NOT NULL DEFAULT 0,
	bypass_refusal INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	notification_type TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	source_id TEXT NOT NULL DEFAULT '',
	source_name TEXT NOT NULL DEFAULT '',
	read_flag INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	negotiation_id TEXT NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL UNIQUE,
	attempts INTEGER NOT NULL DEFAULT 0,
	available_at INTEGER NOT NULL,
	leased_until INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	done INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_negotiations_user ON negotiations(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_seq ON negotiation_messages(negotiation_id, seq);
CREATE INDEX IF NOT EXISTS idx_offers_seq ON counter_offers(negotiation_id, seq);
CREATE INDEX IF NOT EXISTS idx_notifications_user_read ON notifications(user_id, read_flag);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(done, available_at);
`,
	upsertMessage: `INSERT INTO negotiation_messages (negotiation_id, id, seq, sender, content, timestamp, email_message_id)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(negotiation_id, id) DO UPDATE SET email_message_id = excluded.email_message_id`,
	upsertOffer: `INSERT INTO counter_offers (negotiation_id, id, seq, price, proposed_by, timestamp, status, notes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(negotiation_id, id) DO UPDATE SET status = excluded.status`,
	upsertConfig: `INSERT INTO agent_configs (` + configColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(negotiation_id) DO UPDATE SET
	style = excluded.style,
	notify_price_change = excluded.notify_price_change, notify_new_terms = excluded.notify_new_terms,
	notify_target_reached = excluded.notify_target_reached, notify_agreement = excluded.notify_agreement,
	notify_confusion = excluded.notify_confusion, notify_refusal = excluded.notify_refusal,
	max_auto_replies = excluded.max_auto_replies, notify_after_rounds = excluded.notify_after_rounds,
	bypass_price_change = excluded.bypass_price_change, bypass_new_terms = excluded.bypass_new_terms,
	bypass_target_reached = excluded.bypass_target_reached, bypass_agreement = excluded.bypass_agreement,
	bypass_confusion = excluded.bypass_confusion, bypass_refusal = excluded.bypass_refusal,
	updated_at = excluded.updated_at`,
	insertTask: `INSERT OR IGNORE INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: `
CREATE TABLE IF NOT EXISTS negotiations (
	id VARCHAR(64) PRIMARY KEY,
	offer_id VARCHAR(255) NOT NULL DEFAULT '',
	user_id VARCHAR(255) NOT NULL,
	initial_request TEXT NOT NULL,
	status VARCHAR(16) NOT NULL,
	final_price VARCHAR(64) NOT NULL DEFAULT '',
	is_agent_active TINYINT NOT NULL DEFAULT 0,
	agent_target_price_per_km DOUBLE NULL,
	agent_state VARCHAR(32) NOT NULL DEFAULT '',
	agent_message TEXT NOT NULL,
	agent_trigger VARCHAR(32) NOT NULL DEFAULT '',
	agent_reply_count INT NOT NULL DEFAULT 0,
	email_thread_id VARCHAR(255) NOT NULL DEFAULT '',
	last_email_message_id VARCHAR(512) NOT NULL DEFAULT '',
	email_subject TEXT NOT NULL,
	email_cc TEXT NOT NULL,
	created_at VARCHAR(40) NOT NULL,
	updated_at VARCHAR(40) NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,
	INDEX idx_negotiations_user (user_id)
);
CREATE TABLE IF NOT EXISTS negotiation_messages (
	negotiation_id VARCHAR(64) NOT NULL,
	id VARCHAR(64) NOT NULL,
	seq INT NOT NULL,
	sender VARCHAR(320) NOT NULL,
	content MEDIUMTEXT NOT NULL,
	timestamp VARCHAR(40) NOT NULL,
	email_message_id VARCHAR(512) NOT NULL DEFAULT '',
	PRIMARY KEY (negotiation_id, id),
	INDEX idx_messages_seq (negotiation_id, seq)
);
CREATE TABLE IF NOT EXISTS counter_offers (
	negotiation_id VARCHAR(64) NOT NULL,
	id VARCHAR(64) NOT NULL,
	seq INT NOT NULL,
	price DOUBLE NOT NULL,
	proposed_by VARCHAR(32) NOT NULL,
	timestamp VARCHAR(40) NOT NULL,
	status VARCHAR(16) NOT NULL,
	notes TEXT NOT NULL,
	PRIMARY KEY (negotiation_id, id),
	INDEX idx_offers_seq (negotiation_id, seq)
);
CREATE TABLE IF NOT EXISTS agent_configs (
	negotiation_id VARCHAR(64) PRIMARY KEY,
	style VARCHAR(16) NOT NULL,
	notify_price_change TINYINT NOT NULL DEFAULT 1,
	notify_new_terms TINYINT NOT NULL DEFAULT 1,
	notify_target_reached TINYINT NOT NULL DEFAULT 1,
	notify_agreement TINYINT NOT NULL DEFAULT 1,
	notify_confusion TINYINT NOT NULL DEFAULT 1,
	notify_refusal TINYINT NOT NULL DEFAULT 1,
	max_auto_replies INT NOT NULL DEFAULT 3,
	notify_after_rounds INT NOT NULL DEFAULT 5,
	bypass_price_change TINYINT NOT NULL DEFAULT 0,
	bypass_new_terms TINYINT NOT NULL DEFAULT 0,
	bypass_target_reached TINYINT NOT NULL DEFAULT 0,
	bypass_agreement TINYINT NOT NULL DEFAULT 0,
	bypass_confusion TINYINT NOT NULL DEFAULT 0,
	bypass_refusal TINYINT NOT NULL DEFAULT 0,
	updated_at VARCHAR(40) NOT NULL
);
CREATE TABLE IF NOT EXISTS notifications (
	id VARCHAR(64) PRIMARY KEY,
	user_id VARCHAR(255) NOT NULL,
	notification_type VARCHAR(32) NOT NULL,
	title VARCHAR(512) NOT NULL,
	content TEXT NOT NULL,
	source_id VARCHAR(64) NOT NULL DEFAULT '',
	source_name VARCHAR(512) NOT NULL DEFAULT '',
	read_flag TINYINT NOT NULL DEFAULT 0,
	created_at VARCHAR(40) NOT NULL,
	INDEX idx_notifications_user_read (user_id, read_flag)
);
CREATE TABLE IF NOT EXISTS tasks (
	id VARCHAR(64) PRIMARY KEY,
	kind VARCHAR(32) NOT NULL,
	negotiation_id VARCHAR(64) NOT NULL,
	message_id VARCHAR(64) NOT NULL DEFAULT '',
	user_id VARCHAR(255) NOT NULL DEFAULT '',
	idempotency_key VARCHAR(700) NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	available_at BIGINT NOT NULL,
	leased_until BIGINT NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL,
	created_at VARCHAR(40) NOT NULL,
	done TINYINT NOT NULL DEFAULT 0,
	UNIQUE KEY uq_tasks_idempotency (idempotency_key),
	INDEX idx_tasks_due (done, available_at)
)
`,
	upsertMessage: `INSERT INTO negotiation_messages (negotiation_id, id, seq, sender, content, timestamp, email_message_id)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE email_message_id = VALUES(email_message_id)`,
	upsertOffer: `INSERT INTO counter_offers (negotiation_id, id, seq, price, proposed_by, timestamp, status, notes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE status = VALUES(status)`,
	upsertConfig: `INSERT INTO agent_configs (` + configColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	style = VALUES(style),
	notify_price_change = VALUES(notify_price_change), notify_new_terms = VALUES(notify_new_terms),
	notify_target_reached = VALUES(notify_target_reached), notify_agreement = VALUES(notify_agreement),
	notify_confusion = VALUES(notify_confusion), notify_refusal = VALUES(notify_refusal),
	max_auto_replies = VALUES(max_auto_replies), notify_after_rounds = VALUES(notify_after_rounds),
	bypass_price_change = VALUES(bypass_price_change), bypass_new_terms = VALUES(bypass_new_terms),
	bypass_target_reached = VALUES(bypass_target_reached), bypass_agreement = VALUES(bypass_agreement),
	bypass_confusion = VALUES(bypass_confusion), bypass_refusal = VALUES(bypass_refusal),
	updated_at = VALUES(updated_at)`,
	insertTask: `INSERT IGNORE INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
}
