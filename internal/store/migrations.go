package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		// v1 is the original layout, which stored the synced flag as the
		// text 'true' or 'false'. Databases created by older builds are at
		// this version.
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	payload     TEXT NOT NULL,
	synced      TEXT DEFAULT 'false',
	received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		// v2 rebuilds the table with a numeric flag and rewrites every
		// legacy value once.
		version: 2,
		sql: `
CREATE TABLE notifications_v2 (
	id          TEXT PRIMARY KEY,
	payload     TEXT NOT NULL,
	synced      INTEGER NOT NULL DEFAULT 0 CHECK(synced IN (0, 1)),
	received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO notifications_v2 (id, payload, synced, received_at)
SELECT id, payload,
	CASE WHEN lower(trim(CAST(synced AS TEXT))) IN ('true', '1') THEN 1 ELSE 0 END,
	received_at
FROM notifications;

DROP TABLE notifications;
ALTER TABLE notifications_v2 RENAME TO notifications;

CREATE INDEX IF NOT EXISTS idx_notifications_synced ON notifications(synced);
CREATE INDEX IF NOT EXISTS idx_notifications_received ON notifications(received_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS push_subscriptions (
	id              INTEGER PRIMARY KEY CHECK(id = 1),
	endpoint        TEXT NOT NULL,
	expiration_time INTEGER,
	p256dh          TEXT NOT NULL,
	auth            TEXT NOT NULL,
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
