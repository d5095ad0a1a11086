package postgres

// Schema documents the tables this package's queries assume. It is not
// executed by the application — migrations are an operational concern
// owned by whatever deploy tooling runs ahead of these binaries — but it
// is kept here as the single source of truth for the column set the
// hand-written queries below rely on.
const Schema = `
CREATE TABLE IF NOT EXISTS notifications (
	notification_id UUID PRIMARY KEY,
	request_id       UUID NOT NULL,
	client_id        TEXT NOT NULL,
	channel          TEXT NOT NULL,
	recipient        JSONB NOT NULL,
	content          JSONB NOT NULL,
	variables        JSONB NOT NULL,
	webhook_url      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	scheduled_at     TIMESTAMPTZ,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	UNIQUE (request_id, channel)
);

CREATE TABLE IF NOT EXISTS outbox_entries (
	outbox_id       UUID PRIMARY KEY,
	notification_id UUID NOT NULL REFERENCES notifications(notification_id),
	topic           TEXT NOT NULL,
	payload         BYTEA NOT NULL,
	status          TEXT NOT NULL,
	claimed_by      TEXT,
	claimed_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS outbox_entries_status_created_at_idx ON outbox_entries (status, created_at);

CREATE TABLE IF NOT EXISTS alerts (
	alert_id                     UUID PRIMARY KEY,
	notification_id              UUID NOT NULL,
	alert_type                   TEXT NOT NULL,
	severity                     TEXT NOT NULL,
	reason                       TEXT NOT NULL,
	observed_coordination_status TEXT NOT NULL,
	observed_store_status        TEXT NOT NULL,
	retry_count                  INTEGER NOT NULL DEFAULT 0,
	resolved                     BOOLEAN NOT NULL DEFAULT FALSE,
	resolved_at                  TIMESTAMPTZ,
	created_at                   TIMESTAMPTZ NOT NULL,
	updated_at                   TIMESTAMPTZ NOT NULL,
	UNIQUE (notification_id, alert_type)
);
`
