package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the record-store schema. Statements are idempotent so
// every service can run this at startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		createPrescriptionsTable,
		createNotificationsTable,
		createDirectoryTables,
		createOutboxTable,
		createConsumerInboxTable,
		createIndexes,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const createPrescriptionsTable = `
CREATE TABLE IF NOT EXISTS prescriptions (
	id                    UUID PRIMARY KEY,
	onchain_id            BIGINT,
	sensitivity           VARCHAR(16) NOT NULL,
	doctor_id             VARCHAR(64) NOT NULL,
	patient_display_id    VARCHAR(64) NOT NULL,
	pharmacy_id           VARCHAR(64),
	courier_wallet        VARCHAR(64),
	medication_name       TEXT NOT NULL,
	dosage                TEXT,
	dispensed             BOOLEAN NOT NULL DEFAULT FALSE,
	accept_delivery       BOOLEAN NOT NULL DEFAULT FALSE,
	logistics_accepted    BOOLEAN NOT NULL DEFAULT FALSE,
	delivery_confirmed    BOOLEAN NOT NULL DEFAULT FALSE,
	dispensed_at          TIMESTAMPTZ,
	accept_delivery_at    TIMESTAMPTZ,
	logistics_accepted_at TIMESTAMPTZ,
	delivery_confirmed_at TIMESTAMPTZ,
	accept_tx_hash        VARCHAR(80),
	accept_block          BIGINT,
	delivery_tx_hash      VARCHAR(80),
	delivery_block        BIGINT,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createNotificationsTable = `
CREATE TABLE IF NOT EXISTS notifications (
	id                      UUID PRIMARY KEY,
	dedup_key               CHAR(64) NOT NULL UNIQUE,
	to_role                 VARCHAR(16) NOT NULL,
	to_target_id            VARCHAR(64) NOT NULL,
	type                    VARCHAR(48) NOT NULL,
	title                   TEXT NOT NULL,
	message                 TEXT NOT NULL,
	prescription_display_id VARCHAR(64),
	order_id                VARCHAR(64),
	read                    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createDirectoryTables = `
CREATE TABLE IF NOT EXISTS role_directory (
	role        VARCHAR(16) NOT NULL,
	external_id VARCHAR(64) NOT NULL,
	doc_id      VARCHAR(64) NOT NULL,
	PRIMARY KEY (role, external_id)
)`

const createOutboxTable = `
CREATE TABLE IF NOT EXISTS outbox (
	id           BIGSERIAL PRIMARY KEY,
	aggregate_id TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	payload      JSONB NOT NULL,
	topic        TEXT NOT NULL,
	partition_key TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	processed_at TIMESTAMPTZ,
	retry_count  INT NOT NULL DEFAULT 0,
	last_error   TEXT
)`

const createConsumerInboxTable = `
CREATE TABLE IF NOT EXISTS consumer_inbox (
	idempotency_key CHAR(64) PRIMARY KEY,
	handler_name    TEXT NOT NULL,
	status          VARCHAR(16) NOT NULL,
	payload         JSONB,
	result          JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at      TIMESTAMPTZ
)`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_prescriptions_doctor ON prescriptions (doctor_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_prescriptions_patient ON prescriptions (patient_display_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_prescriptions_open_deliveries ON prescriptions (logistics_accepted_at) WHERE logistics_accepted AND NOT delivery_confirmed;
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (to_role, to_target_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_dedup ON notifications (to_role, type, prescription_display_id);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (created_at) WHERE processed_at IS NULL`
