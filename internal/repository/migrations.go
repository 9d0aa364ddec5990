package repository

import "database/sql"

// RunMigrations applies the schema at startup. Statements are idempotent so
// repeated boots are safe.
func RunMigrations(db *sql.DB) error {
	stmts := []string{

		`CREATE TABLE IF NOT EXISTS payments (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			reference TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			gateway_transaction_id TEXT,
			gateway_response JSONB,
			risk_score INT,
			paid_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		`CREATE INDEX IF NOT EXISTS idx_payments_account_status
			ON payments (account_id, status);`,

		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id UUID PRIMARY KEY,
			event_type TEXT NOT NULL,
			reference TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error_detail TEXT,
			raw_payload BYTEA NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_reference
			ON webhook_deliveries (reference, received_at DESC);`,

		`CREATE TABLE IF NOT EXISTS risk_assessments (
			id UUID PRIMARY KEY,
			reference TEXT NOT NULL,
			score INT NOT NULL,
			factors JSONB NOT NULL,
			decision TEXT NOT NULL,
			evaluated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,

		`CREATE INDEX IF NOT EXISTS idx_risk_assessments_reference
			ON risk_assessments (reference, evaluated_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
