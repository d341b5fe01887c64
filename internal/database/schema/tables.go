// Package schema defines the database schema of the delivery history.
//
// The statements are idempotent and run on every start.
package schema

// TableDefinitions contains all the SQL statements to create the database tables
// Don't put REFERENCES and don't put CHECK constraints in the CREATE TABLE statements
var TableDefinitions = []string{
	`CREATE TABLE IF NOT EXISTS delivery_history (
		id UUID PRIMARY KEY,
		batch_id UUID NOT NULL,
		message_id VARCHAR(64),
		destination VARCHAR(255) NOT NULL,
		provider_identity VARCHAR(255) NOT NULL,
		status VARCHAR(32) NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		error_category VARCHAR(32),
		error_detail TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// IndexDefinitions contains the indexes created after the tables
var IndexDefinitions = []string{
	`CREATE INDEX IF NOT EXISTS idx_delivery_history_batch_id ON delivery_history (batch_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_history_status ON delivery_history (batch_id, status)`,
}
