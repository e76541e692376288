package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

var _ Storage = (*PostgresStore)(nil)

// PostgresStore is the production Storage. UpdateLoanAggregate holds a row
// lock on the loan for the whole transaction.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore connects using a lib/pq connection string and creates the
// schema if it does not exist.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return &PostgresStore{sqlStore: &sqlStore{db: db, numbered: true, lockSuffix: " FOR UPDATE"}}, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS loans (
	id UUID PRIMARY KEY,
	owner_id TEXT NOT NULL,
	amount BIGINT NOT NULL,
	terms INTEGER NOT NULL,
	outstanding_amount BIGINT NOT NULL,
	currency_code TEXT NOT NULL,
	processed_at DATE NOT NULL,
	status TEXT NOT NULL DEFAULT 'due',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS scheduled_repayments (
	id UUID PRIMARY KEY,
	loan_id UUID NOT NULL REFERENCES loans(id) ON UPDATE CASCADE ON DELETE RESTRICT,
	installment_index INTEGER NOT NULL,
	amount BIGINT NOT NULL,
	outstanding_amount BIGINT NOT NULL DEFAULT 0,
	currency_code TEXT NOT NULL,
	due_date DATE NOT NULL,
	status TEXT NOT NULL DEFAULT 'due',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS received_repayments (
	id UUID PRIMARY KEY,
	loan_id UUID NOT NULL REFERENCES loans(id) ON UPDATE CASCADE ON DELETE RESTRICT,
	amount BIGINT NOT NULL,
	currency_code TEXT NOT NULL,
	received_at DATE NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduled_repayments_loan_id ON scheduled_repayments(loan_id, due_date);
CREATE INDEX IF NOT EXISTS idx_scheduled_repayments_status ON scheduled_repayments(status, due_date);
CREATE INDEX IF NOT EXISTS idx_received_repayments_loan_id ON received_repayments(loan_id);
`
