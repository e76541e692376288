package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

var _ Storage = (*SQLiteStore)(nil)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
// Write transactions take the database lock at BEGIN, which serializes
// concurrent repayments against the same loan.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return &SQLiteStore{sqlStore: &sqlStore{db: db}}, nil
}

// sqliteDSN adds the per-connection options the store relies on unless the
// caller already set them.
func sqliteDSN(dsn string) string {
	opts := []string{"_foreign_keys=on", "_busy_timeout=5000", "_txlock=immediate"}
	var add []string
	for _, o := range opts {
		key := o[:strings.IndexByte(o, '=')+1]
		if !strings.Contains(dsn, key) {
			add = append(add, o)
		}
	}
	if len(add) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + sep + strings.Join(add, "&")
}

// Amounts are integer minor units; dates are ISO text so they order lexically.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS loans (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	amount INTEGER NOT NULL,
	terms INTEGER NOT NULL,
	outstanding_amount INTEGER NOT NULL,
	currency_code TEXT NOT NULL,
	processed_at TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'due',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	deleted_at DATETIME
);
CREATE TABLE IF NOT EXISTS scheduled_repayments (
	id TEXT PRIMARY KEY,
	loan_id TEXT NOT NULL,
	installment_index INTEGER NOT NULL,
	amount INTEGER NOT NULL,
	outstanding_amount INTEGER NOT NULL DEFAULT 0,
	currency_code TEXT NOT NULL,
	due_date TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'due',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	deleted_at DATETIME,
	FOREIGN KEY(loan_id) REFERENCES loans(id) ON UPDATE CASCADE ON DELETE RESTRICT
);
CREATE TABLE IF NOT EXISTS received_repayments (
	id TEXT PRIMARY KEY,
	loan_id TEXT NOT NULL,
	amount INTEGER NOT NULL,
	currency_code TEXT NOT NULL,
	received_at TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY(loan_id) REFERENCES loans(id) ON UPDATE CASCADE ON DELETE RESTRICT
);
CREATE INDEX IF NOT EXISTS idx_scheduled_repayments_loan_id ON scheduled_repayments(loan_id, due_date);
CREATE INDEX IF NOT EXISTS idx_scheduled_repayments_status ON scheduled_repayments(status, due_date);
CREATE INDEX IF NOT EXISTS idx_received_repayments_loan_id ON received_repayments(loan_id);
`
