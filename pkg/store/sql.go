package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
)

const (
	loanColumns        = `id, owner_id, amount, terms, outstanding_amount, currency_code, processed_at, status, created_at, updated_at, deleted_at`
	installmentColumns = `id, loan_id, installment_index, amount, outstanding_amount, currency_code, due_date, status, created_at, updated_at`
	repaymentColumns   = `id, loan_id, amount, currency_code, received_at, created_at`
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlStore holds the queries shared by the SQLite and Postgres stores. Queries
// are written with '?' placeholders and rebound for the driver.
type sqlStore struct {
	db         *sql.DB
	numbered   bool   // $1, $2... placeholders
	lockSuffix string // appended to the loan SELECT inside UpdateLoanAggregate
}

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateLoan inserts a new loan and its schedule within a transaction.
func (s *sqlStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		loan.ID, loan.OwnerID, loan.Amount, loan.Terms, loan.OutstandingAmount, loan.CurrencyCode,
		loan.ProcessedAt, loan.Status, loan.CreatedAt, loan.UpdatedAt, loan.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}

	for _, inst := range loan.Installments {
		_, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO scheduled_repayments (`+installmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			inst.ID, inst.LoanID, inst.Index, inst.Amount, inst.OutstandingAmount, inst.CurrencyCode,
			inst.DueDate, inst.Status, inst.CreatedAt, inst.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", inst.Index, err)
		}
	}

	return tx.Commit()
}

// GetLoan retrieves a loan by its ID together with its schedule and receipts.
func (s *sqlStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := s.getLoan(ctx, s.db, id, "")
	if err != nil {
		return nil, err
	}
	if loan.Installments, err = s.listInstallments(ctx, s.db, id); err != nil {
		return nil, err
	}
	if loan.Repayments, err = s.listRepayments(ctx, s.db, id); err != nil {
		return nil, err
	}
	return loan, nil
}

func (s *sqlStore) getLoan(ctx context.Context, q querier, id uuid.UUID, suffix string) (*models.Loan, error) {
	row := q.QueryRowContext(ctx, s.rebind(
		`SELECT `+loanColumns+` FROM loans WHERE id = ? AND deleted_at IS NULL`+suffix), id)
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// GetAllLoans retrieves all live loans without their children.
func (s *sqlStore) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE deleted_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// DeleteLoan soft-removes a loan and its installments. Receipts are kept.
func (s *sqlStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE loans SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`), now, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`UPDATE scheduled_repayments SET deleted_at = ? WHERE loan_id = ? AND deleted_at IS NULL`), now, id)
	if err != nil {
		return fmt.Errorf("failed to delete associated installments: %w", err)
	}

	return tx.Commit()
}

// ListDueInstallments returns the loan's installments still in the due state,
// earliest first.
func (s *sqlStore) ListDueInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.ScheduledInstallment, error) {
	if _, err := s.getLoan(ctx, s.db, loanID, ""); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+installmentColumns+` FROM scheduled_repayments
		WHERE loan_id = ? AND status = ? AND deleted_at IS NULL
		ORDER BY due_date ASC, installment_index ASC`), loanID, models.InstallmentStatusDue)
	if err != nil {
		return nil, fmt.Errorf("failed to get due installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()
	return scanInstallments(rows)
}

// ListInstallmentsDueBy returns due installments of live loans whose due date
// is on or before asOf.
func (s *sqlStore) ListInstallmentsDueBy(ctx context.Context, asOf models.Date) ([]*models.ScheduledInstallment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+prefixColumns("r", installmentColumns)+` FROM scheduled_repayments r
		JOIN loans l ON l.id = r.loan_id
		WHERE r.status = ? AND r.due_date <= ? AND r.deleted_at IS NULL AND l.deleted_at IS NULL
		ORDER BY r.due_date ASC, r.loan_id ASC`), models.InstallmentStatusDue, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to get installments due by %s: %w", asOf, err)
	}
	defer rows.Close()
	return scanInstallments(rows)
}

// GetRepaymentsForLoan retrieves the receipt log of a loan in arrival order.
func (s *sqlStore) GetRepaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.ReceivedRepayment, error) {
	if _, err := s.getLoan(ctx, s.db, loanID, ""); err != nil {
		return nil, err
	}
	return s.listRepayments(ctx, s.db, loanID)
}

// UpdateLoanAggregate runs fn against the locked aggregate and persists the result.
func (s *sqlStore) UpdateLoanAggregate(ctx context.Context, id uuid.UUID, fn AggregateFunc) (*models.Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	loan, err := s.getLoan(ctx, tx, id, s.lockSuffix)
	if err != nil {
		return nil, err
	}
	if loan.Installments, err = s.listInstallments(ctx, tx, id); err != nil {
		return nil, err
	}

	change, err := fn(loan)
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE loans SET outstanding_amount = ?, status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`),
		loan.OutstandingAmount, loan.Status, loan.UpdatedAt, loan.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	} else if n == 0 {
		return nil, ErrNotFound
	}

	if change != nil {
		for _, inst := range change.Installments {
			_, err = tx.ExecContext(ctx, s.rebind(
				`UPDATE scheduled_repayments SET outstanding_amount = ?, status = ?, updated_at = ? WHERE id = ? AND loan_id = ?`),
				inst.OutstandingAmount, inst.Status, inst.UpdatedAt, inst.ID, loan.ID,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to update installment %d: %w", inst.Index, err)
			}
		}
		if r := change.Receipt; r != nil {
			_, err = tx.ExecContext(ctx, s.rebind(
				`INSERT INTO received_repayments (`+repaymentColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
				r.ID, r.LoanID, r.Amount, r.CurrencyCode, r.ReceivedAt, r.CreatedAt,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create repayment receipt: %w", err)
			}
		}
	}

	if loan.Repayments, err = s.listRepayments(ctx, tx, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit loan update: %w", err)
	}
	return loan, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) listInstallments(ctx context.Context, q querier, loanID uuid.UUID) ([]*models.ScheduledInstallment, error) {
	rows, err := q.QueryContext(ctx, s.rebind(
		`SELECT `+installmentColumns+` FROM scheduled_repayments
		WHERE loan_id = ? AND deleted_at IS NULL
		ORDER BY due_date ASC, installment_index ASC`), loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()
	return scanInstallments(rows)
}

func (s *sqlStore) listRepayments(ctx context.Context, q querier, loanID uuid.UUID) ([]*models.ReceivedRepayment, error) {
	rows, err := q.QueryContext(ctx, s.rebind(
		`SELECT `+repaymentColumns+` FROM received_repayments WHERE loan_id = ? ORDER BY created_at ASC, id ASC`), loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get repayments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var repayments []*models.ReceivedRepayment
	for rows.Next() {
		var r models.ReceivedRepayment
		if err := rows.Scan(&r.ID, &r.LoanID, &r.Amount, &r.CurrencyCode, &r.ReceivedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repayment row: %w", err)
		}
		repayments = append(repayments, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan repayments: %w", err)
	}
	return repayments, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var deletedAt sql.NullTime
	err := row.Scan(&loan.ID, &loan.OwnerID, &loan.Amount, &loan.Terms, &loan.OutstandingAmount, &loan.CurrencyCode,
		&loan.ProcessedAt, &loan.Status, &loan.CreatedAt, &loan.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		loan.DeletedAt = &deletedAt.Time
	}
	return &loan, nil
}

func scanInstallments(rows *sql.Rows) ([]*models.ScheduledInstallment, error) {
	var installments []*models.ScheduledInstallment
	for rows.Next() {
		var inst models.ScheduledInstallment
		if err := rows.Scan(&inst.ID, &inst.LoanID, &inst.Index, &inst.Amount, &inst.OutstandingAmount, &inst.CurrencyCode,
			&inst.DueDate, &inst.Status, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		if !inst.Status.Valid() {
			return nil, fmt.Errorf("installment %s has unknown status %q", inst.ID, inst.Status)
		}
		installments = append(installments, &inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return installments, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
