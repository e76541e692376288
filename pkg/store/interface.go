package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
)

// ErrNotFound is returned when a loan does not exist or has been removed.
var ErrNotFound = errors.New("loan not found")

// AggregateChange is what an UpdateLoanAggregate callback asks the store to
// write besides the loan row itself.
type AggregateChange struct {
	Installments []*models.ScheduledInstallment
	Receipt      *models.ReceivedRepayment
}

// AggregateFunc mutates a locked loan aggregate in memory.
type AggregateFunc func(loan *models.Loan) (*AggregateChange, error)

// Storage defines the interface for database operations related to loans,
// their installment schedules and repayment receipts.
type Storage interface {
	// CreateLoan inserts the loan and all of loan.Installments in one transaction.
	CreateLoan(ctx context.Context, loan *models.Loan) error
	// GetLoan returns the loan with its installments (by due date) and receipts.
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	GetAllLoans(ctx context.Context) ([]*models.Loan, error)
	// DeleteLoan soft-removes the loan and its installments.
	DeleteLoan(ctx context.Context, id uuid.UUID) error

	ListDueInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.ScheduledInstallment, error)
	ListInstallmentsDueBy(ctx context.Context, asOf models.Date) ([]*models.ScheduledInstallment, error)
	GetRepaymentsForLoan(ctx context.Context, loanID uuid.UUID) ([]*models.ReceivedRepayment, error)

	// UpdateLoanAggregate loads the loan with its installments under a write
	// lock, runs fn, then saves the loan row, the changed installments and the
	// receipt before committing. Nothing is written if fn or any write fails.
	UpdateLoanAggregate(ctx context.Context, id uuid.UUID, fn AggregateFunc) (*models.Loan, error)

	Close() error
}
