package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/sirupsen/logrus"
)

// Options configures a Ledger. Zero values select the reference schedule and
// repayment policy, the standard logrus logger and a fresh metrics registry.
type Options struct {
	Schedule ScheduleConfig
	Policy   RepaymentPolicy
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Ledger handles the business logic for loans, schedules and repayments.
type Ledger struct {
	storage  store.Storage
	schedule ScheduleConfig
	policy   RepaymentPolicy
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts Options) *Ledger {
	l := &Ledger{
		storage:  s,
		schedule: opts.Schedule,
		policy:   opts.Policy,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if l.log == nil {
		l.log = logrus.StandardLogger()
	}
	if l.metrics == nil {
		l.metrics = metrics.New()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

type CreateLoanRequest struct {
	OwnerID      string      `json:"owner_id"`
	Amount       int64       `json:"amount"`
	CurrencyCode string      `json:"currency_code"`
	Terms        int         `json:"terms"`
	ProcessedAt  models.Date `json:"processed_at"`
}

type RepayLoanRequest struct {
	Amount       int64       `json:"amount"`
	CurrencyCode string      `json:"currency_code"`
	ReceivedAt   models.Date `json:"received_at"`
}

// CreateLoan creates a loan and its full installment schedule in one write.
func (l *Ledger) CreateLoan(ctx context.Context, req CreateLoanRequest) (*models.Loan, error) {
	if !models.ValidCurrencyCode(req.CurrencyCode) {
		return nil, fmt.Errorf("%w: invalid currency code %q", ErrInvalidArgument, req.CurrencyCode)
	}
	if req.ProcessedAt.IsZero() {
		return nil, fmt.Errorf("%w: processed_at is required", ErrInvalidArgument)
	}
	installments, err := GenerateSchedule(req.Amount, req.CurrencyCode, req.Terms, req.ProcessedAt, l.schedule)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	loan := &models.Loan{
		ID:                uuid.New(),
		OwnerID:           req.OwnerID,
		Amount:            req.Amount,
		Terms:             req.Terms,
		OutstandingAmount: req.Amount,
		CurrencyCode:      req.CurrencyCode,
		ProcessedAt:       req.ProcessedAt,
		Status:            models.LoanStatusDue,
		CreatedAt:         now,
		UpdatedAt:         now,
		Installments:      installments,
	}
	for _, inst := range installments {
		inst.ID = uuid.New()
		inst.LoanID = loan.ID
		inst.CreatedAt = now
		inst.UpdatedAt = now
	}

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		return nil, storageError("failed to store loan", err)
	}

	l.metrics.LoansCreated.WithLabelValues(loan.CurrencyCode).Inc()
	l.log.WithFields(logrus.Fields{
		"loan_id":  loan.ID,
		"owner_id": loan.OwnerID,
		"amount":   models.FormatMinor(loan.Amount, loan.CurrencyCode),
		"currency": loan.CurrencyCode,
		"terms":    loan.Terms,
	}).Info("loan created")
	return loan, nil
}

// RepayLoan applies a repayment to the loan's due installments and appends a
// receipt. The whole update runs in one storage transaction holding the loan.
// Calling it twice with the same arguments applies the payment twice.
func (l *Ledger) RepayLoan(ctx context.Context, loanID uuid.UUID, req RepayLoanRequest) (*models.Loan, error) {
	if req.Amount < 0 {
		return nil, fmt.Errorf("%w: repayment amount must not be negative, got %d", ErrInvalidArgument, req.Amount)
	}
	if !models.ValidCurrencyCode(req.CurrencyCode) {
		return nil, fmt.Errorf("%w: invalid currency code %q", ErrInvalidArgument, req.CurrencyCode)
	}
	if req.ReceivedAt.IsZero() {
		return nil, fmt.Errorf("%w: received_at is required", ErrInvalidArgument)
	}

	logger := l.log.WithField("loan_id", loanID)
	var alloc *Allocation
	loan, err := l.storage.UpdateLoanAggregate(ctx, loanID, func(loan *models.Loan) (*store.AggregateChange, error) {
		if loan.CurrencyCode != req.CurrencyCode {
			logger.WithFields(logrus.Fields{
				"loan_currency":      loan.CurrencyCode,
				"repayment_currency": req.CurrencyCode,
			}).Warn("repayment currency differs from loan currency")
		}

		a, err := AllocateRepayment(loan, req.Amount, req.CurrencyCode, req.ReceivedAt, l.policy)
		if err != nil {
			return nil, err
		}

		now := l.now().UTC()
		loan.UpdatedAt = now
		for _, inst := range a.Touched {
			inst.UpdatedAt = now
		}
		a.Receipt.ID = uuid.New()
		a.Receipt.CreatedAt = now
		alloc = a

		return &store.AggregateChange{Installments: a.Touched, Receipt: a.Receipt}, nil
	})
	if err != nil {
		return nil, storageError("failed to apply repayment", err)
	}

	l.metrics.RepaymentsApplied.WithLabelValues(req.CurrencyCode).Inc()
	if alloc.Receipt.Amount > 0 {
		l.metrics.AmountReceived.WithLabelValues(req.CurrencyCode).Add(float64(alloc.Receipt.Amount))
	}
	for _, inst := range alloc.Touched {
		l.metrics.InstallmentTransitions.WithLabelValues(string(inst.Status)).Inc()
	}

	logger.WithFields(logrus.Fields{
		"paid":        models.FormatMinor(req.Amount, req.CurrencyCode),
		"credited":    models.FormatMinor(alloc.Receipt.Amount, req.CurrencyCode),
		"received_at": req.ReceivedAt.String(),
		"touched":     len(alloc.Touched),
		"status":      loan.Status,
		"outstanding": models.FormatMinor(loan.OutstandingAmount, loan.CurrencyCode),
	}).Info("repayment applied")
	return loan, nil
}

// GetLoan retrieves a loan with its schedule and receipts.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, storageError("failed to get loan", err)
	}
	return loan, nil
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans(ctx context.Context) ([]*models.Loan, error) {
	loans, err := l.storage.GetAllLoans(ctx)
	if err != nil {
		return nil, storageError("failed to list loans", err)
	}
	return loans, nil
}

// DeleteLoan soft-removes a loan together with its installments.
func (l *Ledger) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	if err := l.storage.DeleteLoan(ctx, id); err != nil {
		return storageError("failed to delete loan", err)
	}
	l.log.WithField("loan_id", id).Info("loan removed")
	return nil
}

func (l *Ledger) GetRepayments(ctx context.Context, loanID uuid.UUID) ([]*models.ReceivedRepayment, error) {
	repayments, err := l.storage.GetRepaymentsForLoan(ctx, loanID)
	if err != nil {
		return nil, storageError("failed to get repayments", err)
	}
	return repayments, nil
}

// GetDueInstallments returns the installments the next repayment would walk.
func (l *Ledger) GetDueInstallments(ctx context.Context, loanID uuid.UUID) ([]*models.ScheduledInstallment, error) {
	installments, err := l.storage.ListDueInstallments(ctx, loanID)
	if err != nil {
		return nil, storageError("failed to get due installments", err)
	}
	return installments, nil
}

// ReportDueInstallments lists due installments with a due date on or before
// asOf and records how many are strictly past due.
func (l *Ledger) ReportDueInstallments(ctx context.Context, asOf models.Date) ([]*models.ScheduledInstallment, error) {
	installments, err := l.storage.ListInstallmentsDueBy(ctx, asOf)
	if err != nil {
		return nil, storageError("failed to list due installments", err)
	}

	pastDue := 0
	for _, inst := range installments {
		if inst.DueDate.Before(asOf) {
			pastDue++
		}
		l.log.WithFields(logrus.Fields{
			"loan_id":     inst.LoanID,
			"installment": inst.Index,
			"due_date":    inst.DueDate.String(),
			"outstanding": models.FormatMinor(inst.OutstandingAmount, inst.CurrencyCode),
			"currency":    inst.CurrencyCode,
		}).Debug("installment due")
	}
	l.metrics.InstallmentsPastDue.Set(float64(pastDue))
	l.log.WithFields(logrus.Fields{
		"as_of":    asOf.String(),
		"due":      len(installments),
		"past_due": pastDue,
	}).Info("due installment report")
	return installments, nil
}

// storageError keeps domain errors intact and marks everything else as a
// storage failure.
func storageError(msg string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, msg, err)
}
