package ledger

import (
	"fmt"
	"time"

	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// ReferenceDivisor is the divisor used for every installment but the last
// under DivisorFixed. It does not follow the term count, so schedules only
// sum to the principal when terms == 3.
const ReferenceDivisor = 3

// ReferenceAnchor is the date due dates are counted from under DueDatesFromAnchor.
var ReferenceAnchor = models.NewDate(2020, time.January, 20)

type DivisorMode int

const (
	// DivisorFixed splits non-final installments by ReferenceDivisor.
	DivisorFixed DivisorMode = iota
	// DivisorTerms splits non-final installments by the term count.
	DivisorTerms
)

type DueDateMode int

const (
	// DueDatesFromAnchor counts months from ScheduleConfig.Anchor, ignoring processedAt.
	DueDatesFromAnchor DueDateMode = iota
	// DueDatesFromProcessedAt counts months from the loan's processing date.
	DueDatesFromProcessedAt
)

// ScheduleConfig selects how installment amounts and due dates are derived.
type ScheduleConfig struct {
	Divisor  DivisorMode
	DueDates DueDateMode
	Anchor   models.Date
}

// ReferenceSchedule is the default schedule configuration.
func ReferenceSchedule() ScheduleConfig {
	return ScheduleConfig{Divisor: DivisorFixed, DueDates: DueDatesFromAnchor, Anchor: ReferenceAnchor}
}

// InstallmentAmount returns the scheduled amount of installment index (1-based)
// out of terms. The last installment takes round-half-up(amount / terms).
func (c ScheduleConfig) InstallmentAmount(index, terms int, amount int64) int64 {
	principal := decimal.NewFromInt(amount)
	if index == terms {
		return principal.Div(decimal.NewFromInt(int64(terms))).Round(0).IntPart()
	}
	divisor := int64(ReferenceDivisor)
	if c.Divisor == DivisorTerms {
		divisor = int64(terms)
	}
	return principal.Div(decimal.NewFromInt(divisor)).Floor().IntPart()
}

// DueDate returns the due date of installment index for a loan processed on processedAt.
func (c ScheduleConfig) DueDate(processedAt models.Date, index int) models.Date {
	start := c.Anchor
	if start.IsZero() {
		start = ReferenceAnchor
	}
	if c.DueDates == DueDatesFromProcessedAt {
		start = processedAt
	}
	return start.AddMonthsNoOverflow(index)
}

// GenerateSchedule builds the installments of a new loan, ordered by index and
// due date. IDs, loan references and timestamps are left for the caller.
func GenerateSchedule(amount int64, currencyCode string, terms int, processedAt models.Date, cfg ScheduleConfig) ([]*models.ScheduledInstallment, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidArgument, amount)
	}
	if terms <= 0 {
		return nil, fmt.Errorf("%w: terms must be positive, got %d", ErrInvalidArgument, terms)
	}

	installments := make([]*models.ScheduledInstallment, 0, terms)
	for i := 1; i <= terms; i++ {
		instAmount := cfg.InstallmentAmount(i, terms, amount)
		installments = append(installments, &models.ScheduledInstallment{
			Index:             i,
			Amount:            instAmount,
			OutstandingAmount: instAmount,
			CurrencyCode:      currencyCode,
			DueDate:           cfg.DueDate(processedAt, i),
			Status:            models.InstallmentStatusDue,
		})
	}
	return installments, nil
}
