package ledger

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/mcclellann/loanledger/pkg/models"
)

type FlagMode int

const (
	// FlagCarryOver keeps the full-repayment flag set for the rest of the call
	// once any installment was covered.
	FlagCarryOver FlagMode = iota
	// FlagPerInstallment decides full coverage afresh for each installment.
	FlagPerInstallment
)

type StatusMode int

const (
	// StatusSticky only ever moves a loan to due; a loan is never marked
	// repaid by an allocation, it can only stay repaid.
	StatusSticky StatusMode = iota
	// StatusDerived recomputes the loan status from its installments.
	StatusDerived
)

// RepaymentPolicy selects the allocation behaviors that have more than one
// plausible reading.
type RepaymentPolicy struct {
	FullRepaymentFlag FlagMode
	LoanStatus        StatusMode
}

// ReferencePolicy is the default repayment policy.
func ReferencePolicy() RepaymentPolicy {
	return RepaymentPolicy{FullRepaymentFlag: FlagCarryOver, LoanStatus: StatusSticky}
}

// Allocation is the outcome of applying one repayment to a loan aggregate.
type Allocation struct {
	// Touched lists the installments whose state changed, in allocation order.
	Touched []*models.ScheduledInstallment
	// Receipt carries the credited total; ID and CreatedAt are unset.
	Receipt *models.ReceivedRepayment
}

// selectableForRepayment is the fetch filter of the allocator. Partial
// installments are excluded, so they can never be repaid by a later call.
func selectableForRepayment(inst *models.ScheduledInstallment) bool {
	return inst.Status == models.InstallmentStatusDue
}

// SelectableInstallments returns the installments a repayment would walk,
// earliest due date first.
func SelectableInstallments(installments []*models.ScheduledInstallment) []*models.ScheduledInstallment {
	var due []*models.ScheduledInstallment
	for _, inst := range installments {
		if selectableForRepayment(inst) {
			due = append(due, inst)
		}
	}
	slices.SortStableFunc(due, func(a, b *models.ScheduledInstallment) int {
		if c := a.DueDate.Time().Compare(b.DueDate.Time()); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return due
}

// AllocateRepayment applies amount, received on receivedAt, to loan and its
// installments in place.
//
// An installment is only credited in full when its due date equals
// receivedAt. Every other selectable installment takes whatever is left of
// the payment as a partial credit, which zeroes the remainder. The loan's
// outstanding amount is the principal minus this payment, independent of
// what the installments absorbed.
func AllocateRepayment(loan *models.Loan, amount int64, currencyCode string, receivedAt models.Date, policy RepaymentPolicy) (*Allocation, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: repayment amount must not be negative, got %d", ErrInvalidArgument, amount)
	}

	outstanding := loan.Amount - amount

	var (
		remaining     = amount
		received      int64
		fullRepayment bool
		touched       []*models.ScheduledInstallment
	)
	for _, inst := range SelectableInstallments(loan.Installments) {
		if policy.FullRepaymentFlag == FlagPerInstallment {
			fullRepayment = false
		}
		if remaining >= inst.Amount {
			fullRepayment = true
		}

		if inst.DueDate.Equal(receivedAt) {
			inst.Status = models.InstallmentStatusRepaid
			if fullRepayment {
				inst.OutstandingAmount = 0
			} else {
				inst.OutstandingAmount = remaining
			}
			received += inst.Amount
			remaining -= inst.Amount
			touched = append(touched, inst)
			continue
		}

		if remaining > 0 {
			inst.Status = models.InstallmentStatusPartial
			inst.OutstandingAmount = remaining
			touched = append(touched, inst)
		}
		// A negative remainder (underpaid matching installment) is taken back here.
		received += remaining
		remaining = 0
	}

	loan.Status = nextLoanStatus(loan, policy.LoanStatus)
	if loan.Status == models.LoanStatusRepaid {
		loan.OutstandingAmount = 0
	} else {
		loan.OutstandingAmount = outstanding
	}

	return &Allocation{
		Touched: touched,
		Receipt: &models.ReceivedRepayment{
			LoanID:       loan.ID,
			Amount:       received,
			CurrencyCode: currencyCode,
			ReceivedAt:   receivedAt,
		},
	}, nil
}

func nextLoanStatus(loan *models.Loan, mode StatusMode) models.LoanStatus {
	allRepaid := true
	for _, inst := range loan.Installments {
		if inst.Status != models.InstallmentStatusRepaid {
			allRepaid = false
			break
		}
	}
	if !allRepaid {
		return models.LoanStatusDue
	}
	if mode == StatusDerived {
		return models.LoanStatusRepaid
	}
	if loan.Status == "" {
		return models.LoanStatusDue
	}
	return loan.Status
}
