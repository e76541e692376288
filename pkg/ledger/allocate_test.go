package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	firstDue  = models.NewDate(2020, time.February, 20)
	secondDue = models.NewDate(2020, time.March, 20)
	thirdDue  = models.NewDate(2020, time.April, 20)
)

// newScheduledLoan builds an in-memory loan with the reference schedule.
func newScheduledLoan(t *testing.T, amount int64, terms int) *models.Loan {
	t.Helper()
	insts, err := GenerateSchedule(amount, models.CurrencyVND, terms, processed, ReferenceSchedule())
	require.NoError(t, err)
	loan := &models.Loan{
		ID:                uuid.New(),
		Amount:            amount,
		Terms:             terms,
		OutstandingAmount: amount,
		CurrencyCode:      models.CurrencyVND,
		ProcessedAt:       processed,
		Status:            models.LoanStatusDue,
		Installments:      insts,
	}
	for _, inst := range insts {
		inst.LoanID = loan.ID
	}
	return loan
}

func TestAllocateRepayment_FullSingleDate(t *testing.T) {
	loan := newScheduledLoan(t, 9000, 3)

	alloc, err := AllocateRepayment(loan, 3000, models.CurrencyVND, firstDue, ReferencePolicy())
	require.NoError(t, err)

	first := loan.Installments[0]
	assert.Equal(t, models.InstallmentStatusRepaid, first.Status)
	assert.Equal(t, int64(0), first.OutstandingAmount)
	for _, inst := range loan.Installments[1:] {
		assert.Equal(t, models.InstallmentStatusDue, inst.Status)
		assert.Equal(t, int64(3000), inst.OutstandingAmount)
	}

	assert.Equal(t, models.LoanStatusDue, loan.Status)
	assert.Equal(t, int64(6000), loan.OutstandingAmount)

	require.Len(t, alloc.Touched, 1)
	assert.Same(t, first, alloc.Touched[0])
	assert.Equal(t, int64(3000), alloc.Receipt.Amount)
	assert.Equal(t, models.CurrencyVND, alloc.Receipt.CurrencyCode)
	assert.True(t, alloc.Receipt.ReceivedAt.Equal(firstDue))
	assert.Equal(t, loan.ID, alloc.Receipt.LoanID)
}

func TestAllocateRepayment_NonMatchingDateIsPartial(t *testing.T) {
	for _, amount := range []int64{1, 1000, 3000, 9000} {
		loan := newScheduledLoan(t, 9000, 3)
		received := models.NewDate(2020, time.February, 21)

		alloc, err := AllocateRepayment(loan, amount, models.CurrencyVND, received, ReferencePolicy())
		require.NoError(t, err)

		first := loan.Installments[0]
		assert.Equal(t, models.InstallmentStatusPartial, first.Status)
		assert.Equal(t, amount, first.OutstandingAmount)
		for _, inst := range loan.Installments[1:] {
			assert.Equal(t, models.InstallmentStatusDue, inst.Status, "only the first installment absorbs the payment")
		}
		assert.Equal(t, amount, alloc.Receipt.Amount)
		assert.Len(t, alloc.Touched, 1)
	}
}

func TestAllocateRepayment_PartialIsNotSelectedAgain(t *testing.T) {
	loan := newScheduledLoan(t, 9000, 3)

	_, err := AllocateRepayment(loan, 1000, models.CurrencyVND, models.NewDate(2020, time.February, 1), ReferencePolicy())
	require.NoError(t, err)
	require.Equal(t, models.InstallmentStatusPartial, loan.Installments[0].Status)

	alloc, err := AllocateRepayment(loan, 3000, models.CurrencyVND, firstDue, ReferencePolicy())
	require.NoError(t, err)

	// The partial installment is skipped even though the date matches it.
	assert.Equal(t, models.InstallmentStatusPartial, loan.Installments[0].Status)
	assert.Equal(t, int64(1000), loan.Installments[0].OutstandingAmount)
	assert.Equal(t, models.InstallmentStatusPartial, loan.Installments[1].Status)
	assert.Equal(t, int64(3000), loan.Installments[1].OutstandingAmount)
	assert.Equal(t, int64(3000), alloc.Receipt.Amount)

	assert.Len(t, SelectableInstallments(loan.Installments), 1)
}

func TestAllocateRepayment_AllRepaidCollapsesOutstanding(t *testing.T) {
	loan := newScheduledLoan(t, 9000, 3)
	for _, inst := range loan.Installments {
		inst.Status = models.InstallmentStatusRepaid
		inst.OutstandingAmount = 0
	}
	loan.Status = models.LoanStatusRepaid

	alloc, err := AllocateRepayment(loan, 500, models.CurrencyVND, secondDue, ReferencePolicy())
	require.NoError(t, err)

	assert.Equal(t, models.LoanStatusRepaid, loan.Status)
	assert.Equal(t, int64(0), loan.OutstandingAmount)
	assert.Empty(t, alloc.Touched)
	assert.Equal(t, int64(0), alloc.Receipt.Amount, "nothing was selectable, nothing credited")
}

func TestAllocateRepayment_StickyStatusNeverMarksRepaid(t *testing.T) {
	loan := newScheduledLoan(t, 9000, 3)
	for _, inst := range loan.Installments {
		inst.Status = models.InstallmentStatusRepaid
		inst.OutstandingAmount = 0
	}

	_, err := AllocateRepayment(loan, 500, models.CurrencyVND, secondDue, ReferencePolicy())
	require.NoError(t, err)

	assert.Equal(t, models.LoanStatusDue, loan.Status)
	assert.Equal(t, int64(8500), loan.OutstandingAmount)
}

func TestAllocateRepayment_SingleTermLoan(t *testing.T) {
	t.Run("sticky", func(t *testing.T) {
		loan := newScheduledLoan(t, 9000, 1)
		_, err := AllocateRepayment(loan, 9000, models.CurrencyVND, firstDue, ReferencePolicy())
		require.NoError(t, err)

		assert.Equal(t, models.InstallmentStatusRepaid, loan.Installments[0].Status)
		assert.Equal(t, models.LoanStatusDue, loan.Status)
		assert.Equal(t, int64(0), loan.OutstandingAmount)
	})

	t.Run("derived", func(t *testing.T) {
		loan := newScheduledLoan(t, 9000, 1)
		policy := ReferencePolicy()
		policy.LoanStatus = StatusDerived

		_, err := AllocateRepayment(loan, 9000, models.CurrencyVND, firstDue, policy)
		require.NoError(t, err)

		assert.Equal(t, models.LoanStatusRepaid, loan.Status)
		assert.Equal(t, int64(0), loan.OutstandingAmount)
	})
}

func TestAllocateRepayment_Overpayment(t *testing.T) {
	loan := newScheduledLoan(t, 9000, 3)

	alloc, err := AllocateRepayment(loan, 10000, models.CurrencyVND, firstDue, ReferencePolicy())
	require.NoError(t, err)

	assert.Equal(t, models.InstallmentStatusRepaid, loan.Installments[0].Status)
	assert.Equal(t, int64(0), loan.Installments[0].OutstandingAmount)
	assert.Equal(t, models.InstallmentStatusPartial, loan.Installments[1].Status)
	assert.Equal(t, int64(7000), loan.Installments[1].OutstandingAmount)
	assert.Equal(t, models.InstallmentStatusDue, loan.Installments[2].Status)

	assert.Equal(t, int64(10000), alloc.Receipt.Amount)
	assert.Equal(t, int64(-1000), loan.OutstandingAmount)
}

func TestAllocateRepayment_Underpayment(t *testing.T) {
	loan := newScheduledLoan(t, 9000, 3)

	alloc, err := AllocateRepayment(loan, 1000, models.CurrencyVND, firstDue, ReferencePolicy())
	require.NoError(t, err)

	first := loan.Installments[0]
	assert.Equal(t, models.InstallmentStatusRepaid, first.Status)
	assert.Equal(t, int64(1000), first.OutstandingAmount, "uncovered installment keeps the payment as outstanding")
	assert.Equal(t, models.InstallmentStatusDue, loan.Installments[1].Status)

	// 3000 credited to the matching installment, 2000 taken back on the next one.
	assert.Equal(t, int64(1000), alloc.Receipt.Amount)
	assert.Equal(t, int64(8000), loan.OutstandingAmount)
}

func TestAllocateRepayment_ReceiptTable(t *testing.T) {
	const (
		due     = models.InstallmentStatusDue
		partial = models.InstallmentStatusPartial
		repaid  = models.InstallmentStatusRepaid
	)
	cases := []struct {
		name        string
		amount      int64
		at          models.Date
		receipt     int64
		statuses    []models.InstallmentStatus
		outstanding []int64
	}{
		{
			name:        "exact amount on second due date",
			amount:      3000,
			at:          secondDue,
			receipt:     3000,
			statuses:    []models.InstallmentStatus{partial, repaid, due},
			outstanding: []int64{3000, 0, 3000},
		},
		{
			name:        "principal on last due date",
			amount:      9000,
			at:          thirdDue,
			receipt:     12000,
			statuses:    []models.InstallmentStatus{partial, due, repaid},
			outstanding: []int64{9000, 3000, 0},
		},
		{
			name:        "zero on first due date",
			amount:      0,
			at:          firstDue,
			receipt:     0,
			statuses:    []models.InstallmentStatus{repaid, due, due},
			outstanding: []int64{0, 3000, 3000},
		},
		{
			name:        "two installments covered before the match",
			amount:      6000,
			at:          thirdDue,
			receipt:     9000,
			statuses:    []models.InstallmentStatus{partial, due, repaid},
			outstanding: []int64{6000, 3000, 0},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			loan := newScheduledLoan(t, 9000, 3)
			alloc, err := AllocateRepayment(loan, c.amount, models.CurrencyVND, c.at, ReferencePolicy())
			require.NoError(t, err)

			assert.Equal(t, c.receipt, alloc.Receipt.Amount)
			for i, inst := range loan.Installments {
				assert.Equal(t, c.statuses[i], inst.Status, "installment %d", inst.Index)
				assert.Equal(t, c.outstanding[i], inst.OutstandingAmount, "installment %d", inst.Index)
			}
			assert.Equal(t, 9000-c.amount, loan.OutstandingAmount)
		})
	}
}

func TestAllocateRepayment_FullRepaymentFlag(t *testing.T) {
	// Two installments sharing a due date: the first is covered, the second is not.
	build := func() *models.Loan {
		loan := &models.Loan{ID: uuid.New(), Amount: 6000, Terms: 2, Status: models.LoanStatusDue, CurrencyCode: models.CurrencySGD}
		loan.Installments = []*models.ScheduledInstallment{
			{ID: uuid.New(), Index: 1, Amount: 1000, OutstandingAmount: 1000, DueDate: firstDue, Status: models.InstallmentStatusDue},
			{ID: uuid.New(), Index: 2, Amount: 5000, OutstandingAmount: 5000, DueDate: firstDue, Status: models.InstallmentStatusDue},
		}
		return loan
	}

	t.Run("carry over", func(t *testing.T) {
		loan := build()
		alloc, err := AllocateRepayment(loan, 3000, models.CurrencySGD, firstDue, ReferencePolicy())
		require.NoError(t, err)

		assert.Equal(t, int64(0), loan.Installments[0].OutstandingAmount)
		assert.Equal(t, models.InstallmentStatusRepaid, loan.Installments[1].Status)
		assert.Equal(t, int64(0), loan.Installments[1].OutstandingAmount, "flag set by the first installment persists")
		assert.Equal(t, int64(6000), alloc.Receipt.Amount)
	})

	t.Run("per installment", func(t *testing.T) {
		loan := build()
		policy := ReferencePolicy()
		policy.FullRepaymentFlag = FlagPerInstallment

		alloc, err := AllocateRepayment(loan, 3000, models.CurrencySGD, firstDue, policy)
		require.NoError(t, err)

		assert.Equal(t, int64(0), loan.Installments[0].OutstandingAmount)
		assert.Equal(t, models.InstallmentStatusRepaid, loan.Installments[1].Status)
		assert.Equal(t, int64(2000), loan.Installments[1].OutstandingAmount)
		assert.Equal(t, int64(6000), alloc.Receipt.Amount)
	})
}

func TestAllocateRepayment_WalksInDueDateOrder(t *testing.T) {
	loan := newScheduledLoan(t, 9000, 3)
	// Storage order is not trusted.
	loan.Installments[0], loan.Installments[2] = loan.Installments[2], loan.Installments[0]

	_, err := AllocateRepayment(loan, 500, models.CurrencyVND, models.NewDate(2020, time.January, 1), ReferencePolicy())
	require.NoError(t, err)

	for _, inst := range loan.Installments {
		if inst.DueDate.Equal(firstDue) {
			assert.Equal(t, models.InstallmentStatusPartial, inst.Status)
		} else {
			assert.Equal(t, models.InstallmentStatusDue, inst.Status)
		}
	}
}

func TestAllocateRepayment_NegativeAmount(t *testing.T) {
	loan := newScheduledLoan(t, 9000, 3)
	alloc, err := AllocateRepayment(loan, -1, models.CurrencyVND, firstDue, ReferencePolicy())
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Nil(t, alloc)
	assert.Equal(t, int64(9000), loan.OutstandingAmount)
	assert.Equal(t, models.InstallmentStatusDue, loan.Installments[0].Status)
}
