package models

import (
	"time"

	"github.com/google/uuid"
)

type LoanStatus string

const (
	LoanStatusDue    LoanStatus = "due"
	LoanStatusRepaid LoanStatus = "repaid"
)

type InstallmentStatus string

const (
	InstallmentStatusDue     InstallmentStatus = "due"
	InstallmentStatusPartial InstallmentStatus = "partial"
	InstallmentStatusRepaid  InstallmentStatus = "repaid"
)

// Valid reports whether s is one of the three installment states.
func (s InstallmentStatus) Valid() bool {
	switch s {
	case InstallmentStatusDue, InstallmentStatusPartial, InstallmentStatusRepaid:
		return true
	}
	return false
}

// Loan is the aggregate root. Amounts are integers in minor currency units.
type Loan struct {
	ID                uuid.UUID  `json:"id"`
	OwnerID           string     `json:"owner_id"` // Link to external customer system
	Amount            int64      `json:"amount"`
	Terms             int        `json:"terms"`
	OutstandingAmount int64      `json:"outstanding_amount"`
	CurrencyCode      string     `json:"currency_code"`
	ProcessedAt       Date       `json:"processed_at"`
	Status            LoanStatus `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`

	Installments []*ScheduledInstallment `json:"scheduled_repayments"`
	Repayments   []*ReceivedRepayment    `json:"received_repayments"`
}

type ScheduledInstallment struct {
	ID                uuid.UUID         `json:"id"`
	LoanID            uuid.UUID         `json:"loan_id"`
	Index             int               `json:"index"`
	Amount            int64             `json:"amount"`
	OutstandingAmount int64             `json:"outstanding_amount"`
	CurrencyCode      string            `json:"currency_code"`
	DueDate           Date              `json:"due_date"`
	Status            InstallmentStatus `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ReceivedRepayment is the append-only receipt written once per repayment call.
type ReceivedRepayment struct {
	ID           uuid.UUID `json:"id"`
	LoanID       uuid.UUID `json:"loan_id"`
	Amount       int64     `json:"amount"`
	CurrencyCode string    `json:"currency_code"`
	ReceivedAt   Date      `json:"received_at"`
	CreatedAt    time.Time `json:"created_at"`
}
