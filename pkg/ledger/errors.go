package ledger

import (
	"errors"

	"github.com/mcclellann/loanledger/pkg/store"
)

var (
	// ErrInvalidArgument reports input the ledger refuses to act on
	// (non-positive amounts or terms, malformed currency codes or dates).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned for unknown or removed loans.
	ErrNotFound = store.ErrNotFound

	// ErrStorageFailure wraps any persistence error. No installment state is
	// applied when it is returned.
	ErrStorageFailure = errors.New("storage failure")
)
