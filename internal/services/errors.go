package services

import (
	"fmt"
	"strings"
)

// PartialWriteError reports that a write sequence failed after its first
// mutating call: the transaction row and one or more account balances may
// disagree until reconciliation runs. Callers must not present the operation
// as a clean failure; the user should be told to refresh.
type PartialWriteError struct {
	Op            string
	TransactionID string
	AccountIDs    []string
	Err           error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial %s of transaction %s: balance may be stale for account(s) %s: %v",
		e.Op, e.TransactionID, strings.Join(e.AccountIDs, ", "), e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}
