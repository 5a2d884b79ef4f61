package ledger

import (
	"errors"
	"fmt"

	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
)

// Sentinel classes for ledger failures.
var (
	ErrInvalidParams  = errors.New("invalid operation parameters")
	ErrInvalidKey     = errors.New("invalid public key")
	ErrDecode         = errors.New("malformed transaction payload")
	ErrNetwork        = errors.New("ledger network unreachable")
	ErrRejected       = errors.New("ledger rejected transaction")
	ErrUnavailable    = errors.New("ledger unavailable")
	// ErrOutcomeUnknown means the transaction left the gateway but its
	// receipt was never read. It may have executed.
	ErrOutcomeUnknown = errors.New("transaction dispatched, outcome unknown")
)

// SubmitError carries the class and ledger status of a failed call.
type SubmitError struct {
	Class  error
	Status string
	TxID   string
	Err    error
}

func (e *SubmitError) Error() string {
	msg := e.Class.Error()
	if e.Status != "" {
		msg += " (" + e.Status + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the class and the cause.
func (e *SubmitError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

// Rejected builds a LedgerRejected error.
func Rejected(status, txID string, cause error) error {
	return &SubmitError{Class: ErrRejected, Status: status, TxID: txID, Err: cause}
}

// Unreachable builds a NetworkError.
func Unreachable(cause error) error {
	return &SubmitError{Class: ErrNetwork, Err: cause}
}

// Dispatched builds an error for a transaction that was sent but whose
// receipt could not be resolved.
func Dispatched(txID string, cause error) error {
	return &SubmitError{Class: ErrOutcomeUnknown, TxID: txID, Err: cause}
}

// Unavailable builds a ServiceUnavailable error.
func Unavailable(cause error) error {
	return &SubmitError{Class: ErrUnavailable, Err: cause}
}

// ToServiceError maps a ledger error onto the API taxonomy.
func ToServiceError(err error) *svcerrors.ServiceError {
	if err == nil {
		return nil
	}
	if se := svcerrors.GetServiceError(err); se != nil {
		return se
	}

	var sub *SubmitError
	errors.As(err, &sub)

	switch {
	case errors.Is(err, ErrInvalidParams), errors.Is(err, ErrInvalidKey):
		return svcerrors.Validation(err.Error())
	case errors.Is(err, ErrDecode):
		return svcerrors.Decode("invalid transaction encoding", err)
	case errors.Is(err, ErrRejected):
		status, txID := "", ""
		if sub != nil {
			status, txID = sub.Status, sub.TxID
		}
		return svcerrors.LedgerRejected(status, txID, err)
	case errors.Is(err, ErrOutcomeUnknown):
		txID := ""
		if sub != nil {
			txID = sub.TxID
		}
		return svcerrors.Upstream("transaction was sent but its outcome is unknown", err).
			WithDetails("transactionId", txID)
	case errors.Is(err, ErrNetwork):
		return svcerrors.Network("ledger network unreachable", err)
	case errors.Is(err, ErrUnavailable):
		return svcerrors.ServiceUnavailable("ledger unavailable", err)
	}
	return svcerrors.Upstream(fmt.Sprintf("ledger call failed: %v", err), err)
}
