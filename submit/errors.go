package submit

import (
	"errors"
	"fmt"

	"coversync/ledger"
)

// TxErrorKind classifies submission failures.
type TxErrorKind string

const (
	// TxReverted: the transaction confirmed but a ledger guard rejected the
	// state change. Retrying the same logical intent is pointless.
	TxReverted TxErrorKind = "reverted"
	// TxNetworkFailure: the transaction was never confirmed. The same intent
	// may be re-attempted on the next scheduled opportunity.
	TxNetworkFailure TxErrorKind = "network_failure"
)

// TxError is the classified outcome of a failed submission.
type TxError struct {
	Kind   TxErrorKind
	Op     ledger.OpName
	Reason string
	cause  error
}

func (e *TxError) Error() string {
	switch {
	case e.cause != nil:
		return fmt.Sprintf("submit: %s %s: %v", e.Op, e.Kind, e.cause)
	case e.Reason != "":
		return fmt.Sprintf("submit: %s %s: %s", e.Op, e.Kind, e.Reason)
	default:
		return fmt.Sprintf("submit: %s %s", e.Op, e.Kind)
	}
}

func (e *TxError) Unwrap() error { return e.cause }

// IsReverted reports whether err is a confirmed-but-rejected submission.
func IsReverted(err error) bool {
	var txErr *TxError
	return errors.As(err, &txErr) && txErr.Kind == TxReverted
}

// IsNetworkFailure reports whether err is an unconfirmed submission.
func IsNetworkFailure(err error) bool {
	var txErr *TxError
	return errors.As(err, &txErr) && txErr.Kind == TxNetworkFailure
}
