package domain

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes checkout failures.
type ErrorCode string

const (
	// ErrCodePrecondition: empty cart or missing form draft at session start.
	ErrCodePrecondition ErrorCode = "PRECONDITION"

	// ErrCodeInitiationMismatch: the initiation ack echoed another transaction id.
	ErrCodeInitiationMismatch ErrorCode = "TX_MISMATCH_INITIATION"

	// ErrCodeEventMismatch: a channel event carried another transaction id.
	ErrCodeEventMismatch ErrorCode = "TX_MISMATCH_EVENT"

	// ErrCodeTransport: an event channel failed or closed.
	ErrCodeTransport ErrorCode = "CHANNEL_TRANSPORT"

	// ErrCodeBackendRejected: the error channel delivered a checkout error.
	ErrCodeBackendRejected ErrorCode = "BACKEND_REJECTED"

	// ErrCodeInvalidState: an action ran without the state it needs (usually the token).
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodeAggregation: the approval order failed its cross-reference checks.
	ErrCodeAggregation ErrorCode = "AGGREGATION"

	// ErrCodeRPC: an RPC call to the backend failed.
	ErrCodeRPC ErrorCode = "RPC_FAILED"
)

// CheckoutError is the error type surfaced by the coordinator and the session.
type CheckoutError struct {
	Code          ErrorCode
	TransactionID string
	Message       string
	Err           error
}

func (e *CheckoutError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.TransactionID != "" {
		msg = fmt.Sprintf("%s (tx=%s)", msg, e.TransactionID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// NewError builds a CheckoutError.
func NewError(code ErrorCode, txID, message string, cause error) *CheckoutError {
	return &CheckoutError{Code: code, TransactionID: txID, Message: message, Err: cause}
}

// IsCode reports whether err is a CheckoutError with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// CodeOf returns the code of a CheckoutError, or "" for other errors.
func CodeOf(err error) ErrorCode {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// ErrorKind is the backend's classification of a failed checkout.
type ErrorKind string

const (
	ErrorKindInvalidItems        ErrorKind = "INVALID_ITEMS"
	ErrorKindOutOfStock          ErrorKind = "OUT_OF_STOCK"
	ErrorKindShippingUnavailable ErrorKind = "SHIPPING_UNAVAILABLE"
	ErrorKindExpired             ErrorKind = "EXPIRED"
	ErrorKindInternal            ErrorKind = "INTERNAL"
)

// Describe turns a backend error kind into a human readable message.
func (k ErrorKind) Describe() string {
	switch k {
	case ErrorKindInvalidItems:
		return "some items in the cart are no longer available"
	case ErrorKindOutOfStock:
		return "some items in the cart are out of stock"
	case ErrorKindShippingUnavailable:
		return "shipping is not available for this order"
	case ErrorKindExpired:
		return "the checkout expired before it was confirmed"
	case ErrorKindInternal:
		return "the shop could not process the checkout"
	case "":
		return "checkout failed for an unknown reason"
	default:
		return fmt.Sprintf("checkout failed (%s)", string(k))
	}
}
