package common

import "time"

// TxStatus is the protocol status recorded in the transaction log.
type TxStatus string

const (
	TxStarted    TxStatus = "STARTED"
	TxPreparing  TxStatus = "PREPARING"
	TxPrepared   TxStatus = "PREPARED"
	TxCommitting TxStatus = "COMMITTING"
	TxAborting   TxStatus = "ABORTING"
	TxCommitted  TxStatus = "COMMITTED"
	TxAborted    TxStatus = "ABORTED"
)

// Terminal reports whether no further phase can run for the status.
func (s TxStatus) Terminal() bool {
	return s == TxCommitted || s == TxAborted
}

type TxID string

type StepName string

// Checkout steps. Prepare runs them in this order.
const (
	StepCheckItems    StepName = "check_items"
	StepQuoteShipping StepName = "quote_shipping"
)

// Deadline is a point in time after which a transaction may be given up.
type Deadline struct {
	At time.Time
}

// Expired reports whether the deadline has passed at now. A zero deadline
// never expires.
func (d Deadline) Expired(now time.Time) bool {
	return !d.At.IsZero() && now.After(d.At)
}
