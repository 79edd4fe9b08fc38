package session

import (
	"fmt"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/delivery"
	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
)

// Phase is the tag of a session State.
type Phase int

const (
	Loading Phase = iota
	Responded
	Errored
	Completed
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "LOADING"
	case Responded:
		return "RESPONDED"
	case Errored:
		return "ERRORED"
	case Completed:
		return "COMPLETED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is an immutable snapshot of a checkout session. Response and Order
// are set from Responded on; Err only in Errored.
type State struct {
	Phase         Phase
	TransactionID string
	Response      domain.CheckoutResponse
	Order         delivery.Order
	Err           error
}

func (s State) IsLoading() bool   { return s.Phase == Loading }
func (s State) IsCompleted() bool { return s.Phase == Completed }

// Token returns the approval token, "" before a response arrived.
func (s State) Token() string {
	return s.Response.Token
}

// EventKind names an input of the state machine.
type EventKind int

const (
	// EventStarted binds the session to its transaction id.
	EventStarted EventKind = iota
	// EventResponded carries the settled checkout response and its order.
	EventResponded
	// EventFailed carries the error that ended the request.
	EventFailed
	// EventApproved is applied after the approve call succeeded.
	EventApproved
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "start"
	case EventResponded:
		return "respond"
	case EventFailed:
		return "fail"
	case EventApproved:
		return "approve"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

type Event struct {
	Kind          EventKind
	TransactionID string
	Response      domain.CheckoutResponse
	Order         delivery.Order
	Err           error
}

// Transition is the pure core of the session:
//
//	Loading   --start-->   Loading (once, binds the transaction id)
//	Loading   --respond--> Responded
//	Loading   --fail-->    Errored
//	Responded --approve--> Completed
//
// Every other pair is rejected with an INVALID_STATE error and s is
// returned unchanged.
func Transition(s State, ev Event) (State, error) {
	switch {
	case s.Phase == Loading && ev.Kind == EventStarted && s.TransactionID == "":
		s.TransactionID = ev.TransactionID
		return s, nil
	case s.Phase == Loading && ev.Kind == EventResponded:
		s.Phase = Responded
		s.Response = ev.Response
		s.Order = ev.Order
		return s, nil
	case s.Phase == Loading && ev.Kind == EventFailed:
		s.Phase = Errored
		s.Err = ev.Err
		return s, nil
	case s.Phase == Responded && ev.Kind == EventApproved:
		s.Phase = Completed
		return s, nil
	}
	return s, domain.NewError(domain.ErrCodeInvalidState, s.TransactionID,
		fmt.Sprintf("cannot %s while %s", ev.Kind, s.Phase), nil)
}
