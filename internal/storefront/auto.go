package storefront

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/session"
)

const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// RunAuto drives a session without the TUI: start, wait for the order, then
// approve or reject it, writing what happened to w.
func RunAuto(ctx context.Context, s *session.Session, action string, w io.Writer) (session.State, error) {
	if action != ActionApprove && action != ActionReject {
		return s.Snapshot(), fmt.Errorf("unknown action %q", action)
	}
	if err := s.Start(); err != nil {
		return s.Snapshot(), err
	}
	st, err := WaitSettled(ctx, s)
	if err != nil {
		return st, err
	}
	if st.Phase == session.Errored {
		fmt.Fprintf(w, "checkout %s failed: %v\n", st.TransactionID, st.Err)
		return st, st.Err
	}

	fmt.Fprint(w, RenderOrder(st))
	switch action {
	case ActionApprove:
		if err := s.Approve(ctx); err != nil {
			return s.Snapshot(), err
		}
		fmt.Fprintf(w, "approved %s\n", st.TransactionID)
	case ActionReject:
		if err := s.Reject(); err != nil {
			return s.Snapshot(), err
		}
		fmt.Fprintf(w, "rejected %s\n", st.TransactionID)
	}
	return s.Snapshot(), nil
}

// RenderOrder formats a responded session's delivery view.
func RenderOrder(st session.State) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "Order %s\n", st.TransactionID)
	for _, g := range st.Order.Groups {
		if g.DelayKnown {
			fmt.Fprintf(b, "\nDelivery %s (in %d days)\n", g.DeliveryDate, g.DeliveryDelayDays)
		} else {
			fmt.Fprintf(b, "\nDelivery %s\n", g.DeliveryDate)
		}
		for _, l := range g.Items {
			fmt.Fprintf(b, "  %dx %s\n", l.Quantity, l.Item.Name)
		}
	}
	fmt.Fprintf(b, "\nItems:    %s\n", st.Order.ItemsTotal)
	fmt.Fprintf(b, "Shipping: %s\n", st.Order.ShippingTotal)
	fmt.Fprintf(b, "Total:    %s\n", st.Order.Total)
	return b.String()
}
