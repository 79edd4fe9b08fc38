package storefront

import (
	"errors"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

// Reporter is the observability sink of a checkout session. Every reported
// error becomes an error log line; Count, when set, is told the error code.
type Reporter struct {
	Service string
	Count   func(code string)
}

func (r *Reporter) ReportError(err error) {
	if err == nil {
		return
	}
	fields := logging.Fields{Service: r.Service, Status: "error", Message: err.Error()}
	var ce *domain.CheckoutError
	code := "UNKNOWN"
	if errors.As(err, &ce) {
		fields.TxID = ce.TransactionID
		code = string(ce.Code)
	}
	fields.Step = code
	logging.Error(fields)
	if r.Count != nil {
		r.Count(code)
	}
}
