package twopc

import (
	"context"
	"errors"

	checkout "github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/tx"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/common"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/coordinator"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/protocol"
)

type ParticipantDeps struct {
	InventoryClient common.ParticipantClient
	ShippingClient  common.ParticipantClient
	// ShippingURL is recorded in the log when shipping is remote.
	ShippingURL string
}

func BuildParticipants(in tx.CheckoutInput, deps ParticipantDeps) []coordinator.Participant {
	lineItems := make([]protocol.LineItem, 0, len(in.Draft.Items))
	for _, it := range in.Draft.Items {
		lineItems = append(lineItems, protocol.LineItem{
			ItemID:   it.ItemID,
			Quantity: it.Quantity,
		})
	}

	return []coordinator.Participant{
		{
			Ref:    coordinator.ParticipantRef{Name: "inventory"},
			Client: deps.InventoryClient,
			Step:   common.StepCheckItems,
			PayloadBuilder: func() any {
				return protocol.CheckItemsPayload{Items: lineItems}
			},
		},
		{
			Ref:    coordinator.ParticipantRef{Name: "shipping", URL: deps.ShippingURL},
			Client: deps.ShippingClient,
			Step:   common.StepQuoteShipping,
			PayloadBuilder: func() any {
				return protocol.QuoteShippingPayload{Items: lineItems, Country: in.Draft.Country}
			},
		},
	}
}

// Engine implements tx.CheckoutEngine on the approval protocol engine.
type Engine struct {
	Core *coordinator.Engine
	Deps ParticipantDeps
}

func NewEngine(log coordinator.TxLogStore, deps ParticipantDeps) *Engine {
	return &Engine{Core: &coordinator.Engine{Log: log}, Deps: deps}
}

func (e *Engine) Prepare(ctx context.Context, in tx.CheckoutInput) (tx.Outcome, error) {
	results, err := e.Core.Prepare(ctx, common.TxID(in.TxID), BuildParticipants(in, e.Deps))
	var ve *coordinator.VoteError
	if errors.As(err, &ve) {
		kind := checkout.ErrorKind(ve.ErrorKind)
		if kind == "" {
			kind = checkout.ErrorKindInternal
		}
		return tx.Outcome{ErrorKind: kind, Reason: ve.Error()}, nil
	}
	if err != nil {
		return tx.Outcome{}, err
	}

	order := checkout.ApprovalOrder{
		CheckoutFormData: in.Draft.CheckoutFormData,
		Items:            append([]checkout.OrderItem(nil), in.Draft.Items...),
	}
	if err := results.Decode(common.StepCheckItems, &order.CheckItemsResult); err != nil {
		return tx.Outcome{}, err
	}
	if err := results.Decode(common.StepQuoteShipping, &order.ShippingResult); err != nil {
		return tx.Outcome{}, err
	}
	return tx.Outcome{ApprovalOrder: &order}, nil
}

func (e *Engine) Commit(ctx context.Context, txID domain.TxID) error {
	return e.Core.Commit(ctx, common.TxID(txID), BuildParticipants(tx.CheckoutInput{TxID: txID}, e.Deps))
}

func (e *Engine) Abort(ctx context.Context, txID domain.TxID) error {
	return e.Core.Abort(ctx, common.TxID(txID), BuildParticipants(tx.CheckoutInput{TxID: txID}, e.Deps))
}
