package common

import (
	"context"

	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/protocol"
)

// ParticipantClient is one voter of the approval protocol, in-process or
// remote.
type ParticipantClient interface {
	Prepare(ctx context.Context, req protocol.PrepareRequest) (protocol.PrepareResponse, error)
	Commit(ctx context.Context, req protocol.CommitRequest) error
	Abort(ctx context.Context, req protocol.AbortRequest) error
}
