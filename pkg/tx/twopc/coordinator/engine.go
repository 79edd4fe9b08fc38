package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nazeru/storefront-checkout-go/pkg/tx/common"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/protocol"
)

type Participant struct {
	Ref    ParticipantRef
	Client common.ParticipantClient
	Step   common.StepName
	// PayloadBuilder builds the PREPARE payload for this participant.
	PayloadBuilder func() any
}

// Results holds the yes-vote result of every participant, by step.
type Results map[common.StepName]json.RawMessage

// Decode unmarshals the result of step into out.
func (r Results) Decode(step common.StepName, out any) error {
	raw, ok := r[step]
	if !ok {
		return fmt.Errorf("no result for step %s", step)
	}
	return json.Unmarshal(raw, out)
}

// VoteError is returned by Prepare when a participant voted no.
type VoteError struct {
	Participant string
	Step        common.StepName
	ErrorKind   string
	Reason      string
}

func (e *VoteError) Error() string {
	return fmt.Sprintf("%s voted no on %s: %s", e.Participant, e.Step, e.Reason)
}

var (
	ErrNotPrepared = errors.New("transaction is not prepared")
	// ErrFinished is returned, together with ErrNotPrepared, for a
	// transaction that already committed or aborted.
	ErrFinished = errors.New("transaction is finished")
)

// Engine runs the approval protocol. Unlike a one-shot two phase commit the
// decision is not taken here: Prepare leaves the transaction PREPARED and a
// later Commit or Abort finishes it.
type Engine struct {
	Log TxLogStore
}

// Prepare asks every participant to prepare, in order. On the first no vote
// or error, the participants prepared so far are aborted in reverse order
// and the transaction ends ABORTED.
func (e *Engine) Prepare(ctx context.Context, txid common.TxID, parts []Participant) (Results, error) {
	if err := e.Log.Create(ctx, txid, mapRefs(parts)); err != nil {
		return nil, err
	}
	_ = e.Log.SetStatus(ctx, txid, common.TxPreparing)

	results := make(Results, len(parts))
	prepared := make([]Participant, 0, len(parts))
	for _, p := range parts {
		payload, err := json.Marshal(p.PayloadBuilder())
		if err != nil {
			return nil, e.abortPrepared(ctx, txid, prepared, fmt.Errorf("encode %s payload: %w", p.Step, err))
		}
		resp, err := p.Client.Prepare(ctx, protocol.PrepareRequest{
			TxID:    string(txid),
			Step:    string(p.Step),
			Payload: payload,
		})
		if err != nil {
			return nil, e.abortPrepared(ctx, txid, prepared, fmt.Errorf("prepare %s: %w", p.Ref.Name, err))
		}
		if !resp.VoteYes {
			return nil, e.abortPrepared(ctx, txid, prepared, &VoteError{
				Participant: p.Ref.Name,
				Step:        p.Step,
				ErrorKind:   resp.ErrorKind,
				Reason:      resp.Reason,
			})
		}
		results[p.Step] = resp.Result
		prepared = append(prepared, p)
	}

	if err := e.Log.SetStatus(ctx, txid, common.TxPrepared); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) abortPrepared(ctx context.Context, txid common.TxID, prepared []Participant, cause error) error {
	_ = e.Log.SetStatus(ctx, txid, common.TxAborting)
	for i := len(prepared) - 1; i >= 0; i-- {
		_ = prepared[i].Client.Abort(ctx, protocol.AbortRequest{TxID: string(txid)})
	}
	_ = e.Log.SetStatus(ctx, txid, common.TxAborted)
	return cause
}

// Commit finishes a PREPARED transaction on every participant.
func (e *Engine) Commit(ctx context.Context, txid common.TxID, parts []Participant) error {
	if err := e.requirePrepared(ctx, txid); err != nil {
		return err
	}
	_ = e.Log.SetStatus(ctx, txid, common.TxCommitting)
	for _, p := range parts {
		if err := p.Client.Commit(ctx, protocol.CommitRequest{TxID: string(txid)}); err != nil {
			// The log stays COMMITTING.
			return fmt.Errorf("commit %s: %w", p.Ref.Name, err)
		}
	}
	return e.Log.SetStatus(ctx, txid, common.TxCommitted)
}

// Abort releases a PREPARED transaction on every participant, in reverse.
func (e *Engine) Abort(ctx context.Context, txid common.TxID, parts []Participant) error {
	if err := e.requirePrepared(ctx, txid); err != nil {
		return err
	}
	_ = e.Log.SetStatus(ctx, txid, common.TxAborting)
	var errs []error
	for i := len(parts) - 1; i >= 0; i-- {
		if err := parts[i].Client.Abort(ctx, protocol.AbortRequest{TxID: string(txid)}); err != nil {
			errs = append(errs, fmt.Errorf("abort %s: %w", parts[i].Ref.Name, err))
		}
	}
	if err := e.Log.SetStatus(ctx, txid, common.TxAborted); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) requirePrepared(ctx context.Context, txid common.TxID) error {
	status, err := e.Log.GetStatus(ctx, txid)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return fmt.Errorf("%w: %w: %s is %s", ErrNotPrepared, ErrFinished, txid, status)
	}
	if status != common.TxPrepared {
		return fmt.Errorf("%w: %s is %s", ErrNotPrepared, txid, status)
	}
	return nil
}

func mapRefs(parts []Participant) []ParticipantRef {
	out := make([]ParticipantRef, 0, len(parts))
	for _, p := range parts {
		out = append(out, p.Ref)
	}
	return out
}
