package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/storefront-checkout-go/pkg/tx/common"
	"github.com/nazeru/storefront-checkout-go/pkg/tx/twopc/protocol"
)

type fakeParticipant struct {
	name    string
	vote    protocol.PrepareResponse
	err     error
	journal *[]string
}

func (f *fakeParticipant) Prepare(_ context.Context, req protocol.PrepareRequest) (protocol.PrepareResponse, error) {
	*f.journal = append(*f.journal, "prepare:"+f.name)
	return f.vote, f.err
}

func (f *fakeParticipant) Commit(context.Context, protocol.CommitRequest) error {
	*f.journal = append(*f.journal, "commit:"+f.name)
	return nil
}

func (f *fakeParticipant) Abort(context.Context, protocol.AbortRequest) error {
	*f.journal = append(*f.journal, "abort:"+f.name)
	return nil
}

func yes(t *testing.T, v any) protocol.PrepareResponse {
	t.Helper()
	resp, err := protocol.Yes(v)
	require.NoError(t, err)
	return resp
}

func parts(ps ...*fakeParticipant) []Participant {
	out := make([]Participant, 0, len(ps))
	for i, p := range ps {
		out = append(out, Participant{
			Ref:            ParticipantRef{Name: p.name},
			Client:         p,
			Step:           common.StepName("step" + string(rune('1'+i))),
			PayloadBuilder: func() any { return map[string]string{"name": p.name} },
		})
	}
	return out
}

func TestEngine_PrepareThenCommit(t *testing.T) {
	var journal []string
	e := &Engine{Log: NewMemoryLog()}
	ps := parts(
		&fakeParticipant{name: "inventory", vote: yes(t, map[string]int{"n": 1}), journal: &journal},
		&fakeParticipant{name: "shipping", vote: yes(t, map[string]int{"n": 2}), journal: &journal},
	)

	results, err := e.Prepare(context.Background(), "tx1", ps)
	require.NoError(t, err)

	var got map[string]int
	require.NoError(t, results.Decode("step2", &got))
	assert.Equal(t, 2, got["n"])
	status, _ := e.Log.GetStatus(context.Background(), "tx1")
	assert.Equal(t, common.TxPrepared, status)

	require.NoError(t, e.Commit(context.Background(), "tx1", ps))
	status, _ = e.Log.GetStatus(context.Background(), "tx1")
	assert.Equal(t, common.TxCommitted, status)
	assert.Equal(t, []string{"prepare:inventory", "prepare:shipping", "commit:inventory", "commit:shipping"}, journal)

	err = e.Commit(context.Background(), "tx1", ps)
	assert.ErrorIs(t, err, ErrNotPrepared)
	assert.ErrorIs(t, err, ErrFinished)
	assert.ErrorIs(t, e.Abort(context.Background(), "tx1", ps), ErrFinished)
}

func TestEngine_NoVoteAbortsPrepared(t *testing.T) {
	var journal []string
	e := &Engine{Log: NewMemoryLog()}
	ps := parts(
		&fakeParticipant{name: "inventory", vote: yes(t, nil), journal: &journal},
		&fakeParticipant{name: "shipping", vote: protocol.No("SHIPPING_UNAVAILABLE", "no route to XX"), journal: &journal},
		&fakeParticipant{name: "never", vote: yes(t, nil), journal: &journal},
	)

	_, err := e.Prepare(context.Background(), "tx1", ps)

	var ve *VoteError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "shipping", ve.Participant)
	assert.Equal(t, "SHIPPING_UNAVAILABLE", ve.ErrorKind)
	assert.Equal(t, []string{"prepare:inventory", "prepare:shipping", "abort:inventory"}, journal)
	status, _ := e.Log.GetStatus(context.Background(), "tx1")
	assert.Equal(t, common.TxAborted, status)
}

func TestEngine_PrepareErrorAborts(t *testing.T) {
	var journal []string
	e := &Engine{Log: NewMemoryLog()}
	boom := errors.New("connection reset")
	ps := parts(
		&fakeParticipant{name: "inventory", vote: yes(t, nil), journal: &journal},
		&fakeParticipant{name: "shipping", err: boom, journal: &journal},
	)

	_, err := e.Prepare(context.Background(), "tx1", ps)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"prepare:inventory", "prepare:shipping", "abort:inventory"}, journal)
}

func TestEngine_AbortReversesOrder(t *testing.T) {
	var journal []string
	e := &Engine{Log: NewMemoryLog()}
	ps := parts(
		&fakeParticipant{name: "inventory", vote: yes(t, nil), journal: &journal},
		&fakeParticipant{name: "shipping", vote: yes(t, nil), journal: &journal},
	)
	_, err := e.Prepare(context.Background(), "tx1", ps)
	require.NoError(t, err)

	require.NoError(t, e.Abort(context.Background(), "tx1", ps))
	assert.Equal(t, []string{"prepare:inventory", "prepare:shipping", "abort:shipping", "abort:inventory"}, journal)
	assert.ErrorIs(t, e.Abort(context.Background(), "tx1", ps), ErrNotPrepared)
}

func TestEngine_DuplicatePrepare(t *testing.T) {
	var journal []string
	e := &Engine{Log: NewMemoryLog()}
	ps := parts(&fakeParticipant{name: "inventory", vote: yes(t, nil), journal: &journal})

	_, err := e.Prepare(context.Background(), "tx1", ps)
	require.NoError(t, err)
	_, err = e.Prepare(context.Background(), "tx1", ps)
	assert.ErrorIs(t, err, ErrDuplicateTx)
	assert.Len(t, journal, 1)
}

func TestMemoryLog_Unknown(t *testing.T) {
	l := NewMemoryLog()
	_, err := l.GetStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTx)
	assert.ErrorIs(t, l.SetStatus(context.Background(), "nope", common.TxAborted), ErrUnknownTx)
}
