// Package service is the checkout backend: it accepts initiations, runs
// the prepare phase, publishes the outcome on the event channels and
// finishes transactions on approve, reject or expiry.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	checkout "github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/domain"
	"github.com/nazeru/storefront-checkout-go/internal/order/store"
	"github.com/nazeru/storefront-checkout-go/internal/order/tx"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

const serviceName = "order-service"

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrTokenMismatch  = errors.New("token does not match")
	ErrConflict       = errors.New("transaction is not in a state that allows this")
	ErrNotFound       = store.ErrNotFound
)

type Store interface {
	Create(ctx context.Context, t domain.Transaction) (domain.Transaction, bool, error)
	Get(ctx context.Context, id domain.TxID) (domain.Transaction, error)
	Update(ctx context.Context, id domain.TxID, fn store.Mutator) (domain.Transaction, error)
	ListStale(ctx context.Context, now time.Time, timeout time.Duration) ([]domain.TxID, error)
}

// Publisher puts events on the approval and error channels.
type Publisher interface {
	PublishApproval(ctx context.Context, ev contracts.ApprovalEvent) error
	PublishError(ctx context.Context, ev contracts.ErrorEvent) error
}

type Observer interface {
	ObserveTransaction(status string)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLivenessTimeout sets how long a PREPARED transaction lives without a
// heartbeat.
func WithLivenessTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.liveness = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithTokenGenerator(f func() string) Option {
	return func(s *Service) { s.newToken = f }
}

// WithSyncPrepare runs the prepare phase before Initiate returns, so the
// outcome event may be published before the initiation is acknowledged.
func WithSyncPrepare() Option {
	return func(s *Service) { s.syncPrepare = true }
}

type Service struct {
	store     Store
	engine    tx.CheckoutEngine
	publisher Publisher
	observer  Observer

	now         func() time.Time
	liveness    time.Duration
	newToken    func() string
	syncPrepare bool

	// finish serializes commit, abort and expiry.
	finish sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(st Store, engine tx.CheckoutEngine, pub Publisher, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:     st,
		engine:    engine,
		publisher: pub,
		now:       time.Now,
		liveness:  30 * time.Second,
		newToken:  uuid.NewString,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate records a new checkout transaction and starts its prepare phase.
// A transaction id or idempotency key seen before is a replay: the original
// id is returned and nothing is run again.
func (s *Service) Initiate(ctx context.Context, req contracts.InitiateRequest, idemKey string) (domain.TxID, bool, error) {
	if err := validate(req); err != nil {
		return "", false, err
	}
	t, created, err := s.store.Create(ctx, domain.Transaction{
		ID:             domain.TxID(req.TransactionID),
		Status:         domain.StatusPending,
		Draft:          req.Order,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		return "", false, err
	}
	if !created {
		logging.Log(logging.Fields{Service: serviceName, TxID: string(t.ID), Step: "initiate", Status: contracts.StatusIdempotentReplay})
		return t.ID, true, nil
	}
	logging.Log(logging.Fields{Service: serviceName, TxID: string(t.ID), Step: "initiate", Status: string(domain.StatusPending)})
	s.observe(domain.StatusPending)

	if s.syncPrepare {
		s.prepare(ctx, t)
		return t.ID, false, nil
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.prepare(s.ctx, t)
	}()
	return t.ID, false, nil
}

func validate(req contracts.InitiateRequest) error {
	if strings.TrimSpace(req.TransactionID) == "" {
		return fmt.Errorf("%w: transactionId is required", ErrInvalidRequest)
	}
	if len(req.Order.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrInvalidRequest)
	}
	for _, it := range req.Order.Items {
		if strings.TrimSpace(it.ItemID) == "" || it.Quantity <= 0 {
			return fmt.Errorf("%w: each item must have itemId and quantity > 0", ErrInvalidRequest)
		}
	}
	return nil
}

func (s *Service) prepare(ctx context.Context, t domain.Transaction) {
	start := s.now()
	out, err := s.engine.Prepare(ctx, tx.CheckoutInput{TxID: t.ID, Draft: t.Draft})
	if err != nil {
		out = tx.Outcome{ErrorKind: checkout.ErrorKindInternal, Reason: err.Error()}
	}

	if out.ApprovalOrder == nil {
		s.fail(ctx, t.ID, domain.StatusAborted, out.ErrorKind, out.Reason)
		return
	}

	token := s.newToken()
	now := s.now()
	_, err = s.store.Update(ctx, t.ID, func(cur *domain.Transaction) error {
		if cur.Status != domain.StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrConflict, cur.ID, cur.Status)
		}
		cur.Status = domain.StatusPrepared
		cur.Token = token
		cur.ApprovalOrder = out.ApprovalOrder
		cur.LastHeartbeatAt = now
		return nil
	})
	if err != nil {
		s.logError(t.ID, "prepare", err)
		return
	}
	s.observe(domain.StatusPrepared)

	err = s.publisher.PublishApproval(ctx, contracts.ApprovalEvent{
		TransactionID: string(t.ID),
		Token:         token,
		ApprovalOrder: *out.ApprovalOrder,
		CreatedAt:     now.UTC(),
	})
	if err != nil {
		s.logError(t.ID, "publish_approval", err)
		return
	}
	logging.Log(logging.Fields{
		Service:    serviceName,
		TxID:       string(t.ID),
		Step:       "prepare",
		Status:     string(domain.StatusPrepared),
		DurationMS: s.now().Sub(start).Milliseconds(),
	})
}

// fail ends a transaction with status and publishes kind on the error channel.
func (s *Service) fail(ctx context.Context, id domain.TxID, status domain.Status, kind checkout.ErrorKind, reason string) {
	if kind == "" {
		kind = checkout.ErrorKindInternal
	}
	_, err := s.store.Update(ctx, id, func(cur *domain.Transaction) error {
		cur.Status = status
		cur.ErrorKind = kind
		return nil
	})
	if err != nil {
		s.logError(id, "fail", err)
		return
	}
	s.observe(status)

	err = s.publisher.PublishError(ctx, contracts.ErrorEvent{
		TransactionID: string(id),
		ErrorKind:     kind,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		s.logError(id, "publish_error", err)
		return
	}
	logging.Log(logging.Fields{Service: serviceName, TxID: string(id), Step: "fail", Status: string(status), Message: reason})
}

// Approve commits a PREPARED transaction. Approving a committed one again
// succeeds without doing anything.
func (s *Service) Approve(ctx context.Context, req checkout.TokenRequest) (domain.Transaction, error) {
	s.finish.Lock()
	defer s.finish.Unlock()

	t, err := s.authorize(ctx, req)
	if err != nil {
		return t, err
	}
	if t.Status == domain.StatusCommitted {
		return t, nil
	}
	if t.Status != domain.StatusPrepared {
		return t, fmt.Errorf("%w: %s is %s", ErrConflict, t.ID, t.Status)
	}
	if err := s.engine.Commit(ctx, t.ID); err != nil {
		return t, fmt.Errorf("commit %s: %w", t.ID, err)
	}
	return s.settle(ctx, t.ID, domain.StatusCommitted, "approve")
}

// Reject aborts a PREPARED transaction. Rejecting an aborted one again
// succeeds without doing anything.
func (s *Service) Reject(ctx context.Context, req checkout.TokenRequest) (domain.Transaction, error) {
	s.finish.Lock()
	defer s.finish.Unlock()

	t, err := s.authorize(ctx, req)
	if err != nil {
		return t, err
	}
	if t.Status == domain.StatusAborted {
		return t, nil
	}
	if t.Status != domain.StatusPrepared {
		return t, fmt.Errorf("%w: %s is %s", ErrConflict, t.ID, t.Status)
	}
	if err := s.engine.Abort(ctx, t.ID); err != nil {
		return t, fmt.Errorf("abort %s: %w", t.ID, err)
	}
	return s.settle(ctx, t.ID, domain.StatusAborted, "reject")
}

// Heartbeat keeps a PREPARED transaction from expiring.
func (s *Service) Heartbeat(ctx context.Context, req checkout.TokenRequest) (domain.Transaction, error) {
	t, err := s.authorize(ctx, req)
	if err != nil {
		return t, err
	}
	now := s.now()
	return s.store.Update(ctx, t.ID, func(cur *domain.Transaction) error {
		if cur.Status != domain.StatusPrepared {
			return fmt.Errorf("%w: %s is %s", ErrConflict, cur.ID, cur.Status)
		}
		cur.LastHeartbeatAt = now
		return nil
	})
}

func (s *Service) settle(ctx context.Context, id domain.TxID, status domain.Status, step string) (domain.Transaction, error) {
	t, err := s.store.Update(ctx, id, func(cur *domain.Transaction) error {
		cur.Status = status
		return nil
	})
	if err != nil {
		return t, err
	}
	s.observe(status)
	logging.Log(logging.Fields{Service: serviceName, TxID: string(id), Step: step, Status: string(status)})
	return t, nil
}

func (s *Service) authorize(ctx context.Context, req checkout.TokenRequest) (domain.Transaction, error) {
	if req.TransactionID == "" || req.Token == "" {
		return domain.Transaction{}, fmt.Errorf("%w: transactionId and token are required", ErrInvalidRequest)
	}
	t, err := s.store.Get(ctx, domain.TxID(req.TransactionID))
	if err != nil {
		return t, err
	}
	if t.Token == "" || t.Token != req.Token {
		return t, fmt.Errorf("%w: %s", ErrTokenMismatch, t.ID)
	}
	return t, nil
}

// SweepExpired aborts every PREPARED transaction that missed its heartbeats
// for longer than the liveness timeout, marks it EXPIRED and publishes an
// EXPIRED error event. It returns how many transactions expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.store.ListStale(ctx, now, s.liveness)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		ok, err := s.expire(ctx, id, now)
		if err != nil {
			s.logError(id, "expire", err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) expire(ctx context.Context, id domain.TxID, now time.Time) (bool, error) {
	s.finish.Lock()
	defer s.finish.Unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !t.Stale(now, s.liveness) {
		return false, nil
	}
	if err := s.engine.Abort(ctx, id); err != nil {
		return false, err
	}
	s.fail(ctx, id, domain.StatusExpired, checkout.ErrorKindExpired, "no heartbeat for "+s.liveness.String())
	return true, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				logging.Error(logging.Fields{Service: serviceName, Step: "sweep", Status: "error", Message: err.Error()})
				continue
			}
			if n > 0 {
				logging.Log(logging.Fields{Service: serviceName, Step: "sweep", Status: string(domain.StatusExpired), Message: fmt.Sprintf("%d expired", n)})
			}
		}
	}
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, id domain.TxID) (domain.Transaction, error) {
	return s.store.Get(ctx, id)
}

// Wait blocks until every background prepare has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels background prepares and waits for them.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) observe(status domain.Status) {
	if s.observer != nil {
		s.observer.ObserveTransaction(string(status))
	}
}

func (s *Service) logError(id domain.TxID, step string, err error) {
	logging.Error(logging.Fields{Service: serviceName, TxID: string(id), Step: step, Status: "error", Message: err.Error()})
}
