// Package session drives one checkout attempt: it requests the checkout,
// holds the settled response, keeps the transaction alive with heartbeats
// and carries out the user's approve, reject and continue actions.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/delivery"
	"github.com/nazeru/storefront-checkout-go/internal/checkout/domain"
	"github.com/nazeru/storefront-checkout-go/internal/checkout/pricing"
)

const (
	// HomePath is where reject and continue-shopping navigate to.
	HomePath = "/"

	// DefaultLivenessTimeout is how long the backend keeps an unconfirmed
	// transaction without a heartbeat.
	DefaultLivenessTimeout = 30 * time.Second

	// RejectTimeout bounds a reject call that outlives the session.
	RejectTimeout = 5 * time.Second

	defaultLocale = "en"
)

type Requester interface {
	RequestCheckout(ctx context.Context, txID string, draft domain.OrderDraft) (domain.CheckoutResponse, error)
}

// Backend is the token-carrying half of the RPC boundary.
type Backend interface {
	Approve(ctx context.Context, req domain.TokenRequest) error
	Reject(ctx context.Context, req domain.TokenRequest) error
	Heartbeat(ctx context.Context, req domain.TokenRequest) error
}

type CartStore interface {
	CartItems() ([]domain.CartItem, error)
	RemoveAllFromCart() error
}

// FormStore reads the checkout form draft; ok is false when there is none.
type FormStore interface {
	CheckoutFormData() (data domain.CheckoutFormData, ok bool, err error)
}

type Reporter interface {
	ReportError(err error)
}

type Navigator interface {
	NavigateTo(path string)
}

type LocaleProvider interface {
	CurrentLocale() string
}

// Ticker is the subset of *time.Ticker the heartbeat uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Deps are the collaborators of a session. Locale and Navigator may be nil.
type Deps struct {
	Requester Requester
	Backend   Backend
	Cart      CartStore
	Form      FormStore
	Reporter  Reporter
	Navigator Navigator
	Locale    LocaleProvider
}

type Option func(*Session)

// WithTicker replaces the heartbeat ticker factory.
func WithTicker(f func(time.Duration) Ticker) Option {
	return func(s *Session) { s.newTicker = f }
}

// WithIDGenerator replaces uuid.NewString as the transaction id source.
func WithIDGenerator(f func() string) Option {
	return func(s *Session) { s.newID = f }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLivenessTimeout sets the backend liveness timeout the heartbeat
// interval is derived from.
func WithLivenessTimeout(d time.Duration) Option {
	return func(s *Session) { s.liveness = d }
}

// WithHeartbeatObserver is told the result of every heartbeat RPC.
func WithHeartbeatObserver(f func(error)) Option {
	return func(s *Session) { s.onHeartbeat = f }
}

// Session is the imperative driver around Transition. Its state is only
// changed through Transition; observers see every state in order.
type Session struct {
	deps Deps

	newTicker   func(time.Duration) Ticker
	newID       func() string
	now         func() time.Time
	liveness    time.Duration
	onHeartbeat func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	started   bool
	closed    bool
	approving bool
	observers map[int]func(State)
	nextObs   int

	// emitMu serializes transitions with their notifications.
	emitMu sync.Mutex
}

func New(deps Deps, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		deps:      deps,
		newTicker: newTimeTicker,
		newID:     uuid.NewString,
		now:       time.Now,
		liveness:  DefaultLivenessTimeout,
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe calls fn with the current state and then with every later
// state, in order. fn must not call back into the session synchronously.
func (s *Session) Subscribe(fn func(State)) (cancel func()) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	cur := s.state
	s.mu.Unlock()

	fn(cur)
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Session) apply(ev Event) (State, error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	next, err := Transition(s.state, ev)
	if err != nil {
		s.mu.Unlock()
		return next, err
	}
	s.state = next
	obs := make([]func(State), 0, len(s.observers))
	for _, fn := range s.observers {
		obs = append(obs, fn)
	}
	s.mu.Unlock()

	for _, fn := range obs {
		fn(next)
	}
	return next, nil
}

// Start runs the session's entry action. It may be called once.
//
// The heartbeat ticker is started first and lives until Close. A missing
// cart or form draft is reported, moves the session to Errored and is
// returned; the checkout is then never requested. Otherwise the request
// runs in the background and Start returns nil.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.NewError(domain.ErrCodeInvalidState, "", "session is closed", nil)
	}
	if s.started {
		txID := s.state.TransactionID
		s.mu.Unlock()
		return domain.NewError(domain.ErrCodeInvalidState, txID, "session already started", nil)
	}
	s.started = true
	s.mu.Unlock()

	txID := s.newID()
	if _, err := s.apply(Event{Kind: EventStarted, TransactionID: txID}); err != nil {
		return err
	}

	ticker := s.newTicker(pricing.HeartbeatInterval(s.liveness))
	if !s.spawn(func(ctx context.Context) { s.heartbeatLoop(ctx, ticker) }) {
		ticker.Stop()
	}

	draft, err := s.draft(txID)
	if err != nil {
		s.fail(err)
		return err
	}

	s.spawn(func(ctx context.Context) { s.request(ctx, txID, draft) })
	return nil
}

func (s *Session) draft(txID string) (domain.OrderDraft, error) {
	cart, err := s.deps.Cart.CartItems()
	if err != nil {
		return domain.OrderDraft{}, domain.NewError(domain.ErrCodePrecondition, txID, "read cart", err)
	}
	if len(cart) == 0 {
		return domain.OrderDraft{}, domain.NewError(domain.ErrCodePrecondition, txID, "cart is empty", nil)
	}
	form, ok, err := s.deps.Form.CheckoutFormData()
	if err != nil {
		return domain.OrderDraft{}, domain.NewError(domain.ErrCodePrecondition, txID, "read checkout form", err)
	}
	if !ok {
		return domain.OrderDraft{}, domain.NewError(domain.ErrCodePrecondition, txID, "checkout form draft is missing", nil)
	}
	return domain.NewOrderDraft(form, cart), nil
}

func (s *Session) request(ctx context.Context, txID string, draft domain.OrderDraft) {
	resp, err := s.deps.Requester.RequestCheckout(ctx, txID, draft)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(err)
		return
	}

	order, err := delivery.Build(resp.ApprovalOrder, s.locale(), s.now())
	if err != nil {
		s.fail(domain.NewError(domain.ErrCodeAggregation, txID, "build delivery order", err))
		return
	}
	if _, err := s.apply(Event{Kind: EventResponded, Response: resp, Order: order}); err != nil {
		s.report(err)
	}
}

func (s *Session) fail(err error) {
	s.report(err)
	if _, terr := s.apply(Event{Kind: EventFailed, Err: err}); terr != nil {
		s.report(terr)
	}
}

func (s *Session) heartbeatLoop(ctx context.Context, t Ticker) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.heartbeat()
		}
	}
}

// heartbeat never blocks the tick loop; the RPC runs on its own goroutine.
func (s *Session) heartbeat() {
	st := s.Snapshot()
	if st.Phase != Responded {
		return
	}
	req, err := tokenRequest(st, "heartbeat")
	if err != nil {
		s.report(err)
		return
	}
	s.spawn(func(ctx context.Context) {
		err := s.deps.Backend.Heartbeat(ctx, req)
		if s.onHeartbeat != nil {
			s.onHeartbeat(err)
		}
		if err != nil && ctx.Err() == nil {
			s.report(domain.NewError(domain.ErrCodeRPC, req.TransactionID, "heartbeat", err))
		}
	})
}

// Approve confirms the checkout. It is only valid while Responded. Without
// a token the error is reported and nothing else happens. After the approve
// call succeeds the session is Completed and the cart is cleared.
func (s *Session) Approve(ctx context.Context) error {
	s.mu.Lock()
	st := s.state
	if st.Phase != Responded || s.approving {
		s.mu.Unlock()
		return domain.NewError(domain.ErrCodeInvalidState, st.TransactionID, "approve is not available while "+st.Phase.String(), nil)
	}
	req, err := tokenRequest(st, "approve")
	if err != nil {
		s.mu.Unlock()
		s.report(err)
		return err
	}
	s.approving = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.approving = false
		s.mu.Unlock()
	}()

	if err := s.deps.Backend.Approve(ctx, req); err != nil {
		err = domain.NewError(domain.ErrCodeRPC, req.TransactionID, "approve", err)
		s.report(err)
		return err
	}
	if _, err := s.apply(Event{Kind: EventApproved}); err != nil {
		s.report(err)
		return err
	}
	if err := s.deps.Cart.RemoveAllFromCart(); err != nil {
		s.report(err)
	}
	return nil
}

// Reject abandons the checkout and navigates home. In Responded the reject
// call is sent without waiting for it; a missing token is reported instead.
// Once Completed, Reject is refused.
func (s *Session) Reject() error {
	st := s.Snapshot()
	if st.Phase == Completed {
		return domain.NewError(domain.ErrCodeInvalidState, st.TransactionID, "reject is not available once completed", nil)
	}
	if st.Phase == Responded {
		if req, err := tokenRequest(st, "reject"); err != nil {
			s.report(err)
		} else {
			s.spawn(func(ctx context.Context) {
				// Close waits for the reject instead of cancelling it.
				ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RejectTimeout)
				defer cancel()
				if err := s.deps.Backend.Reject(ctx, req); err != nil {
					s.report(domain.NewError(domain.ErrCodeRPC, req.TransactionID, "reject", err))
				}
			})
		}
	}
	s.navigate(HomePath)
	return nil
}

// ContinueShopping leaves a completed checkout.
func (s *Session) ContinueShopping() error {
	st := s.Snapshot()
	if st.Phase != Completed {
		return domain.NewError(domain.ErrCodeInvalidState, st.TransactionID, "continue is only available once completed", nil)
	}
	s.navigate(HomePath)
	return nil
}

// Close stops the heartbeat, cancels the checkout request and waits for
// background calls. A pending reject is still sent, bounded by
// RejectTimeout. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

// spawn runs fn on a goroutine tracked by Close. It reports false once the
// session is closed.
func (s *Session) spawn(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
	return true
}

func tokenRequest(st State, action string) (domain.TokenRequest, error) {
	if st.Response.Token == "" {
		return domain.TokenRequest{}, domain.NewError(domain.ErrCodeInvalidState, st.TransactionID, action+" without approval token", nil)
	}
	return domain.TokenRequest{TransactionID: st.TransactionID, Token: st.Response.Token}, nil
}

func (s *Session) report(err error) {
	if s.deps.Reporter != nil && err != nil && !errors.Is(err, context.Canceled) {
		s.deps.Reporter.ReportError(err)
	}
}

func (s *Session) navigate(path string) {
	if s.deps.Navigator != nil {
		s.deps.Navigator.NavigateTo(path)
	}
}

func (s *Session) locale() string {
	if s.deps.Locale == nil {
		return defaultLocale
	}
	if l := s.deps.Locale.CurrentLocale(); l != "" {
		return l
	}
	return defaultLocale
}
