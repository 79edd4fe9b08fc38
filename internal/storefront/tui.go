package storefront

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nazeru/storefront-checkout-go/internal/checkout/session"
)

// Actions is what the TUI asks of a session.
type Actions interface {
	Start() error
	Approve(ctx context.Context) error
	Reject() error
	ContinueShopping() error
}

type stateMsg session.State

type navigateMsg string

type actionDone struct {
	action string
	err    error
}

type model struct {
	actions Actions
	state   session.State
	status  string
	busy    bool
	home    bool
}

func newModel(a Actions) model {
	return model{actions: a, status: "Requesting checkout..."}
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg {
		if err := m.actions.Start(); err != nil {
			return actionDone{action: "start", err: err}
		}
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "a":
			if m.busy || m.state.Phase != session.Responded {
				return m, nil
			}
			m.busy = true
			m.status = "Approving..."
			return m, m.run("approve", func() error { return m.actions.Approve(context.Background()) })
		case "r":
			if m.busy || m.state.Phase == session.Completed {
				return m, nil
			}
			m.busy = true
			m.status = "Rejecting..."
			return m, m.run("reject", m.actions.Reject)
		case "c":
			if m.state.Phase != session.Completed {
				return m, nil
			}
			return m, m.run("continue", m.actions.ContinueShopping)
		}
	case stateMsg:
		m.state = session.State(msg)
		m.status = statusLine(m.state)
	case actionDone:
		m.busy = false
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		}
	case navigateMsg:
		if string(msg) == session.HomePath {
			m.home = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) run(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionDone{action: action, err: fn()}
	}
}

func statusLine(st session.State) string {
	switch st.Phase {
	case session.Loading:
		return "Requesting checkout..."
	case session.Responded:
		return "Review your order"
	case session.Errored:
		return fmt.Sprintf("Checkout failed: %v", st.Err)
	case session.Completed:
		return "Thank you for your order"
	}
	return ""
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "storefront checkout")
	fmt.Fprintln(b, "")
	if m.state.Phase == session.Responded || m.state.Phase == session.Completed {
		fmt.Fprint(b, RenderOrder(m.state))
		fmt.Fprintln(b, "")
	}
	fmt.Fprintf(b, "Status: %s\n", m.status)

	controls := "q quit"
	switch m.state.Phase {
	case session.Loading, session.Errored:
		controls = "r back to cart, q quit"
	case session.Responded:
		controls = "a approve, r reject, q quit"
	case session.Completed:
		controls = "c continue shopping, q quit"
	}
	fmt.Fprintf(b, "\nControls: %s\n", controls)
	return b.String()
}

// TUI shows a session until the user quits or the session sends them home.
type TUI struct {
	program *tea.Program
	states  chan session.State
}

func NewTUI(a Actions, opts ...tea.ProgramOption) *TUI {
	return &TUI{
		program: tea.NewProgram(newModel(a), opts...),
		states:  make(chan session.State, 1),
	}
}

// Navigate implements the session's navigator.
func (t *TUI) Navigate(path string) {
	t.program.Send(navigateMsg(path))
}

// Observe queues a session state for the program, replacing a queued
// state the program has not seen yet. The view only needs the latest one.
// It never blocks, so it can be handed to Session.Subscribe, which calls it
// from one goroutine at a time.
func (t *TUI) Observe(st session.State) {
	for {
		select {
		case t.states <- st:
			return
		default:
		}
		select {
		case <-t.states:
		default:
		}
	}
}

// Run blocks until the program exits. It reports whether the user was sent
// back to the cart.
func (t *TUI) Run() (bool, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case st := <-t.states:
				t.program.Send(stateMsg(st))
			case <-stop:
				return
			}
		}
	}()

	final, err := t.program.Run()
	if err != nil {
		return false, err
	}
	m, _ := final.(model)
	return m.home, nil
}
