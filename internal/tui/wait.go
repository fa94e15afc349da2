// Package tui renders the interactive screen shown while the user authorizes
// a device code.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/steveyegge/gitswitch/internal/app"
	"github.com/steveyegge/gitswitch/internal/style"
)

// DefaultPollEvery is how often the screen asks the facade for progress.
// The facade itself honors the provider's interval.
const DefaultPollEvery = 250 * time.Millisecond

// StatusFunc reports the pending add without blocking.
type StatusFunc func() app.Result[app.AddStatus]

type pollMsg struct{}

// WaitModel is the bubbletea model for the waiting screen.
type WaitModel struct {
	session *app.AddSession
	poll    StatusFunc
	cancel  StatusFunc
	every   time.Duration
	now     func() time.Time
	spinner spinner.Model
	result  *app.Result[app.AddStatus]
}

// NewWaitModel creates a waiting screen for session. poll is called
// periodically; cancel is called when the user quits.
func NewWaitModel(session *app.AddSession, poll, cancel StatusFunc) WaitModel {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	s.Style = style.Info
	return WaitModel{
		session: session,
		poll:    poll,
		cancel:  cancel,
		every:   DefaultPollEvery,
		now:     time.Now,
		spinner: s,
	}
}

// Init implements tea.Model.
func (m WaitModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.schedule())
}

func (m WaitModel) schedule() tea.Cmd {
	return tea.Tick(m.every, func(time.Time) tea.Msg { return pollMsg{} })
}

// Update implements tea.Model.
func (m WaitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			res := m.cancel()
			m.result = &res
			return m, tea.Quit
		}
		return m, nil

	case pollMsg:
		res := m.poll()
		if res.OK && res.Value.State == app.AddPending {
			return m, m.schedule()
		}
		m.result = &res
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m WaitModel) View() string {
	if m.result != nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("Enter this code to authorize gitswitch:\n\n")
	b.WriteString(style.Code.Render(m.session.UserCode))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s %s\n\n", style.ArrowPrefix, style.Info.Render(m.session.VerificationURI))

	remaining := m.session.ExpiresAt.Sub(m.now()).Truncate(time.Second)
	if remaining < 0 {
		remaining = 0
	}
	fmt.Fprintf(&b, "%s Waiting for authorization %s\n", m.spinner.View(), style.Dim.Render(fmt.Sprintf("(code expires in %s)", remaining)))
	b.WriteString(style.Dim.Render("Press q to cancel."))
	b.WriteString("\n")
	return b.String()
}

// Result returns the outcome once the screen has exited.
func (m WaitModel) Result() (app.Result[app.AddStatus], bool) {
	if m.result == nil {
		return app.Result[app.AddStatus]{}, false
	}
	return *m.result, true
}

// Wait runs the waiting screen until the add finishes or the user cancels.
func Wait(ctx context.Context, in io.Reader, out io.Writer, session *app.AddSession, poll, cancel StatusFunc) (app.Result[app.AddStatus], error) {
	p := tea.NewProgram(NewWaitModel(session, poll, cancel),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out))

	final, err := p.Run()
	if err != nil {
		return cancel(), fmt.Errorf("running wait screen: %w", err)
	}
	if res, ok := final.(WaitModel).Result(); ok {
		return res, nil
	}
	return cancel(), nil
}
