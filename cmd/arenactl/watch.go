package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cl "arenabot/internal/cli"
	"arenabot/internal/session"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const watchLogSize = 12

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
	phaseStyle = map[session.Phase]lipgloss.Style{
		session.PhaseRegistration: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		session.PhaseConfirmation: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		session.PhaseActive:       lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		session.PhaseSettlement:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		session.PhaseClosed:       lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		session.PhaseCancelled:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

type snapshotMsg struct {
	view session.View
	err  error
}

type eventMsg session.Event

type streamEndedMsg struct {
	err error
}

type watchModel struct {
	ctx     context.Context
	fetch   func(context.Context) (session.View, error)
	arena   string
	spinner spinner.Model
	view    *session.View
	status  string
	log     []string
	err     error
}

func newWatchModel(ctx context.Context, arena string, fetch func(context.Context) (session.View, error)) watchModel {
	return watchModel{
		ctx:     ctx,
		fetch:   fetch,
		arena:   arena,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(titleStyle)),
		status:  "connecting",
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh())
}

func (m watchModel) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		defer cancel()
		v, err := m.fetch(ctx)
		return snapshotMsg{view: v, err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case snapshotMsg:
		var apiErr *cl.APIError
		switch {
		case msg.err == nil:
			v := msg.view
			m.view = &v
			m.status = "live"
		case errors.As(msg.err, &apiErr) && apiErr.Status == http.StatusNotFound:
			m.view = nil
			m.status = "waiting for a session"
		default:
			m.status = "refresh failed: " + msg.err.Error()
		}
		return m, nil
	case eventMsg:
		m.log = append(m.log, fmt.Sprintf("%s %s", mutedStyle.Render(msg.At.Local().Format("15:04:05")), msg.Text))
		if len(m.log) > watchLogSize {
			m.log = m.log[len(m.log)-watchLogSize:]
		}
		return m, m.refresh()
	case streamEndedMsg:
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("arena "+m.arena) + "  " + m.spinner.View() + " " + mutedStyle.Render(m.status) + "\n\n")

	if m.view != nil {
		v := m.view
		style, ok := phaseStyle[v.Phase]
		if !ok {
			style = mutedStyle
		}
		var s strings.Builder
		fmt.Fprintf(&s, "%s  %s  v%d\n", strings.ToUpper(v.Game), style.Render(v.Phase.String()), v.Version)
		fmt.Fprintf(&s, "pot %s  entry %s  players %d/%d (min %d)", comma(v.Pot), comma(v.EntryFee), len(v.Participants), v.Max, v.Min)
		if !v.Deadline.IsZero() {
			fmt.Fprintf(&s, "  next %s", until(v.Deadline))
		}
		for _, p := range v.Participants {
			state := "waiting"
			switch {
			case p.Eliminated:
				state = "out"
			case p.Confirmed:
				state = "in"
			}
			fmt.Fprintf(&s, "\n  %-20s %s", truncate(p.DisplayName, 20), state)
		}
		b.WriteString(boxStyle.Render(s.String()) + "\n")
	}

	if len(m.log) > 0 {
		b.WriteString("\n" + strings.Join(m.log, "\n") + "\n")
	}
	b.WriteString("\n" + mutedStyle.Render("q to quit") + "\n")
	return b.String()
}

func watchTUI(ctx context.Context, client *cl.Client, arena string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := newWatchModel(ctx, arena, func(ctx context.Context) (session.View, error) {
		return client.Snapshot(ctx, arena)
	})
	prog := tea.NewProgram(model, tea.WithContext(ctx))
	go func() {
		err := client.Events(ctx, arena, func(ev session.Event) {
			prog.Send(eventMsg(ev))
		})
		prog.Send(streamEndedMsg{err: err})
	}()

	final, err := prog.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if m, ok := final.(watchModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

func watchPlain(ctx context.Context, client *cl.Client, arena string) error {
	snapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	v, err := client.Snapshot(snapCtx, arena)
	cancel()
	var apiErr *cl.APIError
	switch {
	case err == nil:
		renderView(v)
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		printInfo("No live session, waiting for events.")
	default:
		return err
	}
	return client.Events(ctx, arena, func(ev session.Event) {
		fmt.Println(renderEvent(ev))
	})
}
