package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"dokimi/internal/api"
	"dokimi/internal/conversation"
	"dokimi/internal/timeline"
	"dokimi/internal/workflow"
)

const requestTimeout = 30 * time.Second

type model struct {
	cfg    appConfig
	client *api.Client
	log    zerolog.Logger

	conversationID string
	orch           *workflow.Orchestrator
	notes          chan workflow.Notification

	items      []timeline.Item
	states     map[workflow.Kind]workflow.State
	turnStatus string
	focusID    string

	ready       bool
	refreshing  bool
	sending     bool
	confirmOpen bool
	confirmKind workflow.Kind
	statusLine  string
	statusIsErr bool

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    uiTheme
}

type syncDoneMsg struct{}

type refreshDoneMsg struct {
	items      []timeline.Item
	events     []conversation.Event
	turnStatus string
	err        error
}

type noteMsg workflow.Notification

type confirmDoneMsg struct {
	kind workflow.Kind
	err  error
}

type sendDoneMsg struct {
	err error
}

type switchDoneMsg struct {
	conversationID string
	orch           *workflow.Orchestrator
}

type tickMsg time.Time

func newModel(cfg appConfig, client *api.Client, log zerolog.Logger) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = composerCharLimit
	input.Placeholder = "Message the assistant. /open <id> switches conversation, /quit exits."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	tl := viewport.New(0, 0)
	tl.MouseWheelEnabled = true
	tl.MouseWheelDelta = 4

	notes := make(chan workflow.Notification, 32)
	orch := newOrchestrator(cfg.conversationID, client, log, notes)

	return model{
		cfg:            cfg,
		client:         client,
		log:            log,
		conversationID: cfg.conversationID,
		orch:           orch,
		notes:          notes,
		states:         map[workflow.Kind]workflow.State{},
		statusLine:     "connecting...",
		input:          input,
		timeline:       tl,
		spinner:        sp,
		theme:          newTheme(),
	}
}

func newOrchestrator(conversationID string, client *api.Client, log zerolog.Logger, notes chan workflow.Notification) *workflow.Orchestrator {
	return workflow.New(conversationID, client,
		workflow.WithLogger(log),
		workflow.WithNotify(func(n workflow.Notification) {
			select {
			case notes <- n:
			default:
				// A stalled UI must never block a poll loop.
			}
		}),
	)
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.syncCmd(),
		m.waitNoteCmd(),
		tickEvery(m.cfg.pollInterval),
	)
}

func tickEvery(interval time.Duration) tea.Cmd {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) syncCmd() tea.Cmd {
	orch := m.orch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		orch.Sync(ctx)
		return syncDoneMsg{}
	}
}

func (m model) refreshCmd() tea.Cmd {
	client := m.client
	orch := m.orch
	conversationID := m.conversationID
	log := m.log
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		entries, err := client.ConversationLog(ctx, conversationID)
		if err != nil {
			return refreshDoneMsg{err: err}
		}
		turnStatus := ""
		if status, err := client.ConversationStatus(ctx, conversationID); err == nil {
			turnStatus = status.Status
		}
		builder := timeline.Builder{
			Fetch:      client.FetchArtifact,
			Suppressed: orch.Suppressed,
			Log:        log,
		}
		items, events := builder.Build(ctx, entries)
		return refreshDoneMsg{items: items, events: events, turnStatus: turnStatus}
	}
}

func (m model) waitNoteCmd() tea.Cmd {
	notes := m.notes
	return func() tea.Msg {
		return noteMsg(<-notes)
	}
}

func (m model) confirmCmd(kind workflow.Kind) tea.Cmd {
	orch := m.orch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return confirmDoneMsg{kind: kind, err: orch.Confirm(ctx, kind)}
	}
}

func (m model) sendCmd(text string) tea.Cmd {
	client := m.client
	conversationID := m.conversationID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return sendDoneMsg{err: client.PostMessage(ctx, conversationID, text, nil)}
	}
}

// switchCmd tears down the current conversation's orchestrator and
// builds a fresh one: every poll loop dies with the old orchestrator and
// all workflow state is re-sourced from the server.
func (m model) switchCmd(conversationID string) tea.Cmd {
	old := m.orch
	client := m.client
	log := m.log
	notes := m.notes
	return func() tea.Msg {
		old.Close()
		next := newOrchestrator(conversationID, client, log, notes)
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		next.Sync(ctx)
		return switchDoneMsg{conversationID: conversationID, orch: next}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()

	case tea.KeyMsg:
		next, cmd, handled := m.handleKey(msg)
		if handled {
			return next, cmd
		}
		m = next

	case tickMsg:
		if m.ready && !m.refreshing {
			m.refreshing = true
			cmds = append(cmds, m.refreshCmd())
		}
		cmds = append(cmds, tickEvery(m.cfg.pollInterval))

	case syncDoneMsg:
		m.refreshing = true
		cmds = append(cmds, m.refreshCmd())

	case refreshDoneMsg:
		m.refreshing = false
		m.ready = true
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("refresh failed: %v", msg.err), true)
			break
		}
		m.items = msg.items
		m.turnStatus = msg.turnStatus
		for _, ev := range msg.events {
			m.orch.Apply(ev)
		}
		m.adoptWorkflowState()
		m.layout()

	case noteMsg:
		n := workflow.Notification(msg)
		m.setStatus(n.Message, n.Level == workflow.LevelError)
		m.adoptWorkflowState()
		cmds = append(cmds, m.waitNoteCmd())

	case confirmDoneMsg:
		m.adoptWorkflowState()
		if msg.err == nil {
			m.setStatus(fmt.Sprintf("%s generation started.", string(msg.kind)), false)
		}
		m.refreshing = true
		cmds = append(cmds, m.refreshCmd())

	case sendDoneMsg:
		m.sending = false
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("send failed: %v", msg.err), true)
			break
		}
		m.refreshing = true
		cmds = append(cmds, m.refreshCmd())

	case switchDoneMsg:
		m.conversationID = msg.conversationID
		m.orch = msg.orch
		m.items = nil
		m.focusID = ""
		m.confirmOpen = false
		m.adoptWorkflowState()
		m.setStatus(fmt.Sprintf("opened conversation %s", msg.conversationID), false)
		m.refreshing = true
		cmds = append(cmds, m.refreshCmd())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.composerLocked() && !m.confirmOpen {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	var cmd tea.Cmd
	m.timeline, cmd = m.timeline.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (model, tea.Cmd, bool) {
	if msg.Type == tea.KeyCtrlC {
		m.orch.Close()
		return m, tea.Quit, true
	}

	if m.confirmOpen {
		switch msg.String() {
		case "y", "enter":
			kind := m.confirmKind
			m.confirmOpen = false
			return m, m.confirmCmd(kind), true
		case "n", "esc":
			m.orch.Dismiss(m.confirmKind)
			m.confirmOpen = false
			m.adoptWorkflowState()
			m.setStatus("generation dismissed", false)
			return m, nil, true
		}
		return m, nil, true
	}

	switch msg.String() {
	case "ctrl+g":
		m.cycleFocus()
		m.layout()
		return m, nil, true
	case "esc":
		if m.focusID != "" {
			m.focusID = ""
			m.layout()
			return m, nil, true
		}
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil, true
		}
		if cmd, handled := m.handleSlash(text); handled {
			m.input.SetValue("")
			return m, cmd, true
		}
		if m.composerLocked() {
			m.setStatus("generation in progress, composer is locked", false)
			return m, nil, true
		}
		m.input.SetValue("")
		m.sending = true
		return m, m.sendCmd(text), true
	}
	return m, nil, false
}

func (m *model) handleSlash(text string) (tea.Cmd, bool) {
	if !strings.HasPrefix(text, "/") {
		return nil, false
	}
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit":
		m.orch.Close()
		return tea.Quit, true
	case "/open":
		if len(fields) < 2 {
			m.setStatus("usage: /open <conversation-id>", true)
			return nil, true
		}
		return m.switchCmd(fields[1]), true
	default:
		m.setStatus(fmt.Sprintf("unknown command %s", fields[0]), true)
		return nil, true
	}
}

// adoptWorkflowState snapshots orchestrator state for rendering and
// opens the confirmation modal when a kind is awaiting.
func (m *model) adoptWorkflowState() {
	m.states = m.orch.States()
	kind, open := m.orch.AwaitingConfirmation()
	m.confirmOpen = open
	if open {
		m.confirmKind = kind
	}
	if m.composerLocked() {
		m.input.Blur()
	} else if !m.input.Focused() {
		m.input.Focus()
	}
}

// composerLocked mirrors the workflow invariant: while any generation
// job is being tracked, the composer is disabled globally.
func (m model) composerLocked() bool {
	return m.sending || m.orch.Busy()
}

func (m *model) cycleFocus() {
	groups := make([]string, 0, len(m.items))
	for _, item := range m.items {
		if item.Type == timeline.ItemArtifacts {
			groups = append(groups, item.ID)
		}
	}
	if len(groups) == 0 {
		m.focusID = ""
		return
	}
	for i, id := range groups {
		if id == m.focusID {
			if i == len(groups)-1 {
				m.focusID = ""
			} else {
				m.focusID = groups[i+1]
			}
			return
		}
	}
	m.focusID = groups[0]
}

func (m *model) setStatus(text string, isErr bool) {
	m.statusLine = text
	m.statusIsErr = isErr
	if isErr {
		m.log.Warn().Msg(text)
	}
}
