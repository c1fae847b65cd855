package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"dokimi/internal/api"
	"dokimi/internal/timeline"
	"dokimi/internal/workflow"
)

type uiTheme struct {
	header      lipgloss.Style
	panel       lipgloss.Style
	panelTitle  lipgloss.Style
	card        lipgloss.Style
	cardFocused lipgloss.Style
	user        lipgloss.Style
	assistant   lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	modal       lipgloss.Style
	inputPanel  lipgloss.Style
	lockNote    lipgloss.Style
	helpText    lipgloss.Style
}

func newTheme() uiTheme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	panelBg := lipgloss.Color("#1b0f35")
	text := lipgloss.Color("#f3f3ff")
	muted := lipgloss.Color("#9ca3d8")

	return uiTheme{
		header: lipgloss.NewStyle().
			Background(panelBg).
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panelTitle:  lipgloss.NewStyle().Foreground(mint).Bold(true),
		card:        lipgloss.NewStyle().Foreground(blue),
		cardFocused: lipgloss.NewStyle().Foreground(mint).Bold(true),
		user:        lipgloss.NewStyle().Foreground(mint).Bold(true),
		assistant:   lipgloss.NewStyle().Foreground(pink).Bold(true),
		status:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		modal: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(pink).
			Padding(1, 2),
		inputPanel: lipgloss.NewStyle().
			Background(panelBg).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),
		lockNote: lipgloss.NewStyle().Foreground(muted).Italic(true),
		helpText: lipgloss.NewStyle().Foreground(muted),
	}
}

func (m *model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	atBottom := m.timeline.AtBottom()
	prevOffset := m.timeline.YOffset
	m.timeline.Width = maxInt(24, m.width-4)
	m.timeline.Height = maxInt(5, m.height-9)
	m.input.Width = maxInt(20, m.width-8)
	m.timeline.SetContent(m.renderTimeline())
	if atBottom {
		m.timeline.GotoBottom()
	} else {
		m.timeline.SetYOffset(prevOffset)
	}
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n  %s loading conversation %s...\n", m.spinner.View(), m.conversationID)
	}

	var b strings.Builder
	b.WriteString(m.theme.header.Render(m.renderHeader()))
	b.WriteString("\n")
	b.WriteString(m.theme.panel.Render(
		m.theme.panelTitle.Render("Conversation") + "\n" + m.timeline.View(),
	))
	b.WriteString("\n")
	b.WriteString(m.renderWorkflowBanner())
	b.WriteString("\n")

	if m.confirmOpen {
		b.WriteString(m.theme.modal.Render(m.renderConfirmModal()))
		b.WriteString("\n")
	}

	statusStyle := m.theme.status
	if m.statusIsErr {
		statusStyle = m.theme.errorStatus
	}
	b.WriteString(statusStyle.Render(m.statusLine))
	b.WriteString("\n")

	if m.composerLocked() {
		b.WriteString(m.theme.inputPanel.Render(
			m.theme.lockNote.Render(m.spinner.View() + " generation in progress, composer locked"),
		))
	} else {
		b.WriteString(m.theme.inputPanel.Render(m.input.View()))
	}
	b.WriteString("\n")
	b.WriteString(m.theme.helpText.Render("enter send · ctrl+g focus artifacts · esc collapse · /open <id> · ctrl+c quit"))
	return b.String()
}

func (m model) renderHeader() string {
	turn := m.turnStatus
	if strings.TrimSpace(turn) == "" {
		turn = "idle"
	}
	busy := ""
	if m.orch.Busy() {
		busy = " " + m.spinner.View()
	}
	return fmt.Sprintf("dokimi · %s · turn=%s%s", m.conversationID, turn, busy)
}

func (m model) renderWorkflowBanner() string {
	parts := make([]string, 0, 3)
	for _, kind := range []workflow.Kind{workflow.KindRequirements, workflow.KindScenarios, workflow.KindTestCases} {
		st := m.states[kind]
		parts = append(parts, fmt.Sprintf("%s=%s", kind, bannerStatus(st)))
	}
	return m.theme.helpText.Render(strings.Join(parts, "  "))
}

func bannerStatus(st workflow.State) string {
	switch st.Status {
	case workflow.StatusAwaitingConfirmation:
		return "awaiting confirmation"
	case workflow.StatusInProgress:
		return "running"
	case workflow.StatusCompleted:
		return "done"
	case workflow.StatusFailed:
		return "failed"
	default:
		return "-"
	}
}

func (m model) renderConfirmModal() string {
	var what string
	switch m.confirmKind {
	case workflow.KindRequirements:
		what = "generate requirements from the uploaded documents"
	case workflow.KindScenarios:
		what = "generate scenarios from the approved requirements"
	case workflow.KindTestCases:
		what = "generate test cases from the approved scenarios"
	}
	return fmt.Sprintf("Start %s?\n\nThis runs in the background and can take a few minutes.\n\n[y] start   [n] not now", what)
}

func (m model) renderTimeline() string {
	if len(m.items) == 0 {
		return "No messages yet. Upload a document or ask a question to get started."
	}
	var b strings.Builder
	for _, item := range m.items {
		switch item.Type {
		case timeline.ItemTurn:
			m.renderTurn(&b, item)
		case timeline.ItemArtifacts:
			m.renderGroup(&b, item)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) renderTurn(b *strings.Builder, item timeline.Item) {
	turn := item.Turn
	style := m.theme.assistant
	label := "assistant"
	if turn.Role == "user" {
		style = m.theme.user
		label = "you"
	}
	b.WriteString(style.Render(fmt.Sprintf("%s [%s]", item.Timestamp.Local().Format("15:04"), label)))
	b.WriteString("\n")
	b.WriteString(wrapText(turn.DisplayText, maxInt(24, m.timeline.Width-2)))
	b.WriteString("\n")
	if turn.Attachment != nil {
		b.WriteString(m.theme.helpText.Render(fmt.Sprintf("  attached: %s", turn.Attachment.Name)))
		b.WriteString("\n")
	}
}

func (m model) renderGroup(b *strings.Builder, item timeline.Item) {
	focused := item.ID == m.focusID
	style := m.theme.card
	if focused {
		style = m.theme.cardFocused
	}
	b.WriteString(style.Render(fmt.Sprintf("%s [%s]", item.Timestamp.Local().Format("15:04"), groupTitle(item.Group))))
	b.WriteString("\n")
	if !focused {
		b.WriteString(m.theme.helpText.Render("  ctrl+g to expand"))
		b.WriteString("\n")
		return
	}
	for _, artifact := range item.Group.Artifacts {
		for _, line := range artifactLines(artifact, timelinePreviewRows) {
			b.WriteString("  " + line)
			b.WriteString("\n")
		}
	}
}

func groupTitle(g *timeline.Group) string {
	n := len(g.Artifacts)
	switch g.Kind {
	case "file":
		if n == 1 {
			return "1 document extracted"
		}
		return fmt.Sprintf("%d documents extracted", n)
	case "requirements":
		return "Generated requirements"
	case "scenarios":
		return "Generated scenarios"
	case "testcases":
		return "Generated test cases"
	}
	return string(g.Kind)
}

// artifactLines flattens one fetched artifact into preview rows,
// type-switching on the api payload shapes.
func artifactLines(artifact timeline.Artifact, limit int) []string {
	var lines []string
	switch content := artifact.Content.(type) {
	case api.FileContent:
		lines = append(lines, fmt.Sprintf("%s (%d pages)", content.Name, len(content.Pages)))
		if len(content.Pages) > 0 {
			lines = append(lines, compactLine(content.Pages[0].Text, 120))
		}
	case []api.Requirement:
		for _, r := range content {
			lines = append(lines, fmt.Sprintf("%s %s", r.Code, r.Title))
		}
	case []api.Scenario:
		for _, s := range content {
			lines = append(lines, fmt.Sprintf("%s %s", s.Code, s.Title))
		}
	case []api.TestCase:
		for _, tc := range content {
			lines = append(lines, fmt.Sprintf("%s %s", tc.Code, tc.Title))
		}
	default:
		lines = append(lines, fmt.Sprintf("%v", content))
	}
	if len(lines) > limit {
		rest := len(lines) - limit
		lines = append(lines[:limit], fmt.Sprintf("... and %d more", rest))
	}
	return lines
}

func compactLine(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > limit {
		return text[:limit-3] + "..."
	}
	return text
}

func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if len(line) <= width {
			out = append(out, line)
			continue
		}
		var current string
		for _, word := range strings.Fields(line) {
			if current == "" {
				current = word
				continue
			}
			if len(current)+1+len(word) > width {
				out = append(out, current)
				current = word
				continue
			}
			current += " " + word
		}
		if current != "" {
			out = append(out, current)
		}
	}
	return strings.Join(out, "\n")
}
