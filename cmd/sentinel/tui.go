package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const (
	historyLimit = 200
	pollInterval = 250 * time.Millisecond
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat with the Sentinel-X agents",
	Long: `Open an interactive chat with the Sentinel-X agents.

Commands inside the chat:
  /agent   toggle the main agent (autonomous / manual)
  /clear   clear the screen
  /quit    leave (also esc or ctrl+c)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		id, err := resolveSession(ctx, cmd, client, true)
		if err != nil {
			return err
		}
		p := tea.NewProgram(newChatModel(ctx, client, id), tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

type chatStyles struct {
	Title   lipgloss.Style
	User    lipgloss.Style
	Agent   lipgloss.Style
	System  lipgloss.Style
	Error   lipgloss.Style
	Status  lipgloss.Style
	Persona map[string]lipgloss.Style
}

func newChatStyles() chatStyles {
	return chatStyles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		User:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Agent:  lipgloss.NewStyle().Bold(true),
		System: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Error:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Status: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Persona: map[string]lipgloss.Style{
			"ThreatScanner":       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
			"NetworkMapper":       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
			"EncryptionManager":   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")),
			"DefenseOrchestrator": lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
			"AnalyticsEngine":     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
			"LogAgent":            lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		},
	}
}

// chatModel is the bubbletea model behind `sentinel chat`. It posts input
// to the server and polls the history while reply steps are still pending.
type chatModel struct {
	ctx       context.Context
	client    *apiClient
	sessionID string

	input    textinput.Model
	view     viewport.Model
	styles   chatStyles
	messages []messageView
	pending  int
	mode     string
	status   string
	err      error
}

type historyMsg struct {
	history historyView
	err     error
}

type sentMsg struct {
	out sendView
	err error
}

type toggledMsg struct {
	state stateView
	err   error
}

type pollMsg time.Time

func newChatModel(ctx context.Context, client *apiClient, sessionID string) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask Sentinel-X..."
	ti.Prompt = "> "
	ti.CharLimit = 2000
	ti.Focus()

	return chatModel{
		ctx:       ctx,
		client:    client,
		sessionID: sessionID,
		input:     ti,
		view:      viewport.New(80, 20),
		styles:    newChatStyles(),
		mode:      "agent",
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.fetchHistory())
}

func (m chatModel) fetchHistory() tea.Cmd {
	return func() tea.Msg {
		h, err := m.client.history(m.ctx, m.sessionID, historyLimit)
		return historyMsg{history: h, err: err}
	}
}

func (m chatModel) sendInput(text string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.client.send(m.ctx, m.sessionID, text)
		return sentMsg{out: out, err: err}
	}
}

func (m chatModel) toggleAgent() tea.Cmd {
	return func() tea.Msg {
		st, err := m.client.toggleAgent(m.ctx, m.sessionID)
		return toggledMsg{state: st, err: err}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}

	case historyMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.messages = msg.history.Data
		m.pending = msg.history.Pending
		m.refresh()
		if m.pending > 0 {
			return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg { return pollMsg(t) })
		}
		return m, nil

	case pollMsg:
		return m, m.fetchHistory()

	case sentMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.mode = msg.out.Mode
		return m, m.fetchHistory()

	case toggledMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		if msg.state.AgentActive {
			m.status = "Main Agent resumed autonomous operation"
		} else {
			m.status = "Main Agent under manual control"
		}
		return m, m.fetchHistory()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if text == "" {
		return m, nil
	}
	m.status = ""

	switch text {
	case "/quit", "/exit", "/q":
		return m, tea.Quit
	case "/agent":
		return m, m.toggleAgent()
	case "/clear":
		m.messages = nil
		m.refresh()
		return m, nil
	}
	return m, m.sendInput(text)
}

func (m *chatModel) refresh() {
	m.view.SetContent(m.renderMessages())
	m.view.GotoBottom()
}

func (m chatModel) renderMessages() string {
	var b strings.Builder
	for _, msg := range m.messages {
		switch msg.Role {
		case "user":
			b.WriteString(m.styles.User.Render("you>") + " " + msg.Text)
		case "agent":
			style, ok := m.styles.Persona[msg.Persona]
			if !ok {
				style = m.styles.Agent
			}
			name := msg.Persona
			if name == "" {
				name = "agent"
			}
			b.WriteString(style.Render(name+">") + " " + msg.Text)
		default:
			b.WriteString(m.styles.System.Render(msg.Text))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (m chatModel) View() string {
	header := m.styles.Title.Render("Sentinel-X") + " " +
		m.styles.System.Render(fmt.Sprintf("session %s  mode %s", m.sessionID, m.mode))

	var footer string
	switch {
	case m.err != nil:
		footer = m.styles.Error.Render("error: " + m.err.Error())
	case m.pending > 0:
		footer = m.styles.Status.Render("agents working...")
	default:
		footer = m.styles.Status.Render(m.status)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, m.view.View(), footer, m.input.View())
}
