// ABOUTME: Interactive chat TUI over the loom client: agent list, live streaming replies.
// ABOUTME: Usage: loom-tui [-config loom.yaml] [-gateway localhost:8080]

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389/loom-client/internal/client"
	"github.com/2389/loom-client/internal/config"
	"github.com/2389/loom-client/internal/protocol"
	"github.com/2389/loom-client/internal/stream"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	gatewayHost := flag.String("gateway", "localhost:8080", "gateway host:port when no config file is given")
	logPath := flag.String("log", "", "write debug logs to this file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath, *gatewayHost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path, host string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	cfg.Gateway = config.GatewayConfig{
		CommandURL: fmt.Sprintf("ws://%s/ws/command", host),
		EventURL:   fmt.Sprintf("ws://%s/ws/events", host),
		HTTPBase:   fmt.Sprintf("http://%s", host),
	}
	return cfg, cfg.Validate()
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := client.New(cfg, client.Options{Logger: logger})
	streams := stream.NewManager(cfg.Streams, cfg.Gateway.HTTPBase, stream.Options{Logger: logger})

	m := newModel(ctx, coord, streams)
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.send = p.Send

	// Events flow from the coordinator's goroutines into the program.
	coord.RegisterHandlers(client.Handlers{
		protocol.EventAgentListUpdate: func(*protocol.EventEnvelope) {
			p.Send(agentsMsg(coord.Agents()))
		},
		protocol.EventAgentStreamStart: func(ev *protocol.EventEnvelope) {
			var start protocol.StreamStart
			if err := ev.DecodeData(&start); err != nil {
				p.Send(errMsg{err})
				return
			}
			p.Send(streamStartMsg{messageID: start.MessageID, agentName: ev.AgentName})
		},
		protocol.EventError: func(ev *protocol.EventEnvelope) {
			p.Send(errMsg{ev.Error})
		},
	})
	coord.SubscribeStatus(func(s client.ConnectionStatus) {
		p.Send(statusMsg(s))
	})

	coord.Start(ctx)
	streams.Start(ctx)
	defer coord.Stop()
	defer streams.Stop()

	_, err := p.Run()
	return err
}

type (
	agentsMsg      []protocol.Agent
	statusMsg      client.ConnectionStatus
	streamStartMsg struct {
		messageID string
		agentName string
	}
	contentMsg struct {
		messageID string
		delta     string
	}
	doneMsg struct {
		messageID string
	}
	errMsg struct {
		err error
	}
)

type model struct {
	ctx     context.Context
	coord   *client.Coordinator
	streams *stream.Manager
	send    func(tea.Msg)

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	agents     []protocol.Agent
	agentIdx   int
	status     client.ConnectionStatus
	transcript strings.Builder
	partial    string
	streamID   string
	agentName  string
	waiting    bool
	ready      bool
}

func newModel(ctx context.Context, coord *client.Coordinator, streams *stream.Manager) *model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &model{ctx: ctx, coord: coord, streams: streams, input: ti, spin: sp}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refreshViewport()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyTab:
			if len(m.agents) > 0 {
				m.agentIdx = (m.agentIdx + 1) % len(m.agents)
			}
		case tea.KeyEnter:
			m.submit()
		}

	case agentsMsg:
		m.agents = msg
		if m.agentIdx >= len(m.agents) {
			m.agentIdx = 0
		}

	case statusMsg:
		m.status = client.ConnectionStatus(msg)

	case streamStartMsg:
		m.streamID = msg.messageID
		m.agentName = msg.agentName
		m.partial = ""
		m.openStream(msg.messageID)

	case contentMsg:
		if msg.messageID == m.streamID {
			m.partial += msg.delta
			m.refreshViewport()
		}

	case doneMsg:
		if msg.messageID == m.streamID {
			m.appendLine(agentStyle.Render(m.agentLabel()+": ") + m.partial)
			m.partial = ""
			m.streamID = ""
			m.waiting = false
			m.refreshViewport()
		}

	case errMsg:
		if msg.err != nil {
			m.appendLine(errorStyle.Render("error: " + msg.err.Error()))
			m.waiting = false
			m.refreshViewport()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) submit() {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.waiting {
		return
	}
	if len(m.agents) == 0 {
		m.appendLine(errorStyle.Render("no agents available yet"))
		m.refreshViewport()
		return
	}
	agent := m.agents[m.agentIdx]
	if err := m.coord.SendChatMessage(agent.ID, text); err != nil {
		m.appendLine(errorStyle.Render("send failed: " + err.Error()))
		m.refreshViewport()
		return
	}
	m.appendLine(userStyle.Render("you: ") + text)
	m.input.Reset()
	m.waiting = true
	m.refreshViewport()
}

// openStream subscribes to the content stream behind an agent_stream_start
// event, forwarding deltas back into the update loop.
func (m *model) openStream(messageID string) {
	// Callbacks run on the stream's goroutines; the program serializes them.
	p := m.send
	err := m.streams.StartStream(m.ctx, stream.StartRequest{
		ID:       messageID,
		AgentID:  m.currentAgentID(),
		Priority: stream.PriorityHigh,
		Callbacks: stream.Callbacks{
			OnContent:  func(delta string) { p(contentMsg{messageID: messageID, delta: delta}) },
			OnComplete: func(string) { p(doneMsg{messageID: messageID}) },
			OnError: func(err error) {
				if err == stream.ErrContentTruncated {
					p(contentMsg{messageID: messageID, delta: dimStyle.Render(" [truncated]")})
					return
				}
				p(errMsg{err})
			},
		},
	})
	if err != nil {
		m.appendLine(errorStyle.Render("stream failed: " + err.Error()))
	}
}

func (m *model) currentAgentID() string {
	if len(m.agents) == 0 {
		return ""
	}
	return m.agents[m.agentIdx].ID
}

func (m *model) agentLabel() string {
	if m.agentName != "" {
		return m.agentName
	}
	return "agent"
}

func (m *model) appendLine(line string) {
	m.transcript.WriteString(line)
	m.transcript.WriteString("\n")
}

func (m *model) refreshViewport() {
	if !m.ready {
		return
	}
	content := m.transcript.String()
	if m.partial != "" {
		content += agentStyle.Render(m.agentLabel()+": ") + m.partial
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func (m *model) View() string {
	if !m.ready {
		return "loading..."
	}

	var status string
	switch {
	case m.status.BothOpen():
		status = statusStyle.Render("connected")
	case m.status.IsConnecting:
		status = statusStyle.Render(m.spin.View() + " connecting...")
	default:
		status = errorStyle.Render("disconnected (reconnect exhausted)")
	}

	header := titleStyle.Render("loom") + "  " + status
	if len(m.agents) > 0 {
		header += dimStyle.Render(fmt.Sprintf("  [tab] agent: %s", m.agents[m.agentIdx].Name))
	}

	footer := m.input.View()
	if m.waiting {
		footer = m.spin.View() + " " + footer
	}

	return header + "\n" + m.viewport.View() + "\n\n" + footer
}
