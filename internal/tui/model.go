// Package tui is the render loop: each update drains pending notifications into
// the session, handles at most one input message, then the program redraws.
package tui

import (
	"context"
	"strings"
	"time"

	"bbs/internal/command"
	"bbs/internal/realtime"
	"bbs/internal/session"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"
)

// TickInterval 是没有按键时的刷新间隔，也是通知最迟被看到的延迟。
const TickInterval = 200 * time.Millisecond

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model 是 bubbletea 模型。它是会话状态唯一的调用方。
type Model struct {
	ctx   context.Context
	coord *session.Coordinator
	queue *realtime.Queue

	input    textinput.Model
	status   string
	isError  bool
	showHelp bool
	help     string
	shortFP  string
	width    int
	height   int
}

func New(ctx context.Context, coord *session.Coordinator, queue *realtime.Queue, shortFP string) Model {
	ti := textinput.New()
	ti.Placeholder = "say something, or /help"
	ti.Focus()
	ti.Prompt = "> "
	ti.CharLimit = 4096
	ti.Width = 80

	return Model{
		ctx:     ctx,
		coord:   coord,
		queue:   queue,
		input:   ti,
		help:    renderHelp(80),
		shortFP: shortFP,
		width:   80,
		height:  24,
	}
}

func renderHelp(width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return helpMarkdown
	}
	out, err := r.Render(helpMarkdown)
	if err != nil {
		return helpMarkdown
	}
	return out
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tickCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.drain()

	switch msg := msg.(type) {
	case tickMsg:
		return m, tickCmd()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(10, msg.Width-4)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.showHelp {
			if msg.String() == "esc" || msg.String() == "q" || msg.String() == "enter" {
				m.showHelp = false
			}
			return m, nil
		}
		switch msg.String() {
		case "tab":
			m.apply(session.SwitchNext{})
			return m, nil
		case "enter":
			line := m.input.Value()
			m.input.Reset()
			if strings.TrimSpace(line) == "" {
				return m, nil
			}
			if m.apply(command.Parse(line)) {
				return m, tea.Quit
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// drain 非阻塞地取出全部排队事件交给会话。
func (m *Model) drain() {
	events := m.queue.Drain()
	if len(events) == 0 {
		return
	}
	if err := m.coord.HandleEvents(m.ctx, events); err != nil {
		log.Warn().Err(err).Int("events", len(events)).Msg("handle events")
	}
}

// apply 执行一个意图并更新状态栏，返回是否应退出。
func (m *Model) apply(in session.Intent) bool {
	res, err := m.coord.Apply(m.ctx, in)
	m.status = res.Status
	m.isError = res.Err != nil
	if err != nil {
		m.status = "error: " + err.Error()
		m.isError = true
	}
	if res.Retry != "" {
		m.input.SetValue(res.Retry)
		m.input.CursorEnd()
	}
	if res.ShowHelp {
		m.showHelp = true
	}
	return res.Quit
}
