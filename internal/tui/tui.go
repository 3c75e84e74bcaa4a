// Package tui renders the chat in the terminal. It implements the
// controller's View interface by posting messages into the running
// bubbletea program.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/xpresschat/xpress-chat/internal/chat"
)

// Callbacks are the controller entry points driven by user input. Send
// may block on the network and is always invoked from a tea command,
// never from Update itself.
type Callbacks struct {
	Start       func() error
	Send        func(text string) error
	SwitchTheme func(theme chat.Theme) error
	Logout      func() error
}

type UI struct {
	prog   *tea.Program
	ownUID string
}

func New(ownUID string, cb Callbacks) *UI {
	u := &UI{ownUID: ownUID}
	m := newModel(ownUID, cb)
	u.prog = tea.NewProgram(m, tea.WithAltScreen())
	return u
}

// Run blocks until the user quits or the controller navigates away.
func (u *UI) Run() error {
	_, err := u.prog.Run()
	return err
}

// View implementation. All methods hand off to the program's event
// loop and return immediately.

func (u *UI) SetRoomName(name string)     { u.prog.Send(roomNameMsg(name)) }
func (u *UI) AppendMessage(m chat.Message) { u.prog.Send(appendMsg{m}) }
func (u *UI) SetOnlineCount(count int)    { u.prog.Send(onlineCountMsg(count)) }
func (u *UI) SetTheme(theme chat.Theme)   { u.prog.Send(themeMsg(theme)) }
func (u *UI) SetSending(sending bool)     { u.prog.Send(sendingMsg(sending)) }
func (u *UI) Notify(text string)          { u.prog.Send(noticeMsg(text)) }
func (u *UI) NavigateLogin()              { u.prog.Send(navigateLoginMsg{}) }

type (
	roomNameMsg      string
	appendMsg        struct{ m chat.Message }
	onlineCountMsg   int
	themeMsg         chat.Theme
	sendingMsg       bool
	noticeMsg        string
	navigateLoginMsg struct{}
	startedMsg       struct{ err error }
	sendDoneMsg      struct{ err error }
)

type styles struct {
	header lipgloss.Style
	own    lipgloss.Style
	other  lipgloss.Style
	time   lipgloss.Style
	notice lipgloss.Style
}

func themeStyles(theme chat.Theme) styles {
	if theme == chat.ThemeDark {
		return styles{
			header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
			own:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
			other:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
			time:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
			notice: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		}
	}
	return styles{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		own:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		other:  lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
		time:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		notice: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	}
}

type model struct {
	cb     Callbacks
	ownUID string

	input       textinput.Model
	messages    []chat.Message
	roomName    string
	onlineCount int
	theme       chat.Theme
	styles      styles
	sending     bool
	notice      string
	width       int
	height      int
}

func newModel(ownUID string, cb Callbacks) model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 1024
	input.Focus()

	return model{
		cb:     cb,
		ownUID: ownUID,
		input:  input,
		theme:  chat.ThemeLight,
		styles: themeStyles(chat.ThemeLight),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, func() tea.Msg {
		return startedMsg{err: m.cb.Start()}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, func() tea.Msg {
				if err := m.cb.Logout(); err != nil {
					return noticeMsg(err.Error())
				}
				return nil
			}
		case tea.KeyCtrlT:
			next := chat.ThemeDark
			if m.theme == chat.ThemeDark {
				next = chat.ThemeLight
			}
			return m, func() tea.Msg {
				if err := m.cb.SwitchTheme(next); err != nil {
					return noticeMsg(err.Error())
				}
				return nil
			}
		case tea.KeyEnter:
			if m.sending {
				return m, nil
			}
			text := m.input.Value()
			if strings.TrimSpace(text) == "" {
				return m, nil
			}
			m.input.Reset()
			return m, func() tea.Msg {
				return sendDoneMsg{err: m.cb.Send(text)}
			}
		}

	case startedMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
			return m, tea.Quit
		}
		return m, nil

	case sendDoneMsg:
		if msg.err != nil && msg.err != chat.ErrEmptyMessage {
			m.notice = "Failed to send message. Please try again."
		}
		return m, nil

	case roomNameMsg:
		m.roomName = string(msg)
		return m, nil

	case appendMsg:
		m.messages = append(m.messages, msg.m)
		return m, nil

	case onlineCountMsg:
		m.onlineCount = int(msg)
		return m, nil

	case themeMsg:
		m.theme = chat.Theme(msg)
		m.styles = themeStyles(m.theme)
		return m, nil

	case sendingMsg:
		m.sending = bool(msg)
		return m, nil

	case noticeMsg:
		m.notice = string(msg)
		return m, nil

	case navigateLoginMsg:
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder

	header := fmt.Sprintf("%s  |  Online: %d", m.roomName, m.onlineCount)
	b.WriteString(m.styles.header.Render(header))
	b.WriteString("\n\n")

	visible := m.messages
	if max := m.height - 6; max > 0 && len(visible) > max {
		visible = visible[len(visible)-max:]
	}

	for _, msg := range visible {
		style := m.styles.other
		if msg.SenderID == m.ownUID {
			style = m.styles.own
		}
		ts := m.styles.time.Render(msg.Timestamp.Local().Format("15:04"))
		b.WriteString(fmt.Sprintf("%s %s %s\n", style.Render(msg.SenderName+":"), msg.Text, ts))
	}

	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString(m.styles.notice.Render(m.notice))
		b.WriteString("\n")
	}

	if m.sending {
		b.WriteString("SENDING...")
	} else {
		b.WriteString(m.input.View())
	}
	b.WriteString("\n")
	b.WriteString(m.styles.time.Render("enter: send  ctrl+t: switch side  esc: logout"))

	return b.String()
}
