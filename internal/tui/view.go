package tui

import (
	"fmt"
	"strings"

	"bbs/internal/models"
	"bbs/internal/session"
)

const helpMarkdown = `# bbs

Type a line and press **enter** to send it to the current room.

| command | what it does |
| --- | --- |
| /join ROOM | join a room, creating it if needed |
| /leave [ROOM] | leave a room (not the last one) |
| /next or tab | switch to the next joined room |
| /me TEXT | send an action |
| /nick HANDLE | change your handle |
| /rooms | list joined rooms with unread counts |
| /who [ROOM] | list room members |
| /roomdel ROOM | delete a room you created |
| /help | show this help |
| /quit | leave bbs |

Press **esc** to close this help.
`

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")

	bodyHeight := max(1, m.height-3)
	if m.showHelp {
		b.WriteString(truncateToHeight(m.help, bodyHeight))
	} else {
		b.WriteString(m.messageLog(bodyHeight))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

func (m Model) header() string {
	u := m.coord.User()
	cur, _ := m.coord.Current()

	parts := []string{headerStyle.Render(fmt.Sprintf("bbs · %s · %s", u.Handle, m.shortFP))}
	for _, r := range m.coord.Rooms() {
		label := "#" + r.Name
		if r.ID == cur.ID {
			parts = append(parts, currentRoom.Render(label))
			continue
		}
		if r.Unread > 0 {
			label += unreadBadge.Render(fmt.Sprintf(" (%d)", r.Unread))
		}
		parts = append(parts, roomStyle.Render(label))
	}
	return strings.Join(parts, "")
}

func (m Model) messageLog(height int) string {
	msgs := m.coord.Messages()
	if len(msgs) == 0 {
		return dimStyle.Render("no messages yet")
	}
	self := m.coord.User().ID
	lines := make([]string, 0, len(msgs))
	for _, v := range msgs {
		lines = append(lines, formatMessage(v, v.UserID == self))
	}
	return tail(strings.Join(lines, "\n"), height)
}

// formatMessage 渲染一条消息；/me 消息显示为 "* handle text"。
func formatMessage(v models.MessageView, self bool) string {
	ts := timeStyle.Render(v.CreatedAt.Local().Format("15:04"))
	if text, ok := strings.CutPrefix(v.Body, session.ActionPrefix); ok {
		return ts + " " + actionStyle.Render("* "+v.Handle+" "+text)
	}
	name := handleStyle.Render(v.Handle)
	if self {
		name = selfStyle.Render(v.Handle)
	}
	return ts + " " + name + ": " + v.Body
}

func (m Model) statusLine() string {
	if m.status == "" {
		return dimStyle.Render("tab next room · /help")
	}
	if m.isError {
		return errorStyle.Render(m.status)
	}
	return statusStyle.Render(m.status)
}

// truncateToHeight 保留前 height 行。
func truncateToHeight(s string, height int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= height {
		return s
	}
	return strings.Join(lines[:height], "\n")
}

// tail 保留最后 height 行，最新消息贴着输入框。
func tail(s string, height int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= height {
		return s
	}
	return strings.Join(lines[len(lines)-height:], "\n")
}
