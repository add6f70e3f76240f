// Package command turns an input line into a session intent.
package command

import (
	"strings"

	"bbs/internal/session"
)

// Parse 解析输入行。不以 "/" 开头的文本都是普通消息；命令名不区分别名。
func Parse(line string) session.Intent {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "/") {
		return session.Send{Text: line}
	}
	name, arg, _ := strings.Cut(s[1:], " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "help", "h", "?":
		return session.Help{}
	case "quit", "q", "exit":
		return session.Quit{}
	case "me":
		return session.Action{Text: arg}
	case "nick", "name":
		return session.Rename{Handle: arg}
	case "join", "j":
		return session.Join{Room: arg}
	case "leave", "part":
		return session.Leave{Room: arg}
	case "next":
		return session.SwitchNext{}
	case "rooms":
		return session.ListRooms{}
	case "who":
		return session.Who{Room: arg}
	case "roomdel", "rdel":
		return session.DeleteRoom{Room: arg}
	default:
		return session.Unknown{Name: name}
	}
}
