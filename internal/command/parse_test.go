package command

import (
	"testing"

	"bbs/internal/session"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		want session.Intent
	}{
		{"hello", session.Send{Text: "hello"}},
		{"  spaced  ", session.Send{Text: "  spaced  "}},
		{"", session.Send{Text: ""}},
		{"/help", session.Help{}},
		{"/h", session.Help{}},
		{"/?", session.Help{}},
		{"/quit", session.Quit{}},
		{"/q", session.Quit{}},
		{"/exit", session.Quit{}},
		{"/me waves", session.Action{Text: "waves"}},
		{"/nick alice", session.Rename{Handle: "alice"}},
		{"/name  bob ", session.Rename{Handle: "bob"}},
		{"/join lobby", session.Join{Room: "lobby"}},
		{"/join", session.Join{Room: ""}},
		{"/leave", session.Leave{Room: ""}},
		{"/leave dev", session.Leave{Room: "dev"}},
		{"/next", session.SwitchNext{}},
		{"/rooms", session.ListRooms{}},
		{"/who", session.Who{Room: ""}},
		{"/who dev", session.Who{Room: "dev"}},
		{"/roomdel temp", session.DeleteRoom{Room: "temp"}},
		{"/rdel temp", session.DeleteRoom{Room: "temp"}},
		{"/frobnicate now", session.Unknown{Name: "frobnicate"}},
		{"/", session.Unknown{Name: ""}},
	}
	for _, tt := range tests {
		got := Parse(tt.line)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
}
