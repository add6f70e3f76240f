// Package textutil holds the text rules shared by the command parser and the session.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	MaxRoomNameLen = 24
	MinHandleLen   = 2
	MaxHandleLen   = 16
)

func allowedRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

func matches(s string, min, max int) bool {
	s = strings.TrimSpace(s)
	if len(s) < min || len(s) > max {
		return false
	}
	for _, r := range s {
		if !allowedRune(r) {
			return false
		}
	}
	return true
}

// ValidRoomName 校验房间名：1 到 24 个 [a-z0-9_-] 字符。
func ValidRoomName(name string) bool {
	return matches(name, 1, MaxRoomNameLen)
}

// ValidHandle 校验昵称：2 到 16 个 [a-z0-9_-] 字符。
func ValidHandle(handle string) bool {
	return matches(handle, MinHandleLen, MaxHandleLen)
}

// NormalizeBody 做 NFKC 规范化，并去掉除换行和制表符以外的控制字符。
func NormalizeBody(s string) string {
	s = norm.NFKC.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// RuneLen counts code points, the unit message limits are measured in.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
