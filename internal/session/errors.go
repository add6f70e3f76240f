package session

import (
	"errors"

	"bbs/internal/store"
)

// 可恢复的错误：Apply 把它们转换为状态栏提示，会话状态不变。
var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLong  = errors.New("message too long")
	ErrInvalidRoomName = errors.New("invalid room name (use a-z 0-9 _ -, up to 24)")
	ErrInvalidHandle   = errors.New("invalid handle (use a-z 0-9 _ -, 2 to 16)")
	ErrLastRoom        = errors.New("cannot leave your last room")
	ErrNotJoined       = errors.New("not in that room")
	ErrRateLimited     = errors.New("rate limited, try again shortly")
	ErrHandleTaken     = errors.New("handle taken")
	ErrNoSuchRoom      = errors.New("no such room")
)

var recoverable = []error{
	ErrEmptyMessage,
	ErrMessageTooLong,
	ErrInvalidRoomName,
	ErrInvalidHandle,
	ErrLastRoom,
	ErrNotJoined,
	ErrRateLimited,
	ErrHandleTaken,
	ErrNoSuchRoom,
	store.ErrRoomDeleted,
}

// IsRecoverable reports whether err is a user-facing condition rather than a failure.
func IsRecoverable(err error) bool {
	for _, target := range recoverable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
