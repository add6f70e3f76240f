package store

import (
	"errors"
	"fmt"
)

// 存储层通用错误，调用方用 errors.Is / errors.As 区分。
var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
	ErrRoomDeleted = errors.New("room is deleted")
)

// Conflict fields reported by ConflictError.
const (
	FieldHandle      = "handle"
	FieldFingerprint = "fingerprint"
	FieldRoomName    = "room_name"
)

// ConflictError 表示唯一约束冲突，Field 指明是哪一列冲突。
type ConflictError struct {
	Field string
	Err   error
}

func (e *ConflictError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s already exists", e.Field)
	}
	return fmt.Sprintf("%s already exists: %v", e.Field, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsConflict reports whether err is a ConflictError on field.
func IsConflict(err error, field string) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Field == field
}
