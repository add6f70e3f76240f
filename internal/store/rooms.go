package store

import (
	"context"
	"errors"

	"bbs/internal/models"
)

// EnsureRoom 按名称解析房间，不存在时创建。已软删除的房间返回 ErrRoomDeleted。
// 创建时若与并发创建者冲突，则重新读取对方创建的房间。
func EnsureRoom(ctx context.Context, s Store, name string, creatorID int64) (models.Room, error) {
	room, err := s.RoomByName(ctx, name)
	if err == nil {
		if room.IsDeleted {
			return models.Room{}, ErrRoomDeleted
		}
		return room, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Room{}, err
	}

	room, err = s.InsertRoom(ctx, name, creatorID)
	if err == nil {
		return room, nil
	}
	if !IsConflict(err, FieldRoomName) {
		return models.Room{}, err
	}
	room, err = s.RoomByName(ctx, name)
	if err != nil {
		return models.Room{}, err
	}
	if room.IsDeleted {
		return models.Room{}, ErrRoomDeleted
	}
	return room, nil
}
