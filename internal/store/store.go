package store

import (
	"context"
	"time"

	"bbs/internal/models"
)

// Store 是客户端消费的全部存储操作。实现必须保证单个操作的原子性。
type Store interface {
	UserByFingerprint(ctx context.Context, fingerprint string) (models.User, error)
	InsertUser(ctx context.Context, fingerprint, keyType, handle string) (models.User, error)
	TouchLastSeen(ctx context.Context, userID int64) error
	RenameUser(ctx context.Context, userID int64, newHandle string) (models.User, error)

	RoomByName(ctx context.Context, name string) (models.Room, error)
	InsertRoom(ctx context.Context, name string, creatorID int64) (models.Room, error)
	SoftDeleteRoom(ctx context.Context, name string, creatorID int64) (bool, error)

	UpsertMembership(ctx context.Context, roomID, userID int64) error
	DeleteMembership(ctx context.Context, roomID, userID int64) (bool, error)
	ListJoinedRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error)
	ListRecentMembers(ctx context.Context, roomID int64, limit int) ([]models.MemberSummary, error)

	InsertMessage(ctx context.Context, roomID, userID int64, body string, limit int) (models.Message, error)
	MessageView(ctx context.Context, id int64) (models.MessageView, error)
	RecentMessageViews(ctx context.Context, roomID int64, limit int) ([]models.MessageView, error)
	MessagesSince(ctx context.Context, since time.Time, limit int) ([]models.MessageRef, error)
	DeleteMessagesOlderThan(ctx context.Context, cutoff time.Time, batchLimit int) (int64, error)
}

// RateWindow is the trailing window the server-side gate counts over.
const RateWindow = time.Minute
