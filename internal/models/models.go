package models

import "time"

type User struct {
	ID          int64     `gorm:"primaryKey"`
	Fingerprint string    `gorm:"column:fingerprint_sha256;uniqueIndex:idx_users_fingerprint;size:128;not null"`
	KeyType     string    `gorm:"size:32;not null"`
	Handle      string    `gorm:"uniqueIndex:idx_users_handle;size:16;not null"`
	CreatedAt   time.Time
	LastSeenAt  time.Time
}

// Room 的名称只在未删除的房间之间唯一，由 db.Migrate 建立的部分唯一索引保证。
type Room struct {
	ID        int64      `gorm:"primaryKey"`
	Name      string     `gorm:"index;size:24;not null"`
	CreatedBy int64      `gorm:"index;not null"`
	IsDeleted bool       `gorm:"not null;default:false"`
	CreatedAt time.Time
	DeletedAt *time.Time
}

type RoomMember struct {
	RoomID       int64     `gorm:"primaryKey;autoIncrement:false"`
	UserID       int64     `gorm:"primaryKey;autoIncrement:false;index"`
	LastJoinedAt time.Time `gorm:"not null"`
}

type Message struct {
	ID        int64      `gorm:"primaryKey"`
	RoomID    int64      `gorm:"index:idx_messages_room_created,priority:1;not null"`
	UserID    int64      `gorm:"index:idx_messages_user_created,priority:1;not null"`
	Body      string     `gorm:"type:text;not null"`
	CreatedAt time.Time  `gorm:"index:idx_messages_room_created,priority:2;index:idx_messages_user_created,priority:2;index"`
	DeletedAt *time.Time
}

// NameChange 记录改名审计，和改名本身写在同一个事务里。
type NameChange struct {
	ID        int64     `gorm:"primaryKey"`
	UserID    int64     `gorm:"index;not null"`
	OldHandle string    `gorm:"size:16;not null"`
	NewHandle string    `gorm:"size:16;not null"`
	CreatedAt time.Time
}

// MessageView 是带作者昵称的消息，供界面直接渲染。
type MessageView struct {
	ID        int64
	RoomID    int64
	UserID    int64
	Handle    string
	Body      string
	CreatedAt time.Time
}

type RoomSummary struct {
	ID   int64
	Name string
}

type MemberSummary struct {
	ID     int64
	Handle string
}

// MessageRef 是轮询路径使用的最小消息行。
type MessageRef struct {
	ID        int64
	RoomID    int64
	CreatedAt time.Time
}
