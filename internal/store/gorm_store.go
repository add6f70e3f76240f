package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"bbs/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// uniqueViolation 是 Postgres 的唯一约束冲突 SQLSTATE。
const uniqueViolation = "23505"

// rateLockSQL 按作者串行化发送。锁键是带前缀的完整用户 ID 的 64 位哈希。
const rateLockSQL = "SELECT pg_advisory_xact_lock(hashtextextended(?, 0))"

func rateLockKey(userID int64) string {
	return "bbs.rate." + strconv.FormatInt(userID, 10)
}

// Index names created by db.Migrate; conflicts are classified by them.
const (
	IndexUserHandle      = "idx_users_handle"
	IndexUserFingerprint = "idx_users_fingerprint"
	IndexRoomLiveName    = "idx_rooms_live_name"
)

const insertGatedSQL = `
WITH recent AS (
	SELECT count(*) AS c
	FROM messages
	WHERE user_id = ? AND created_at > now() - interval '1 minute'
)
INSERT INTO messages (room_id, user_id, body, created_at)
SELECT ?, ?, ?, now()
WHERE (SELECT c FROM recent) < ?
RETURNING id, room_id, user_id, body, created_at, deleted_at`

const upsertMembershipSQL = `
INSERT INTO room_members (room_id, user_id, last_joined_at)
SELECT ?, ?, now()
WHERE EXISTS (SELECT 1 FROM rooms WHERE id = ? AND is_deleted = false)
ON CONFLICT (room_id, user_id) DO UPDATE SET last_joined_at = EXCLUDED.last_joined_at`

const pruneSQL = `
WITH doomed AS (
	SELECT id FROM messages
	WHERE created_at < ?
	ORDER BY created_at ASC
	LIMIT ?
)
DELETE FROM messages m USING doomed d
WHERE m.id = d.id`

const messageViewColumns = "m.id, m.room_id, m.user_id, u.handle, m.body, m.created_at"

// GormStore 基于 GORM + Postgres 实现 Store。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Ping 检查数据库连接是否可用，供 /healthz 使用。
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) UserByFingerprint(ctx context.Context, fingerprint string) (models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("fingerprint_sha256 = ?", fingerprint).Take(&u).Error; err != nil {
		return models.User{}, notFound(err)
	}
	return u, nil
}

func (s *GormStore) InsertUser(ctx context.Context, fingerprint, keyType, handle string) (models.User, error) {
	now := time.Now().UTC()
	u := models.User{Fingerprint: fingerprint, KeyType: keyType, Handle: handle, CreatedAt: now, LastSeenAt: now}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return models.User{}, classify(err)
	}
	return u, nil
}

func (s *GormStore) TouchLastSeen(ctx context.Context, userID int64) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_seen_at", gorm.Expr("now()")).Error
}

// RenameUser 在同一事务内更新昵称并写入审计记录。
func (s *GormStore) RenameUser(ctx context.Context, userID int64, newHandle string) (models.User, error) {
	var updated models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).Take(&old).Error; err != nil {
			return notFound(err)
		}
		oldHandle := old.Handle
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Update("handle", newHandle).Error; err != nil {
			return classify(err)
		}
		audit := models.NameChange{UserID: userID, OldHandle: oldHandle, NewHandle: newHandle, CreatedAt: time.Now().UTC()}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}
		updated = old
		updated.Handle = newHandle
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return updated, nil
}

// RoomByName 优先返回未删除的同名房间，否则返回最近删除的那一个。
func (s *GormStore) RoomByName(ctx context.Context, name string) (models.Room, error) {
	var r models.Room
	err := s.db.WithContext(ctx).
		Where("name = ?", name).
		Order("is_deleted ASC").
		Order("id DESC").
		Take(&r).Error
	if err != nil {
		return models.Room{}, notFound(err)
	}
	return r, nil
}

func (s *GormStore) InsertRoom(ctx context.Context, name string, creatorID int64) (models.Room, error) {
	r := models.Room{Name: name, CreatedBy: creatorID, CreatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return models.Room{}, classify(err)
	}
	return r, nil
}

// SoftDeleteRoom 仅当调用者是创建者且房间尚未删除时生效。
func (s *GormStore) SoftDeleteRoom(ctx context.Context, name string, creatorID int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Room{}).
		Where("name = ? AND created_by = ? AND is_deleted = ?", name, creatorID, false).
		Updates(map[string]any{"is_deleted": true, "deleted_at": gorm.Expr("now()")})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpsertMembership 在写入时重新检查房间是否已删除，避免依赖之前的读取结果。
func (s *GormStore) UpsertMembership(ctx context.Context, roomID, userID int64) error {
	res := s.db.WithContext(ctx).Exec(upsertMembershipSQL, roomID, userID, roomID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRoomDeleted
	}
	return nil
}

func (s *GormStore) DeleteMembership(ctx context.Context, roomID, userID int64) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&models.RoomMember{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ListJoinedRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error) {
	var out []models.RoomSummary
	err := s.db.WithContext(ctx).Table("room_members AS rm").
		Select("r.id, r.name").
		Joins("JOIN rooms r ON r.id = rm.room_id").
		Where("rm.user_id = ? AND r.is_deleted = false", userID).
		Order("rm.last_joined_at DESC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListRecentMembers(ctx context.Context, roomID int64, limit int) ([]models.MemberSummary, error) {
	var out []models.MemberSummary
	err := s.db.WithContext(ctx).Table("room_members AS rm").
		Select("u.id, u.handle").
		Joins("JOIN users u ON u.id = rm.user_id").
		Where("rm.room_id = ?", roomID).
		Order("rm.last_joined_at DESC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertMessage 是服务端限流闸门：统计作者最近一分钟的消息数，低于 limit 才插入。
// 同一作者的并发发送通过事务级 advisory lock 串行化。
func (s *GormStore) InsertMessage(ctx context.Context, roomID, userID int64, body string, limit int) (models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(rateLockSQL, rateLockKey(userID)).Error; err != nil {
			return err
		}
		res := tx.Raw(insertGatedSQL, userID, roomID, userID, body, limit).Scan(&msg)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 || msg.ID == 0 {
			return ErrRateLimited
		}
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (s *GormStore) MessageView(ctx context.Context, id int64) (models.MessageView, error) {
	var v models.MessageView
	err := s.db.WithContext(ctx).Table("messages AS m").
		Select(messageViewColumns).
		Joins("JOIN users u ON u.id = m.user_id").
		Where("m.id = ? AND m.deleted_at IS NULL", id).
		Take(&v).Error
	if err != nil {
		return models.MessageView{}, notFound(err)
	}
	return v, nil
}

// RecentMessageViews 取最近 limit 条消息，按时间升序返回。
func (s *GormStore) RecentMessageViews(ctx context.Context, roomID int64, limit int) ([]models.MessageView, error) {
	var out []models.MessageView
	err := s.db.WithContext(ctx).Table("messages AS m").
		Select(messageViewColumns).
		Joins("JOIN users u ON u.id = m.user_id").
		Where("m.room_id = ? AND m.deleted_at IS NULL", roomID).
		Order("m.created_at DESC, m.id DESC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *GormStore) MessagesSince(ctx context.Context, since time.Time, limit int) ([]models.MessageRef, error) {
	var out []models.MessageRef
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Select("id, room_id, created_at").
		Where("created_at > ? AND deleted_at IS NULL", since).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMessagesOlderThan 分批删除早于 cutoff 的消息，返回本批删除的行数。
func (s *GormStore) DeleteMessagesOlderThan(ctx context.Context, cutoff time.Time, batchLimit int) (int64, error) {
	res := s.db.WithContext(ctx).Exec(pruneSQL, cutoff, batchLimit)
	return res.RowsAffected, res.Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// classify 把唯一约束冲突映射为 ConflictError，其余错误原样返回。
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case IndexUserHandle:
		return &ConflictError{Field: FieldHandle, Err: err}
	case IndexUserFingerprint:
		return &ConflictError{Field: FieldFingerprint, Err: err}
	case IndexRoomLiveName:
		return &ConflictError{Field: FieldRoomName, Err: err}
	}
	return err
}
