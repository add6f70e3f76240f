package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bbs/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NotifyChannel 是消息插入触发器使用的 NOTIFY 通道名。
const NotifyChannel = "room_events"

const migrateLockID int64 = 0x6262_0001

// Connect 负责建立到 Postgres 的连接，并带有简单的重试来等待数据库就绪。
func Connect(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(2)
				sqlDB.SetMaxOpenConns(5)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

const liveRoomIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS idx_rooms_live_name ON rooms (name) WHERE is_deleted = false`

const notifyFuncSQL = `
CREATE OR REPLACE FUNCTION notify_room_event() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('` + NotifyChannel + `',
		json_build_object('type', 'msg', 'room_id', NEW.room_id, 'id', NEW.id)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`

const notifyTriggerSQL = `
DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'messages_notify_insert') THEN
		CREATE TRIGGER messages_notify_insert
		AFTER INSERT ON messages
		FOR EACH ROW EXECUTE FUNCTION notify_room_event();
	END IF;
END $$`

// Migrate 建表、建立房间名部分唯一索引以及消息 NOTIFY 触发器。
// 多个客户端同时启动时由 advisory lock 串行化。
func Migrate(gdb *gorm.DB) error {
	return withMigrationLock(gdb, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&models.User{}, &models.Room{}, &models.RoomMember{}, &models.Message{}, &models.NameChange{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		for _, stmt := range []string{liveRoomIndexSQL, notifyFuncSQL, notifyTriggerSQL} {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		return nil
	})
}

func withMigrationLock(gdb *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)"); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)")
	}()
	return fn(gdb)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string) error {
	_, err := conn.ExecContext(ctx, query, migrateLockID)
	return err
}
