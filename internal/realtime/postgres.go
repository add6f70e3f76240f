package realtime

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PGSubscriber 用一条独立的 pgx 连接 LISTEN 消息插入触发器发出的通知。
type PGSubscriber struct {
	dsn     string
	channel string
}

func NewPGSubscriber(dsn, channel string) *PGSubscriber {
	return &PGSubscriber{dsn: dsn, channel: channel}
}

func (s *PGSubscriber) Subscribe(ctx context.Context) (Subscription, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("listen connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", s.channel, err)
	}
	return &pgSubscription{conn: conn}, nil
}

type pgSubscription struct {
	conn *pgx.Conn
}

func (s *pgSubscription) Receive(ctx context.Context) ([]byte, error) {
	n, err := s.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(n.Payload), nil
}

func (s *pgSubscription) Close() error {
	return s.conn.Close(context.Background())
}
