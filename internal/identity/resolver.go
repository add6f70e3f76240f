// Package identity maps a credential fingerprint to exactly one persistent user.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bbs/internal/models"
	"bbs/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MaxAttempts bounds handle generation; ten collisions in a row means the handle space is exhausted.
const MaxAttempts = 10

var ErrHandlesExhausted = errors.New("could not allocate a unique handle")

// Resolver 把指纹解析为用户，首次出现时创建用户并分配随机昵称。
type Resolver struct {
	store     store.Store
	newHandle func() string
}

func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s, newHandle: RandomHandle}
}

// RandomHandle 生成 "usr-" 加 8 位十六进制的候选昵称。
func RandomHandle() string {
	id := uuid.New()
	return "usr-" + strings.ReplaceAll(id.String(), "-", "")[:8]
}

// Resolve 返回指纹对应的用户。并发首次登录时，唯一索引保证只有一个插入成功，
// 其余调用者在指纹冲突后重新读取胜者的记录。
func (r *Resolver) Resolve(ctx context.Context, fingerprint, keyType string) (models.User, error) {
	u, err := r.store.UserByFingerprint(ctx, fingerprint)
	if err == nil {
		if err := r.store.TouchLastSeen(ctx, u.ID); err != nil {
			log.Warn().Err(err).Int64("user_id", u.ID).Msg("touch last seen")
		}
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.User{}, fmt.Errorf("lookup user: %w", err)
	}

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		handle := r.newHandle()
		u, err := r.store.InsertUser(ctx, fingerprint, keyType, handle)
		switch {
		case err == nil:
			log.Info().Int64("user_id", u.ID).Str("handle", u.Handle).Msg("new user")
			return u, nil
		case store.IsConflict(err, store.FieldHandle):
			log.Debug().Str("handle", handle).Int("attempt", attempt+1).Msg("handle collision")
			continue
		case store.IsConflict(err, store.FieldFingerprint):
			u, err := r.store.UserByFingerprint(ctx, fingerprint)
			if err != nil {
				return models.User{}, fmt.Errorf("reload user after race: %w", err)
			}
			return u, nil
		default:
			return models.User{}, fmt.Errorf("insert user: %w", err)
		}
	}
	return models.User{}, ErrHandlesExhausted
}
