package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/birthday-portal/internal/model"
)

const viewerSessionKeyPrefix = "viewer:"

// RedisViewerSessionStore はRedisを使用した閲覧セッションストア。
// セッションはJSONとして保存し、TTL経過で自動的に失効する。
type RedisViewerSessionStore struct {
	client *redis.Client
}

// NewRedisViewerSessionStore はRedisViewerSessionStoreを生成する。
func NewRedisViewerSessionStore(client *redis.Client) *RedisViewerSessionStore {
	return &RedisViewerSessionStore{client: client}
}

func viewerSessionKey(id string) string {
	return viewerSessionKeyPrefix + id
}

// Create はセッションをTTL付きで保存する。
func (s *RedisViewerSessionStore) Create(ctx context.Context, session *model.ViewerSession, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode viewer session: %w", err)
	}
	if err := s.client.Set(ctx, viewerSessionKey(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save viewer session: %w", err)
	}
	return nil
}

// Get はセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (s *RedisViewerSessionStore) Get(ctx context.Context, id string) (*model.ViewerSession, error) {
	data, err := s.client.Get(ctx, viewerSessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get viewer session: %w", err)
	}

	var session model.ViewerSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode viewer session: %w", err)
	}
	return &session, nil
}

// Update はTTLを維持したままセッションを上書きする。
func (s *RedisViewerSessionStore) Update(ctx context.Context, session *model.ViewerSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode viewer session: %w", err)
	}

	err = s.client.SetArgs(ctx, viewerSessionKey(session.ID), data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Err()
	if errors.Is(err, redis.Nil) {
		return model.ErrViewerSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update viewer session: %w", err)
	}
	return nil
}

// Delete はセッションを削除する。
func (s *RedisViewerSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, viewerSessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete viewer session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ViewerSessionStore = (*RedisViewerSessionStore)(nil)
