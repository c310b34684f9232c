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

const recipientCacheKeyPrefix = "recipient_config:"

// RedisRecipientCache はRedisを使用した受け取り手設定キャッシュ。
// パスワードハッシュはJSONに含まれないためキャッシュされない。
type RedisRecipientCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRecipientCache はRedisRecipientCacheを生成する。
func NewRedisRecipientCache(client *redis.Client, ttl time.Duration) *RedisRecipientCache {
	return &RedisRecipientCache{client: client, ttl: ttl}
}

func recipientCacheKey(id string) string {
	return recipientCacheKeyPrefix + id
}

// Get はキャッシュから取得する。存在しない場合はnilを返す。
func (c *RedisRecipientCache) Get(ctx context.Context, id string) (*model.Recipient, error) {
	data, err := c.client.Get(ctx, recipientCacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached recipient: %w", err)
	}

	var rec model.Recipient
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode cached recipient: %w", err)
	}
	return &rec, nil
}

// Set はキャッシュに保存する。
func (c *RedisRecipientCache) Set(ctx context.Context, rec *model.Recipient) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode recipient: %w", err)
	}
	if err := c.client.Set(ctx, recipientCacheKey(rec.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache recipient: %w", err)
	}
	return nil
}

// Refresh はキャッシュ済みの場合のみ内容を上書きする。
// 閲覧中のセッションがない受け取り手はキャッシュに載せない。
func (c *RedisRecipientCache) Refresh(ctx context.Context, rec *model.Recipient) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode recipient: %w", err)
	}
	err = c.client.SetXX(ctx, recipientCacheKey(rec.ID), data, c.ttl).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to refresh cached recipient: %w", err)
	}
	return nil
}

// Delete はキャッシュから削除する。
func (c *RedisRecipientCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, recipientCacheKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to evict cached recipient: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RecipientCache = (*RedisRecipientCache)(nil)
