// Package cache 提供响应缓存的存储后端
package cache

import (
	"context"
	"time"
)

// Entry 缓存条目
type Entry struct {
	Payload    []byte
	InsertedAt time.Time
}

// Stats 存储统计
type Stats struct {
	Backend string `json:"backend"`
	// Entries 当前条目数，未知时为 -1
	Entries int `json:"entries"`
}

// Store 带过期的键值存储
// 实现需要在 ttl 到期后自动删除条目；调用方仍会根据 InsertedAt 自行判断是否过期。
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Purge(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}
