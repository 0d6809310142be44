package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"chunk-rerank-proxy/pkg/metrics"
)

// DefaultMaxEntries 内存缓存默认容量
const DefaultMaxEntries = 1000

// memoryEntry 内存条目，timer 为到期删除任务的句柄
type memoryEntry struct {
	Entry
	gen   uint64
	timer clockwork.Timer
}

// MemoryStore 进程内存储，容量满时淘汰最久未使用的条目
type MemoryStore struct {
	clock   clockwork.Clock
	mu      sync.Mutex
	gen     uint64
	entries *lru.Cache[string, *memoryEntry]
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(clock clockwork.Clock, maxEntries int) (*MemoryStore, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	s := &MemoryStore{clock: clock}
	entries, err := lru.NewWithEvict(maxEntries, func(_ string, e *memoryEntry) {
		// 条目离开缓存时取消其到期任务
		if e.timer != nil {
			e.timer.Stop()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	s.entries = entries
	return s, nil
}

// Get 读取条目，不检查过期
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	e, ok := s.entries.Get(key)
	if !ok {
		return Entry{}, false, nil
	}
	return e.Entry, true, nil
}

// Set 写入或覆盖条目，并安排 ttl 后删除
func (s *MemoryStore) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	e := &memoryEntry{Entry: entry, gen: s.gen}
	if ttl > 0 {
		gen := e.gen
		e.timer = s.clock.AfterFunc(ttl, func() { s.expire(key, gen) })
	}

	// lru 覆盖已有 key 不触发淘汰回调，需在此停止旧条目的 timer
	if old, ok := s.entries.Peek(key); ok && old.timer != nil {
		old.timer.Stop()
	}
	s.entries.Add(key, e)
	metrics.CacheEntries.Set(float64(s.entries.Len()))
	return nil
}

// expire 到期回调，只删除同一代的条目，避免误删后写入的新值
func (s *MemoryStore) expire(key string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries.Peek(key); ok && e.gen == gen {
		s.entries.Remove(key)
		metrics.CacheEntries.Set(float64(s.entries.Len()))
	}
}

// Delete 删除条目
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Remove(key)
	metrics.CacheEntries.Set(float64(s.entries.Len()))
	return nil
}

// Purge 清空所有条目并取消到期任务
func (s *MemoryStore) Purge(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Purge()
	metrics.CacheEntries.Set(0)
	return nil
}

// Stats 返回条目数
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	return Stats{Backend: "memory", Entries: s.entries.Len()}, nil
}

// Len 当前条目数
func (s *MemoryStore) Len() int {
	return s.entries.Len()
}

// Close 取消所有到期任务
func (s *MemoryStore) Close() error {
	return s.Purge(context.Background())
}
