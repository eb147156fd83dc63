package lobby

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NameStore 暱稱唯一性的存放處
//
// 單機部署用 MemoryNameStore；多個伺服器共用大廳時改用 RedisNameStore，
// 讓暱稱在整個叢集內唯一。
type NameStore interface {
	// Reserve 佔用暱稱；已被他人佔用回傳 false
	Reserve(ctx context.Context, name, playerID string) (bool, error)
	// Release 釋放暱稱；只有佔用者本人能釋放
	Release(ctx context.Context, name, playerID string) error
}

// normalizeName 暱稱比對不分大小寫
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// MemoryNameStore 進程內的暱稱表
type MemoryNameStore struct {
	mu    sync.Mutex
	names map[string]string // 正規化暱稱 -> playerID
}

// NewMemoryNameStore 創建進程內暱稱表
func NewMemoryNameStore() *MemoryNameStore {
	return &MemoryNameStore{names: make(map[string]string)}
}

// Reserve 實現 NameStore
func (s *MemoryNameStore) Reserve(_ context.Context, name, playerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeName(name)
	if owner, taken := s.names[key]; taken {
		return owner == playerID, nil
	}
	s.names[key] = playerID
	return true, nil
}

// Release 實現 NameStore
func (s *MemoryNameStore) Release(_ context.Context, name, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeName(name)
	if s.names[key] == playerID {
		delete(s.names, key)
	}
	return nil
}

// releaseScript 只刪除仍屬於自己的鍵
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisNameStore 以 Redis SETNX 實現的叢集暱稱表
//
// 鍵帶 TTL：伺服器崩潰沒有釋放的暱稱會自動過期。
type RedisNameStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisNameStore 創建 Redis 暱稱表
func NewRedisNameStore(client *redis.Client, prefix string, ttl time.Duration) *RedisNameStore {
	if prefix == "" {
		prefix = "naval:names"
	}
	return &RedisNameStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisNameStore) key(name string) string {
	return fmt.Sprintf("%s:%s", s.prefix, normalizeName(name))
}

// Reserve 實現 NameStore
func (s *RedisNameStore) Reserve(ctx context.Context, name, playerID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(name), playerID, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve name: %w", err)
	}
	if ok {
		return true, nil
	}

	owner, err := s.client.Get(ctx, s.key(name)).Result()
	if err == redis.Nil {
		// 剛好過期，再試一次
		return s.client.SetNX(ctx, s.key(name), playerID, s.ttl).Result()
	}
	if err != nil {
		return false, fmt.Errorf("read name owner: %w", err)
	}
	return owner == playerID, nil
}

// Release 實現 NameStore
func (s *RedisNameStore) Release(ctx context.Context, name, playerID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key(name)}, playerID).Err(); err != nil {
		return fmt.Errorf("release name: %w", err)
	}
	return nil
}
