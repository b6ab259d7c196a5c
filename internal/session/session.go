package session

import (
	"encoding/json"
	"fmt"
	"time"

	"shopfront/chatsync/pkg/cache"
	"shopfront/chatsync/pkg/logger"
	"shopfront/chatsync/shared/redis"

	"github.com/google/uuid"
)

// Store is the key-value backend holding the cached session entry.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration) error
	Delete(key string) error
}

// entry is what gets persisted: the minted id plus when it was minted, so the
// expiry window survives backends that lose TTL precision.
type entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager mints and caches the anonymous customer's chat-session id. The id
// doubles as the customer's sender id on the wire. After the TTL window a
// fresh id is minted and the old conversation is left behind.
type Manager struct {
	store  Store
	key    string
	ttl    time.Duration
	logger *logger.Logger
	now    func() time.Time
}

// NewManager creates a session manager over the given backend.
func NewManager(store Store, keyPrefix string, ttl time.Duration, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Manager{
		store:  store,
		key:    keyPrefix + "customer",
		ttl:    ttl,
		logger: log,
		now:    time.Now,
	}
}

// ChatID returns the cached session id, minting a new one when none exists or
// the cached one has aged past the TTL window.
func (m *Manager) ChatID() (string, error) {
	if raw, ok := m.store.Get(m.key); ok {
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err == nil && e.ID != "" {
			if m.now().Sub(e.Timestamp) < m.ttl {
				return e.ID, nil
			}
			m.logger.Info("chat session expired, minting a new id", "old_id", e.ID)
		}
	}

	e := entry{ID: uuid.New().String(), Timestamp: m.now()}
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("error marshaling session entry: %w", err)
	}
	if err := m.store.Set(m.key, string(raw), m.ttl); err != nil {
		return "", fmt.Errorf("error persisting session entry: %w", err)
	}
	return e.ID, nil
}

// Reset drops the cached session id so the next ChatID call mints a new one.
func (m *Manager) Reset() error {
	return m.store.Delete(m.key)
}

// MemoryStore is the in-process backend, for clients that do not need the id
// to survive a restart.
type MemoryStore struct {
	c *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.NewCache(0, 10*time.Minute)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

func (s *MemoryStore) Set(key, value string, ttl time.Duration) error {
	s.c.SetWithExpiration(key, value, ttl)
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.c.Delete(key)
	return nil
}

// RedisStore persists the session entry in Redis for clients that must keep
// their identity across restarts.
type RedisStore struct {
	client *redis.RedisClient
	prefix string
	logger *logger.Logger
}

func NewRedisStore(addr, prefix string) *RedisStore {
	return &RedisStore{
		client: redis.NewRedisClient(addr),
		prefix: prefix,
		logger: logger.GetGlobal(),
	}
}

func (s *RedisStore) Get(key string) (string, bool) {
	v, err := s.client.Get(s.prefix + key)
	if err != nil {
		// An absent key just means no cached session; anything else is a
		// transport problem worth surfacing.
		if !redis.IsNotFound(err) {
			s.logger.LogError(err, "session lookup failed", "key", key)
		}
		return "", false
	}
	return v, true
}

func (s *RedisStore) Set(key, value string, ttl time.Duration) error {
	return s.client.Set(s.prefix+key, value, ttl)
}

func (s *RedisStore) Delete(key string) error {
	return s.client.Del(s.prefix + key)
}
