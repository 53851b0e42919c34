package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/redis.v5"
)

type Status string

const (
	StatusConnected   Status = "connected"
	StatusUnavailable Status = "unavailable"
	StatusDisabled    Status = "disabled"
)

// NoTTL is returned by TTL for keys that are missing or never expire.
const NoTTL = -1 * time.Second

// ErrUnavailable is returned by every operation when the cache never connected.
var ErrUnavailable = errors.New("cache unavailable")

type Config struct {
	URL         string
	KeyPrefix   string
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

// Cache is a JSON-encoding TTL key-value cache on top of redis. A Cache that
// failed to connect stays usable: reads miss and writes are dropped.
type Cache struct {
	client *redis.Client
	prefix string
	status Status
}

// New connects once and never fails. Connection problems leave the cache in
// the unavailable state, which Status reports.
func New(cfg Config) *Cache {
	c := &Cache{prefix: cfg.KeyPrefix, status: StatusDisabled}
	if strings.TrimSpace(cfg.URL) == "" {
		return c
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.WithError(err).Warn("invalid redis url, caching disabled")
		c.status = StatusUnavailable
		return c
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.IOTimeout > 0 {
		opts.ReadTimeout = cfg.IOTimeout
		opts.WriteTimeout = cfg.IOTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping().Err(); err != nil {
		log.WithError(err).WithField("addr", opts.Addr).Warn("redis unreachable, running without cache")
		_ = client.Close()
		c.status = StatusUnavailable
		return c
	}
	log.WithField("addr", opts.Addr).Info("connected to redis")
	c.client = client
	c.status = StatusConnected
	return c
}

func (c *Cache) Status() Status {
	if c == nil {
		return StatusDisabled
	}
	return c.status
}

func (c *Cache) ready() bool {
	return c != nil && c.client != nil && c.status == StatusConnected
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

func (c *Cache) Ping() error {
	if !c.ready() {
		return ErrUnavailable
	}
	return c.client.Ping().Err()
}

func (c *Cache) Close() error {
	if !c.ready() {
		return nil
	}
	return c.client.Close()
}

// Set stores value as JSON. A non-positive ttl stores the key without expiry.
func (c *Cache) Set(key string, value any, ttl time.Duration) error {
	if !c.ready() {
		return ErrUnavailable
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(c.key(key), raw, ttl).Err()
}

// Get decodes the value stored under key into out. It reports false on a miss.
func (c *Cache) Get(key string, out any) (bool, error) {
	if !c.ready() {
		return false, ErrUnavailable
	}
	raw, err := c.client.Get(c.key(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) Delete(keys ...string) (int64, error) {
	if !c.ready() {
		return 0, ErrUnavailable
	}
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, c.key(k))
	}
	return c.client.Del(full...).Result()
}

func (c *Cache) Exists(key string) (bool, error) {
	if !c.ready() {
		return false, ErrUnavailable
	}
	return c.client.Exists(c.key(key)).Result()
}

// Expire resets the expiry of an existing key. It reports false when the key is missing.
func (c *Cache) Expire(key string, ttl time.Duration) (bool, error) {
	if !c.ready() {
		return false, ErrUnavailable
	}
	return c.client.Expire(c.key(key), ttl).Result()
}

func (c *Cache) TTL(key string) (time.Duration, error) {
	if !c.ready() {
		return NoTTL, ErrUnavailable
	}
	d, err := c.client.TTL(c.key(key)).Result()
	if err != nil {
		return NoTTL, err
	}
	if d < 0 {
		return NoTTL, nil
	}
	return d, nil
}

// BatchSet writes all entries in one pipeline. Each key is set atomically but
// the batch as a whole is not transactional.
func (c *Cache) BatchSet(entries map[string]any, ttl time.Duration) error {
	if !c.ready() {
		return ErrUnavailable
	}
	if len(entries) == 0 {
		return nil
	}
	encoded := make(map[string][]byte, len(entries))
	for k, v := range entries {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		encoded[k] = raw
	}
	if ttl < 0 {
		ttl = 0
	}
	_, err := c.client.Pipelined(func(pipe *redis.Pipeline) error {
		for k, raw := range encoded {
			pipe.Set(c.key(k), raw, ttl)
		}
		return nil
	})
	return err
}

// BatchGetRaw returns the stored bytes of every key that exists.
func (c *Cache) BatchGetRaw(keys []string) (map[string][]byte, error) {
	if !c.ready() {
		return nil, ErrUnavailable
	}
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, c.key(k))
	}
	vals, err := c.client.MGet(full...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		switch t := v.(type) {
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		}
	}
	return out, nil
}

// BatchGet calls decode for every key that exists and returns the number of hits.
func (c *Cache) BatchGet(keys []string, decode func(key string, raw json.RawMessage) error) (int, error) {
	found, err := c.BatchGetRaw(keys)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		raw, ok := found[k]
		if !ok {
			continue
		}
		if err := decode(k, raw); err != nil {
			return 0, fmt.Errorf("decode %s: %w", k, err)
		}
	}
	return len(found), nil
}

const scanBatch = 200

// ClearPattern deletes every key matching the glob pattern and returns how many were removed.
// It walks the keyspace with SCAN and is meant for maintenance, not the request path.
func (c *Cache) ClearPattern(pattern string) (int, error) {
	if !c.ready() {
		return 0, ErrUnavailable
	}
	if pattern == "" {
		pattern = "*"
	}
	match := c.key(pattern)

	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.client.Scan(cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// MemoryInfo returns the fields of the INFO memory section.
func (c *Cache) MemoryInfo() (map[string]string, error) {
	if !c.ready() {
		return nil, ErrUnavailable
	}
	raw, err := c.client.Info("memory").Result()
	if err != nil {
		return nil, err
	}
	return parseInfo(raw), nil
}

func parseInfo(raw string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
