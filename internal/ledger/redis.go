package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ChrisB0-2/apguard/internal/core"
)

// RedisConfig configures the Redis ledger backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisBackend stores each network as two Redis sets plus a name index:
//
//	<prefix>networks            set of network names
//	<prefix>net:<name>:allowed  set of access point ids
//	<prefix>net:<name>:blocked  set of access point ids
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// DialRedis connects and pings within two seconds.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisBackend(client, cfg.KeyPrefix), nil
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "apguard:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) indexKey() string { return b.prefix + "networks" }

func (b *RedisBackend) listKey(name core.NetworkName, list string) string {
	return b.prefix + "net:" + string(name) + ":" + list
}

func (b *RedisBackend) Load(ctx context.Context) (map[core.NetworkName]core.TrustEntry, error) {
	names, err := b.client.SMembers(ctx, b.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	out := make(map[core.NetworkName]core.TrustEntry, len(names))
	for _, n := range names {
		name := core.NetworkName(n)
		allowed, err := b.client.SMembers(ctx, b.listKey(name, listAllowed)).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s allowed: %w", n, err)
		}
		blocked, err := b.client.SMembers(ctx, b.listKey(name, listBlocked)).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s blocked: %w", n, err)
		}
		out[name] = core.TrustEntry{Allowed: toIDs(allowed), Blocked: toIDs(blocked)}
	}
	return out, nil
}

// Replace rewrites both sets of a network in one MULTI/EXEC transaction.
func (b *RedisBackend) Replace(ctx context.Context, name core.NetworkName, entry core.TrustEntry) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		allowedKey := b.listKey(name, listAllowed)
		blockedKey := b.listKey(name, listBlocked)

		pipe.Del(ctx, allowedKey, blockedKey)
		if len(entry.Allowed) > 0 {
			pipe.SAdd(ctx, allowedKey, toMembers(entry.Allowed)...)
		}
		if len(entry.Blocked) > 0 {
			pipe.SAdd(ctx, blockedKey, toMembers(entry.Blocked)...)
		}
		if entry.Empty() {
			pipe.SRem(ctx, b.indexKey(), string(name))
		} else {
			pipe.SAdd(ctx, b.indexKey(), string(name))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func (b *RedisBackend) DeleteAll(ctx context.Context) error {
	names, err := b.client.SMembers(ctx, b.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, n := range names {
			name := core.NetworkName(n)
			pipe.Del(ctx, b.listKey(name, listAllowed), b.listKey(name, listBlocked))
		}
		pipe.Del(ctx, b.indexKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete all: %w", err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func toIDs(members []string) []core.AccessPointID {
	if len(members) == 0 {
		return nil
	}
	out := make([]core.AccessPointID, len(members))
	for i, m := range members {
		out[i] = core.AccessPointID(m)
	}
	return out
}

func toMembers(ids []core.AccessPointID) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

var _ Backend = (*RedisBackend)(nil)
