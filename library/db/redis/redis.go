// Package redis wraps go-redis for the throttle counters.
package redis

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	gredis "github.com/Laisky/go-redis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Laisky/codepatch/library/config"
)

// DB is a wrapper for go-redis
type DB struct {
	rdb *redis.Client
	db  *gredis.Utils
}

// NewDB creates a new DB instance
func NewDB(opt *redis.Options) *DB {
	rdb := redis.NewClient(opt)
	rutils := gredis.NewRedisUtils(rdb)

	return &DB{
		rdb: rdb,
		db:  rutils,
	}
}

// OptionsFromConfig reads settings.db.redis.*.
func OptionsFromConfig() *redis.Options {
	return &redis.Options{
		Addr:     config.String("settings.db.redis.addr", "127.0.0.1:6379"),
		DB:       config.Int("settings.db.redis.db", 0),
		Password: config.String("settings.db.redis.password", ""),
	}
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "ping redis")
	}
	return nil
}

// Close closes the client.
func (db *DB) Close() error {
	return db.rdb.Close()
}

// Incr adds one to key and returns the new count. A new key expires after ttl.
func (db *DB) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	key = KeyPrefixThrottle + key

	var incr *redis.IntCmd
	if _, err := db.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, ttl)
		return nil
	}); err != nil {
		return 0, errors.Wrapf(err, "incr %s", key)
	}
	return incr.Val(), nil
}

// Get returns the value of key. ok is false for missing keys.
func (db *DB) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	value, err = db.db.GetItem(ctx, KeyPrefixThrottle+key)
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrapf(err, "get %s", key)
	}
	return value, true, nil
}

// Set stores value under key until ttl elapses.
func (db *DB) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := db.db.SetItem(ctx, KeyPrefixThrottle+key, value, ttl); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

// Del removes key.
func (db *DB) Del(ctx context.Context, key string) error {
	if err := db.rdb.Del(ctx, KeyPrefixThrottle+key).Err(); err != nil {
		return errors.Wrapf(err, "del %s", key)
	}
	return nil
}
