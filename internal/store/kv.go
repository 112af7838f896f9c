// Package store persists the thread list into a single named slot of a
// durable key-value store.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zulandar/labdesk/internal/config"
	"github.com/zulandar/labdesk/internal/db"
	"github.com/zulandar/labdesk/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KV is a durable key-value store holding opaque values.
type KV interface {
	// Get returns the value under key. found is false when nothing is stored.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Put overwrites the value under key.
	Put(ctx context.Context, key string, value []byte) error
	// Close releases the underlying connection.
	Close() error
}

// GormKV stores slots as rows of the kv_entries table.
type GormKV struct {
	db *gorm.DB
}

// NewGormKV migrates the kv_entries table and returns a KV backed by it.
func NewGormKV(gdb *gorm.DB) (*GormKV, error) {
	if gdb == nil {
		return nil, fmt.Errorf("store: gorm kv: db is required")
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return &GormKV{db: gdb}, nil
}

func (g *GormKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry models.KVEntry
	err := g.db.WithContext(ctx).Where(&models.KVEntry{Key: key}).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %q: %w", key, err)
	}
	return []byte(entry.Value), true, nil
}

func (g *GormKV) Put(ctx context.Context, key string, value []byte) error {
	entry := models.KVEntry{Key: key, Value: string(value)}
	result := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry)
	if result.Error != nil {
		return fmt.Errorf("store: put %q: %w", key, result.Error)
	}
	return nil
}

func (g *GormKV) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RedisKV stores slots as plain Redis string keys.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV wraps an existing client.
func NewRedisKV(client *redis.Client) (*RedisKV, error) {
	if client == nil {
		return nil, fmt.Errorf("store: redis kv: client is required")
	}
	return &RedisKV{client: client}, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: redis get %q: %w", key, err)
	}
	return val, true, nil
}

func (r *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("store: redis set %q: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Close() error { return r.client.Close() }

// Open builds the KV selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (KV, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		gdb, err := db.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewGormKV(gdb)
	case config.DriverMySQL:
		m := cfg.MySQL
		gdb, err := db.OpenMySQL(m.User, m.Host, m.Port, m.Database)
		if err != nil {
			return nil, err
		}
		return NewGormKV(gdb)
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("store: redis ping %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisKV(client)
	}
	return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
}
