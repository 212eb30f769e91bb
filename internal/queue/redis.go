package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Key      string `toml:"key"`
}

func (o *RedisOptions) FillDefaults() {
	if o.Key == "" {
		o.Key = "matchmaking:queue"
	}
}

// maxTxRetries bounds the optimistic locking loop on contended keys.
const maxTxRetries = 16

// RedisStore keeps the waiting pool in a single redis list of JSON-encoded
// entries. Mutations run under WATCH so that a scan + LREM pair racing with
// a concurrent join resolves to exactly one winner.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(o RedisOptions) *RedisStore {
	o.FillDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
	return &RedisStore{client: client, key: o.Key}
}

// NewRedisStoreWithClient is used by tests running against miniredis.
func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "matchmaking:queue"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeEntries(items []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("unmarshal queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	items, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange: %w", err)
	}
	return decodeEntries(items)
}

func (s *RedisStore) Add(ctx context.Context, e Entry) error {
	data, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}
	for range maxTxRetries {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			items, err := tx.LRange(ctx, s.key, 0, -1).Result()
			if err != nil {
				return fmt.Errorf("lrange: %w", err)
			}
			entries, err := decodeEntries(items)
			if err != nil {
				return err
			}
			for _, cur := range entries {
				if cur.UserID == e.UserID {
					return ErrAlreadyQueued
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.RPush(ctx, s.key, data)
				return nil
			})
			return err
		}, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("add queue entry: too much contention")
}

func (s *RedisStore) Remove(ctx context.Context, userID string) (bool, error) {
	_, ok, err := s.Take(ctx, userID)
	return ok, err
}

func (s *RedisStore) Take(ctx context.Context, userID string) (Entry, bool, error) {
	var (
		res   Entry
		found bool
	)
	for range maxTxRetries {
		found = false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			items, err := tx.LRange(ctx, s.key, 0, -1).Result()
			if err != nil {
				return fmt.Errorf("lrange: %w", err)
			}
			var raw string
			for _, item := range items {
				var e Entry
				if err := json.Unmarshal([]byte(item), &e); err != nil {
					return fmt.Errorf("unmarshal queue entry: %w", err)
				}
				if e.UserID == userID {
					raw, res = item, e
					break
				}
			}
			if raw == "" {
				return nil
			}
			var remCmd *redis.IntCmd
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				remCmd = pipe.LRem(ctx, s.key, 1, raw)
				return nil
			})
			if err != nil {
				return err
			}
			found = remCmd.Val() == 1
			return nil
		}, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Entry{}, false, err
		}
		return res, found, nil
	}
	return Entry{}, false, fmt.Errorf("take queue entry: too much contention")
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen: %w", err)
	}
	return int(n), nil
}
