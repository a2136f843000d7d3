package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultRedisPrefix = "riskmon:"
	maxTxRetries       = 50
)

// RedisStore keeps one key per author plus an index set. Updates use
// optimistic transactions, so concurrent runs in different processes never
// interleave on the same author.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store on an existing client. An empty prefix uses "riskmon:".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreFromURL parses a redis:// URL and pings the server
func NewRedisStoreFromURL(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, ""), nil
}

// Close releases the redis connection pool
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) indexKey() string {
	return r.prefix + "authors"
}

func (r *RedisStore) authorKey(author string) string {
	return r.prefix + "author:" + author
}

// Load reads every indexed author
func (r *RedisStore) Load(ctx context.Context) (*models.MonitorState, error) {
	authors, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read author index: %w", err)
	}

	st := models.NewMonitorState()
	for _, author := range authors {
		as, err := decodeAuthor(r.client.Get(ctx, r.authorKey(author)))
		if err != nil {
			logrus.Warnf("Skipping unreadable monitor state for %s: %v", author, err)
			continue
		}
		if as != nil {
			st.Authors[author] = as
		}
	}
	return st, nil
}

// Save replaces the stored state in one transaction
func (r *RedisStore) Save(ctx context.Context, st *models.MonitorState) error {
	existing, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to read author index: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, author := range existing {
			if _, ok := st.Authors[author]; !ok {
				pipe.Del(ctx, r.authorKey(author))
				pipe.SRem(ctx, r.indexKey(), author)
			}
		}
		for author, as := range st.Authors {
			data, err := json.Marshal(as)
			if err != nil {
				return fmt.Errorf("failed to encode state of %s: %w", author, err)
			}
			pipe.Set(ctx, r.authorKey(author), data, 0)
			pipe.SAdd(ctx, r.indexKey(), author)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save monitor state: %w", err)
	}
	return nil
}

// Update watches the author key and retries the transaction when another
// writer changed it in between
func (r *RedisStore) Update(ctx context.Context, author string, fn UpdateFunc) error {
	if author == "" {
		return fmt.Errorf("author is required")
	}
	key := r.authorKey(author)

	txf := func(tx *redis.Tx) error {
		current, err := decodeAuthor(tx.Get(ctx, key))
		if err != nil {
			return fmt.Errorf("failed to read state of %s: %w", author, err)
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		next.Author = author

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode state of %s: %w", author, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, r.indexKey(), author)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		logrus.Debugf("Concurrent update of %s, retrying", author)
	}
	return fmt.Errorf("update of %s failed after %d conflicting attempts", author, maxTxRetries)
}

func decodeAuthor(cmd *redis.StringCmd) (*models.AuthorState, error) {
	data, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var as models.AuthorState
	if err := json.Unmarshal(data, &as); err != nil {
		return nil, err
	}
	if as.AlertedPosts == nil {
		as.AlertedPosts = make(map[string]bool)
	}
	return &as, nil
}
