package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/models"
)

// RedisConfig holds connection parameters for the Redis store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore implements PositionStore and WatchlistStore on Redis.
//
// Each tracked position is a JSON document under <prefix>pos:<symbol>, indexed
// by the <prefix>tracked sorted set (scored by open time). History is the
// append-only list <prefix>history. Mutations use WATCH/MULTI, so a concurrent
// writer on the same key aborts the transaction and surfaces as a ConflictError.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies connectivity.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "signal:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) posKey(symbol string) string { return s.prefix + "pos:" + symbol }
func (s *RedisStore) trackedKey() string          { return s.prefix + "tracked" }
func (s *RedisStore) historyKey() string          { return s.prefix + "history" }
func (s *RedisStore) watchlistKey(name string) string {
	return s.prefix + "watchlist:" + name
}

// Create inserts a new Active position.
func (s *RedisStore) Create(ctx context.Context, p *models.Position) error {
	if err := checkCreate(p); err != nil {
		return err
	}
	key := s.posKey(p.Symbol)

	rec := *p
	rec.State = models.StateActive
	rec.Outcome = models.OutcomeUnset
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal position: %w", err)
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadPosition(ctx, tx, key)
		if err == nil {
			return trerrors.NewConflictError(p.Symbol, "untracked", string(cur.State))
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.trackedKey(), redis.Z{Score: float64(rec.OpenedAt.UnixNano()), Member: p.Symbol})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return trerrors.NewConflictError(p.Symbol, "untracked", "")
	}
	if err != nil {
		return fmt.Errorf("redis: create %s: %w", p.Symbol, err)
	}
	p.State = models.StateActive
	return nil
}

// Get returns the tracked position for symbol.
func (s *RedisStore) Get(ctx context.Context, symbol string) (*models.Position, error) {
	p, err := loadPosition(ctx, s.rdb, s.posKey(symbol))
	if errors.Is(err, redis.Nil) {
		return nil, trerrors.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", symbol, err)
	}
	return &p, nil
}

// Transition atomically moves symbol between states.
func (s *RedisStore) Transition(ctx context.Context, symbol string, from, to models.State, mutate Mutation) (*models.Position, error) {
	if err := checkTransition(symbol, from, to); err != nil {
		return nil, err
	}
	key := s.posKey(symbol)

	var next models.Position
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := loadPosition(ctx, tx, key)
		if errors.Is(err, redis.Nil) {
			return trerrors.NewConflictError(symbol, string(from), "")
		}
		if err != nil {
			return err
		}
		if cur.State != from {
			return trerrors.NewConflictError(symbol, string(from), string(cur.State))
		}

		next = applyMutation(cur, to, mutate)
		if to == models.StateClosed {
			if next.ID == "" {
				next.ID = uuid.NewString()
			}
			if next.ClosedAt.IsZero() {
				next.ClosedAt = time.Now()
			}
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal position: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if to == models.StateClosed {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, s.trackedKey(), symbol)
				pipe.RPush(ctx, s.historyKey(), data)
			} else {
				pipe.Set(ctx, key, data, 0)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, trerrors.NewConflictError(symbol, string(from), "modified concurrently")
	}
	if err != nil {
		if trerrors.IsConflict(err) {
			return nil, err
		}
		return nil, fmt.Errorf("redis: transition %s: %w", symbol, err)
	}
	return &next, nil
}

// List returns the positions in a partition.
func (s *RedisStore) List(ctx context.Context, state models.State) ([]models.Position, error) {
	if state == models.StateClosed {
		raw, err := s.rdb.LRange(ctx, s.historyKey(), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: list history: %w", err)
		}
		out := make([]models.Position, 0, len(raw))
		for _, r := range raw {
			var p models.Position
			if err := json.Unmarshal([]byte(r), &p); err != nil {
				return nil, fmt.Errorf("redis: decode history: %w", err)
			}
			out = append(out, p)
		}
		return out, nil
	}

	symbols, err := s.rdb.ZRange(ctx, s.trackedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list tracked: %w", err)
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = s.posKey(sym)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load tracked: %w", err)
	}

	var out []models.Position
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p models.Position
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			return nil, fmt.Errorf("redis: decode position: %w", err)
		}
		if p.State == state {
			out = append(out, p)
		}
	}
	return out, nil
}

// Remove drops a tracked position.
func (s *RedisStore) Remove(ctx context.Context, symbol string) error {
	pipe := s.rdb.TxPipeline()
	del := pipe.Del(ctx, s.posKey(symbol))
	pipe.ZRem(ctx, s.trackedKey(), symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: remove %s: %w", symbol, err)
	}
	if del.Val() == 0 {
		return trerrors.ErrPositionNotFound
	}
	return nil
}

// AddToWatchlist adds a symbol to a watchlist, keeping insertion order.
func (s *RedisStore) AddToWatchlist(ctx context.Context, symbol, listName string) error {
	err := s.rdb.ZAddNX(ctx, s.watchlistKey(listName), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: symbol,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: add to watchlist: %w", err)
	}
	return nil
}

// RemoveFromWatchlist removes a symbol from a watchlist.
func (s *RedisStore) RemoveFromWatchlist(ctx context.Context, symbol, listName string) error {
	if err := s.rdb.ZRem(ctx, s.watchlistKey(listName), symbol).Err(); err != nil {
		return fmt.Errorf("redis: remove from watchlist: %w", err)
	}
	return nil
}

// GetWatchlist returns a watchlist in insertion order.
func (s *RedisStore) GetWatchlist(ctx context.Context, listName string) ([]string, error) {
	symbols, err := s.rdb.ZRange(ctx, s.watchlistKey(listName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get watchlist: %w", err)
	}
	return symbols, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func loadPosition(ctx context.Context, c redis.Cmdable, key string) (models.Position, error) {
	var p models.Position
	raw, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode position: %w", err)
	}
	return p, nil
}

var (
	_ PositionStore  = (*RedisStore)(nil)
	_ WatchlistStore = (*RedisStore)(nil)
)

// Ping verifies the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
