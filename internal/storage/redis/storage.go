package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface.
// Accounts are JSON documents; balances are mirrored into a sorted set for
// the leaderboard.
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

func (s *Storage) GetAccount(ctx context.Context, id model.UserID) (*model.UserAccount, error) {
	data, err := s.client.Get(ctx, accountKey(s.cfg.KeyPrefix, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrAccountNotFound
		}
		return nil, err
	}

	var acct model.UserAccount
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *Storage) CreateAccount(ctx context.Context, id model.UserID, displayName string, now time.Time) (*model.UserAccount, error) {
	acct := model.NewUserAccount(id, displayName, model.Timestamp(now))
	data, err := json.Marshal(acct)
	if err != nil {
		return nil, err
	}

	created, err := s.client.SetNX(ctx, accountKey(s.cfg.KeyPrefix, id), data, 0).Result()
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, model.ErrAccountExists
	}

	if err := s.client.ZAdd(ctx, leaderboardKey(s.cfg.KeyPrefix), redis.Z{Score: 0, Member: member(id)}).Err(); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Storage) UpdateBalanceAndTimestamp(ctx context.Context, id model.UserID, balance int64, playedAt time.Time, expectedLastPlayedAt *time.Time) error {
	key := accountKey(s.cfg.KeyPrefix, id)

	// Optimistic transaction: the SET only commits if nobody touched the key
	// between our read and EXEC
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return model.ErrAccountNotFound
			}
			return err
		}

		var acct model.UserAccount
		if err := json.Unmarshal(data, &acct); err != nil {
			return err
		}
		if !model.SameTimestamp(acct.LastPlayedAt, expectedLastPlayedAt) {
			return model.ErrAccountConflict
		}

		ts := model.Timestamp(playedAt)
		acct.Balance = balance
		acct.LastPlayedAt = &ts
		acct.UpdatedAt = ts

		updated, err := json.Marshal(&acct)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.ZAdd(ctx, leaderboardKey(s.cfg.KeyPrefix), redis.Z{Score: float64(balance), Member: member(id)})
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return model.ErrAccountConflict
	}
	return err
}

// TopAccounts ranks by balance, breaking ties by ascending user id. The
// sorted set orders equal scores by member string, so every member tied with
// the cutoff entry is read and the order is settled here.
func (s *Storage) TopAccounts(ctx context.Context, limit int) ([]*model.UserAccount, error) {
	if limit <= 0 {
		return []*model.UserAccount{}, nil
	}
	key := leaderboardKey(s.cfg.KeyPrefix)

	cutoff, err := s.client.ZRangeArgsWithScores(ctx, redis.ZRangeArgs{
		Key:   key,
		Start: limit - 1,
		Stop:  limit - 1,
		Rev:   true,
	}).Result()
	if err != nil {
		return nil, err
	}
	minScore := "-inf"
	if len(cutoff) > 0 {
		minScore = strconv.FormatFloat(cutoff[0].Score, 'f', -1, 64)
	}

	entries, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: minScore, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}

	type ranked struct {
		id    model.UserID
		score float64
	}
	ranking := make([]ranked, 0, len(entries))
	for _, z := range entries {
		m, ok := z.Member.(string)
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue // Skip foreign members
		}
		ranking = append(ranking, ranked{id: model.UserID(id), score: z.Score})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].score != ranking[j].score {
			return ranking[i].score > ranking[j].score
		}
		return ranking[i].id < ranking[j].id
	})
	if len(ranking) > limit {
		ranking = ranking[:limit]
	}
	if len(ranking) == 0 {
		return []*model.UserAccount{}, nil
	}

	keys := make([]string, len(ranking))
	for i, r := range ranking {
		keys[i] = accountKey(s.cfg.KeyPrefix, r.id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	accounts := make([]*model.UserAccount, 0, len(values))
	for _, val := range values {
		str, ok := val.(string)
		if !ok {
			continue // Index entry without a document
		}
		var acct model.UserAccount
		if err := json.Unmarshal([]byte(str), &acct); err != nil {
			continue
		}
		accounts = append(accounts, &acct)
	}
	return accounts, nil
}
