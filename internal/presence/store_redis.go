package presence

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/uppjke/izuchator-sub000/internal/core"
	"github.com/uppjke/izuchator-sub000/internal/domain"
)

const userKeyPrefix = "presence:user:"

// RedisStore keeps one TTL'd key per online user so sibling processes share
// the same liveness picture. No transactions: presence tolerates staleness.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) core.PresenceStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Touch(ctx context.Context, rec domain.PresenceRecord, ttl time.Duration) error {
	return s.rdb.Set(ctx, userKeyPrefix+string(rec.UserID), rec.ServerID, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, userID domain.UserID) error {
	return s.rdb.Del(ctx, userKeyPrefix+string(userID)).Err()
}

func (s *RedisStore) Online(ctx context.Context) ([]domain.UserID, error) {
	var out []domain.UserID
	iter := s.rdb.Scan(ctx, 0, userKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, domain.UserID(strings.TrimPrefix(iter.Val(), userKeyPrefix)))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
