package leases

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/go-redis/redis/v8"
)

const (
	// acquireScript sets the key when free and extends it when already ours.
	acquireScript = `
local cur = redis.call('GET', KEYS[1])
if cur == false then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
if cur == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0`

	releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0`
)

// redisClient is the part of *redis.Client used here.
type redisClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Get(ctx context.Context, key string) *redis.StringCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisRepository stores each lease as a key with a PX expiry.
type RedisRepository struct {
	client redisClient
	prefix string
	now    func() time.Time
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return newRedisRepository(client)
}

func newRedisRepository(client redisClient) *RedisRepository {
	return &RedisRepository{client: client, prefix: "gophzip:lease:", now: time.Now}
}

func (r *RedisRepository) key(archiveID string) string {
	return r.prefix + archiveID
}

func (r *RedisRepository) Acquire(ctx context.Context, archiveID, owner string, ttl time.Duration) (bool, error) {
	n, err := r.client.Eval(ctx, acquireScript, []string{r.key(archiveID)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, common.Transient("acquire lease", err)
	}
	return n == 1, nil
}

func (r *RedisRepository) Release(ctx context.Context, archiveID, owner string) error {
	err := r.client.Eval(ctx, releaseScript, []string{r.key(archiveID)}, owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return common.Transient("release lease", err)
	}
	return nil
}

func (r *RedisRepository) Get(ctx context.Context, archiveID string) (*models.Lease, error) {
	key := r.key(archiveID)

	owner, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, common.NewNotFoundError("lease", archiveID)
	}
	if err != nil {
		return nil, common.Transient("get lease", err)
	}

	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, common.Transient("get lease ttl", err)
	}
	if ttl <= 0 {
		return nil, common.NewNotFoundError("lease", archiveID)
	}
	return &models.Lease{ArchiveID: archiveID, Owner: owner, ExpiresAt: r.now().Add(ttl)}, nil
}
