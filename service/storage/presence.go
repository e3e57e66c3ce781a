package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: crm:presence:<user>，TTL 控制在线有效期
// last seen key: crm:lastseen:<user>，长期保留（联系人列表用）
func presenceKey(user string) string { return "crm:presence:" + user }
func lastSeenKey(user string) string { return "crm:lastseen:" + user }

// Presence redis 在线登记：网关连接续期TTL，断开删除；
// 丢了显式下线靠TTL过期兜底。存的是尽力而为的旁路视图，
// 权威在线集在传输层的 sync 快照。
type Presence struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPresence(rdb *redis.Client, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Presence{rdb: rdb, ttl: ttl}
}

// Online sets the user as online and renews the TTL.
func (p *Presence) Online(ctx context.Context, user, gatewayID string) error {
	if err := p.rdb.Set(ctx, presenceKey(user), gatewayID, p.ttl).Err(); err != nil {
		return err
	}
	return p.rdb.Set(ctx, lastSeenKey(user), strconv.FormatInt(time.Now().UnixMilli(), 10), 0).Err()
}

// Offline actively sets the user offline (deletes the key).
func (p *Presence) Offline(ctx context.Context, user string) error {
	if err := p.rdb.Set(ctx, lastSeenKey(user), strconv.FormatInt(time.Now().UnixMilli(), 10), 0).Err(); err != nil {
		return err
	}
	return p.rdb.Del(ctx, presenceKey(user)).Err()
}

// LastSeen returns the last recorded activity time, nil when never seen.
func (p *Presence) LastSeen(ctx context.Context, user string) (*time.Time, error) {
	val, err := p.rdb.Get(ctx, lastSeenKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(ms)
	return &t, nil
}
