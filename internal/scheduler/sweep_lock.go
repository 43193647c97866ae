package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultSweepLockKey = "estate:sla:sweep:lock"
	defaultSweepLockTTL = 10 * time.Minute
)

var errLockClientMissing = errors.New("sweep lock redis client not configured")

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisSweepLock keeps SLA sweeps single-flight across processes. The holder
// renews the TTL every third of it until unlock; the TTL frees the key if
// the holder dies mid-sweep.
type RedisSweepLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisSweepLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisSweepLock {
	if key == "" {
		key = DefaultSweepLockKey
	}
	if ttl <= 0 {
		ttl = defaultSweepLockTTL
	}
	return &RedisSweepLock{client: client, key: key, ttl: ttl}
}

func (l *RedisSweepLock) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	if l == nil || l.client == nil {
		return nil, false, errLockClientMissing
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	renewCtx, stopRenew := context.WithCancel(context.WithoutCancel(ctx))
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		l.renew(renewCtx, token)
	}()

	var once sync.Once
	unlock := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			stopRenew()
			<-renewed
			err = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
		})
		return err
	}
	return unlock, true, nil
}

// renew extends the key until ctx ends or the key no longer holds token.
func (l *RedisSweepLock) renew(ctx context.Context, token string) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := extendScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if extended == 0 {
				return
			}
		}
	}
}
