package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emandor/sketchguess/internal/providers"
	"github.com/emandor/sketchguess/internal/telemetry"
)

func MustConnect(addr string, db int) *redis.Client {
	r := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := r.Ping(context.Background()).Err(); err != nil {
		panic(err)
	}
	return r
}

// GuessCache remembers successful guesses by image fingerprint. Cache errors
// are logged and treated as misses; they never fail a request.
type GuessCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewGuessCache(rdb *redis.Client, ttl time.Duration) *GuessCache {
	return &GuessCache{rdb: rdb, ttl: ttl}
}

func key(fingerprint string) string { return "guess:" + fingerprint }

func (c *GuessCache) Get(ctx context.Context, fingerprint string) (providers.Guess, bool) {
	raw, err := c.rdb.Get(ctx, key(fingerprint)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log := telemetry.L()
			log.Warn().Err(err).Msg("guess_cache_get_err")
		}
		return providers.Guess{}, false
	}
	var g providers.Guess
	if err := json.Unmarshal(raw, &g); err != nil || g.Guess == "" {
		return providers.Guess{}, false
	}
	return g, true
}

func (c *GuessCache) Set(ctx context.Context, fingerprint string, g providers.Guess) {
	if c.ttl <= 0 {
		return
	}
	b, err := json.Marshal(g)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key(fingerprint), b, c.ttl).Err(); err != nil {
		log := telemetry.L()
		log.Warn().Err(err).Msg("guess_cache_set_err")
	}
}
