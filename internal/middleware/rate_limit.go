package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/SettleWire/payment-webhook-service/internal/client"
	"github.com/SettleWire/payment-webhook-service/internal/config"
	"github.com/SettleWire/payment-webhook-service/internal/util/logger"
)

// RateLimiter bounds inbound request volume per source IP with a token
// bucket. With Redis configured the buckets live in a shared store so the
// limit holds across instances; without it an in-memory map serves a
// single-instance deployment. Known gateway egress ranges bypass the limiter.
type RateLimiter struct {
	mu      sync.RWMutex
	cfg     config.RateLimitConfig
	redis   *client.RedisClient
	buckets map[string]*tokenBucket

	proxyHeaders []string
	trustedProxy []*net.IPNet
	gatewayNets  []*net.IPNet
}

func NewRateLimiter(cfg config.RateLimitConfig, srv config.ServerConfig, rdb *client.RedisClient) *RateLimiter {
	return &RateLimiter{
		cfg:          cfg,
		redis:        rdb,
		buckets:      make(map[string]*tokenBucket),
		proxyHeaders: srv.TrustedProxyIPHeaders,
		trustedProxy: mustParseCIDRs(srv.TrustedProxyCIDRs),
		gatewayNets:  mustParseCIDRs(cfg.GatewayCIDRs),
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, rl.proxyHeaders, rl.trustedProxy)
		if ipInCIDRs(ip, rl.gatewayNets) {
			next.ServeHTTP(w, r)
			return
		}

		key := ip.String()

		if rl.redis != nil {
			ok, err := rl.redisAllow(r.Context(), rl.cfg.KeyPrefix+key)
			if err != nil {
				// A broken limiter store must not take down ingestion; the
				// gateway's retry policy depends on our availability.
				logger.Warnf("rate limiter degraded (redis): %v", err)
				w.Header().Set("X-RateLimit-Degraded", "true")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				rl.deny(w)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		b := rl.getOrCreateBucket(key)
		if !b.allow(1) {
			rl.deny(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// deny returns 429 so the gateway's own retry policy governs redelivery.
func (rl *RateLimiter) deny(w http.ResponseWriter) {
	retryAfter := int(math.Ceil(rl.cfg.Interval.Seconds() / float64(rl.cfg.RatePerInterval)))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
}

type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(rate int, interval time.Duration, burst int) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(burst),
		tokens:     float64(burst),
		refillRate: float64(rate) / interval.Seconds(),
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow(cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		return true
	}
	return false
}

func (rl *RateLimiter) getOrCreateBucket(key string) *tokenBucket {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return b
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, exists := rl.buckets[key]; exists {
		return b
	}
	b = newBucket(rl.cfg.RatePerInterval, rl.cfg.Interval, rl.cfg.Burst)
	rl.buckets[key] = b
	return b
}

var luaScript = client.NewScript(`
-- KEYS = bucket key
-- ARGV = now_ms, rate_per_sec, capacity, cost, ttl_sec
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if not tokens or not ts then
  tokens = cap
  ts = now
else
  local elapsed = (now - ts) / 1000
  tokens = math.min(cap, tokens + (elapsed * rate))
  ts = now
end

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", ts)
redis.call("EXPIRE", key, ttl)

return allowed
`)

func (rl *RateLimiter) redisAllow(ctx context.Context, key string) (bool, error) {
	ratePerSec := float64(rl.cfg.RatePerInterval) / rl.cfg.Interval.Seconds()
	res, err := luaScript.Run(ctx, rl.redis, []string{key},
		time.Now().UnixMilli(),
		ratePerSec,
		rl.cfg.Burst,
		1,
		int(rl.cfg.BucketTTL.Seconds()),
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
