// Package limits implements accept-path admission control: per-IP/global
// connection-rate limiting and resource-based (CPU/memory/goroutine) guards.
package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tenvisio/pulse/internal/monitoring"
)

// ConnectionRateLimiter gates new-connection attempts with a two-level token
// bucket: per source IP, and global across the whole server.
type ConnectionRateLimiter struct {
	ipLimiters map[string]*ipLimiterEntry
	ipMu       sync.RWMutex
	ipBurst    int
	ipRate     float64
	ipTTL      time.Duration

	globalLimiter *rate.Limiter
	globalBurst   int
	globalRate    float64

	logger zerolog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ConnectionRateLimiterConfig configures NewConnectionRateLimiter.
type ConnectionRateLimiterConfig struct {
	IPBurst int
	IPRate  float64
	IPTTL   time.Duration

	GlobalBurst int
	GlobalRate  float64

	Logger zerolog.Logger
}

// NewConnectionRateLimiter constructs a rate limiter with the given config,
// applying sane defaults for any zero-valued field, and starts its stale-IP
// cleanup goroutine.
func NewConnectionRateLimiter(cfg ConnectionRateLimiterConfig) *ConnectionRateLimiter {
	if cfg.IPBurst == 0 {
		cfg.IPBurst = 10
	}
	if cfg.IPRate == 0 {
		cfg.IPRate = 5
	}
	if cfg.IPTTL == 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 2000
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 1000
	}

	crl := &ConnectionRateLimiter{
		ipLimiters:    make(map[string]*ipLimiterEntry),
		ipBurst:       cfg.IPBurst,
		ipRate:        cfg.IPRate,
		ipTTL:         cfg.IPTTL,
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		globalBurst:   cfg.GlobalBurst,
		globalRate:    cfg.GlobalRate,
		logger:        cfg.Logger.With().Str("component", "connection_rate_limiter").Logger(),
		stopCleanup:   make(chan struct{}),
	}

	crl.cleanupTicker = time.NewTicker(time.Minute)
	go crl.cleanupLoop()

	crl.logger.Info().
		Int("ip_burst", cfg.IPBurst).
		Float64("ip_rate", cfg.IPRate).
		Dur("ip_ttl", cfg.IPTTL).
		Int("global_burst", cfg.GlobalBurst).
		Float64("global_rate", cfg.GlobalRate).
		Msg("connection rate limiter initialized")

	return crl
}

// Allow reports whether a connection attempt from ip should proceed. Checks
// the global bucket first (cheap, no map lookup) then the per-IP bucket.
func (crl *ConnectionRateLimiter) Allow(ip string) bool {
	if !crl.globalLimiter.Allow() {
		monitoring.IncrementConnectionsRejected("global_rate_limit")
		crl.logger.Debug().Str("ip", ip).Msg("connection rejected: global rate limit")
		return false
	}

	if !crl.ipLimiter(ip).Allow() {
		monitoring.IncrementConnectionsRejected("ip_rate_limit")
		crl.logger.Debug().Str("ip", ip).Msg("connection rejected: per-ip rate limit")
		return false
	}

	return true
}

func (crl *ConnectionRateLimiter) ipLimiter(ip string) *rate.Limiter {
	crl.ipMu.RLock()
	entry, ok := crl.ipLimiters[ip]
	crl.ipMu.RUnlock()
	if ok {
		crl.ipMu.Lock()
		entry.lastAccess = time.Now()
		crl.ipMu.Unlock()
		return entry.limiter
	}

	crl.ipMu.Lock()
	defer crl.ipMu.Unlock()

	if entry, ok = crl.ipLimiters[ip]; ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(crl.ipRate), crl.ipBurst)
	crl.ipLimiters[ip] = &ipLimiterEntry{limiter: limiter, lastAccess: time.Now()}
	return limiter
}

func (crl *ConnectionRateLimiter) cleanupLoop() {
	for {
		select {
		case <-crl.cleanupTicker.C:
			crl.cleanup()
		case <-crl.stopCleanup:
			crl.cleanupTicker.Stop()
			return
		}
	}
}

func (crl *ConnectionRateLimiter) cleanup() {
	crl.ipMu.Lock()
	defer crl.ipMu.Unlock()

	now := time.Now()
	for ip, entry := range crl.ipLimiters {
		if now.Sub(entry.lastAccess) > crl.ipTTL {
			delete(crl.ipLimiters, ip)
		}
	}
}

// Stop halts the cleanup goroutine. Call during shutdown.
func (crl *ConnectionRateLimiter) Stop() {
	close(crl.stopCleanup)
}

// TrackedIPs returns the number of IPs currently holding a limiter entry.
func (crl *ConnectionRateLimiter) TrackedIPs() int {
	crl.ipMu.RLock()
	defer crl.ipMu.RUnlock()
	return len(crl.ipLimiters)
}
