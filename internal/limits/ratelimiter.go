// Package limits provides connection-admission rate limiting for the
// reactor's accept path.
package limits

import (
	"time"

	"golang.org/x/time/rate"
)

// ConnectionAdmitter rate limits TCP accepts, both per source IP and
// globally. It is driven exclusively from the reactor goroutine, so it
// carries no internal locking: the reactor is the only caller.
type ConnectionAdmitter struct {
	global *rate.Limiter

	ipRate  rate.Limit
	ipBurst int
	ipTTL   time.Duration
	ip      map[string]*ipEntry
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Config configures a ConnectionAdmitter.
type Config struct {
	GlobalPerSec float64
	GlobalBurst  int
	IPPerSec     float64
	IPBurst      int
	IPTTL        time.Duration
}

// New builds a ConnectionAdmitter. A zero IPTTL defaults to five minutes.
func New(cfg Config) *ConnectionAdmitter {
	if cfg.IPTTL <= 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	return &ConnectionAdmitter{
		global:  rate.NewLimiter(rate.Limit(cfg.GlobalPerSec), cfg.GlobalBurst),
		ipRate:  rate.Limit(cfg.IPPerSec),
		ipBurst: cfg.IPBurst,
		ipTTL:   cfg.IPTTL,
		ip:      make(map[string]*ipEntry),
	}
}

// Allow reports whether a new connection from ip should be admitted. It
// evaluates the global bucket first, then the per-IP bucket, and
// opportunistically evicts IP entries idle longer than the configured TTL.
func (a *ConnectionAdmitter) Allow(ip string, now time.Time) bool {
	if !a.global.AllowN(now, 1) {
		return false
	}

	entry, ok := a.ip[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(a.ipRate, a.ipBurst)}
		a.ip[ip] = entry
	}
	entry.lastAccess = now

	if len(a.ip) > 4096 {
		a.evictStale(now)
	}

	return entry.limiter.AllowN(now, 1)
}

func (a *ConnectionAdmitter) evictStale(now time.Time) {
	for ip, entry := range a.ip {
		if now.Sub(entry.lastAccess) > a.ipTTL {
			delete(a.ip, ip)
		}
	}
}
