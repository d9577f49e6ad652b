package middlewares

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/restaurant-floor/utils"
	"golang.org/x/time/rate"
)

var errTooManyScans = errors.New("too many scans, please wait a moment")

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ScanLimiter throttles QR scans per client IP. Idle entries are dropped by
// a background cleanup loop started with Start.
type ScanLimiter struct {
	rate     rate.Limit
	burst    int
	idle     time.Duration
	ips      map[string]*visitor
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewScanLimiter allows perSecond scans with the given burst per IP.
func NewScanLimiter(perSecond float64, burst int) *ScanLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &ScanLimiter{
		rate:  rate.Limit(perSecond),
		burst: burst,
		idle:  3 * time.Minute,
		ips:   make(map[string]*visitor),
		stop:  make(chan struct{}),
		now:   time.Now,
	}
}

// Allow consumes one token for ip.
func (rl *ScanLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.ips[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.ips[ip] = v
	}
	v.lastSeen = rl.now()
	return v.limiter.Allow()
}

// Cleanup forgets visitors idle for longer than the idle window.
func (rl *ScanLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	removed := 0
	for ip, v := range rl.ips {
		if v.lastSeen.Before(cutoff) {
			delete(rl.ips, ip)
			removed++
		}
	}
	return removed
}

func (rl *ScanLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.ips)
}

func (rl *ScanLimiter) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-rl.stop:
				return
			}
		}
	}()
}

func (rl *ScanLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *ScanLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			utils.RespondErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", errTooManyScans)
			c.Abort()
			return
		}
		c.Next()
	}
}
