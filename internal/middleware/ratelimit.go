package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
)

// IdentityResolver maps a token id to the login bound to it.
type IdentityResolver interface {
	ResolveIdentity(tokenID string) (model.Identity, error)
}

// RateLimiterConfig configures RateLimiter. Identities may be nil, in which
// case every client is keyed by address. X-Forwarded-For is read only when
// the peer falls inside TrustedProxies.
type RateLimiterConfig struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
	Identities      IdentityResolver
	TrustedProxies  []netip.Prefix
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies a token bucket per client. A client is the login bound
// to an authenticated token in the request path, otherwise its address.
type RateLimiter struct {
	config RateLimiterConfig
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter starts a RateLimiter with its cleanup loop. Call Stop to
// end the loop.
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		config:   config,
		logger:   logger,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware rejects requests beyond the client's budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.ClientKey(r)
		if !rl.limiter(key).Allow() {
			rl.logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("client", RedactPath(key)),
				slog.String("request_id", RequestIDFromContext(r.Context())),
			)
			retryAfter := int(math.Ceil(1.0 / float64(rl.config.Rate)))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Count returns the number of tracked clients.
func (rl *RateLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.config.Rate, rl.config.Burst)}
		rl.limiters[key] = cl
	}
	cl.lastAccess = time.Now()
	return cl.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup forgets clients idle for two cleanup intervals.
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2

	rl.mu.Lock()
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.limiters, key)
		}
	}
	rl.mu.Unlock()
}

// ClientKey identifies the client a request is charged to. Tokens that do
// not resolve to a login are charged to the caller's address.
func (rl *RateLimiter) ClientKey(r *http.Request) string {
	if rl.config.Identities != nil {
		if tok, ok := TokenFromPath(r.URL.Path); ok {
			if id, err := rl.config.Identities.ResolveIdentity(tok); err == nil && id.Login != "" {
				return "login:" + id.Login
			}
		}
	}
	return "ip:" + rl.clientAddr(r)
}

// clientAddr returns the peer address, or the nearest untrusted hop of
// X-Forwarded-For when the peer is a trusted proxy.
func (rl *RateLimiter) clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !rl.trusted(peer) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		if !rl.trusted(hop) {
			return hop.String()
		}
	}
	return host
}

func (rl *RateLimiter) trusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range rl.config.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
