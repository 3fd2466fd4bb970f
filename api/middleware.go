package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe records per-route request metrics and an access log line. The
// metric label is the route template, not the raw path, keeping cardinality
// bounded.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(begin)
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		s.logger.Debug("request served",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "elapsed", elapsed.String())
	})
}

// throttle enforces the per-client rate limit on /api routes.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiters.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// limiterIdleTimeout is how long a client's bucket survives without traffic.
const limiterIdleTimeout = 10 * time.Minute

// clientLimiters hands out one token bucket per client address. Idle
// entries are pruned whenever a new client appears.
type clientLimiters struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	limit   rate.Limit
	burst   int
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(limit rate.Limit, burst int) *clientLimiters {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &clientLimiters{
		clients: make(map[string]*clientEntry),
		limit:   limit,
		burst:   burst,
	}
}

func (c *clientLimiters) allow(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.clients[ip]
	if !ok {
		c.prune()
		e = &clientEntry{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// prune drops idle clients. Callers hold the lock.
func (c *clientLimiters) prune() {
	cutoff := time.Now().Add(-limiterIdleTimeout)
	for ip, e := range c.clients {
		if e.lastSeen.Before(cutoff) {
			delete(c.clients, ip)
		}
	}
}
