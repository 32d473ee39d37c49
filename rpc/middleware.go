package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// authenticator validates HMAC-signed bearer tokens on mutating routes. A nil
// secret disables auth entirely, for local development.
type authenticator struct {
	secret []byte
}

func newAuthenticator(secret string) *authenticator {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return &authenticator{}
	}
	return &authenticator{secret: []byte(trimmed)}
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		_, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(2*time.Minute))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter enforces a per-client token bucket keyed by remote IP.
type rateLimiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newRateLimiter(rps int) *rateLimiter {
	if rps <= 0 {
		return nil
	}
	return &rateLimiter{
		perSec:   rate.Limit(rps),
		burst:    rps * 2,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *rateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.perSec, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiterFor(clientKey(r)).Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observe records latency and status metrics and logs failures.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		elapsed := time.Since(started)
		s.metrics.Observe(r.URL.Path, recorder.status, elapsed)
		if recorder.status >= http.StatusInternalServerError {
			s.logger.Error("request failed", "route", r.URL.Path, "status", recorder.status, "elapsed", elapsed)
		}
	})
}
