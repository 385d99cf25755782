package handle

import (
	"context"
	"errors"
	"net"
	"net/http"

	"kitchen-ledger/internal/order/app/core"
)

type Allower interface {
	Allow(ctx context.Context, key string) bool
}

var errRateLimited = &core.Error{Kind: core.ErrMaxConcurentExceeded, Reason: "rate_limited", Message: "rate limit exceeded, try again later"}

// RateLimit rejects requests once the client address exceeds its window.
func RateLimit(l Allower, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(r.Context(), clientKey(r)) {
			jsonError(w, http.StatusTooManyRequests, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MaxConcurrent lets at most n requests run next at once; the rest are
// rejected right away.
func MaxConcurrent(n int, next http.Handler) http.Handler {
	sem := make(chan struct{}, n)
	busy := &core.Error{Kind: core.ErrMaxConcurentExceeded, Reason: "too_many_requests", Message: core.ErrMaxConcurentExceeded.Error()}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		default:
			jsonError(w, http.StatusServiceUnavailable, busy)
		}
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type pinger interface {
	IsAlive(ctx context.Context) error
}

// Health reports 200 when the store answers.
func Health(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.IsAlive(r.Context()); err != nil {
			jsonError(w, http.StatusServiceUnavailable, errors.New("store unavailable"))
			return
		}
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
