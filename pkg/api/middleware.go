package api

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/time/rate"

	"chatrixx/pkg/faults"
	"chatrixx/pkg/logger"
	"chatrixx/pkg/utils"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxEmail
)

// UserID returns the authenticated user id from the request context.
func UserID(r *http.Request) string {
	v, _ := r.Context().Value(ctxUserID).(string)
	return v
}

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// authMiddleware validates the bearer token and stores the subject in the
// request context.
func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		if raw == "" {
			// WebSocket clients cannot set headers from the browser.
			raw = "Bearer " + r.URL.Query().Get("token")
		}
		if !strings.HasPrefix(raw, "Bearer ") || len(raw) <= len("Bearer ") {
			utils.JSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tok := strings.TrimPrefix(raw, "Bearer ")

		var c claims
		parsed, err := jwt.ParseWithClaims(tok, &c, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, faults.New(faults.Forbidden, "unexpected signing method %v", t.Header["alg"])
			}
			return a.jwtSecret, nil
		})
		if err != nil || !parsed.Valid || c.Subject == "" {
			logger.Debug("auth_rejected", "error", err)
			utils.JSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, c.Subject)
		ctx = context.WithValue(ctx, ctxEmail, c.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.rps
	if rps <= 0 {
		rps = 20
	}
	burst := p.burst
	if burst <= 0 {
		burst = 40
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// rateLimitMiddleware throttles per authenticated user.
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := UserID(r)
		if key == "" {
			key = r.RemoteAddr
		}
		if !a.limiter.Allow(key) {
			utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeFault maps a fault kind onto an HTTP status and writes the JSON
// error body.
func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch faults.KindOf(err) {
	case faults.NotFound:
		status = http.StatusNotFound
	case faults.Forbidden:
		status = http.StatusForbidden
	case faults.Conflict:
		status = http.StatusConflict
	case faults.InvalidArgument:
		status = http.StatusBadRequest
	case faults.InvalidState:
		status = http.StatusUnprocessableEntity
	case faults.DecryptionFailed:
		status = http.StatusInternalServerError
	}
	utils.JSONError(w, status, faults.Message(err))
}
