package handler

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/metrics"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	requestIDKey
	routeKey
)

const authCookie = "auth_token"

type Middleware struct {
	owners    ports.OwnerService
	jwtSecret []byte
	logger    *zap.Logger
}

func NewMiddleware(owners ports.OwnerService, jwtSecret string, logger *zap.Logger) *Middleware {
	return &Middleware{owners: owners, jwtSecret: []byte(jwtSecret), logger: logger}
}

// IdentityFrom returns the caller attached by Identify. Requests that never
// passed through it are anonymous.
func IdentityFrom(ctx context.Context) domain.Identity {
	if id, ok := ctx.Value(identityKey).(domain.Identity); ok {
		return id
	}
	return domain.Anonymous{}
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Identify attaches the caller's identity. No token means anonymous; a header
// token that fails verification is rejected. A stale auth cookie is cleared
// and the request continues anonymously.
func (m *Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		anonymous := func() {
			ctx := context.WithValue(r.Context(), identityKey, domain.Identity(domain.Anonymous{}))
			next.ServeHTTP(w, r.WithContext(ctx))
		}

		tokenString, fromCookie := bearerToken(r)
		if tokenString == "" {
			anonymous()
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return m.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			if fromCookie {
				m.logger.Debug("dropping invalid auth cookie", zap.Error(err))
				clearAuthCookie(w)
				anonymous()
				return
			}
			writeError(w, m.logger, domain.Unauthorized("Invalid credentials"))
			return
		}

		id, err := m.owners.Lookup(r.Context(), claims.Subject)
		if err != nil {
			writeError(w, m.logger, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads "Authorization: Token <jwt>" or "Bearer <jwt>", falling
// back to the auth cookie.
func bearerToken(r *http.Request) (token string, fromCookie bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && (strings.EqualFold(scheme, "Token") || strings.EqualFold(scheme, "Bearer")) {
			return strings.TrimSpace(token), false
		}
	}
	if cookie, err := r.Cookie(authCookie); err == nil {
		return cookie.Value, true
	}
	return "", false
}

func clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// RequestID tags each request with an id, reusing an incoming X-Request-ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// route is filled in by recordRoute once the mux has matched a pattern.
type route struct{ pattern string }

// recordRoute must wrap the mux directly: the mux sets Pattern on the request
// it receives, and outer middleware only sees copies of it.
func recordRoute(mux http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		if rt, ok := r.Context().Value(routeKey).(*route); ok {
			rt.pattern = r.Pattern
		}
	})
}

// Observe logs every request and records its Prometheus metrics, labelled by
// the matched route pattern rather than the raw path.
func Observe(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rt := &route{pattern: "unmatched"}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			r = r.WithContext(context.WithValue(r.Context(), routeKey, rt))
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			routeLabel := rt.pattern
			if routeLabel == "" {
				routeLabel = "unmatched"
			}
			metrics.HTTPRequests.WithLabelValues(r.Method, routeLabel, strconv.Itoa(rec.status)).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, routeLabel).Observe(elapsed.Seconds())

			level := zapcore.InfoLevel
			switch {
			case rec.status >= 500:
				level = zapcore.ErrorLevel
			case rec.status >= 400:
				level = zapcore.WarnLevel
			}
			logger.Log(level, "request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("latency", elapsed),
				zap.String("ip", clientIP(r)),
				zap.String("request_id", RequestIDFrom(r.Context())),
			)
		})
	}
}

// Recover turns a panic into a 500 so one bad request cannot take the server down.
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic serving request",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", RequestIDFrom(r.Context())),
					)
					writeError(w, logger, domain.Internal("internal error", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
