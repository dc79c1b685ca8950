package auth

import (
	"context"
	"net/http"
	"strings"

	domainauth "github.com/NordCoder/Leadbook/internal/domain/auth"
	"github.com/NordCoder/Leadbook/internal/obs"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type ctxKey int

const claimsKey ctxKey = 1

func ClaimsFromCtx(ctx context.Context) (*domainauth.AccessClaims, bool) {
	cl, ok := ctx.Value(claimsKey).(*domainauth.AccessClaims)
	return cl, ok && cl != nil
}

func ContextWithClaims(ctx context.Context, cl *domainauth.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, cl)
}

type ParseFunc func(token string) (*domainauth.AccessClaims, error)

type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// RequireBearer rejects requests without a valid access token and stores
// the verified claims in the request context.
func RequireBearer(parse ParseFunc, onErr ErrorWriter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r)
			if token == "" {
				onErr(w, r, ErrMalformed)
				return
			}
			cl, err := parse(token)
			if err != nil {
				onErr(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), cl)))
		})
	}
}

func bearer(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// CORS allows credentialed requests from the listed origins only. The
// refresh cookie is useless to the browser without Allow-Credentials.
func CORS(origins []string) mux.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if _, ok := allowed[origin]; ok && origin != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+refreshHeader)
					h.Set("Access-Control-Max-Age", "600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger attaches a per-request logger carrying a request id.
func RequestLogger(base *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", id)
			l := base.With(zap.String("request_id", id), zap.String("method", r.Method), zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r.WithContext(obs.ContextWithLogger(r.Context(), l)))
		})
	}
}
