package chi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/rfpdesk/docvault/internal/logger"
)

// PrincipalHeader carries the caller identity when token auth is disabled.
const PrincipalHeader = "X-Principal"

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

type principalKey struct{}

// WithPrincipal stores the authenticated principal in the context.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext returns the authenticated principal, or "".
func PrincipalFromContext(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

// PrincipalMiddleware resolves the calling principal. With a secret the
// principal is the "sub" claim of an HS256 bearer token; without one the
// X-Principal header is trusted, which is meant for local runs only.
func PrincipalMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			var (
				principal string
				err       error
			)
			if len(key) == 0 {
				principal = strings.TrimSpace(r.Header.Get(PrincipalHeader))
				if principal == "" {
					err = errors.New("missing " + PrincipalHeader + " header")
				}
			} else {
				principal, err = subject(parser, key, r.Header.Get("Authorization"))
			}
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
				return
			}

			setRequestPrincipal(r.Context(), principal)
			ctx := WithPrincipal(r.Context(), principal)
			ctx = logger.With(ctx, zap.String("principal", principal))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func subject(parser *jwt.Parser, key []byte, header string) (string, error) {
	const bearerPrefix = "Bearer "
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", errors.New("authorization header must use Bearer scheme")
	}

	var claims jwt.RegisteredClaims
	_, err := parser.ParseWithClaims(header[len(bearerPrefix):], &claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}
