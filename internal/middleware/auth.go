package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/2beens/pressauth/internal/telemetry/metrics"
	"github.com/2beens/pressauth/internal/telemetry/tracing"
	"github.com/2beens/pressauth/internal/token"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type claimsCtxKey struct{}

//go:generate mockgen -source=auth.go -destination=auth_mock_test.go -package=middleware

type tokenVerifier interface {
	Verify(encoded string) (*token.Claims, error)
}

// AuthGuard rejects requests that do not carry a valid bearer token.
type AuthGuard struct {
	verifier       tokenVerifier
	metricsManager *metrics.Manager
}

func NewAuthGuard(verifier tokenVerifier, metricsManager *metrics.Manager) *AuthGuard {
	return &AuthGuard{
		verifier:       verifier,
		metricsManager: metricsManager,
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader == "" {
		return "", false
	}

	scheme, encoded, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return "", false
	}

	return encoded, true
}

// ClaimsFromContext returns the claims the guard attached to an authenticated request.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsCtxKey{}).(*token.Claims)
	return claims, ok && claims != nil
}

func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, claims)
}

func (g *AuthGuard) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.authGuard")
		defer span.End()

		encoded, ok := BearerToken(r)
		if !ok {
			log.Tracef("[missing token] [auth guard] unauthorized => %s", r.URL.Path)
			g.reject(w)
			span.SetStatus(codes.Error, "missing-auth-token")
			return
		}

		claims, err := g.verifier.Verify(encoded)
		if err != nil {
			log.Debugf("[invalid token] [auth guard] unauthorized => %s: %s", r.URL.Path, err)
			g.reject(w)
			span.SetStatus(codes.Error, "invalid-auth-token")
			span.RecordError(err)
			return
		}

		span.SetAttributes(attribute.String("auth.subject", claims.Subject))
		span.SetStatus(codes.Ok, "ok")
		next.ServeHTTP(w, r.WithContext(ContextWithClaims(ctx, claims)))
	})
}

func (g *AuthGuard) reject(w http.ResponseWriter) {
	if g.metricsManager != nil {
		g.metricsManager.CounterUnauthorized.Inc()
	}
	http.Error(w, "no can do", http.StatusUnauthorized)
}
