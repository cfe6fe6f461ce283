package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2beens/pressauth/internal/telemetry/metrics"
	"github.com/2beens/pressauth/pkg"

	"github.com/go-redis/redis_rate/v9"
	log "github.com/sirupsen/logrus"
)

type RequestRateLimiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

// RateLimit limits requests per client IP, within the given router name.
// If the limiter backend fails, the request is let through.
func RateLimit(
	rateLimiter RequestRateLimiter,
	routerName string,
	allowedPerMin int,
	trustProxyHeaders bool,
	metricsManager *metrics.Manager,
) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP, err := pkg.ReadUserIP(r, trustProxyHeaders)
			if err != nil {
				clientIP = "unknown"
			}

			res, err := rateLimiter.Allow(
				r.Context(),
				fmt.Sprintf("%s::%s", routerName, clientIP),
				redis_rate.PerMinute(allowedPerMin),
			)
			if err != nil {
				log.Errorf("rate limiter [%s]: %s", routerName, err)
				next.ServeHTTP(w, r)
				return
			}

			if res.Allowed > 0 {
				next.ServeHTTP(w, r)
				return
			}

			if metricsManager != nil {
				metricsManager.CounterRateLimitedRequests.Inc()
			}

			retryAfter := int(res.RetryAfter.Round(time.Second) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			http.Error(
				w,
				fmt.Sprintf("retry after %d seconds", retryAfter),
				http.StatusTooManyRequests,
			)
		})
	}
}
