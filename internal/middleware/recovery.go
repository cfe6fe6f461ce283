package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/2beens/pressauth/internal/telemetry/metrics"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
)

func PanicRecovery(metricsManager *metrics.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(respWriter http.ResponseWriter, req *http.Request) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("http: panic serving %s: %v\n%s", req.URL.Path, r, debug.Stack())
					sentry.CurrentHub().Recover(r)
					if metricsManager != nil {
						metricsManager.CounterHandleRequestPanic.Inc()
					}
					http.Error(respWriter, "internal error", http.StatusInternalServerError)
				}
			}()

			// handler call
			next.ServeHTTP(respWriter, req)
		})
	}
}
