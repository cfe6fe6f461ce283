package tracing

import (
	"os"

	"github.com/honeycombio/honeycomb-opentelemetry-go"
	"github.com/honeycombio/otel-config-go/otelconfig"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var GlobalTracer = otel.Tracer("pressauth")

// HoneycombSetup configures the global otel provider to export to honeycomb.
// Returns a shutdown func that is always safe to call.
func HoneycombSetup(enabled bool, serviceName string) (func(), error) {
	if !enabled {
		log.Debugln("honeycomb tracing disabled, using noop tracer provider")
		return func() {}, nil
	}

	if os.Getenv("OTEL_SERVICE_NAME") == "" {
		if err := os.Setenv("OTEL_SERVICE_NAME", serviceName); err != nil {
			log.Warnf("set OTEL_SERVICE_NAME: %s", err)
		}
	}

	// copy baggage entries onto spans, so ip/route attributes set upstream show up in honeycomb
	bsp := honeycomb.NewBaggageSpanProcessor()
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithSpanProcessor(bsp),
	)
	if err != nil {
		return nil, err
	}

	log.Infof("honeycomb tracing enabled for [%s]", serviceName)
	return otelShutdown, nil
}
