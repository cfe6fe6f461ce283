package notify

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/2beens/pressauth/internal/mail"
	"github.com/2beens/pressauth/internal/telemetry/metrics"
	"github.com/2beens/pressauth/internal/telemetry/tracing"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultGeoTimeout  = 3 * time.Second
	DefaultMailTimeout = 10 * time.Second
)

var ErrPipelineClosed = errors.New("notification pipeline closed")

type Locator interface {
	Locate(ctx context.Context, ip string) (string, error)
}

type Mailer interface {
	Send(ctx context.Context, message mail.Message) error
}

type PipelineParams struct {
	Locator        Locator
	Mailer         Mailer
	AdminEmail     string
	GeoTimeout     time.Duration
	MailTimeout    time.Duration
	MetricsManager *metrics.Manager
}

// Pipeline sends login alerts to the admin in the background.
// Nothing that happens in the pipeline is ever reported back to the login caller.
type Pipeline struct {
	locator        Locator
	mailer         Mailer
	adminEmail     string
	geoTimeout     time.Duration
	mailTimeout    time.Duration
	metricsManager *metrics.Manager

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPipeline(params PipelineParams) *Pipeline {
	geoTimeout := params.GeoTimeout
	if geoTimeout <= 0 {
		geoTimeout = DefaultGeoTimeout
	}
	mailTimeout := params.MailTimeout
	if mailTimeout <= 0 {
		mailTimeout = DefaultMailTimeout
	}

	return &Pipeline{
		locator:        params.Locator,
		mailer:         params.Mailer,
		adminEmail:     params.AdminEmail,
		geoTimeout:     geoTimeout,
		mailTimeout:    mailTimeout,
		metricsManager: params.MetricsManager,
	}
}

// Notify schedules the alert for the given login and returns immediately.
func (p *Pipeline) Notify(event LoginEvent) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		log.Warnf("login alert for %s dropped: %s", event.ClientIP, ErrPipelineClosed)
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.run(event)
	}()
}

// Wait stops accepting new events and waits for the in-flight alerts, or until ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for login alerts: %w", ctx.Err())
	}
}

func (p *Pipeline) run(event LoginEvent) {
	ctx, span := tracing.GlobalTracer.Start(context.Background(), "notify.loginAlert")
	defer span.End()
	span.SetAttributes(attribute.String("login.ip", event.ClientIP))

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("login alert panic for %s: %v\n%s", event.ClientIP, r, debug.Stack())
			sentry.CurrentHub().Recover(r)
			p.countNotification(metrics.NotificationPanicked)
			span.SetStatus(codes.Error, "panic")
		}
	}()

	location := p.locate(ctx, event.ClientIP)
	message := composeAlert(p.adminEmail, event, location)

	if p.mailer == nil {
		log.Warnf("login alert not sent, no mailer: %s", message.Text)
		p.countNotification(metrics.NotificationMailFailed)
		span.SetStatus(codes.Error, "no-mailer")
		return
	}

	mailCtx, cancel := context.WithTimeout(ctx, p.mailTimeout)
	defer cancel()

	if err := p.mailer.Send(mailCtx, message); err != nil {
		log.Errorf("send login alert for %s: %s", event.ClientIP, err)
		p.countNotification(metrics.NotificationMailFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "send-failed")
		return
	}

	log.Infof("login alert sent for %s [%s]", event.ClientIP, location)
	p.countNotification(metrics.NotificationSent)
	span.SetStatus(codes.Ok, "sent")
}

// locate never takes longer than the geo timeout, even if the locator ignores its context.
func (p *Pipeline) locate(ctx context.Context, clientIP string) string {
	if p.locator == nil || clientIP == "" {
		p.countGeoIP(metrics.GeoIPUnknown)
		return unknownLocation
	}

	ctx, cancel := context.WithTimeout(ctx, p.geoTimeout)
	defer cancel()

	type result struct {
		location string
		err      error
	}

	resCh := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- result{err: fmt.Errorf("locator panic: %v", r)}
			}
		}()
		location, err := p.locator.Locate(ctx, clientIP)
		resCh <- result{location: location, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil || res.location == "" {
			log.Debugf("geo lookup for %s failed: %v", clientIP, res.err)
			p.countGeoIP(metrics.GeoIPUnknown)
			return unknownLocation
		}
		p.countGeoIP(metrics.GeoIPResolved)
		return res.location
	case <-ctx.Done():
		log.Debugf("geo lookup for %s timed out", clientIP)
		p.countGeoIP(metrics.GeoIPUnknown)
		return unknownLocation
	}
}

func (p *Pipeline) countNotification(outcome string) {
	if p.metricsManager != nil {
		p.metricsManager.CounterNotifications.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) countGeoIP(outcome string) {
	if p.metricsManager != nil {
		p.metricsManager.CounterGeoIPLookups.WithLabelValues(outcome).Inc()
	}
}
