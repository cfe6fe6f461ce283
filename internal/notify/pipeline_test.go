package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/2beens/pressauth/internal/mail"
	"github.com/2beens/pressauth/internal/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testLocator struct {
	location string
	err      error
	delay    time.Duration
	// ignoreCtx makes the locator sleep for the full delay
	ignoreCtx bool
	panics    bool
}

func (l *testLocator) Locate(ctx context.Context, _ string) (string, error) {
	if l.panics {
		panic("locator exploded")
	}
	if l.delay > 0 {
		if l.ignoreCtx {
			time.Sleep(l.delay)
		} else {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(l.delay):
			}
		}
	}
	return l.location, l.err
}

type testMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	err      error
	panics   bool
	sent     chan struct{}
}

func newTestMailer() *testMailer {
	return &testMailer{sent: make(chan struct{}, 100)}
}

func (m *testMailer) Send(_ context.Context, message mail.Message) error {
	if m.panics {
		panic("mailer exploded")
	}
	m.mu.Lock()
	m.messages = append(m.messages, message)
	m.mu.Unlock()
	m.sent <- struct{}{}
	return m.err
}

func (m *testMailer) all() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

func waitPipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
}

func TestComposeAlert(t *testing.T) {
	msg := composeAlert("admin@example.com", LoginEvent{
		ClientIP:  "80.36.233.153",
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}, "Palma, Balearic Islands, ES")

	assert.Equal(t, "admin@example.com", msg.To)
	assert.Equal(t, "New login on the blog", msg.Subject)
	assert.Equal(t, "New login from IP: 80.36.233.153, location: Palma, Balearic Islands, ES", msg.Text)
	assert.Contains(t, msg.HTML, "New login from IP: 80.36.233.153")

	msg = composeAlert("admin@example.com", LoginEvent{}, "<script>")
	assert.Equal(t, "New login from IP: unknown, location: <script>", msg.Text)
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestPipeline_Sent(t *testing.T) {
	metricsManager := metrics.NewTestManager()
	mailer := newTestMailer()
	p := NewPipeline(PipelineParams{
		Locator:        &testLocator{location: "Novi Sad, Vojvodina, RS"},
		Mailer:         mailer,
		AdminEmail:     "admin@example.com",
		MetricsManager: metricsManager,
	})

	p.Notify(LoginEvent{ClientIP: "109.92.1.1", Timestamp: time.Now()})
	waitPipeline(t, p)

	messages := mailer.all()
	require.Len(t, messages, 1)
	assert.Equal(t, "New login from IP: 109.92.1.1, location: Novi Sad, Vojvodina, RS", messages[0].Text)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterNotifications.WithLabelValues(metrics.NotificationSent)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterGeoIPLookups.WithLabelValues(metrics.GeoIPResolved)))
}

func TestPipeline_UnknownLocation(t *testing.T) {
	cases := []struct {
		name    string
		locator Locator
		ip      string
	}{
		{name: "locator error", locator: &testLocator{err: errors.New("boom")}, ip: "1.2.3.4"},
		{name: "empty location", locator: &testLocator{}, ip: "1.2.3.4"},
		{name: "locator panic", locator: &testLocator{panics: true}, ip: "1.2.3.4"},
		{name: "no locator", locator: nil, ip: "1.2.3.4"},
		{name: "no ip", locator: &testLocator{location: "Palma"}, ip: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			metricsManager := metrics.NewTestManager()
			mailer := newTestMailer()
			p := NewPipeline(PipelineParams{
				Locator:        tc.locator,
				Mailer:         mailer,
				AdminEmail:     "admin@example.com",
				MetricsManager: metricsManager,
			})

			p.Notify(LoginEvent{ClientIP: tc.ip})
			waitPipeline(t, p)

			messages := mailer.all()
			require.Len(t, messages, 1)
			assert.Contains(t, messages[0].Text, "location: unknown")
			assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterGeoIPLookups.WithLabelValues(metrics.GeoIPUnknown)))
		})
	}
}

func TestPipeline_GeoTimeoutEnforced(t *testing.T) {
	mailer := newTestMailer()
	p := NewPipeline(PipelineParams{
		// ignores its context, the pipeline must still move on after the geo timeout
		Locator:    &testLocator{location: "Palma", delay: 500 * time.Millisecond, ignoreCtx: true},
		Mailer:     mailer,
		AdminEmail: "admin@example.com",
		GeoTimeout: 30 * time.Millisecond,
	})

	start := time.Now()
	p.Notify(LoginEvent{ClientIP: "80.36.233.153"})

	select {
	case <-mailer.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("alert not sent")
	}
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	messages := mailer.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Text, "location: unknown")

	waitPipeline(t, p)
	// let the abandoned locator call return
	time.Sleep(600 * time.Millisecond)
}

func TestPipeline_FailuresAreContained(t *testing.T) {
	metricsManager := metrics.NewTestManager()

	failing := newTestMailer()
	failing.err = errors.New("smtp down")
	p := NewPipeline(PipelineParams{Mailer: failing, AdminEmail: "admin@example.com", MetricsManager: metricsManager})
	p.Notify(LoginEvent{ClientIP: "1.2.3.4"})
	waitPipeline(t, p)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterNotifications.WithLabelValues(metrics.NotificationMailFailed)))

	panicking := newTestMailer()
	panicking.panics = true
	p = NewPipeline(PipelineParams{Mailer: panicking, AdminEmail: "admin@example.com", MetricsManager: metricsManager})
	p.Notify(LoginEvent{ClientIP: "1.2.3.4"})
	waitPipeline(t, p)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterNotifications.WithLabelValues(metrics.NotificationPanicked)))

	p = NewPipeline(PipelineParams{AdminEmail: "admin@example.com", MetricsManager: metricsManager})
	p.Notify(LoginEvent{ClientIP: "1.2.3.4"})
	waitPipeline(t, p)
	assert.Equal(t, float64(2), testutil.ToFloat64(metricsManager.CounterNotifications.WithLabelValues(metrics.NotificationMailFailed)))
}

func TestPipeline_NotifyDoesNotBlock(t *testing.T) {
	mailer := newTestMailer()
	p := NewPipeline(PipelineParams{
		Locator:    &testLocator{location: "Palma", delay: 200 * time.Millisecond},
		Mailer:     mailer,
		AdminEmail: "admin@example.com",
	})

	start := time.Now()
	for i := 0; i < 10; i++ {
		p.Notify(LoginEvent{ClientIP: "80.36.233.153"})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	waitPipeline(t, p)
	assert.Len(t, mailer.all(), 10)
}

func TestPipeline_WaitTimeoutAndClosed(t *testing.T) {
	mailer := newTestMailer()
	p := NewPipeline(PipelineParams{
		Locator:    &testLocator{location: "Palma", delay: 300 * time.Millisecond},
		Mailer:     mailer,
		AdminEmail: "admin@example.com",
		GeoTimeout: time.Second,
	})

	p.Notify(LoginEvent{ClientIP: "80.36.233.153"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)

	// closed, new events are dropped
	p.Notify(LoginEvent{ClientIP: "80.36.233.154"})

	waitPipeline(t, p)
	messages := mailer.all()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Text, "80.36.233.153")
}
