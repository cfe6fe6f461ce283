package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	m, reg := NewTestManagerAndRegistry()
	require.NotNil(t, m)

	m.CounterLogins.WithLabelValues(LoginResultSuccess).Inc()
	m.CounterLogins.WithLabelValues(LoginResultWrongPass).Add(2)
	m.CounterNotifications.WithLabelValues(NotificationSent).Inc()
	m.GaugeLifeSignal.Set(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterLogins.WithLabelValues(LoginResultSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CounterLogins.WithLabelValues(LoginResultWrongPass)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GaugeLifeSignal))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["backend_test_server_logins"])
	assert.True(t, names["backend_test_server_login_notifications"])
	assert.True(t, names["backend_test_server_life_signal"])
}

func TestSetupPrometheus(t *testing.T) {
	reg := SetupPrometheus()
	require.NotNil(t, reg)
	m := NewManager("backend", "main", reg)
	require.NotNil(t, m)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
