package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestGetLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"ERROR":   logrus.ErrorLevel,
		"fatal":   logrus.FatalLevel,
		"Info":    logrus.InfoLevel,
		"trace":   logrus.TraceLevel,
		"warn":    logrus.WarnLevel,
		"unknown": logrus.TraceLevel,
		"":        logrus.TraceLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, GetLevel(in), in)
	}
}

func TestSentryHook_Levels(t *testing.T) {
	hook := NewSentryHook([]logrus.Level{logrus.ErrorLevel})
	assert.Equal(t, []logrus.Level{logrus.ErrorLevel}, hook.Levels())
	assert.Equal(t, logrus.ErrorLevel, hook.Levels()[0])

	// no client bound to the hub: capture is a no-op
	assert.NoError(t, hook.Fire(&logrus.Entry{
		Level:   logrus.ErrorLevel,
		Message: "boom",
		Data:    logrus.Fields{"path": "/auth/login"},
	}))
}
