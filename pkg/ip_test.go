package pkg

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPIsLocal(t *testing.T) {
	cases := []struct {
		addr            string
		expectedIsLocal bool
	}{
		{addr: "83.12.53.65", expectedIsLocal: false},
		{addr: "127.0.0.1", expectedIsLocal: true},
		{addr: "::1", expectedIsLocal: true},
		{addr: "172.20.0.1", expectedIsLocal: true},
		{addr: "172.19.0.1", expectedIsLocal: true},
		{addr: "172.19.0.2", expectedIsLocal: false},
		{addr: "111.12.56.65", expectedIsLocal: false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expectedIsLocal, IPIsLocal(tc.addr), tc.addr)
	}
}

func TestReadUserIP(t *testing.T) {
	cases := map[string]struct {
		headers      map[string]string
		trustHeaders bool
		remoteAddr   string
		expectedIP   string
		expectErr    bool
	}{
		"x-real-ip": {
			headers:      map[string]string{"X-Real-Ip": "83.12.53.65"},
			trustHeaders: true,
			remoteAddr:   "10.0.0.1:5555",
			expectedIP:   "83.12.53.65",
		},
		"x-forwarded-for list": {
			headers:      map[string]string{"X-Forwarded-For": "83.12.53.65, 10.0.0.2"},
			trustHeaders: true,
			remoteAddr:   "10.0.0.1:5555",
			expectedIP:   "83.12.53.65",
		},
		"x-real-ip not trusted": {
			headers:    map[string]string{"X-Real-Ip": "83.12.53.65"},
			remoteAddr: "10.0.0.1:5555",
			expectedIP: "10.0.0.1",
		},
		"x-forwarded-for not trusted": {
			headers:    map[string]string{"X-Forwarded-For": "83.12.53.65"},
			remoteAddr: "111.12.56.65:8080",
			expectedIP: "111.12.56.65",
		},
		"remote addr with port": {
			remoteAddr: "111.12.56.65:8080",
			expectedIP: "111.12.56.65",
		},
		"local": {
			remoteAddr: "127.0.0.1:40000",
			expectedIP: "localhost",
		},
		"invalid": {
			remoteAddr: "not-an-ip",
			expectErr:  true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "/", nil)
			require.NoError(t, err)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}

			ip, err := ReadUserIP(req, tc.trustHeaders)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedIP, ip)
		})
	}
}
