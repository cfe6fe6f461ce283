//go:build integration_test || all_tests

package test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) TestLogin() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cases := map[string]struct {
		password           string
		expectedStatusCode int
	}{
		"good password":  {password: testPassword, expectedStatusCode: http.StatusOK},
		"bad password":   {password: "bad-password", expectedStatusCode: http.StatusBadRequest},
		"empty password": {password: "", expectedStatusCode: http.StatusBadRequest},
	}

	for name, tc := range cases {
		s.Run(name, func() {
			status, respBytes := doRequest(ctx, t, s.httpClient, http.MethodPost, "/auth/login", loginRequest{Password: tc.password}, "")
			assert.Equal(t, tc.expectedStatusCode, status)
			if tc.expectedStatusCode != http.StatusOK {
				assert.Equal(t, "error, wrong credentials", strings.TrimSpace(string(respBytes)))
			}
		})
	}
}

func (s *IntegrationTestSuite) TestLoginThenCheck() {
	t := s.T()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	loginResp := doLogin(ctx, t, s.httpClient, testPassword)
	assert.WithinDuration(t, time.Now().Add(time.Hour), loginResp.ExpiresAt, 5*time.Second)

	status, respBytes := doRequest(ctx, t, s.httpClient, http.MethodPost, "/auth/check", nil, loginResp.Token)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", string(respBytes))

	status, _ = doRequest(ctx, t, s.httpClient, http.MethodPost, "/auth/check", nil, loginResp.Token+"x")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = doRequest(ctx, t, s.httpClient, http.MethodPost, "/auth/check", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func (s *IntegrationTestSuite) TestAdminInfo() {
	t := s.T()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status, respBytes := doRequest(ctx, t, s.httpClient, http.MethodGet, "/auth/admin", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(respBytes), "password")

	var before map[string]any
	require.NoError(t, json.Unmarshal(respBytes, &before))

	// not logged in
	status, _ = doRequest(ctx, t, s.httpClient, http.MethodPut, "/auth/admin", map[string]string{"name": "Mallory"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	loginResp := doLogin(ctx, t, s.httpClient, testPassword)

	status, _ = doRequest(ctx, t, s.httpClient, http.MethodPut, "/auth/admin", map[string]string{"password_hash": "x"}, loginResp.Token)
	assert.Equal(t, http.StatusBadRequest, status)

	status, respBytes = doRequest(ctx, t, s.httpClient, http.MethodPut, "/auth/admin", map[string]string{"name": "E2E Blogger"}, loginResp.Token)
	require.Equal(t, http.StatusOK, status, string(respBytes))

	status, respBytes = doRequest(ctx, t, s.httpClient, http.MethodGet, "/auth/admin", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(respBytes), "password")

	var after map[string]any
	require.NoError(t, json.Unmarshal(respBytes, &after))
	assert.Equal(t, "E2E Blogger", after["name"])
	assert.Equal(t, before["slogan"], after["slogan"])
	assert.Equal(t, before["gravatar"], after["gravatar"])
}
