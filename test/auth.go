//go:build integration_test || all_tests

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/2beens/pressauth/internal/auth"

	"github.com/stretchr/testify/require"
)

type loginRequest struct {
	Password string `json:"password"`
}

func doRequest(
	ctx context.Context,
	t *testing.T,
	client *http.Client,
	method, path string,
	body any,
	authToken string,
) (int, []byte) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s%s", serverEndpoint, path), reqBody)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Origin", testOrigin)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBytes
}

func doLogin(ctx context.Context, t *testing.T, client *http.Client, password string) auth.LoginResponse {
	t.Helper()

	status, respBytes := doRequest(ctx, t, client, http.MethodPost, "/auth/login", loginRequest{Password: password}, "")
	require.Equal(t, http.StatusOK, status, string(respBytes))

	var loginResp auth.LoginResponse
	require.NoError(t, json.Unmarshal(respBytes, &loginResp))
	require.NotEmpty(t, loginResp.Token)

	return loginResp
}
