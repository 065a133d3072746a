//go:build integration && linux

package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type testClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newTestClient(baseURL, token string) *testClient {
	return &testClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{},
	}
}

func (c *testClient) doRequest(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Service-Token", c.token)
	}

	resp, err := c.client.Do(req)
	require.NoError(t, err)
	return resp
}

func (c *testClient) doRaw(t *testing.T, method, path string, body []byte, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if c.token != "" {
		req.Header.Set("X-Service-Token", c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	require.NoError(t, err)
	return resp
}

func (c *testClient) createSession(t *testing.T, ownerID string) (map[string]any, int) {
	t.Helper()
	resp := c.doRequest(t, "POST", "/v1/sessions", map[string]any{"owner_id": ownerID})
	status := resp.StatusCode
	return decodeResponse(t, resp), status
}

func (c *testClient) getSession(t *testing.T, sessionID string) map[string]any {
	t.Helper()
	resp := c.doRequest(t, "GET", "/v1/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeResponse(t, resp)
}

func (c *testClient) stopSession(t *testing.T, sessionID string) {
	t.Helper()
	resp := c.doRequest(t, "POST", fmt.Sprintf("/v1/sessions/%s/stop", sessionID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (c *testClient) destroySession(t *testing.T, sessionID string) {
	t.Helper()
	resp := c.doRequest(t, "DELETE", "/v1/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

// runShell posts a command and reads the whole event stream, returning the
// data payload of every line, end marker included.
func (c *testClient) runShell(t *testing.T, sessionID, command string) []string {
	t.Helper()
	resp := c.doRequest(t, "POST", fmt.Sprintf("/v1/sessions/%s/shell", sessionID), map[string]any{
		"command": command,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return readSSE(t, resp.Body)
}

func (c *testClient) uploadFile(t *testing.T, sessionID, filename string, content []byte) {
	t.Helper()
	resp := c.doRaw(t, "PUT", fmt.Sprintf("/v1/sessions/%s/files", sessionID), content, map[string]string{
		"X-Filename": filename,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (c *testClient) downloadFile(t *testing.T, sessionID, path string) []byte {
	t.Helper()
	resp := c.doRaw(t, "GET", fmt.Sprintf("/v1/sessions/%s/files/%s", sessionID, path), nil, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}

// readSSE collects the payload of every data: line until the stream ends.
func readSSE(t *testing.T, r io.Reader) []string {
	t.Helper()
	var payloads []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payloads = append(payloads, strings.TrimPrefix(line, "data: "))
	}
	require.NoError(t, scanner.Err())
	return payloads
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}
