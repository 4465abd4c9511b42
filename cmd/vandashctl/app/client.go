package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	httpserver "github.com/autopeer-io/vandash/internal/agent/server/http"
)

// client talks to the REST API of a running agent.
type client struct {
	base string
	http *http.Client
}

func newClient(server string, hc *http.Client) (*client, error) {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid --server %q: %w", server, err)
	}
	return &client{base: strings.TrimRight(u.String(), "/"), http: hc}, nil
}

// do sends the request and decodes a 2xx body into out. Error bodies are
// returned as *httpserver.APIError so the caller sees the API error code.
func (c *client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Error *httpserver.APIError `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
			return &httpserver.APIError{Status: resp.StatusCode, Code: httpserver.CodeInternal, Message: strings.TrimSpace(string(body))}
		}
		envelope.Error.Status = resp.StatusCode
		return envelope.Error
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unexpected response from %s: %w", path, err)
	}
	return nil
}
