package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// apiClient is a thin HTTP client for the node/task introspection
// subcommands, mirroring the teacher's gRPC client.NewClient usage in
// its own resource subcommands but speaking dispatchd's JSON API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(server string) *apiClient {
	return &apiClient{
		baseURL: "http://" + server,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var problem struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&problem)
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, problem.Message)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
