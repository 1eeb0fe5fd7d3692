package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ChrisB0-2/apguard/internal/config"
)

// apiClient talks to a running daemon. The daemon owns the Wi-Fi radio and
// the in-memory ledger, so ledger edits go through it.
type apiClient struct {
	base   string
	key    string
	header string
	http   *http.Client
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

func newAPIClient(cfg *config.Config) *apiClient {
	addr := apiAddr
	if addr == "" {
		addr = cfg.Daemon.HTTPAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	key := apiKey
	for _, env := range []string{"APGUARD_API_KEY", cfg.Auth.KeyEnv} {
		if key == "" && env != "" {
			key = os.Getenv(env)
		}
	}
	if key == "" {
		key = cfg.Auth.Key
	}

	header := cfg.Auth.HeaderName
	if header == "" {
		header = "X-API-Key"
	}

	return &apiClient{
		base:   strings.TrimRight(addr, "/"),
		key:    key,
		header: header,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// call sends in as JSON (when non-nil) and decodes the answer into out
// (when non-nil).
func (c *apiClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set(c.header, c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// printJSON writes v indented to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
