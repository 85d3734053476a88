package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/sentinelx/internal/config"
)

type apiClient struct {
	baseURL    string
	token      string
	dataDir    string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		dataDir:    cfg.Storage.DataDir,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is sentinel serve running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *apiClient) put(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *apiClient) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// apiError is a non-2xx reply from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var envelope struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
			msg = envelope.Error.Message
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// --- wire types ---

type stateView struct {
	AgentActive     bool   `json:"agent_active"`
	CLIFallback     bool   `json:"cli_fallback"`
	DiscoveryActive bool   `json:"discovery_active"`
	ScanningActive  bool   `json:"scanning_active"`
	Scale           string `json:"scale"`
	Page            string `json:"page"`
}

type rangeView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	CIDR            string `json:"cidr"`
	Location        string `json:"location"`
	Organization    string `json:"organization"`
	Status          string `json:"status"`
	Devices         int    `json:"devices"`
	Services        int    `json:"services"`
	Vulnerabilities int    `json:"vulnerabilities"`
	Bandwidth       string `json:"bandwidth"`
}

type metricsView struct {
	Scale           string `json:"scale"`
	Ranges          int    `json:"ranges"`
	Devices         int    `json:"devices"`
	Services        int    `json:"services"`
	Vulnerabilities int    `json:"vulnerabilities"`
	Exposure        string `json:"exposure"`
}

type snapshotView struct {
	ID    string    `json:"id"`
	State stateView `json:"state"`
	Link  struct {
		Connected bool `json:"connected"`
		Attempts  int  `json:"attempts"`
		Exhausted bool `json:"exhausted"`
	} `json:"link"`
	Metrics     metricsView `json:"metrics"`
	Ranges      []rangeView `json:"ranges"`
	CanAddRange bool        `json:"can_add_range"`
	Messages    int         `json:"messages"`
}

type stepView struct {
	Kind    string `json:"kind"`
	Text    string `json:"text"`
	AfterMS int64  `json:"after_ms"`
	Persona string `json:"persona"`
}

type sendView struct {
	Reply   string     `json:"reply"`
	Mode    string     `json:"mode"`
	Topic   string     `json:"topic"`
	Persona string     `json:"persona"`
	Steps   []stepView `json:"steps"`
	State   stateView  `json:"state"`
}

type messageView struct {
	ID      string    `json:"id"`
	Role    string    `json:"role"`
	Text    string    `json:"text"`
	Topic   string    `json:"topic"`
	Persona string    `json:"persona"`
	At      time.Time `json:"at"`
}

type historyView struct {
	Data    []messageView `json:"data"`
	Pending int           `json:"pending"`
}

type sessionSummaryView struct {
	ID        string    `json:"id"`
	State     stateView `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// --- typed calls ---

func sessionPath(id, suffix string) string {
	return "/sessions/" + url.PathEscape(id) + suffix
}

func (c *apiClient) createSession(ctx context.Context) (snapshotView, error) {
	var snap snapshotView
	resp, err := c.post(ctx, "/sessions", nil)
	if err != nil {
		return snap, err
	}
	err = decodeJSON(resp, &snap)
	return snap, err
}

func (c *apiClient) snapshot(ctx context.Context, id string) (snapshotView, error) {
	var snap snapshotView
	resp, err := c.get(ctx, sessionPath(id, ""))
	if err != nil {
		return snap, err
	}
	err = decodeJSON(resp, &snap)
	return snap, err
}

func (c *apiClient) send(ctx context.Context, id, input string) (sendView, error) {
	var out sendView
	resp, err := c.post(ctx, sessionPath(id, "/messages"), map[string]string{"input": input})
	if err != nil {
		return out, err
	}
	err = decodeJSON(resp, &out)
	return out, err
}

func (c *apiClient) history(ctx context.Context, id string, limit int) (historyView, error) {
	var out historyView
	resp, err := c.get(ctx, sessionPath(id, fmt.Sprintf("/messages?limit=%d", limit)))
	if err != nil {
		return out, err
	}
	err = decodeJSON(resp, &out)
	return out, err
}

func (c *apiClient) toggleAgent(ctx context.Context, id string) (stateView, error) {
	var st stateView
	resp, err := c.post(ctx, sessionPath(id, "/agent/toggle"), nil)
	if err != nil {
		return st, err
	}
	err = decodeJSON(resp, &st)
	return st, err
}

func (c *apiClient) toggleScanning(ctx context.Context, id string) (bool, error) {
	var out struct {
		ScanningActive bool `json:"scanning_active"`
	}
	resp, err := c.post(ctx, sessionPath(id, "/scanning/toggle"), nil)
	if err != nil {
		return false, err
	}
	err = decodeJSON(resp, &out)
	return out.ScanningActive, err
}

func (c *apiClient) selectScale(ctx context.Context, id, scale string) (snapshotView, error) {
	var snap snapshotView
	resp, err := c.put(ctx, sessionPath(id, "/scale"), map[string]string{"scale": scale})
	if err != nil {
		return snap, err
	}
	err = decodeJSON(resp, &snap)
	return snap, err
}

func (c *apiClient) addRange(ctx context.Context, id string, r rangeView) (rangeView, error) {
	var out rangeView
	resp, err := c.post(ctx, sessionPath(id, "/ranges"), map[string]string{
		"name":         r.Name,
		"cidr":         r.CIDR,
		"location":     r.Location,
		"organization": r.Organization,
	})
	if err != nil {
		return out, err
	}
	err = decodeJSON(resp, &out)
	return out, err
}

func (c *apiClient) rescan(ctx context.Context, id string) error {
	resp, err := c.post(ctx, sessionPath(id, "/rescan"), nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *apiClient) resetSession(ctx context.Context, id string, purge bool) error {
	path := sessionPath(id, "")
	if purge {
		path += "?purge=true"
	}
	resp, err := c.delete(ctx, path)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (c *apiClient) listSessions(ctx context.Context, limit int) ([]sessionSummaryView, error) {
	var out struct {
		Data []sessionSummaryView `json:"data"`
	}
	resp, err := c.get(ctx, fmt.Sprintf("/sessions?limit=%d", limit))
	if err != nil {
		return nil, err
	}
	err = decodeJSON(resp, &out)
	return out.Data, err
}

// --- current session ---

func currentSessionPath(dataDir string) string {
	return filepath.Join(dataDir, "current_session")
}

func readCurrentSession(dataDir string) string {
	data, err := os.ReadFile(currentSessionPath(dataDir))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeCurrentSession(dataDir, id string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(currentSessionPath(dataDir), []byte(id+"\n"), 0o644)
}

// resolveSession picks the session a command acts on: the --session flag,
// then the remembered current session. With create set, a new session is
// started when neither names a live one.
func resolveSession(ctx context.Context, cmd *cobra.Command, c *apiClient, create bool) (string, error) {
	if id, _ := cmd.Flags().GetString("session"); id != "" {
		return id, nil
	}
	if id := readCurrentSession(c.dataDir); id != "" {
		_, err := c.snapshot(ctx, id)
		if err == nil {
			return id, nil
		}
		var apiErr *apiError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
			return "", err
		}
	}
	if !create {
		return "", fmt.Errorf("no current session; run `sentinel session new` or pass --session")
	}
	snap, err := c.createSession(ctx)
	if err != nil {
		return "", err
	}
	if err := writeCurrentSession(c.dataDir, snap.ID); err != nil {
		printWarning("could not remember session %s: %v", snap.ID, err)
	}
	return snap.ID, nil
}
