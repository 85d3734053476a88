package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/kalambet/sentinelx/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"session not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client(t *testing.T) *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		dataDir:    t.TempDir(),
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]recordedRequest(nil), ts.requests...)
}

var ctx = context.Background()

// captureOutput swaps stdout/stderr for buffers and disables color.
func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	oldOut, oldErr, oldNoColor := stdout, stderr, color.NoColor
	stdout, stderr, color.NoColor = out, errOut, true
	t.Cleanup(func() { stdout, stderr, color.NoColor = oldOut, oldErr, oldNoColor })
	return out, errOut
}

func sessionFlagCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("session", "", "")
	return cmd
}

// --- client ---

func TestAPIClient_Send(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions/s1/messages": `{"reply":"done","mode":"agent","topic":"threats","persona":"ThreatScanner",
			"steps":[{"kind":"system","text":"routing","after_ms":300},{"kind":"reply","text":"done","after_ms":800}],
			"state":{"agent_active":true,"scale":"business"}}`,
	})
	client := ts.client(t)

	out, err := client.send(ctx, "s1", "scan for threats")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out.Persona != "ThreatScanner" || len(out.Steps) != 2 || out.Steps[1].AfterMS != 800 {
		t.Errorf("out = %+v", out)
	}
	if out.State.Scale != "business" {
		t.Errorf("State.Scale = %q, want business", out.State.Scale)
	}

	reqs := ts.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", reqs[0].Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(reqs[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["input"] != "scan for threats" {
		t.Errorf("body.input = %q", body["input"])
	}
}

func TestAPIClient_PathsAndQueries(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /sessions/s1": `{}`,
		"GET /sessions":       `{"data":[{"id":"a","state":{"scale":""}}]}`,
		"GET /sessions/s1/messages": `{"data":[],"pending":0}`,
	})
	client := ts.client(t)

	if err := client.resetSession(ctx, "s1", true); err != nil {
		t.Fatalf("resetSession: %v", err)
	}
	list, err := client.listSessions(ctx, 5)
	if err != nil {
		t.Fatalf("listSessions: %v", err)
	}
	if len(list) != 1 || list[0].ID != "a" {
		t.Errorf("list = %+v", list)
	}
	if _, err := client.history(ctx, "s1", 200); err != nil {
		t.Fatalf("history: %v", err)
	}

	var paths []string
	for _, r := range ts.recorded() {
		paths = append(paths, r.Method+" "+r.Path)
	}
	want := []string{
		"DELETE /sessions/s1?purge=true",
		"GET /sessions?limit=5",
		"GET /sessions/s1/messages?limit=200",
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}

func TestAPIClient_ServerStopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client(t).get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(409)
		w.Write([]byte(`{"error":{"message":"range limit reached","type":"conflict_error"}}`))
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, token: "t", httpClient: srv.Client()}
	resp, err := client.post(ctx, "/sessions/s1/ranges", map[string]string{"cidr": "10.0.0.0/8"})
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	err = decodeJSON(resp, nil)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *apiError", err)
	}
	if apiErr.Status != 409 || apiErr.Message != "range limit reached" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestDecodeJSON_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	err = decodeJSON(resp, nil)
	if err == nil || !strings.Contains(err.Error(), "bad gateway") {
		t.Errorf("error = %v, want the body text", err)
	}
}

// --- session resolution ---

func TestResolveSession_Flag(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	cmd := sessionFlagCmd()
	cmd.Flags().Set("session", "flagged")

	id, err := resolveSession(ctx, cmd, ts.client(t), true)
	if err != nil {
		t.Fatalf("resolveSession: %v", err)
	}
	if id != "flagged" {
		t.Errorf("id = %q, want flagged", id)
	}
	if n := len(ts.recorded()); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestResolveSession_CurrentFile(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /sessions/s1": `{"id":"s1"}`,
	})
	client := ts.client(t)
	if err := writeCurrentSession(client.dataDir, "s1"); err != nil {
		t.Fatal(err)
	}

	id, err := resolveSession(ctx, sessionFlagCmd(), client, true)
	if err != nil {
		t.Fatalf("resolveSession: %v", err)
	}
	if id != "s1" {
		t.Errorf("id = %q, want s1", id)
	}
}

func TestResolveSession_StaleFileCreatesNew(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions": `{"id":"fresh"}`,
	})
	client := ts.client(t)
	if err := writeCurrentSession(client.dataDir, "gone"); err != nil {
		t.Fatal(err)
	}

	id, err := resolveSession(ctx, sessionFlagCmd(), client, true)
	if err != nil {
		t.Fatalf("resolveSession: %v", err)
	}
	if id != "fresh" {
		t.Errorf("id = %q, want fresh", id)
	}
	if got := readCurrentSession(client.dataDir); got != "fresh" {
		t.Errorf("current session = %q, want fresh", got)
	}
}

func TestResolveSession_NoCreate(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	_, err := resolveSession(ctx, sessionFlagCmd(), ts.client(t), false)
	if err == nil || !strings.Contains(err.Error(), "no current session") {
		t.Errorf("error = %v, want no current session", err)
	}
}

func TestResolveSession_ServerErrorIsReturned(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	client := ts.client(t)
	writeCurrentSession(client.dataDir, "s1")
	ts.server.Close()

	if _, err := resolveSession(ctx, sessionFlagCmd(), client, true); err == nil {
		t.Fatal("expected error when the server is down")
	}
}

// --- output ---

func TestPlaySteps(t *testing.T) {
	out, errOut := captureOutput(t)
	var slept []time.Duration
	oldSleep := sleep
	sleep = func(d time.Duration) { slept = append(slept, d) }
	defer func() { sleep = oldSleep }()

	playSteps(sendView{
		Mode:    "agent",
		Persona: "NetworkMapper",
		Steps: []stepView{
			{Kind: "system", Text: "Main Agent: routing", AfterMS: 300},
			{Kind: "reply", Text: "3 ranges mapped", AfterMS: 500, Persona: "NetworkMapper"},
			{Kind: "reply", Text: "ports closed", AfterMS: 1000, Persona: "DefenseOrchestrator"},
		},
	}, false)

	want := "Main Agent: routing\nNetworkMapper> 3 ranges mapped\nDefenseOrchestrator> ports closed\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if diff := cmp.Diff([]time.Duration{300 * time.Millisecond, 500 * time.Millisecond, time.Second}, slept); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
	if errOut.Len() != 0 {
		t.Errorf("unexpected stderr: %q", errOut.String())
	}
}

func TestPlaySteps_InstantCLI(t *testing.T) {
	out, errOut := captureOutput(t)
	oldSleep := sleep
	sleep = func(time.Duration) { t.Error("slept in instant mode") }
	defer func() { sleep = oldSleep }()

	playSteps(sendView{Mode: "cli", Steps: []stepView{{Kind: "reply", Text: "Available commands", AfterMS: 0}}}, true)

	if out.String() != "agent> Available commands\n" {
		t.Errorf("output = %q", out.String())
	}
	if !strings.Contains(errOut.String(), "CLI fallback") {
		t.Errorf("stderr = %q, want a CLI fallback note", errOut.String())
	}
}

func TestPrintChatLine(t *testing.T) {
	out, _ := captureOutput(t)

	printChatLine("user", "", "hello")
	printChatLine("agent", "LogAgent", "logs ok")
	printChatLine("system", "", "Main Agent: routing")

	want := "you> hello\nLogAgent> logs ok\nMain Agent: routing\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestNoColorDisablesEscapes(t *testing.T) {
	out, _ := captureOutput(t)
	printChatLine("agent", "ThreatScanner", "clean")
	if strings.Contains(out.String(), "\033[") {
		t.Errorf("output contains ANSI codes: %q", out.String())
	}
}

func TestPrintRanges(t *testing.T) {
	out, _ := captureOutput(t)
	printRanges(nil)
	if out.String() != "No ranges.\n" {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	printRanges([]rangeView{{Name: "HQ", CIDR: "203.0.113.0/24", Location: "NYC", Status: "active", Devices: 12, Services: 30, Bandwidth: "1.2 Gbps"}})
	for _, s := range []string{"203.0.113.0/24", "HQ", "12 devices", "1.2 Gbps"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("output %q missing %q", out.String(), s)
		}
	}
}

// --- commands ---

func TestAskCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "requires") {
		t.Errorf("error = %q, want it to mention 'requires'", err.Error())
	}
}

func TestAskCommand_EndToEnd(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions":             `{"id":"s9"}`,
		"POST /sessions/s9/messages": `{"reply":"ok","mode":"agent","persona":"LogAgent","steps":[{"kind":"reply","text":"ok","after_ms":0}]}`,
	})
	client := ts.client(t)
	oldNew := newAPIClient
	newAPIClient = func() (*apiClient, error) { return client, nil }
	defer func() { newAPIClient = oldNew }()
	out, _ := captureOutput(t)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask", "--instant", "show", "logs"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("ask: %v", err)
	}

	if out.String() != "LogAgent> ok\n" {
		t.Errorf("output = %q", out.String())
	}
	reqs := ts.recorded()
	if len(reqs) != 2 || !strings.Contains(reqs[1].Body, `"show logs"`) {
		t.Errorf("requests = %+v", reqs)
	}
	if got := readCurrentSession(client.dataDir); got != "s9" {
		t.Errorf("current session = %q, want s9", got)
	}
}

func TestFetchHealth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok","live_sessions":2,"stored":{"sessions":5,"messages":40,"ranges":9}}`,
	})

	h, err := fetchHealth(ts.server.Client(), ts.server.URL)
	if err != nil {
		t.Fatalf("fetchHealth: %v", err)
	}
	if h.Status != "ok" || h.LiveSessions != 2 || h.Stored.Messages != 40 {
		t.Errorf("health = %+v", h)
	}
}

func TestSessionOptions(t *testing.T) {
	var cfg config.Config
	cfg.Chat.TypingDelay = 300 * time.Millisecond
	cfg.Chat.QuarantineDelay = time.Second
	cfg.Chat.DefaultPage = "threats"

	opts := sessionOptions(cfg, slog.Default())
	if opts.Monitor != nil {
		t.Error("monitor configured while disabled")
	}
	if opts.Delays.Typing != 300*time.Millisecond || opts.Delays.Quarantine != time.Second {
		t.Errorf("delays = %+v", opts.Delays)
	}
	if opts.DefaultPage != "threats" || opts.Catalog == nil {
		t.Errorf("opts = %+v", opts)
	}

	cfg.Monitor.Enabled = true
	cfg.Monitor.MaxAttempts = 5
	cfg.Monitor.LossProbability = 0.05
	opts = sessionOptions(cfg, slog.Default())
	if opts.Monitor == nil || opts.Monitor.MaxAttempts != 5 || opts.Monitor.LossProbability != 0.05 {
		t.Errorf("monitor = %+v", opts.Monitor)
	}
}

func TestNewLogger(t *testing.T) {
	if !newLogger("debug").Enabled(ctx, slog.LevelDebug) {
		t.Error("debug logger does not log debug")
	}
	l := newLogger("loud")
	if l.Enabled(ctx, slog.LevelDebug) || !l.Enabled(ctx, slog.LevelInfo) {
		t.Error("unknown level should fall back to info")
	}
}

// --- chat TUI ---

func update(t *testing.T, m chatModel, msg tea.Msg) (chatModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	cm, ok := next.(chatModel)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return cm, cmd
}

func TestChatModel_SendAndRender(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions/s1/messages": `{"reply":"All clear","mode":"agent","persona":"ThreatScanner","steps":[]}`,
		"GET /sessions/s1/messages": `{"data":[
			{"id":"1","role":"user","text":"scan for threats"},
			{"id":"2","role":"system","text":"Main Agent: Routing to ThreatScanner..."},
			{"id":"3","role":"agent","persona":"ThreatScanner","text":"All clear"}],"pending":0}`,
	})
	m := newChatModel(ctx, ts.client(t), "s1")
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})

	m.input.SetValue("scan for threats")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter produced no command")
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}

	sent, ok := cmd().(sentMsg)
	if !ok || sent.err != nil {
		t.Fatalf("send result = %+v", sent)
	}
	m, cmd = update(t, m, sent)
	hist, ok := cmd().(historyMsg)
	if !ok || hist.err != nil {
		t.Fatalf("history result = %+v", hist)
	}
	m, cmd = update(t, m, hist)
	if cmd != nil {
		t.Error("polling scheduled with nothing pending")
	}

	view := m.View()
	for _, s := range []string{"scan for threats", "Routing to ThreatScanner", "All clear", "session s1"} {
		if !strings.Contains(view, s) {
			t.Errorf("view missing %q", s)
		}
	}
}

func TestChatModel_PollsWhilePending(t *testing.T) {
	m := newChatModel(ctx, &apiClient{}, "s1")
	m, cmd := update(t, m, historyMsg{history: historyView{Pending: 2}})
	if cmd == nil {
		t.Fatal("expected a poll tick while steps are pending")
	}
	if !strings.Contains(m.View(), "agents working") {
		t.Error("view does not show pending work")
	}
}

func TestChatModel_AgentToggle(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sessions/s1/agent/toggle": `{"agent_active":false}`,
	})
	m := newChatModel(ctx, ts.client(t), "s1")

	m.input.SetValue("/agent")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	toggled, ok := cmd().(toggledMsg)
	if !ok || toggled.err != nil {
		t.Fatalf("toggle result = %+v", toggled)
	}
	m, _ = update(t, m, toggled)
	if !strings.Contains(m.View(), "manual control") {
		t.Errorf("view = %q, want manual control status", m.View())
	}
}

func TestChatModel_ErrorShown(t *testing.T) {
	m := newChatModel(ctx, &apiClient{}, "s1")
	m, _ = update(t, m, sentMsg{err: errors.New("server returned 400: input is empty")})
	if !strings.Contains(m.View(), "input is empty") {
		t.Errorf("view does not show the error")
	}
}

func TestChatModel_Quit(t *testing.T) {
	for _, key := range []tea.KeyMsg{{Type: tea.KeyEsc}, {Type: tea.KeyCtrlC}} {
		m := newChatModel(ctx, &apiClient{}, "s1")
		_, cmd := update(t, m, key)
		if cmd == nil {
			t.Fatalf("%s produced no command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s did not quit", key)
		}
	}

	m := newChatModel(ctx, &apiClient{}, "s1")
	m.input.SetValue("/quit")
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("/quit did not quit")
	}
}

func TestChatModel_BlankInputIgnored(t *testing.T) {
	m := newChatModel(ctx, &apiClient{}, "s1")
	m.input.SetValue("   ")
	if _, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("blank input produced a command")
	}
}

func TestConfigCommands(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("SENTINEL_LOG_LEVEL", "")
	out, _ := captureOutput(t)
	defer rootCmd.SetArgs(nil)

	run := func(args ...string) error {
		rootCmd.SetArgs(args)
		return rootCmd.Execute()
	}

	if err := run("config", "set", "log.level", "warn"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	if err := run("config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), "log.level = warn") {
		t.Errorf("show output = %q, want log.level = warn", out.String())
	}

	if err := run("config", "unset", "log.level"); err != nil {
		t.Fatalf("config unset: %v", err)
	}
	out.Reset()
	if err := run("config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), "log.level = info") {
		t.Errorf("show output = %q, want the default level back", out.String())
	}

	if err := run("config", "set", "monitor.interval", "soon"); err == nil {
		t.Error("config set accepted an invalid duration")
	}
}
