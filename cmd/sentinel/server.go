package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/sentinelx/internal/api"
	"github.com/kalambet/sentinelx/internal/catalog"
	"github.com/kalambet/sentinelx/internal/config"
	"github.com/kalambet/sentinelx/internal/monitor"
	"github.com/kalambet/sentinelx/internal/router"
	"github.com/kalambet/sentinelx/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Sentinel-X server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running Sentinel-X server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", true, "serve MCP over stdin/stdout alongside HTTP")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "sentinel.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// sessionOptions turns config into the options every chat session runs with.
func sessionOptions(cfg config.Config, logger *slog.Logger) api.SessionOptions {
	opts := api.SessionOptions{
		Catalog: catalog.Default(),
		Delays: &router.Delays{
			Typing:     cfg.Chat.TypingDelay,
			Routing:    cfg.Chat.RoutingDelay,
			Handoff:    cfg.Chat.HandoffDelay,
			Quarantine: cfg.Chat.QuarantineDelay,
		},
		DefaultPage: cfg.Chat.DefaultPage,
		Logger:      logger,
	}
	if cfg.Monitor.Enabled {
		opts.Monitor = &monitor.Config{
			Interval:         cfg.Monitor.Interval,
			LossProbability:  cfg.Monitor.LossProbability,
			ReconnectBase:    cfg.Monitor.ReconnectBase,
			MaxAttempts:      cfg.Monitor.MaxAttempts,
			ReconnectSuccess: cfg.Monitor.ReconnectSuccess,
		}
	}
	return opts
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "sentinel version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("sentinel is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("sentinel is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	sessions := api.NewRegistry(store, sessionOptions(cfg, logger), cfg.Session.TTL)
	defer sessions.Close()

	handler := api.NewHandler(api.Deps{
		Store:    store,
		Sessions: sessions,
		Token:    cfg.Server.APIToken,
		Logger:   logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", addr, "max_conns", cfg.Server.MaxConns)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Sessions: sessions, Version: version})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			logger.Info("MCP server started (stdio transport)")
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("sentinel is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop sentinel (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to sentinel (PID %d)", pid)
	return nil
}

type healthView struct {
	Status       string `json:"status"`
	LiveSessions int    `json:"live_sessions"`
	Stored       struct {
		Sessions int `json:"sessions"`
		Messages int `json:"messages"`
		Ranges   int `json:"ranges"`
	} `json:"stored"`
}

func fetchHealth(client *http.Client, baseURL string) (healthView, error) {
	var h healthView
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return h, err
	}
	err = decodeJSON(resp, &h)
	return h, err
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	h, err := fetchHealth(&http.Client{Timeout: 2 * time.Second}, serverURL)
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
		printStatus("Live sessions", "%d", h.LiveSessions)
		printStatus("Stored sessions", "%d", h.Stored.Sessions)
		printStatus("Messages", "%d", h.Stored.Messages)
		printStatus("Ranges", "%d", h.Stored.Ranges)
	}

	if cfg.Monitor.Enabled {
		printStatus("Link simulation", "every %s, loss %.0f%%, %d attempts",
			cfg.Monitor.Interval, cfg.Monitor.LossProbability*100, cfg.Monitor.MaxAttempts)
	} else {
		printStatus("Link simulation", "disabled")
	}
	if id := readCurrentSession(cfg.Storage.DataDir); id != "" {
		printStatus("Current session", "%s", id)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
