// The agent-bridge is the control daemon running inside each sandbox
// container. It serves the websocket control protocol on the container
// network: the teledocker daemon dials in per operation, the bridge executes
// prompts, shell commands, file transfers and health checks on its behalf.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/anggakawa/teledocker/protocol"
)

var version = "dev"

func main() {
	port := flag.Int("port", envInt("BRIDGE_PORT", protocol.DefaultPort), "websocket listen port")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("agent-bridge", version)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	agentBinary := os.Getenv("AGENT_CMD")
	if agentBinary == "" {
		agentBinary = defaultAgentBinary
	}

	ensureAgentStateDir(protocol.WorkspacePath, logger)

	srv := newServer(protocol.WorkspacePath, agentBinary, logger)

	mux := http.NewServeMux()
	mux.Handle("/", srv)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}()

	logger.Info("agent bridge listening", "addr", httpSrv.Addr, "agent", agentBinary, "version", version)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}
}

// ensureAgentStateDir creates the agent CLI state directory on the workspace
// volume. ~/.claude inside the container is a symlink pointing here; if the
// target directory is missing the CLI cannot persist conversation state
// through the dangling link.
func ensureAgentStateDir(workspace string, logger *slog.Logger) {
	dir := filepath.Join(workspace, agentStateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("agent state dir", "path", dir, "error", err)
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
