package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/ticketboard/internal/api"
	"github.com/kalambet/ticketboard/internal/config"
	"github.com/kalambet/ticketboard/internal/remote"
	"github.com/kalambet/ticketboard/internal/storage"
	"github.com/kalambet/ticketboard/internal/ticket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference ticket store (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		return runServer(cmd.Context(), port)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ticket store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (overrides server.port)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "ticketboard.pid")
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

func runServer(ctx context.Context, port int) error {
	fmt.Fprintf(os.Stderr, "ticketboard version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)
	if port == 0 {
		port = cfg.Server.Port
	}

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	probe := remote.New(fmt.Sprintf("http://127.0.0.1:%d", port), 2*time.Second)
	if probe.Ping(ctx) == nil {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("ticketboard is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("a ticket store is already running on port %d", port)
		return fmt.Errorf("server already running on port %d", port)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if versions, err := store.AppliedMigrations(); err == nil {
		slog.Debug("schema ready", "migrations", versions)
	}
	if counts, err := store.CountByStatus(); err == nil {
		slog.Info("ticket store opened", "data_dir", cfg.Storage.DataDir, "tickets", countLabel(counts))
	}

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewAppHandler(api.AppDeps{Store: store, Logger: slog.Default()}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		printStep("ticket store listening on %s (data in %s)", addr, cfg.Storage.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	client, err := newStoreClient()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	printStatus(out, "Store", "%s", client.BaseURL())
	pingCtx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		printStatus(out, "Server", "unreachable")
		printStatus(out, "Config file", "%s", config.FilePath())
		return nil
	}
	printStatus(out, "Server", "running")

	tickets, err := client.List(cmd.Context())
	if err != nil {
		printStatus(out, "Tickets", "error: %v", err)
	} else {
		counts := make(map[ticket.Status]int, len(ticket.Statuses))
		for _, t := range tickets {
			counts[t.Status]++
		}
		printStatus(out, "Tickets", "%d (%s)", len(tickets), countLabel(counts))
	}
	printStatus(out, "Config file", "%s", config.FilePath())
	return nil
}
