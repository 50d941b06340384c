package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/persai/persai/internal/dependency"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the persai HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	container, err := dependency.New(cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	// Graceful shutdown context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := container.Registry().Reload(ctx)
	fmt.Printf("%s Plugins: %s\n", logo, res)
	for _, f := range res.Failed() {
		fmt.Printf("  ✗ %s: %s\n", f.ID, f.Error)
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           container.Handlers().Routes(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", addr)
		return serveHTTP(gctx, srv, ln, shutdownGrace)
	})
	if sched := container.Scheduler(); sched != nil {
		g.Go(func() error { return sched.Start(gctx) })
	}

	fmt.Printf("%s Serving on http://%s. Press Ctrl+C to stop.\n", logo, addr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Server error", "err", err)
		return err
	}
	fmt.Println("\nShutdown complete.")
	return nil
}

// shutdownGrace bounds how long in-flight streams may run after a signal.
const shutdownGrace = 10 * time.Second

// serveHTTP serves on ln until ctx is done, then shuts down gracefully.
// Request contexts are not tied to ctx, so open streams finish within grace.
func serveHTTP(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	return nil
}
