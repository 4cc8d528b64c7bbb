package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/semantic-memory/internal/server"
	"github.com/rcliao/semantic-memory/internal/tracing"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Run the HTTP API. The embedding model is loaded before the listener starts; SIGINT or SIGTERM shuts down gracefully.",
		Run:   runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := openApp(reg)
	if err != nil {
		exitErr("init", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    a.cfg.Telemetry.Endpoint,
		Insecure:    a.cfg.Telemetry.Insecure,
		ServiceName: a.cfg.Telemetry.ServiceName,
		Version:     Version,
	}, a.logger)
	if err != nil {
		exitErr("tracing", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.logger.Warn("tracing shutdown", "error", err)
		}
	}()

	if err := a.provider.Load(ctx); err != nil {
		exitErr("load embedding model", err)
	}

	srv := server.New(server.Config{
		Service:      a.svc,
		Pinger:       a.store,
		Logger:       a.logger.With("component", "http"),
		Registry:     reg,
		RateLimitRPM: a.cfg.API.RateLimitRPM,
		Version:      Version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, a.cfg.API.Addr(), a.cfg.API.ShutdownTimeout)
	})
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)
		select {
		case s := <-sig:
			a.logger.Info("shutdown signal received", "signal", s.String())
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		a.Close()
		exitErr("serve", err)
	}
	a.logger.Info("server stopped")
}
