package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxgate/voxgate/internal/api"
	"github.com/voxgate/voxgate/internal/call"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/dashboard"
	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/media"
	"github.com/voxgate/voxgate/internal/metrics"
	sipserver "github.com/voxgate/voxgate/internal/sip"
	"github.com/voxgate/voxgate/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// The capture handler tees call-tagged records into the call record.
	capture := call.NewCaptureHandler(cfg.SlogHandler(os.Stdout))
	logger := slog.New(capture)
	slog.SetDefault(logger)

	slog.Info("starting voxgate",
		"http_port", cfg.HTTPPort,
		"sip_listen_port", cfg.SIPListenPort,
		"data_dir", cfg.DataDir,
	)

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Resolve the public IP before the SIP stack advertises anything.
	if cfg.PublicIP == "" {
		ctx, cancel := context.WithTimeout(appCtx, 10*time.Second)
		ip, err := sipserver.DiscoverPublicIP(ctx, cfg.STUNServerList(), logger)
		cancel()
		if err != nil {
			slog.Warn("stun discovery failed, using local address", "error", err)
		} else {
			cfg.PublicIP = ip
			slog.Info("public ip discovered", "ip", ip)
		}
	}

	access := database.NewAccessStore(db, logger)
	calls := database.NewCallRepository(db)
	hub := dashboard.NewHub(logger)
	taskStore := tasks.NewStore(logger)
	executor := tasks.NewExecutor(taskStore)
	taskStore.Subscribe(func(t tasks.Task) {
		hub.Broadcast(dashboard.NewTaskUpdate(t))
	})

	coordinator := call.NewCoordinator(cfg, access, calls, hub, taskStore, capture, logger)

	ports, err := media.NewPortPool(cfg.RTPPortMin, cfg.RTPPortMax, logger)
	if err != nil {
		slog.Error("failed to create rtp port pool", "error", err)
		os.Exit(1)
	}

	sipSrv, err := sipserver.NewServer(cfg, ports, coordinator)
	if err != nil {
		slog.Error("failed to create sip server", "error", err)
		os.Exit(1)
	}

	coordinator.SetRegistrationProbe(func() bool {
		reg := sipSrv.Registrar()
		return reg != nil && reg.State().Status == sipserver.StatusRegistered
	})
	if reg := sipSrv.Registrar(); reg != nil {
		reg.SetOnChange(func(st sipserver.RegistrarState) {
			hub.Broadcast(coordinator.Status())
		})
	}

	if err := sipSrv.Start(appCtx); err != nil {
		slog.Error("failed to start sip server", "error", err)
		os.Exit(1)
	}

	// Metrics: gauges and counters gathered at scrape time.
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(
		&trunkAdapter{srv: sipSrv},
		sipSrv,
		&rtpAdapter{srv: sipSrv},
		calls,
		hub,
		time.Now(),
	))

	handler, err := api.NewServer(api.Deps{
		Config:      cfg,
		Calls:       calls,
		Access:      access,
		Coordinator: coordinator,
		Hub:         hub,
		Tasks:       taskStore,
		Executor:    executor,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:      logger,
	})
	if err != nil {
		slog.Error("failed to create http server", "error", err)
		os.Exit(1)
	}
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	sipSrv.Stop()
	hub.Close()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("voxgate stopped")
}

// trunkAdapter bridges the registrar to the metrics TrunkProvider.
type trunkAdapter struct {
	srv *sipserver.Server
}

func (a *trunkAdapter) Registered() bool {
	reg := a.srv.Registrar()
	return reg != nil && reg.State().Status == sipserver.StatusRegistered
}

func (a *trunkAdapter) Status() string {
	reg := a.srv.Registrar()
	if reg == nil {
		return "disabled"
	}
	return string(reg.State().Status)
}

// rtpAdapter aggregates media stats over the active calls.
type rtpAdapter struct {
	srv *sipserver.Server
}

func (a *rtpAdapter) RTPStats() metrics.RTPStats {
	var out metrics.RTPStats
	for _, c := range a.srv.ActiveCalls() {
		stats := c.Media.Stats()
		out.SessionsActive++
		out.PacketsIn += stats.PacketsIn
		out.PacketsOut += stats.PacketsOut
		out.PacketsDropped += stats.PacketsDropped
		out.FramesDropped += stats.FramesDropped
		out.BytesIn += stats.BytesIn
		out.BytesOut += stats.BytesOut
	}
	return out
}
