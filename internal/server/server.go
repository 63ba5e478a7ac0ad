// Package server wires the gateway, dispatcher and stores into HTTP
// listeners and manages their lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/directory"
	"github.com/parley-chat/parley/internal/dispatch"
	"github.com/parley-chat/parley/internal/gate"
	"github.com/parley-chat/parley/internal/gateway"
	"github.com/parley-chat/parley/internal/history"
)

// Node hosts the websocket listener and the admin endpoints.
type Node struct {
	cfg       config.Config
	log       *zap.Logger
	directory directory.Directory
	store     history.Store

	sessions  *gateway.Sessions
	wsServer  *http.Server
	adminHTTP *http.Server
	ready     atomic.Bool
}

// NewNode constructs a node over the given durable backends.
func NewNode(cfg config.Config, logger *zap.Logger, dir directory.Directory, store history.Store) *Node {
	return &Node{
		cfg:       cfg,
		log:       logger,
		directory: dir,
		store:     store,
		sessions:  gateway.NewSessions(),
	}
}

// Start boots the listeners and blocks until ctx is canceled or the
// websocket listener fails.
func (n *Node) Start(ctx context.Context) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := dispatch.NewMetrics(promReg)
	n.startAdminServer(promReg)

	deliveryGate := gate.New(n.log, n.sessions)
	dispatcher := dispatch.New(n.log, n.directory, n.store, deliveryGate, dispatch.Options{Metrics: metrics})

	wsHandler := gateway.NewHandler(n.log, n.sessions, dispatcher, metrics, gateway.Limits{
		SendBuffer:   n.cfg.Gateway.SendBuffer,
		ReadLimit:    n.cfg.Gateway.ReadLimit,
		WriteTimeout: n.cfg.Gateway.WriteTimeout,
		PingPeriod:   n.cfg.Gateway.PingPeriod,
		ReadTimeout:  n.cfg.Gateway.ReadTimeout,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)

	lis, err := net.Listen("tcp", n.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.cfg.ListenAddress, err)
	}

	n.wsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), n.cfg.ShutdownGracePeriod)
		defer cancel()
		n.Shutdown(stopCtx)
	}()

	n.log.Info("gateway listening", zap.String("address", n.cfg.ListenAddress))
	n.ready.Store(true)
	err = n.wsServer.Serve(lis)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve gateway: %w", err)
	}
	return nil
}

func (n *Node) startAdminServer(reg *prometheus.Registry) {
	if n.cfg.AdminAddress == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if n.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	n.adminHTTP = &http.Server{
		Addr:              n.cfg.AdminAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := n.adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	n.log.Info("admin server listening", zap.String("address", n.cfg.AdminAddress))
}

// Shutdown drains the listeners and closes live connections.
func (n *Node) Shutdown(ctx context.Context) {
	n.ready.Store(false)

	if n.adminHTTP != nil {
		if err := n.adminHTTP.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if n.wsServer == nil {
		return
	}
	n.sessions.Close()
	if err := n.wsServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		n.log.Warn("gateway shutdown timed out; forcing close", zap.Error(err))
		_ = n.wsServer.Close()
		return
	}
	n.log.Info("gateway stopped")
}
