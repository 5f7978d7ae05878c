// logreach server
//
// Features:
// - Remote log browsing, search, tail, and download over SSH/SFTP
// - Pooled sessions with keepalive probing and bounded reconnects
// - Security gate on every path and remote command
// - LRU+TTL content cache
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/logreach/logreach/internal/api"
	"github.com/logreach/logreach/internal/cache"
	"github.com/logreach/logreach/internal/config"
	"github.com/logreach/logreach/internal/engine"
	"github.com/logreach/logreach/internal/logging"
	"github.com/logreach/logreach/internal/metrics"
	"github.com/logreach/logreach/internal/security"
	"github.com/logreach/logreach/internal/sshpool"
)

func main() {
	// Load configuration
	opts, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  opts.LogLevel,
		Format: opts.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("logreach server starting...",
		zap.String("listen", opts.ListenAddr),
		zap.String("metrics", opts.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Validate the remote identity before anything touches the network.
	gate := security.NewGate()
	creds := sshpool.Credentials{
		Host:     opts.SSHHost,
		Port:     opts.SSHPort,
		Username: opts.SSHUsername,
		Password: opts.SSHPassword,
	}
	if err := gate.ValidateCredentials(creds.Host, creds.Port, creds.Username, creds.Password); err != nil {
		logging.Fatal("invalid remote identity", zap.Error(err))
	}
	logging.Info("remote identity configured", zap.String("identity", creds.Key()))

	// Session pool
	pool := sshpool.New(sshpool.Config{
		ConnectTimeout: opts.ConnectTimeout,
		CommandTimeout: opts.CommandTimeout,
	})
	defer pool.CloseAll()

	// Content cache
	contentCache := cache.New(opts.CacheSize)
	logging.Info("content cache initialized", zap.Int64("capacity", opts.CacheSize))

	// Engine
	eng := engine.New(gate, pool, contentCache, creds, engine.Options{
		DefaultLogPath:  opts.DefaultLogPath,
		MaxFileSize:     opts.MaxFileSize,
		MaxPreviewLines: opts.MaxPreviewLines,
		ChunkSize:       opts.ChunkSize,
	})

	// API server
	srv := api.NewServer(eng)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    opts.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", opts.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// HTTP server
	httpServer := &http.Server{
		Addr:    opts.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	// Periodic cache sweep and gauge refresh
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := contentCache.Sweep(); n > 0 {
					logging.Debug("cache sweep", zap.Int("expired", n))
				}
				metrics.SetCacheBytesUsed(contentCache.Stats().Used)
			}
		}
	}()

	logging.Info("server listening", zap.String("addr", opts.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
