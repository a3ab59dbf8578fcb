package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wtask/chatrelay/internal/chat"
	"github.com/wtask/chatrelay/internal/chat/metrics"
)

func main() {
	if err := newRootCommand(run).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s (v%s) error:\n\n\t%s\n", BinaryName, Version, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config Configuration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := newLogger(config.LogLevel, config.LogDev)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("version", Version))
	logger.Info("started", zap.Any("config", config))

	tlsConfig, err := chat.LoadTLSConfig(config.CertFile, config.KeyFile)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.New(registry)
	if err != nil {
		return err
	}

	server, err := chat.NewServer(
		chat.WithLogger(logger.Named("chat")),
		chat.WithTLSConfig(tlsConfig),
		chat.WithRegisterTimeout(config.RegisterTimeout),
		chat.WithReadTimeout(config.ReadTimeout),
		chat.WithWriteTimeout(config.WriteTimeout),
		chat.WithMaxFrameSize(config.MaxFrame),
		chat.WithMetrics(recorder),
	)
	if err != nil {
		return err
	}

	listeners := []net.Listener{}
	closeAll := func() {
		for _, l := range listeners {
			l.Close()
		}
	}
	listen := func(addr string) (net.Listener, error) {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("can't listen %s: %w", addr, err)
		}
		listeners = append(listeners, l)
		return l, nil
	}

	tcp, err := listen(config.Address())
	if err != nil {
		return err
	}
	var ws, metricsListener net.Listener
	if config.WebSocketAddr != "" {
		if ws, err = listen(config.WebSocketAddr); err != nil {
			return err
		}
	}
	if config.MetricsAddr != "" {
		if metricsListener, err = listen(config.MetricsAddr); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return ignoreClosed(server.Serve(tcp))
	})
	if ws != nil {
		group.Go(func() error {
			return ignoreClosed(server.ServeWebSocket(ws))
		})
	}
	var metricsServer *http.Server
	if metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		logger.Info("serving metrics", zap.String("addr", metricsListener.Addr().String()))
		group.Go(func() error {
			return ignoreClosed(metricsServer.Serve(metricsListener))
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("got stop signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		from := time.Now()
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
		err := server.Shutdown(shutdownCtx)
		logger.Info("chat server stopped, bye", zap.Duration("elapsed", time.Since(from)))
		return err
	})

	return group.Wait()
}

func ignoreClosed(err error) error {
	if errors.Is(err, chat.ErrServerClosed) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
