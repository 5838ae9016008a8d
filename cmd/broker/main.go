package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/stefan1627/pubsub-broker/internal/config"
	"github.com/stefan1627/pubsub-broker/internal/limits"
	"github.com/stefan1627/pubsub-broker/internal/logging"
	"github.com/stefan1627/pubsub-broker/internal/metrics"
	"github.com/stefan1627/pubsub-broker/internal/reactor"
	"github.com/stefan1627/pubsub-broker/internal/sysmon"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <port>\n", os.Args[0])
		return 1
	}
	port, err := strconv.Atoi(os.Args[1])
	if err != nil || port <= 0 || port > 65535 {
		fmt.Fprintf(os.Stderr, "invalid port %q\n", os.Args[1])
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger := logging.New(cfg)
	// automaxprocs sets GOMAXPROCS from the container's CPU quota on import.
	logger.Debug().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("startup")

	addr := &net.TCPAddr{IP: net.IPv4zero, Port: port}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		logger.Error().Err(err).Int("port", port).Msg("failed to bind tcp listener")
		return 1
	}

	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		logger.Error().Err(err).Int("port", port).Msg("failed to bind udp socket")
		_ = listener.Close()
		return 1
	}

	metricsRegistry := metrics.New()

	admitter := limits.New(limits.Config{
		GlobalPerSec: cfg.GlobalConnPerSec,
		GlobalBurst:  cfg.GlobalConnBurst,
		IPPerSec:     cfg.MaxConnPerSec,
		IPBurst:      cfg.MaxConnBurst,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer logging.RecoverPanic(logger, "sysmon")
		sysmon.Run(ctx, cfg.MetricsInterval, metricsRegistry)
	}()

	go func() {
		defer logging.RecoverPanic(logger, "metrics-http")
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsRegistry.Handler())
		srv := &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics http server stopped")
		}
	}()

	r, err := reactor.New(logger, listener, udp, os.Stdin, admitter, metricsRegistry)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize reactor")
		return 1
	}

	logger.Info().Int("port", port).Msg("broker listening")

	if err := r.Run(); err != nil {
		logger.Error().Err(err).Msg("reactor stopped with error")
		return 1
	}

	logger.Info().Msg("broker shut down cleanly")
	return 0
}
