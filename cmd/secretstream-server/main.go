package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ogier/pflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rudd-O/secretstream"
	"github.com/Rudd-O/secretstream/internal/config"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML configuration file")
	listen := pflag.StringP("listen", "l", "", "address to accept connections on")
	secret := pflag.StringP("secret", "s", "", "identity secret file")
	networkID := pflag.StringP("network-id", "n", "", "network id, hex or base64")
	allow := pflag.StringP("allow", "a", "", "comma separated client keys allowed to connect (default any)")
	metricsListen := pflag.String("metrics-listen", "", "address to serve Prometheus metrics on")
	logLevel := pflag.String("log-level", "", "debug, info, warn or error")
	pflag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "secretstream-server: %s\n", err)
		os.Exit(2)
	}
	pflag.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "secret":
			cfg.SecretFile = *secret
		case "network-id":
			cfg.NetworkID = *networkID
		case "allow":
			cfg.AllowedClients = strings.Split(*allow, ",")
		case "metrics-listen":
			cfg.MetricsListen = *metricsListen
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	logger := cfg.Logger()
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := newServer(cfg, logger)
	if err != nil {
		return err
	}

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	inner, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("could not listen: %w", err)
	}
	ln := secretstream.NewListener(inner, server, secretstream.ListenerOptions{
		HandshakeTimeout: cfg.HandshakeTimeout,
		RatePerSecond:    cfg.RateLimit.PerSecond,
		Burst:            cfg.RateLimit.Burst,
	})
	context.AfterFunc(ctx, func() { ln.Close() })
	logger.Info("listening", "addr", ln.Addr().String(), "id", server.Identity.Public.String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go echo(conn.(*secretstream.EncryptedConn), logger)
	}
}

func newServer(cfg config.Server, logger *slog.Logger) (*secretstream.Server, error) {
	path := cfg.SecretFile
	if path == "" {
		var err error
		if path, err = secretstream.DefaultSecretPath(); err != nil {
			return nil, err
		}
	}
	identity, err := secretstream.LoadSecretFile(path)
	if err != nil {
		return nil, err
	}
	netID, err := secretstream.NetworkIDFromString(cfg.NetworkID)
	if err != nil {
		return nil, err
	}
	server := &secretstream.Server{
		NetworkID: netID,
		Identity:  identity,
		Logger:    logger,
		Metrics:   secretstream.NewMetrics(prometheus.DefaultRegisterer),
	}
	if len(cfg.AllowedClients) > 0 {
		keys := secretstream.NewPubkeySet()
		for _, s := range cfg.AllowedClients {
			k, err := secretstream.PubkeyFromString(s)
			if err != nil {
				return nil, fmt.Errorf("allowed client: %w", err)
			}
			keys[k] = struct{}{}
		}
		server.KeyStore = keys
	}
	return server, nil
}

// echo sends every message back until the client says goodbye.
func echo(conn *secretstream.EncryptedConn, logger *slog.Logger) {
	defer conn.Close()
	log := logger.With("peer", conn.PeerKey().String(), "remote", conn.RemoteAddr().String())
	log.Info("client connected")
	n := 0
	for {
		msg, err := conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("connection ended", "error", err, "messages", n)
				return
			}
			log.Info("client said goodbye", "messages", n)
			return
		}
		if _, err := conn.Write(msg); err != nil {
			log.Warn("write failed", "error", err)
			return
		}
		n++
	}
}
