package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/ogier/pflag"

	"github.com/Rudd-O/secretstream"
	"github.com/Rudd-O/secretstream/internal/config"
	"github.com/Rudd-O/secretstream/internal/multiserver"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML configuration file")
	remote := pflag.StringP("remote", "r", "", "server multiserver address, net:host:port~shs:key")
	secret := pflag.StringP("secret", "s", "", "identity secret file")
	networkID := pflag.StringP("network-id", "n", "", "network id, hex or base64")
	timeout := pflag.DurationP("timeout", "t", 0, "dial and handshake timeout")
	logLevel := pflag.String("log-level", "", "debug, info, warn or error")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: secretstream-client [flags] <message>...\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "secretstream-client: %s\n", err)
		os.Exit(2)
	}
	pflag.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "remote":
			cfg.Remote = *remote
		case "secret":
			cfg.SecretFile = *secret
		case "network-id":
			cfg.NetworkID = *networkID
		case "timeout":
			cfg.Timeout = *timeout
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if cfg.Remote == "" || pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	logger := cfg.Logger()
	if err := run(cfg, pflag.Args(), logger); err != nil {
		logger.Error("client failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Client, messages []string, logger *slog.Logger) error {
	addrs, err := multiserver.Parse(cfg.Remote)
	if err != nil {
		return err
	}
	if len(addrs.Addresses) == 0 {
		return fmt.Errorf("no address in %q", cfg.Remote)
	}
	hostport, key, err := addrs.Addresses[0].NetSHS()
	if err != nil {
		return err
	}
	serverKey, err := secretstream.PubkeyFromString(key)
	if err != nil {
		return err
	}

	path := cfg.SecretFile
	if path == "" {
		if path, err = secretstream.DefaultSecretPath(); err != nil {
			return err
		}
	}
	identity, err := secretstream.LoadSecretFile(path)
	if err != nil {
		return err
	}
	netID, err := secretstream.NetworkIDFromString(cfg.NetworkID)
	if err != nil {
		return err
	}
	client := &secretstream.Client{NetworkID: netID, Identity: identity, Logger: logger}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return err
	}
	sender, receiver, err := client.Connect(ctx, raw, serverKey)
	if err != nil {
		return err
	}
	defer receiver.Close()
	logger.Debug("connected", "server", serverKey.String(), "addr", hostport)

	for _, m := range messages {
		if err := sender.Send([]byte(m)); err != nil {
			return err
		}
		reply, err := receiver.Next()
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", reply)
	}
	return sender.Close()
}
