// Package config loads YAML configuration for the secretstream commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Rudd-O/secretstream/internal/logging"
)

// Common holds settings shared by every command.
type Common struct {
	SecretFile string `yaml:"secretFile"`
	NetworkID  string `yaml:"networkID"`
	LogLevel   string `yaml:"logLevel"`
	LogFormat  string `yaml:"logFormat"`
}

// Server configures secretstream-server.
type Server struct {
	Common           `yaml:",inline"`
	Listen           string        `yaml:"listen"`
	MetricsListen    string        `yaml:"metricsListen"`
	AllowedClients   []string      `yaml:"allowedClients"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	RateLimit        RateLimit     `yaml:"rateLimit"`
}

// RateLimit bounds new connections per remote host.
type RateLimit struct {
	PerSecond float64 `yaml:"perSecond"`
	Burst     int     `yaml:"burst"`
}

// Client configures secretstream-client.
type Client struct {
	Common  `yaml:",inline"`
	Remote  string        `yaml:"remote"`
	Timeout time.Duration `yaml:"timeout"`
}

func defaultCommon() Common {
	return Common{
		NetworkID: "d4a1cb88a66f02f8db635ce26441cc5dac1b08420ceaac230839b755845a9ffb",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// DefaultServer returns the server settings used when no file overrides them.
func DefaultServer() Server {
	return Server{
		Common:           defaultCommon(),
		Listen:           ":8008",
		HandshakeTimeout: 10 * time.Second,
		RateLimit:        RateLimit{PerSecond: 5, Burst: 20},
	}
}

// DefaultClient returns the client settings used when no file overrides them.
func DefaultClient() Client {
	return Client{
		Common:  defaultCommon(),
		Timeout: 10 * time.Second,
	}
}

// LoadServer reads path over the defaults. An empty path yields the defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := load(path, &cfg); err != nil {
		return Server{}, err
	}
	return cfg, cfg.Validate()
}

// LoadClient reads path over the defaults. An empty path yields the defaults.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := load(path, &cfg); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

func load(path string, dst any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks values the YAML decoder cannot.
func (s Server) Validate() error {
	if s.Listen == "" {
		return errors.New("listen address is required")
	}
	if s.HandshakeTimeout < 0 {
		return errors.New("handshakeTimeout must not be negative")
	}
	if s.RateLimit.PerSecond < 0 || s.RateLimit.Burst < 0 {
		return errors.New("rateLimit values must not be negative")
	}
	return nil
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c Common) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Logger builds the logger described by LogLevel and LogFormat, writing to
// stderr. Attributes that look like key material are redacted.
func (c Common) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	var h slog.Handler
	if strings.EqualFold(c.LogFormat, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logging.WrapHandler(h))
}
