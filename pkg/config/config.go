// Package config holds the client's connection and reliability settings.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"avaneesh/ipk24chat-go/internal/logger"
)

// Kind selects the wire protocol.
type Kind string

const (
	KindUDP  Kind = "udp"
	KindTCP  Kind = "tcp"
	KindQUIC Kind = "quic"
)

const (
	DefaultPort                = 4567
	DefaultConfirmationTimeout = 250 * time.Millisecond
	DefaultMaxRetransmissions  = 3
	DefaultReplyTimeout        = 5 * time.Second
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the resolved client configuration.
type Config struct {
	Transport           Kind
	Host                string
	Port                int
	ConfirmationTimeout time.Duration
	MaxRetransmissions  int
	ReplyTimeout        time.Duration
	LogLevel            logger.Level

	// QUICInsecure accepts self-signed certificates on the quic transport.
	QUICInsecure bool
}

// Default returns the configuration with every optional value filled in.
// Transport and Host have no default.
func Default() Config {
	return Config{
		Port:                DefaultPort,
		ConfirmationTimeout: DefaultConfirmationTimeout,
		MaxRetransmissions:  DefaultMaxRetransmissions,
		ReplyTimeout:        DefaultReplyTimeout,
		LogLevel:            logger.LevelDisabled,
	}
}

// ParseKind parses a transport name case-insensitively.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindUDP, KindTCP, KindQUIC:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown transport %q (want tcp, udp or quic)", ErrInvalidConfig, raw)
	}
}

// Validate rejects configurations the client cannot run with.
func (c Config) Validate() error {
	if _, err := ParseKind(string(c.Transport)); err != nil {
		return err
	}
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: server host is required", ErrInvalidConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.ConfirmationTimeout <= 0 {
		return fmt.Errorf("%w: confirmation timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxRetransmissions < 0 {
		return fmt.Errorf("%w: retransmissions must not be negative", ErrInvalidConfig)
	}
	if c.ReplyTimeout <= 0 {
		return fmt.Errorf("%w: reply timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Address returns host:port, bracketing IPv6 literals.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type fileConfig struct {
	Transport             string `toml:"transport"`
	Host                  string `toml:"host"`
	Port                  int    `toml:"port"`
	ConfirmationTimeoutMS int64  `toml:"confirmation_timeout_ms"`
	MaxRetransmissions    int    `toml:"max_retransmissions"`
	ReplyTimeout          string `toml:"reply_timeout"`
	LogLevel              string `toml:"log_level"`
	QUICInsecure          bool   `toml:"quic_insecure"`
}

// LoadFile overlays the keys present in the TOML file at path onto base.
func LoadFile(path string, base Config) (Config, error) {
	cfg := base

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}

	if meta.IsDefined("transport") {
		kind, err := ParseKind(raw.Transport)
		if err != nil {
			return Config{}, err
		}
		cfg.Transport = kind
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}

	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}

	if meta.IsDefined("confirmation_timeout_ms") {
		cfg.ConfirmationTimeout = time.Duration(raw.ConfirmationTimeoutMS) * time.Millisecond
	}

	if meta.IsDefined("max_retransmissions") {
		cfg.MaxRetransmissions = raw.MaxRetransmissions
	}

	if meta.IsDefined("reply_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ReplyTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse reply_timeout: %w", err)
		}
		cfg.ReplyTimeout = d
	}

	if meta.IsDefined("log_level") {
		level, ok := logger.ParseLevel(raw.LogLevel)
		if !ok {
			return Config{}, fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, raw.LogLevel)
		}
		cfg.LogLevel = level
	}

	if meta.IsDefined("quic_insecure") {
		cfg.QUICInsecure = raw.QUICInsecure
	}

	return cfg, nil
}
