// Command ipk24chat-client is an interactive client for the IPK24-CHAT
// protocol over UDP, TCP or QUIC.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"avaneesh/ipk24chat-go/internal/logger"
	"avaneesh/ipk24chat-go/pkg/channel"
	"avaneesh/ipk24chat-go/pkg/client"
	"avaneesh/ipk24chat-go/pkg/config"
	"avaneesh/ipk24chat-go/pkg/transport"
)

const exitFailure = 1

var (
	configFile     string
	transportFlag  string
	hostFlag       string
	portFlag       int
	timeoutMSFlag  int
	retransmitFlag int
	insecureFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "ipk24chat-client -t udp|tcp|quic -s host [flags]",
	Short: "Chat client for the IPK24-CHAT protocol",
	Long: `ipk24chat-client connects to an IPK24-CHAT server and relays chat
commands read from standard input.

Commands:
  /auth {Username} {Secret} {DisplayName}
  /join {ChannelID}
  /rename {DisplayName}
  /help
  /bye

Any other line is sent as a message. Chat output is written to stdout;
errors and reply outcomes are written to stderr.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runClient,
}

// exitError carries a process exit status out of RunE. A silent error was
// already reported to the user.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if !errors.As(err, &ee) {
			ee = &exitError{code: exitFailure, err: err}
		}
		if !ee.silent {
			fmt.Fprintf(os.Stderr, "ERR: %v\n", ee.err)
		}
		os.Exit(ee.code)
	}
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "TOML configuration file; flags override its values")
	flags.StringVarP(&transportFlag, "transport", "t", "", "transport protocol: udp, tcp or quic")
	flags.StringVarP(&hostFlag, "server", "s", "", "server IP address or hostname")
	flags.IntVarP(&portFlag, "port", "p", config.DefaultPort, "server port")
	flags.IntVarP(&timeoutMSFlag, "timeout", "d", int(config.DefaultConfirmationTimeout/time.Millisecond), "UDP confirmation timeout in milliseconds")
	flags.IntVarP(&retransmitFlag, "retransmissions", "r", config.DefaultMaxRetransmissions, "maximum number of UDP retransmissions")
	flags.BoolVar(&insecureFlag, "insecure", false, "accept self-signed QUIC server certificates")
}

// resolveConfig layers defaults, the optional file and explicitly set flags.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	if configFile != "" {
		loaded, err := config.LoadFile(configFile, cfg)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		kind, err := config.ParseKind(transportFlag)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Transport = kind
	}
	if flags.Changed("server") {
		cfg.Host = hostFlag
	}
	if flags.Changed("port") {
		cfg.Port = portFlag
	}
	if flags.Changed("timeout") {
		cfg.ConfirmationTimeout = time.Duration(timeoutMSFlag) * time.Millisecond
	}
	if flags.Changed("retransmissions") {
		cfg.MaxRetransmissions = retransmitFlag
	}
	if flags.Changed("insecure") {
		cfg.QUICInsecure = insecureFlag
	}

	return cfg, cfg.Validate()
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}

	base, closeLog, err := logger.ConfigureFromEnv(cfg.LogLevel)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	defer closeLog()

	log := base.With("session", uuid.NewString())
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("connecting to %s over %s", cfg.Address(), cfg.Transport)
	ch, t, err := dial(ctx, cfg, log)
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}

	session := client.NewSession(t, client.Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: log,
	})

	runErr := session.Run(ctx, os.Stdin)

	stats := ch.Statistics()
	log.Debug("channel closed: sent=%d received=%d bytes, write errors=%d, read errors=%d, peer changes=%d",
		stats.BytesSent, stats.BytesReceived, stats.WriteErrors, stats.ReadErrors, stats.PeerChanges)

	if errors.Is(runErr, client.ErrProtocol) {
		return &exitError{code: exitFailure, err: runErr, silent: true}
	}
	if runErr != nil {
		return &exitError{code: exitFailure, err: runErr}
	}
	return nil
}

// dial opens the physical channel for cfg.Transport and wraps it in the
// matching message transport.
func dial(ctx context.Context, cfg config.Config, log logger.Logger) (channel.PhysicalChannel, transport.Transport, error) {
	tcfg := transport.Config{
		ConfirmationTimeout: cfg.ConfirmationTimeout,
		MaxRetransmissions:  cfg.MaxRetransmissions,
		ReplyTimeout:        cfg.ReplyTimeout,
		Logger:              log,
	}

	switch cfg.Transport {
	case config.KindUDP:
		ch, err := channel.NewUDPChannel(channel.UDPChannelConfig{Address: cfg.Address()})
		if err != nil {
			return nil, nil, err
		}
		return ch, transport.NewDatagram(ch, tcfg), nil

	case config.KindTCP:
		ch, err := channel.NewTCPChannel(ctx, channel.TCPChannelConfig{Address: cfg.Address()})
		if err != nil {
			return nil, nil, err
		}
		return ch, transport.NewStream(ch, tcfg), nil

	case config.KindQUIC:
		ch, err := channel.NewQUICChannel(ctx, channel.QUICChannelConfig{
			Address:            cfg.Address(),
			InsecureSkipVerify: cfg.QUICInsecure,
		})
		if err != nil {
			return nil, nil, err
		}
		return ch, transport.NewStream(ch, tcfg), nil
	}

	return nil, nil, fmt.Errorf("%w: unknown transport %q", config.ErrInvalidConfig, cfg.Transport)
}
