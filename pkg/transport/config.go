package transport

import (
	"time"

	"avaneesh/ipk24chat-go/internal/logger"
)

// Config holds the reliability knobs of a transport
type Config struct {
	// ConfirmationTimeout bounds the wait for one CONFIRM (datagram only).
	// Default: 250ms
	ConfirmationTimeout time.Duration

	// MaxRetransmissions is the number of resends after the first attempt
	// (datagram only). Default: 3
	MaxRetransmissions int

	// ReplyTimeout bounds the wait for a REPLY on the stream transport.
	// Default: 5s
	ReplyTimeout time.Duration

	// Logger receives protocol diagnostics. Default: logger.GetDefault()
	Logger logger.Logger
}

// DefaultConfig returns default transport configuration
func DefaultConfig() Config {
	return Config{
		ConfirmationTimeout: 250 * time.Millisecond,
		MaxRetransmissions:  3,
		ReplyTimeout:        5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConfirmationTimeout <= 0 {
		c.ConfirmationTimeout = def.ConfirmationTimeout
	}
	if c.MaxRetransmissions < 0 {
		c.MaxRetransmissions = def.MaxRetransmissions
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = def.ReplyTimeout
	}
	if c.Logger == nil {
		c.Logger = logger.GetDefault()
	}
	return c
}

// replyBudget bounds the wait for a REPLY once the request is confirmed.
func (c Config) replyBudget() time.Duration {
	return time.Duration(c.MaxRetransmissions+1) * c.ConfirmationTimeout
}
