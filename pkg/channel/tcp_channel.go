package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const tcpReadChunk = 4096

// TCPChannel implements PhysicalChannel for a TCP client connection.
// Read returns raw byte chunks; there is no reconnection, a peer close is
// reported as io.EOF.
type TCPChannel struct {
	// Connection
	conn     net.Conn
	connLock sync.RWMutex

	// Configuration
	address      string
	dialTimeout  time.Duration
	pollInterval time.Duration
	writeTimeout time.Duration

	stats counters

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// TCPChannelConfig configures a TCP channel
type TCPChannelConfig struct {
	Address      string        // "host:port" format
	DialTimeout  time.Duration // Connect timeout (0 = 10s)
	PollInterval time.Duration // Upper bound of one blocking read (0 = DefaultPollInterval)
	WriteTimeout time.Duration // Write timeout (0 = 5s)
}

// NewTCPChannel connects to the server.
func NewTCPChannel(ctx context.Context, config TCPChannelConfig) (*TCPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 5 * time.Second
	}

	lifeCtx, cancel := context.WithCancel(context.Background())

	tc := &TCPChannel{
		address:      config.Address,
		dialTimeout:  config.DialTimeout,
		pollInterval: config.PollInterval,
		writeTimeout: config.WriteTimeout,
		ctx:          lifeCtx,
		cancel:       cancel,
	}

	if err := tc.connect(ctx); err != nil {
		cancel()
		return nil, err
	}

	return tc, nil
}

func (tc *TCPChannel) connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: tc.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", tc.address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", tc.address, err)
	}

	tc.connLock.Lock()
	tc.conn = conn
	tc.stats.connects.Add(1)
	tc.connLock.Unlock()

	return nil
}

// Read implements PhysicalChannel.Read
func (tc *TCPChannel) Read(ctx context.Context) ([]byte, error) {
	buffer := make([]byte, tcpReadChunk)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tc.ctx.Done():
			return nil, ErrChannelClosed
		default:
		}

		tc.connLock.RLock()
		conn := tc.conn
		tc.connLock.RUnlock()

		if conn == nil {
			return nil, ErrChannelClosed
		}

		conn.SetReadDeadline(readDeadline(ctx, tc.pollInterval))

		n, err := conn.Read(buffer)
		if n > 0 {
			tc.stats.bytesReceived.Add(uint64(n))
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			return chunk, nil
		}
		if err == nil || isTimeout(err) {
			continue
		}
		if tc.closed.Load() {
			return nil, ErrChannelClosed
		}
		if errors.Is(err, io.EOF) {
			tc.markDisconnected()
			return nil, io.EOF
		}

		tc.stats.readErrors.Add(1)
		tc.markDisconnected()
		return nil, err
	}
}

// Write implements PhysicalChannel.Write
func (tc *TCPChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tc.ctx.Done():
		return ErrChannelClosed
	default:
	}

	tc.connLock.RLock()
	conn := tc.conn
	tc.connLock.RUnlock()

	if conn == nil {
		tc.stats.writeErrors.Add(1)
		return ErrChannelClosed
	}

	if tc.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(tc.writeTimeout))
	}

	if _, err := conn.Write(data); err != nil {
		tc.stats.writeErrors.Add(1)
		return err
	}

	tc.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// markDisconnected drops a dead connection so later calls fail fast.
func (tc *TCPChannel) markDisconnected() {
	tc.connLock.Lock()
	defer tc.connLock.Unlock()

	if tc.conn != nil {
		tc.conn.Close()
		tc.stats.disconnects.Add(1)
		tc.conn = nil
	}
}

// Close implements PhysicalChannel.Close
func (tc *TCPChannel) Close() error {
	if !tc.closed.CompareAndSwap(false, true) {
		return nil
	}

	tc.cancel()
	tc.markDisconnected()
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (tc *TCPChannel) Statistics() TransportStats {
	return tc.stats.snapshot()
}

// RemoteAddr returns the remote address of the connection
func (tc *TCPChannel) RemoteAddr() net.Addr {
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	if tc.conn != nil {
		return tc.conn.RemoteAddr()
	}
	return nil
}
