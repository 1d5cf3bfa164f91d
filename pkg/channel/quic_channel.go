package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated on QUIC connections.
const ALPN = "ipk24chat"

// QUICChannel implements PhysicalChannel over one bidirectional QUIC
// stream. It carries the same line grammar as TCP.
type QUICChannel struct {
	// Connection
	connection *quic.Conn
	stream     *quic.Stream
	connLock   sync.RWMutex

	// Configuration
	address      string
	dialTimeout  time.Duration
	pollInterval time.Duration
	writeTimeout time.Duration
	tlsConfig    *tls.Config

	stats counters

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// QUICChannelConfig configures a QUIC channel
type QUICChannelConfig struct {
	Address            string        // "host:port" format
	DialTimeout        time.Duration // Handshake timeout (0 = 10s)
	PollInterval       time.Duration // Upper bound of one blocking read (0 = DefaultPollInterval)
	WriteTimeout       time.Duration // Write timeout (0 = 5s)
	TLSConfig          *tls.Config   // Optional; ALPN is forced to ALPN
	InsecureSkipVerify bool          // Accept self-signed server certificates when TLSConfig is nil
}

// NewQUICChannel dials the server and opens the session stream.
func NewQUICChannel(ctx context.Context, config QUICChannelConfig) (*QUICChannel, error) {
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

	qc := &QUICChannel{
		address:      config.Address,
		dialTimeout:  config.DialTimeout,
		pollInterval: config.PollInterval,
		writeTimeout: config.WriteTimeout,
		tlsConfig:    clientTLSConfig(config),
		ctx:          lifeCtx,
		cancel:       cancel,
	}

	if err := qc.connect(ctx); err != nil {
		cancel()
		return nil, err
	}

	return qc, nil
}

func clientTLSConfig(config QUICChannelConfig) *tls.Config {
	var tlsConfig *tls.Config
	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{InsecureSkipVerify: config.InsecureSkipVerify}
	}
	tlsConfig.NextProtos = []string{ALPN}
	if tlsConfig.ServerName == "" {
		if host, _, err := net.SplitHostPort(config.Address); err == nil {
			tlsConfig.ServerName = host
		}
	}
	return tlsConfig
}

func (qc *QUICChannel) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, qc.dialTimeout)
	defer cancel()

	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("failed to create UDP socket: %w", err)
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", qc.address)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("failed to resolve remote address %s: %w", qc.address, err)
	}

	conn, err := quic.Dial(dialCtx, udpConn, remoteAddr, qc.tlsConfig, nil)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("failed to connect to %s: %w", qc.address, err)
	}

	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		udpConn.Close()
		return fmt.Errorf("failed to open stream: %w", err)
	}

	qc.connLock.Lock()
	qc.connection = conn
	qc.stream = stream
	qc.stats.connects.Add(1)
	qc.connLock.Unlock()

	// quic.Dial does not own the socket; release it with the connection
	go func() {
		<-conn.Context().Done()
		udpConn.Close()
	}()

	return nil
}

// Read implements PhysicalChannel.Read
func (qc *QUICChannel) Read(ctx context.Context) ([]byte, error) {
	buffer := make([]byte, tcpReadChunk)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-qc.ctx.Done():
			return nil, ErrChannelClosed
		default:
		}

		qc.connLock.RLock()
		stream := qc.stream
		qc.connLock.RUnlock()

		if stream == nil {
			return nil, ErrChannelClosed
		}

		stream.SetReadDeadline(readDeadline(ctx, qc.pollInterval))

		n, err := stream.Read(buffer)
		if n > 0 {
			qc.stats.bytesReceived.Add(uint64(n))
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			return chunk, nil
		}
		if err == nil || isTimeout(err) {
			continue
		}
		if qc.closed.Load() {
			return nil, ErrChannelClosed
		}

		qc.markDisconnected()
		if errors.Is(err, io.EOF) || isPeerClose(err) {
			return nil, io.EOF
		}
		qc.stats.readErrors.Add(1)
		return nil, err
	}
}

// isPeerClose reports a connection the server closed on purpose.
func isPeerClose(err error) bool {
	var appErr *quic.ApplicationError
	return errors.As(err, &appErr) && appErr.Remote
}

// Write implements PhysicalChannel.Write
func (qc *QUICChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-qc.ctx.Done():
		return ErrChannelClosed
	default:
	}

	qc.connLock.RLock()
	stream := qc.stream
	qc.connLock.RUnlock()

	if stream == nil {
		qc.stats.writeErrors.Add(1)
		return ErrChannelClosed
	}

	if qc.writeTimeout > 0 {
		stream.SetWriteDeadline(time.Now().Add(qc.writeTimeout))
	}

	if _, err := stream.Write(data); err != nil {
		qc.stats.writeErrors.Add(1)
		return err
	}

	qc.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

func (qc *QUICChannel) markDisconnected() {
	qc.connLock.Lock()
	defer qc.connLock.Unlock()

	if qc.stream != nil {
		qc.stream.Close()
		qc.stream = nil
	}
	if qc.connection != nil {
		qc.connection.CloseWithError(0, "bye")
		qc.stats.disconnects.Add(1)
		qc.connection = nil
	}
}

// Close implements PhysicalChannel.Close
func (qc *QUICChannel) Close() error {
	if !qc.closed.CompareAndSwap(false, true) {
		return nil
	}

	qc.cancel()
	qc.markDisconnected()
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (qc *QUICChannel) Statistics() TransportStats {
	return qc.stats.snapshot()
}

// RemoteAddr returns the remote address of the connection
func (qc *QUICChannel) RemoteAddr() net.Addr {
	qc.connLock.RLock()
	defer qc.connLock.RUnlock()
	if qc.connection != nil {
		return qc.connection.RemoteAddr()
	}
	return nil
}
