package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// maxUDPPayload is the largest datagram a UDP/IPv4 socket can carry.
const maxUDPPayload = 65507

// UDPChannel implements PhysicalChannel for a UDP client.
//
// The server may answer from a port other than the one it was contacted
// on. The first datagram received from the server host re-targets every
// later Write to that datagram's source address.
type UDPChannel struct {
	// Connection
	conn     *net.UDPConn
	connLock sync.RWMutex

	// Peer
	serverAddr *net.UDPAddr
	peerAddr   *net.UDPAddr
	rebound    bool
	peerLock   sync.RWMutex

	// Configuration
	address      string
	pollInterval time.Duration
	writeTimeout time.Duration

	stats counters

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// UDPChannelConfig configures a UDP channel
type UDPChannelConfig struct {
	Address      string        // "host:port" of the server
	PollInterval time.Duration // Upper bound of one blocking read (0 = DefaultPollInterval)
	WriteTimeout time.Duration // Write timeout (0 = 5s)
}

// NewUDPChannel resolves the server address and binds an ephemeral local socket.
func NewUDPChannel(config UDPChannelConfig) (*UDPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	uc := &UDPChannel{
		address:      config.Address,
		pollInterval: config.PollInterval,
		writeTimeout: config.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	if err := uc.initialize(); err != nil {
		cancel()
		return nil, err
	}

	return uc, nil
}

func (uc *UDPChannel) initialize() error {
	addr, err := net.ResolveUDPAddr("udp", uc.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", uc.address, err)
	}

	// Bind to the wildcard address of the server's family
	network := "udp4"
	if addr.IP != nil && addr.IP.To4() == nil {
		network = "udp6"
	}
	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return fmt.Errorf("failed to create UDP socket: %w", err)
	}

	uc.conn = conn
	uc.serverAddr = addr
	uc.peerAddr = addr
	uc.stats.connects.Add(1)
	return nil
}

// Read implements PhysicalChannel.Read
func (uc *UDPChannel) Read(ctx context.Context) ([]byte, error) {
	buffer := make([]byte, maxUDPPayload)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-uc.ctx.Done():
			return nil, ErrChannelClosed
		default:
		}

		uc.connLock.RLock()
		conn := uc.conn
		uc.connLock.RUnlock()

		if conn == nil {
			return nil, ErrChannelClosed
		}

		conn.SetReadDeadline(readDeadline(ctx, uc.pollInterval))

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if uc.closed.Load() {
				return nil, ErrChannelClosed
			}
			uc.stats.readErrors.Add(1)
			return nil, err
		}

		if !uc.acceptFrom(from) {
			uc.stats.readErrors.Add(1)
			continue
		}

		uc.stats.bytesReceived.Add(uint64(n))
		frame := make([]byte, n)
		copy(frame, buffer[:n])
		return frame, nil
	}
}

// acceptFrom drops datagrams from foreign hosts and performs the one-time
// re-target to the server's session port.
func (uc *UDPChannel) acceptFrom(from *net.UDPAddr) bool {
	if from == nil || !from.IP.Equal(uc.serverAddr.IP) {
		return false
	}

	uc.peerLock.Lock()
	defer uc.peerLock.Unlock()

	if !uc.rebound {
		uc.rebound = true
		if from.Port != uc.peerAddr.Port {
			uc.peerAddr = from
			uc.stats.peerChanges.Add(1)
		}
	}
	return true
}

// Write implements PhysicalChannel.Write
func (uc *UDPChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-uc.ctx.Done():
		return ErrChannelClosed
	default:
	}

	uc.connLock.RLock()
	conn := uc.conn
	uc.connLock.RUnlock()

	if conn == nil {
		uc.stats.writeErrors.Add(1)
		return ErrChannelClosed
	}

	uc.peerLock.RLock()
	dest := uc.peerAddr
	uc.peerLock.RUnlock()

	if uc.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(uc.writeTimeout))
	}

	if _, err := conn.WriteToUDP(data, dest); err != nil {
		uc.stats.writeErrors.Add(1)
		return err
	}

	uc.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close implements PhysicalChannel.Close
func (uc *UDPChannel) Close() error {
	if !uc.closed.CompareAndSwap(false, true) {
		return nil
	}

	uc.cancel()

	uc.connLock.Lock()
	defer uc.connLock.Unlock()

	var err error
	if uc.conn != nil {
		err = uc.conn.Close()
		uc.stats.disconnects.Add(1)
		uc.conn = nil
	}
	return err
}

// Statistics implements PhysicalChannel.Statistics
func (uc *UDPChannel) Statistics() TransportStats {
	return uc.stats.snapshot()
}

// LocalAddr returns the bound local address, or nil once closed.
func (uc *UDPChannel) LocalAddr() net.Addr {
	uc.connLock.RLock()
	defer uc.connLock.RUnlock()
	if uc.conn != nil {
		return uc.conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the address Writes currently go to.
func (uc *UDPChannel) RemoteAddr() net.Addr {
	uc.peerLock.RLock()
	defer uc.peerLock.RUnlock()
	return uc.peerAddr
}
