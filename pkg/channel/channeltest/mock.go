// Package channeltest provides an in-memory PhysicalChannel for tests.
package channeltest

import (
	"context"
	"io"
	"sync"
	"time"

	"avaneesh/ipk24chat-go/pkg/channel"
)

// MockChannel is a scripted PhysicalChannel. Tests inject inbound frames
// with InjectRead and inspect everything written. An optional OnWrite hook
// lets a test play the server's side of an exchange.
type MockChannel struct {
	readChan  chan []byte
	closeChan chan struct{}
	eofChan   chan struct{}
	wrote     chan struct{}

	mu      sync.RWMutex
	closed  bool
	eof     bool
	written [][]byte
	onWrite func(data []byte)
	stats   channel.TransportStats
}

// NewMockChannel creates a new mock channel
func NewMockChannel() *MockChannel {
	return &MockChannel{
		readChan:  make(chan []byte, 64),
		closeChan: make(chan struct{}),
		eofChan:   make(chan struct{}),
		wrote:     make(chan struct{}, 1),
	}
}

// Read implements PhysicalChannel.Read. Injected frames are drained before
// an injected EOF is reported.
func (m *MockChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-m.readChan:
		return m.received(data), nil
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closeChan:
		return nil, channel.ErrChannelClosed
	case data := <-m.readChan:
		return m.received(data), nil
	case <-m.eofChan:
		return nil, io.EOF
	}
}

func (m *MockChannel) received(data []byte) []byte {
	m.mu.Lock()
	m.stats.BytesReceived += uint64(len(data))
	m.mu.Unlock()
	return data
}

// Write implements PhysicalChannel.Write
func (m *MockChannel) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.stats.WriteErrors++
		m.mu.Unlock()
		return channel.ErrChannelClosed
	}
	frame := append([]byte(nil), data...)
	m.written = append(m.written, frame)
	m.stats.BytesSent += uint64(len(data))
	hook := m.onWrite
	m.mu.Unlock()

	select {
	case m.wrote <- struct{}{}:
	default:
	}

	if hook != nil {
		hook(frame)
	}
	return nil
}

// Close implements PhysicalChannel.Close
func (m *MockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	m.stats.Disconnects++
	close(m.closeChan)
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (m *MockChannel) Statistics() channel.TransportStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// InjectRead queues data to be returned by Read.
func (m *MockChannel) InjectRead(data []byte) {
	m.readChan <- data
}

// InjectEOF makes Read report a peer close once queued frames are consumed.
func (m *MockChannel) InjectEOF() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.eof {
		m.eof = true
		close(m.eofChan)
	}
}

// OnWrite installs a hook called synchronously with every written frame.
func (m *MockChannel) OnWrite(fn func(data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = fn
}

// Written returns a copy of every frame written so far.
func (m *MockChannel) Written() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]byte(nil), m.written...)
}

// WaitWritten blocks until at least n frames were written or timeout
// elapses, and returns what was written.
func (m *MockChannel) WaitWritten(n int, timeout time.Duration) [][]byte {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if w := m.Written(); len(w) >= n {
			return w
		}
		select {
		case <-m.wrote:
		case <-deadline.C:
			return m.Written()
		}
	}
}

// IsClosed reports whether Close was called.
func (m *MockChannel) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
