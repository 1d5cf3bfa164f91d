package channel

import (
	"context"
	"errors"
	"net"
	"time"
)

var ErrChannelClosed = errors.New("channel is closed")

// DefaultPollInterval bounds a single blocking socket read. Read loops
// re-check their context at least this often.
const DefaultPollInterval = 100 * time.Millisecond

// PhysicalChannel is the raw socket primitive under both transports.
//
// Datagram implementations return exactly one datagram per Read. Stream
// implementations return whatever bytes are available; framing is the
// caller's job. A peer that closed the connection yields io.EOF.
type PhysicalChannel interface {
	// Read blocks until data arrives, the context is cancelled or the
	// channel is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends data. Safe for concurrent use.
	Write(ctx context.Context, data []byte) error

	// Close releases the socket and unblocks pending reads.
	Close() error

	Statistics() TransportStats
}

// TransportStats provides socket-level statistics
type TransportStats struct {
	BytesSent     uint64 // Total bytes sent
	BytesReceived uint64 // Total bytes received
	WriteErrors   uint64 // Number of write errors
	ReadErrors    uint64 // Number of read errors and dropped datagrams
	Connects      uint64 // Number of connections (or socket binds)
	Disconnects   uint64 // Number of disconnections
	PeerChanges   uint64 // Times the datagram target was re-pointed
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// readDeadline is the earlier of ctx's deadline and one poll interval from now.
func readDeadline(ctx context.Context, poll time.Duration) time.Time {
	d := time.Now().Add(poll)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}
