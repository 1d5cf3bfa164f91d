package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"avaneesh/ipk24chat-go/internal/logger"
	"avaneesh/ipk24chat-go/pkg/channel"
	"avaneesh/ipk24chat-go/pkg/message"
)

// maxPendingLine caps a line that never terminates.
const maxPendingLine = 64 * 1024

// Stream carries the text grammar over a reliable byte stream (TCP or a
// QUIC stream). The protocol has no message ids, so at most one request is
// outstanding and its reply is the next REPLY line read.
type Stream struct {
	ch     channel.PhysicalChannel
	config Config
	log    logger.Logger
	stats  Statistics

	mu      sync.Mutex
	pending []byte
	eof     bool
	handler Handler

	closed atomic.Bool
}

// NewStream wraps ch.
func NewStream(ch channel.PhysicalChannel, config Config) *Stream {
	config = config.withDefaults()
	return &Stream{
		ch:     ch,
		config: config,
		log:    config.Logger,
	}
}

// SetHandler implements Transport.SetHandler
func (s *Stream) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Statistics returns the protocol counters
func (s *Stream) Statistics() *Statistics {
	return &s.stats
}

// Send implements Transport.Send
func (s *Stream) Send(ctx context.Context, m message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkOutbound(m, false); err != nil {
		return err
	}
	return s.write(ctx, m)
}

func (s *Stream) write(ctx context.Context, m message.Message) error {
	if s.closed.Load() {
		return ErrClosed
	}

	line, err := message.EncodeLine(m)
	if err != nil {
		return err
	}

	s.log.Debug("tx %s", m.Type())
	if err := s.ch.Write(ctx, line); err != nil {
		return fmt.Errorf("sending %s: %w", m.Type(), err)
	}
	s.stats.incTx()
	return nil
}

// Request implements Transport.Request. Server messages that arrive before
// the reply are passed to the handler.
func (s *Stream) Request(ctx context.Context, m message.Message) (message.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkOutbound(m, true); err != nil {
		return message.Reply{}, err
	}
	if err := s.write(ctx, m); err != nil {
		return message.Reply{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.config.ReplyTimeout)
	defer cancel()

	for {
		msg, err := s.next(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				s.stats.timeoutErrors.Add(1)
				return message.Reply{}, ErrReplyTimeout
			}
			return message.Reply{}, err
		}

		if reply, ok := msg.(message.Reply); ok {
			return reply, nil
		}

		if s.handler != nil {
			s.handler(msg)
		}
		if terminates(msg) {
			return message.Reply{}, ErrTerminated
		}
	}
}

// Poll implements Transport.Poll. A connection closed by the server is
// reported once as message.Bye.
func (s *Stream) Poll(ctx context.Context) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		msg, err := s.next(ctx)
		if err != nil {
			return nil, err
		}
		if _, ok := msg.(message.Reply); ok {
			s.log.Debug("dropping REPLY with no request outstanding")
			s.stats.ignored.Add(1)
			continue
		}
		return msg, nil
	}
}

// next returns the next grammatical server line as a message. Unmatched
// lines are skipped.
func (s *Stream) next(ctx context.Context) (message.Message, error) {
	for {
		if s.closed.Load() {
			return nil, ErrClosed
		}

		if line, ok := s.takeLine(); ok {
			s.stats.incRx()
			msg, matched := message.ParseLine(line)
			if !matched {
				s.log.Debug("ignoring line %q", line)
				s.stats.ignored.Add(1)
				continue
			}
			switch msg.(type) {
			case message.Auth, message.Join:
				s.stats.malformed.Add(1)
				return nil, fmt.Errorf("%w: unexpected %s from server", ErrMalformed, msg.Type())
			}
			s.log.Debug("rx %s", msg.Type())
			return msg, nil
		}

		if s.eof {
			return nil, ErrClosed
		}

		chunk, err := s.ch.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Debug("server closed the connection")
				s.eof = true
				return message.Bye{}, nil
			}
			return nil, err
		}

		s.pending = append(s.pending, chunk...)
		if len(s.pending) > maxPendingLine && bytes.IndexByte(s.pending, '\n') < 0 {
			s.log.Warn("discarding %d bytes without a line terminator", len(s.pending))
			s.stats.ignored.Add(1)
			s.pending = s.pending[:0]
		}
	}
}

// takeLine removes one complete line from the buffer. Lines end in CRLF; a
// bare LF is accepted as well.
func (s *Stream) takeLine() (string, bool) {
	i := bytes.IndexByte(s.pending, '\n')
	if i < 0 {
		return "", false
	}
	line := string(bytes.TrimRight(s.pending[:i], "\r"))
	s.pending = s.pending[i+1:]
	return line, true
}

// Close implements Transport.Close
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.log.Debug("stream transport closing: %s", &s.stats)
	return s.ch.Close()
}

// ensure interface compliance
var _ Transport = (*Stream)(nil)
