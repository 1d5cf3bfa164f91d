package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"avaneesh/ipk24chat-go/internal/logger"
	"avaneesh/ipk24chat-go/pkg/channel"
	"avaneesh/ipk24chat-go/pkg/message"
)

// Datagram is the reliable channel over an unreliable datagram socket.
//
// Every outbound frame carries a fresh message id. A frame is resent with a
// new id when no CONFIRM bearing its id arrives within the confirmation
// timeout, at most MaxRetransmissions times. Every inbound frame except
// CONFIRM is acknowledged, and frames whose id was already delivered are
// acknowledged again but not delivered twice.
type Datagram struct {
	ch     channel.PhysicalChannel
	config Config
	log    logger.Logger
	stats  Statistics

	// mu serializes exchanges; the socket has a single reader.
	mu      sync.Mutex
	nextID  uint16
	seen    map[uint16]struct{}
	handler Handler

	closed atomic.Bool
}

// NewDatagram wraps ch. Message ids start at 0.
func NewDatagram(ch channel.PhysicalChannel, config Config) *Datagram {
	config = config.withDefaults()
	return &Datagram{
		ch:     ch,
		config: config,
		log:    config.Logger,
		seen:   make(map[uint16]struct{}),
	}
}

// SetHandler implements Transport.SetHandler
func (d *Datagram) SetHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// Statistics returns the protocol counters
func (d *Datagram) Statistics() *Statistics {
	return &d.stats
}

func (d *Datagram) allocID() uint16 {
	id := d.nextID
	d.nextID++
	return id
}

// Send implements Transport.Send
func (d *Datagram) Send(ctx context.Context, m message.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return ErrClosed
	}
	if err := checkOutbound(m, false); err != nil {
		return err
	}

	_, _, err := d.deliver(ctx, m, false)
	return err
}

// Request implements Transport.Request
func (d *Datagram) Request(ctx context.Context, m message.Message) (message.Reply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return message.Reply{}, ErrClosed
	}
	if err := checkOutbound(m, true); err != nil {
		return message.Reply{}, err
	}

	id, early, err := d.deliver(ctx, m, true)
	if err != nil {
		return message.Reply{}, err
	}
	if early != nil {
		return *early, nil
	}
	return d.awaitReply(ctx, id)
}

// deliver runs the confirmation phase of one exchange and returns the id of
// the confirmed attempt. When wantReply is set, a correlated REPLY that
// overtakes its CONFIRM completes the phase as well and is returned.
func (d *Datagram) deliver(ctx context.Context, m message.Message, wantReply bool) (uint16, *message.Reply, error) {
	id := d.allocID()
	frame, err := message.EncodeDatagram(id, m)
	if err != nil {
		return 0, nil, err
	}

	attempts := d.config.MaxRetransmissions + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			id = d.allocID()
			message.SetDatagramID(frame, id)
			d.stats.retransmissions.Add(1)
		}

		d.log.Debug("tx %s id=%d attempt %d/%d", m.Type(), id, attempt, attempts)
		if err := d.ch.Write(ctx, frame); err != nil {
			return 0, nil, fmt.Errorf("sending %s: %w", m.Type(), err)
		}
		d.stats.incTx()

		reply, err := d.awaitConfirm(ctx, id, wantReply)
		if err == nil {
			return id, reply, nil
		}
		if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return 0, nil, err
		}

		d.stats.timeoutErrors.Add(1)
		d.log.Debug("%s id=%d not confirmed within %s", m.Type(), id, d.config.ConfirmationTimeout)
	}

	d.log.Warn("%s gave up after %d attempts", m.Type(), attempts)
	return 0, nil, ErrMaxRetransmissions
}

// awaitConfirm reads until a CONFIRM for id arrives or the confirmation
// timeout expires, in which case it returns context.DeadlineExceeded.
func (d *Datagram) awaitConfirm(ctx context.Context, id uint16, wantReply bool) (*message.Reply, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.config.ConfirmationTimeout)
	defer cancel()

	for {
		msg, err := d.receive(waitCtx)
		if err != nil {
			return nil, err
		}

		switch v := msg.(type) {
		case nil:
		case message.Confirm:
			if v.RefID == id {
				return nil, nil
			}
			d.log.Debug("ignoring CONFIRM ref=%d while waiting for %d", v.RefID, id)
		case message.Reply:
			if wantReply && v.RefID == id {
				d.log.Debug("REPLY ref=%d arrived before its CONFIRM", id)
				return &v, nil
			}
			d.stats.ignored.Add(1)
		default:
			if err := d.deliverInline(msg); err != nil {
				return nil, err
			}
		}
	}
}

// awaitReply reads until the REPLY correlated with id arrives.
func (d *Datagram) awaitReply(ctx context.Context, id uint16) (message.Reply, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.config.replyBudget())
	defer cancel()

	for {
		msg, err := d.receive(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				d.stats.timeoutErrors.Add(1)
				return message.Reply{}, ErrReplyTimeout
			}
			return message.Reply{}, err
		}

		switch v := msg.(type) {
		case nil, message.Confirm:
		case message.Reply:
			if v.RefID == id {
				return v, nil
			}
			d.log.Debug("ignoring REPLY ref=%d while waiting for %d", v.RefID, id)
			d.stats.ignored.Add(1)
		default:
			if err := d.deliverInline(msg); err != nil {
				return message.Reply{}, err
			}
		}
	}
}

// deliverInline hands a server message to the handler. Server ERROR and
// BYE end the exchange.
func (d *Datagram) deliverInline(m message.Message) error {
	if d.handler != nil {
		d.handler(m)
	}
	if terminates(m) {
		return ErrTerminated
	}
	return nil
}

// Poll implements Transport.Poll
func (d *Datagram) Poll(ctx context.Context) (message.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return nil, ErrClosed
	}

	for {
		msg, err := d.receive(ctx)
		if err != nil {
			return nil, err
		}

		switch msg.(type) {
		case nil:
		case message.Confirm:
			d.log.Debug("dropping stray CONFIRM")
			d.stats.ignored.Add(1)
		case message.Reply:
			d.log.Debug("dropping stray REPLY")
			d.stats.ignored.Add(1)
		default:
			return msg, nil
		}
	}
}

// receive reads one frame and acknowledges it. A nil message with a nil
// error means the frame was a duplicate and must be skipped. Frames that
// cannot be decoded, or that a server may not send, yield ErrMalformed.
func (d *Datagram) receive(ctx context.Context) (message.Message, error) {
	frame, err := d.ch.Read(ctx)
	if err != nil {
		return nil, err
	}
	d.stats.incRx()

	typ, id, err := message.PeekDatagram(frame)
	if err != nil {
		d.stats.malformed.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if typ == message.TypeConfirm {
		return message.Confirm{RefID: id}, nil
	}

	if err := d.confirm(ctx, id); err != nil {
		return nil, err
	}

	if _, dup := d.seen[id]; dup {
		d.log.Debug("duplicate %s id=%d", typ, id)
		d.stats.duplicates.Add(1)
		return nil, nil
	}
	d.seen[id] = struct{}{}

	_, msg, err := message.DecodeDatagram(frame)
	if err != nil {
		d.stats.malformed.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch msg.(type) {
	case message.Auth, message.Join:
		d.stats.malformed.Add(1)
		return nil, fmt.Errorf("%w: unexpected %s from server", ErrMalformed, msg.Type())
	}

	d.log.Debug("rx %s id=%d", msg.Type(), id)
	return msg, nil
}

func (d *Datagram) confirm(ctx context.Context, id uint16) error {
	frame, _ := message.EncodeDatagram(0, message.Confirm{RefID: id})
	if err := d.ch.Write(context.WithoutCancel(ctx), frame); err != nil {
		return fmt.Errorf("confirming %d: %w", id, err)
	}
	d.stats.confirmsSent.Add(1)
	return nil
}

// Close implements Transport.Close. It does not wait for an exchange in
// flight; closing the socket unblocks it.
func (d *Datagram) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.log.Debug("datagram transport closing: %s", &d.stats)
	return d.ch.Close()
}

// ensure interface compliance
var _ Transport = (*Datagram)(nil)
