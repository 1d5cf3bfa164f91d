package client

import (
	"context"

	"avaneesh/ipk24chat-go/internal/logger"
	"avaneesh/ipk24chat-go/pkg/message"
	"avaneesh/ipk24chat-go/pkg/transport"
)

// event is a listener outcome the foreground loop must act on: a server
// ERROR or BYE, or a Poll failure.
type event struct {
	msg message.Message
	err error
}

// listener polls the transport for unsolicited server messages while the
// foreground loop waits for user input.
//
// The transport has a single reader. start and stop are only called from the
// foreground goroutine, and stop returns after the polling goroutine has
// exited, so a foreground exchange never overlaps a Poll.
type listener struct {
	transport transport.Transport
	onChat    func(message.Chat)
	log       logger.Logger

	events chan event

	cancel context.CancelFunc
	done   chan struct{}
}

func newListener(t transport.Transport, onChat func(message.Chat), log logger.Logger) *listener {
	return &listener{
		transport: t,
		onChat:    onChat,
		log:       log,
		events:    make(chan event, 1),
	}
}

func (l *listener) running() bool {
	return l.done != nil
}

// start launches the polling goroutine unless it is already running.
func (l *listener) start(parent context.Context) {
	if l.running() {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(ctx, l.done)
}

// stop cancels the polling goroutine and waits for it to exit.
func (l *listener) stop() {
	if !l.running() {
		return
	}

	l.cancel()
	<-l.done

	l.cancel = nil
	l.done = nil
}

func (l *listener) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	l.log.Debug("listener started")
	defer l.log.Debug("listener stopped")

	for {
		msg, err := l.transport.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.emit(ctx, event{err: err})
			return
		}

		if chat, ok := msg.(message.Chat); ok {
			l.onChat(chat)
			continue
		}

		l.emit(ctx, event{msg: msg})
		return
	}
}

// emit hands ev to the foreground loop. An event that was already read off
// the socket is never dropped while the buffer has room; with a full buffer
// it gives up once stopped so that stop cannot block.
func (l *listener) emit(ctx context.Context, ev event) {
	select {
	case l.events <- ev:
		return
	default:
	}

	select {
	case l.events <- ev:
	case <-ctx.Done():
	}
}
