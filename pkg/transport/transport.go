// Package transport hides the datagram and stream wire protocols behind one
// request/reply capability used by the chat session.
package transport

import (
	"context"
	"errors"
	"fmt"

	"avaneesh/ipk24chat-go/pkg/message"
)

var (
	// ErrMaxRetransmissions means no CONFIRM arrived within the retry budget.
	ErrMaxRetransmissions = errors.New("message was not confirmed by the server")
	// ErrReplyTimeout means the request was delivered but no REPLY followed.
	ErrReplyTimeout = errors.New("no reply received from the server")
	// ErrTerminated means the server sent ERROR or BYE, or closed the
	// connection, while an exchange was in progress.
	ErrTerminated = errors.New("session terminated by the server")
	// ErrMalformed marks an inbound frame that cannot be decoded or is not
	// legal from a server.
	ErrMalformed = errors.New("invalid message received")
	ErrClosed    = errors.New("transport is closed")
	// ErrWrongExchange means Request was given a message that gets no
	// reply, or Send was given one that does.
	ErrWrongExchange = errors.New("message does not fit this exchange")
)

// Handler receives inbound messages that arrive while a foreground exchange
// owns the socket. It runs synchronously on the caller's goroutine and must
// not call back into the Transport.
type Handler func(m message.Message)

// Transport is the capability set the session drives. Implementations are
// not safe for concurrent readers: callers must make sure only one of
// Send, Request and Poll is in flight at a time.
type Transport interface {
	// Send delivers a message that expects no reply (chat, error, bye).
	Send(ctx context.Context, m message.Message) error

	// Request delivers an Auth or Join and blocks for the correlated reply.
	Request(ctx context.Context, m message.Message) (message.Reply, error)

	// Poll blocks for the next unsolicited server message. It returns one
	// of message.Chat, message.Err or message.Bye.
	Poll(ctx context.Context) (message.Message, error)

	// SetHandler installs the inline delivery hook used during Send and Request.
	SetHandler(h Handler)

	Close() error
}

// terminates reports whether m ends the session when received from the server.
func terminates(m message.Message) bool {
	switch m.(type) {
	case message.Err, message.Bye:
		return true
	}
	return false
}

// checkOutbound rejects a message whose fields could not legally go on the
// wire or whose kind does not match the exchange.
func checkOutbound(m message.Message, wantReply bool) error {
	if message.ExpectsReply(m) != wantReply {
		return fmt.Errorf("%w: %s", ErrWrongExchange, m.Type())
	}
	return message.Validate(m)
}
