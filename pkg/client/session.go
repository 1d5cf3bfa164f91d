// Package client implements the chat session: the command state machine,
// the background listener and user-visible output.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"avaneesh/ipk24chat-go/internal/logger"
	"avaneesh/ipk24chat-go/pkg/message"
	"avaneesh/ipk24chat-go/pkg/transport"
)

// ErrProtocol is returned by Run when the session ended on an invalid
// server message. The process should exit with a failure status.
var ErrProtocol = errors.New("protocol error")

const (
	invalidMessageBody = "Invalid message received."
	// anonymousName signs an ERROR sent before any display name was set.
	anonymousName = "client"

	maxInputLine = 64 * 1024
)

// State is the session's position in the protocol.
type State int

const (
	StateStart State = iota
	StateAuthenticating
	StateOpen
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "Start"
	case StateAuthenticating:
		return "Authenticating"
	case StateOpen:
		return "Open"
	case StateEnd:
		return "End"
	default:
		return "Unknown"
	}
}

// exitReason records why the session reached End.
type exitReason int

const (
	exitNone exitReason = iota
	// /bye or end of input
	exitUserBye
	// context cancelled
	exitInterrupt
	// server sent ERROR
	exitServerError
	// server sent BYE or closed the connection
	exitServerBye
	// socket failure
	exitTransport
	// invalid server message
	exitProtocol
)

// Options configures a Session
type Options struct {
	Stdout io.Writer // chat output (default os.Stdout)
	Stderr io.Writer // errors and reply outcomes (default os.Stderr)
	Logger logger.Logger

	// ByeTimeout bounds the farewell exchange once the session is ending.
	// Default: 5s
	ByeTimeout time.Duration
}

// Session is the single client context for one connection. All fields are
// owned by the goroutine running Run.
type Session struct {
	transport transport.Transport
	out       *printer
	log       logger.Logger
	listener  *listener

	byeTimeout time.Duration

	state       State
	displayName string
	authorized  bool
	channel     string

	reason   exitReason
	protoErr error
}

// NewSession creates a session driving t. The session owns t and closes it
// when Run returns.
func NewSession(t transport.Transport, opts Options) *Session {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetDefault()
	}
	if opts.ByeTimeout <= 0 {
		opts.ByeTimeout = 5 * time.Second
	}

	s := &Session{
		transport:  t,
		out:        &printer{stdout: opts.Stdout, stderr: opts.Stderr},
		log:        opts.Logger,
		byeTimeout: opts.ByeTimeout,
		state:      StateStart,
	}
	s.listener = newListener(t, s.out.chat, opts.Logger)
	t.SetHandler(s.handleInbound)
	return s
}

// State returns the current protocol state
func (s *Session) State() State { return s.state }

// DisplayName returns the name used for outgoing messages
func (s *Session) DisplayName() string { return s.displayName }

// Authorized reports whether authentication succeeded
func (s *Session) Authorized() bool { return s.authorized }

// Channel returns the last channel joined, or "" if none
func (s *Session) Channel() string { return s.channel }

// Run reads commands from input until the session ends. Cancelling ctx
// behaves like an interrupt: a farewell BYE is attempted if authorized.
// It returns nil on a clean termination and an error wrapping ErrProtocol
// after an invalid server message.
func (s *Session) Run(ctx context.Context, input io.Reader) error {
	quit := make(chan struct{})
	defer close(quit)

	lines := make(chan string)
	go readLines(input, lines, quit, s.log)

	for s.state != StateEnd {
		s.listener.start(ctx)

		select {
		case <-ctx.Done():
			s.listener.stop()
			s.log.Info("interrupted")
			s.end(exitInterrupt)

		case ev := <-s.listener.events:
			s.listener.stop()
			s.onListenerEvent(ev)

		case line, ok := <-lines:
			if ok {
				s.handleLine(ctx, line)
				continue
			}
			s.listener.stop()
			s.log.Info("end of input")
			s.bye(ctx)
		}
	}

	return s.finish(ctx)
}

// readLines feeds input lines to out and closes it at end of input.
func readLines(input io.Reader, out chan<- string, quit <-chan struct{}, log logger.Logger) {
	defer close(out)

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 4096), maxInputLine)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-quit:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("reading input: %v", err)
	}
}

func (s *Session) handleLine(ctx context.Context, line string) {
	cmd, err := ParseCommand(line)
	if err != nil {
		s.out.localError("%v", err)
		return
	}

	switch cmd.Kind {
	case CmdNone:
	case CmdHelp:
		s.out.help()
	case CmdRename:
		s.rename(cmd)
	case CmdAuth:
		s.auth(ctx, cmd)
	case CmdJoin:
		s.join(ctx, cmd)
	case CmdChat:
		s.chat(ctx, cmd)
	case CmdBye:
		s.listener.stop()
		s.bye(ctx)
	}
}

func (s *Session) rename(cmd Command) {
	if !s.authorized {
		s.out.localError("you must authenticate before renaming")
		return
	}
	s.log.Debug("display name %q -> %q", s.displayName, cmd.DisplayName)
	s.displayName = cmd.DisplayName
}

func (s *Session) auth(ctx context.Context, cmd Command) {
	if s.authorized {
		s.out.localError("already authenticated")
		return
	}

	s.listener.stop()
	s.state = StateAuthenticating
	s.log.Info("authenticating as %s", cmd.Username)

	reply, err := s.transport.Request(ctx, message.Auth{
		Username:    cmd.Username,
		Secret:      cmd.Secret,
		DisplayName: cmd.DisplayName,
	})
	if err != nil {
		s.state = StateStart
		s.exchangeFailed(ctx, "authentication", err)
		return
	}

	s.out.reply(reply)
	if !reply.OK {
		s.state = StateStart
		return
	}

	s.authorized = true
	s.displayName = cmd.DisplayName
	s.state = StateOpen
}

func (s *Session) join(ctx context.Context, cmd Command) {
	if !s.authorized {
		s.out.localError("you must authenticate before joining a channel")
		return
	}

	s.listener.stop()
	reply, err := s.transport.Request(ctx, message.Join{ChannelID: cmd.ChannelID, DisplayName: s.displayName})
	if err != nil {
		s.exchangeFailed(ctx, "join", err)
		return
	}

	s.out.reply(reply)
	if reply.OK {
		s.channel = cmd.ChannelID
	}
}

func (s *Session) chat(ctx context.Context, cmd Command) {
	if !s.authorized {
		s.out.localError("you must authenticate before sending messages")
		return
	}

	s.listener.stop()
	err := s.transport.Send(ctx, message.Chat{DisplayName: s.displayName, Body: cmd.Body})
	if err != nil {
		s.exchangeFailed(ctx, "message", err)
	}
}

// bye sends a farewell regardless of state and ends the session. The
// listener must already be stopped.
func (s *Session) bye(ctx context.Context) {
	s.sendBye(ctx)
	s.end(exitUserBye)
}

// exchangeFailed classifies a Send or Request error.
func (s *Session) exchangeFailed(ctx context.Context, what string, err error) {
	switch {
	case errors.Is(err, transport.ErrTerminated):
		// handleInbound already recorded why
		if s.reason == exitNone {
			s.end(exitServerBye)
		}
	case errors.Is(err, transport.ErrMaxRetransmissions), errors.Is(err, transport.ErrReplyTimeout):
		s.log.Warn("%s failed: %v", what, err)
		s.out.localError("%s failed: %v", what, err)
	case errors.Is(err, transport.ErrMalformed):
		s.protocolViolation(ctx, err)
	case ctx.Err() != nil:
		s.end(exitInterrupt)
	default:
		s.log.Error("%s: %v", what, err)
		s.out.localError("%s failed: %v", what, err)
		s.end(exitTransport)
	}
}

// handleInbound processes a server message that arrived during a
// foreground exchange.
func (s *Session) handleInbound(m message.Message) {
	switch v := m.(type) {
	case message.Chat:
		s.out.chat(v)
	case message.Err:
		s.out.serverError(v)
		s.end(exitServerError)
	case message.Bye:
		s.log.Info("server said BYE")
		s.end(exitServerBye)
	}
}

func (s *Session) onListenerEvent(ev event) {
	if ev.err != nil {
		switch {
		case errors.Is(ev.err, transport.ErrMalformed):
			s.protocolViolation(context.Background(), ev.err)
		case errors.Is(ev.err, transport.ErrClosed):
			s.end(exitServerBye)
		default:
			s.log.Error("listener: %v", ev.err)
			s.out.localError("connection lost: %v", ev.err)
			s.end(exitTransport)
		}
		return
	}
	s.handleInbound(ev.msg)
}

// protocolViolation reports an invalid server message to the user and the
// server, then ends the session with a failure.
func (s *Session) protocolViolation(ctx context.Context, cause error) {
	s.log.Error("protocol violation: %v", cause)
	s.out.localError("%s", invalidMessageBody)

	name := s.displayName
	if name == "" {
		name = anonymousName
	}

	sendCtx, cancel := s.farewellContext(ctx)
	defer cancel()
	if err := s.transport.Send(sendCtx, message.Err{DisplayName: name, Body: invalidMessageBody}); err != nil {
		s.log.Warn("sending ERROR: %v", err)
	}

	s.protoErr = fmt.Errorf("%w: %w", ErrProtocol, cause)
	s.end(exitProtocol)
}

func (s *Session) end(reason exitReason) {
	if s.state == StateEnd {
		return
	}
	s.log.Debug("session ending in state %s", s.state)
	s.state = StateEnd
	s.reason = reason
}

// finish performs the closing handshake for the recorded exit reason.
func (s *Session) finish(ctx context.Context) error {
	s.listener.stop()

	switch s.reason {
	case exitInterrupt, exitServerError, exitProtocol:
		if s.authorized {
			s.sendBye(ctx)
		}
	}

	if err := s.transport.Close(); err != nil {
		s.log.Debug("closing transport: %v", err)
	}
	return s.protoErr
}

func (s *Session) sendBye(ctx context.Context) {
	sendCtx, cancel := s.farewellContext(ctx)
	defer cancel()

	if err := s.transport.Send(sendCtx, message.Bye{}); err != nil {
		s.log.Warn("sending BYE: %v", err)
		if errors.Is(err, transport.ErrMaxRetransmissions) {
			s.out.localError("BYE was not confirmed by the server")
		}
	}
}

// farewellContext survives cancellation of ctx so the closing messages
// still go out after an interrupt.
func (s *Session) farewellContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.byeTimeout)
}
