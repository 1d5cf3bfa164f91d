package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/ipk24chat-go/internal/logger"
	"avaneesh/ipk24chat-go/pkg/message"
)

type chatSink struct {
	mu   sync.Mutex
	msgs []message.Chat
}

func (c *chatSink) add(m message.Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *chatSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestListenerForwardsChatAndStopsOnOtherMessages(t *testing.T) {
	ft := newFakeTransport()
	sink := &chatSink{}
	l := newListener(ft, sink.add, logger.NewNoOpLogger())

	ft.inbound <- message.Chat{DisplayName: "Bob", Body: "one"}
	ft.inbound <- message.Chat{DisplayName: "Bob", Body: "two"}
	ft.inbound <- message.Bye{}

	l.start(context.Background())

	select {
	case ev := <-l.events:
		assert.NoError(t, ev.err)
		assert.Equal(t, message.Bye{}, ev.msg)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	l.stop()
	assert.Equal(t, 2, sink.len())
	assert.Zero(t, ft.polling.Load())
}

func TestListenerReportsPollErrors(t *testing.T) {
	ft := newFakeTransport()
	l := newListener(ft, func(message.Chat) {}, logger.NewNoOpLogger())

	boom := errors.New("boom")
	ft.pollErr <- boom
	l.start(context.Background())

	select {
	case ev := <-l.events:
		assert.ErrorIs(t, ev.err, boom)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	l.stop()
}

func TestListenerStopIsSilentAndRestartable(t *testing.T) {
	ft := newFakeTransport()
	l := newListener(ft, func(message.Chat) {}, logger.NewNoOpLogger())

	for i := 0; i < 3; i++ {
		l.start(context.Background())
		l.start(context.Background())
		require.True(t, l.running())

		l.stop()
		assert.False(t, l.running())
		assert.Zero(t, ft.polling.Load())
	}
	l.stop()

	select {
	case ev := <-l.events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestListenerStopDoesNotBlockOnFullBuffer(t *testing.T) {
	ft := newFakeTransport()
	l := newListener(ft, func(message.Chat) {}, logger.NewNoOpLogger())

	l.events <- event{msg: message.Bye{}}
	ft.inbound <- message.Err{DisplayName: "Server", Body: "late"}
	l.start(context.Background())

	// the goroutine is now stuck handing over the second event
	require.Eventually(t, func() bool { return len(ft.inbound) == 0 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		l.stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop blocked")
	}
}
