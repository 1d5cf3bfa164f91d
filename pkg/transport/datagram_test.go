package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/ipk24chat-go/internal/logger"
	"avaneesh/ipk24chat-go/pkg/channel/channeltest"
	"avaneesh/ipk24chat-go/pkg/message"
)

func testConfig() Config {
	return Config{
		ConfirmationTimeout: 30 * time.Millisecond,
		MaxRetransmissions:  3,
		ReplyTimeout:        200 * time.Millisecond,
		Logger:              logger.NewNoOpLogger(),
	}
}

func newTestDatagram(t *testing.T) (*Datagram, *channeltest.MockChannel) {
	t.Helper()
	mock := channeltest.NewMockChannel()
	d := NewDatagram(mock, testConfig())
	t.Cleanup(func() { d.Close() })
	return d, mock
}

func encode(t *testing.T, id uint16, m message.Message) []byte {
	t.Helper()
	frame, err := message.EncodeDatagram(id, m)
	require.NoError(t, err)
	return frame
}

func decode(t *testing.T, frame []byte) (uint16, message.Message) {
	t.Helper()
	id, m, err := message.DecodeDatagram(frame)
	require.NoError(t, err)
	return id, m
}

// outbound filters written frames down to non-CONFIRM messages.
func outbound(t *testing.T, frames [][]byte) (ids []uint16, msgs []message.Message) {
	t.Helper()
	for _, f := range frames {
		id, m := decode(t, f)
		if _, ok := m.(message.Confirm); ok {
			continue
		}
		ids = append(ids, id)
		msgs = append(msgs, m)
	}
	return ids, msgs
}

// confirmsOf lists the refs of every CONFIRM written.
func confirmsOf(t *testing.T, frames [][]byte) []uint16 {
	t.Helper()
	var refs []uint16
	for _, f := range frames {
		if _, m := decode(t, f); m.Type() == message.TypeConfirm {
			refs = append(refs, m.(message.Confirm).RefID)
		}
	}
	return refs
}

func TestDatagramRequestSuccess(t *testing.T) {
	d, mock := newTestDatagram(t)
	mock.OnWrite(func(data []byte) {
		id, m := decode(t, data)
		if m.Type() == message.TypeAuth {
			mock.InjectRead(encode(t, 0, message.Confirm{RefID: id}))
			mock.InjectRead(encode(t, 100, message.Reply{OK: true, RefID: id, Body: "Auth success."}))
		}
	})

	reply, err := d.Request(context.Background(), message.Auth{Username: "alice", Secret: "secret123", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, "Auth success.", reply.Body)

	written := mock.Written()
	ids, _ := outbound(t, written)
	assert.Equal(t, []uint16{0}, ids)
	assert.Equal(t, []uint16{100}, confirmsOf(t, written))
}

func TestDatagramRetransmitsWithFreshIDs(t *testing.T) {
	d, mock := newTestDatagram(t)

	start := time.Now()
	err := d.Send(context.Background(), message.Chat{DisplayName: "Alice", Body: "anyone?"})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrMaxRetransmissions)
	assert.GreaterOrEqual(t, elapsed, 4*testConfig().ConfirmationTimeout)

	ids, msgs := outbound(t, mock.Written())
	assert.Equal(t, []uint16{0, 1, 2, 3}, ids)
	for _, m := range msgs {
		assert.Equal(t, message.Chat{DisplayName: "Alice", Body: "anyone?"}, m)
	}
	assert.Equal(t, uint64(3), d.Statistics().Retransmissions())
}

func TestDatagramAttemptsNeverExceedBudget(t *testing.T) {
	for _, retries := range []int{0, 1, 5} {
		mock := channeltest.NewMockChannel()
		cfg := testConfig()
		cfg.ConfirmationTimeout = 5 * time.Millisecond
		cfg.MaxRetransmissions = retries
		d := NewDatagram(mock, cfg)

		_, err := d.Request(context.Background(), message.Join{ChannelID: "general", DisplayName: "Alice"})
		assert.ErrorIs(t, err, ErrMaxRetransmissions)
		assert.Len(t, mock.Written(), retries+1, "retries=%d", retries)
		d.Close()
	}
}

func TestDatagramConfirmOnSecondAttempt(t *testing.T) {
	d, mock := newTestDatagram(t)
	attempts := 0
	mock.OnWrite(func(data []byte) {
		id, m := decode(t, data)
		if m.Type() != message.TypeMsg {
			return
		}
		attempts++
		if attempts == 2 {
			mock.InjectRead(encode(t, 0, message.Confirm{RefID: id}))
		}
	})

	require.NoError(t, d.Send(context.Background(), message.Chat{DisplayName: "Alice", Body: "hi"}))

	ids, _ := outbound(t, mock.Written())
	assert.Equal(t, []uint16{0, 1}, ids)

	// The next exchange continues the sequence
	mock.OnWrite(func(data []byte) {
		id, _ := decode(t, data)
		mock.InjectRead(encode(t, 0, message.Confirm{RefID: id}))
	})
	require.NoError(t, d.Send(context.Background(), message.Bye{}))
	ids, _ = outbound(t, mock.Written())
	assert.Equal(t, []uint16{0, 1, 2}, ids)
}

func TestDatagramConfirmForEarlierAttemptIsNotAccepted(t *testing.T) {
	mock := channeltest.NewMockChannel()
	cfg := testConfig()
	cfg.MaxRetransmissions = 1
	d := NewDatagram(mock, cfg)
	defer d.Close()

	mock.OnWrite(func(data []byte) {
		id, _ := decode(t, data)
		if id == 1 {
			mock.InjectRead(encode(t, 0, message.Confirm{RefID: 0}))
		}
	})

	err := d.Send(context.Background(), message.Chat{DisplayName: "Alice", Body: "hi"})
	assert.ErrorIs(t, err, ErrMaxRetransmissions)
}

func TestDatagramReplyBeforeConfirm(t *testing.T) {
	d, mock := newTestDatagram(t)
	mock.OnWrite(func(data []byte) {
		id, m := decode(t, data)
		if m.Type() == message.TypeJoin {
			mock.InjectRead(encode(t, 40, message.Reply{OK: true, RefID: id, Body: "Joined."}))
			mock.InjectRead(encode(t, 0, message.Confirm{RefID: id}))
		}
	})

	reply, err := d.Request(context.Background(), message.Join{ChannelID: "general", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, message.Reply{OK: true, RefID: 0, Body: "Joined."}, reply)

	// The late CONFIRM is dropped by the next poll
	mock.InjectRead(encode(t, 41, message.Chat{DisplayName: "Server", Body: "welcome"}))
	got, err := d.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, message.Chat{DisplayName: "Server", Body: "welcome"}, got)
}

func TestDatagramDeliversInlineDuringRequest(t *testing.T) {
	d, mock := newTestDatagram(t)

	var inline []message.Message
	d.SetHandler(func(m message.Message) { inline = append(inline, m) })

	mock.OnWrite(func(data []byte) {
		id, m := decode(t, data)
		if m.Type() == message.TypeJoin {
			mock.InjectRead(encode(t, 0, message.Confirm{RefID: id}))
			mock.InjectRead(encode(t, 7, message.Chat{DisplayName: "Server", Body: "Alice joined general."}))
			mock.InjectRead(encode(t, 8, message.Reply{OK: true, RefID: id, Body: "Joined."}))
		}
	})

	reply, err := d.Request(context.Background(), message.Join{ChannelID: "general", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, []message.Message{message.Chat{DisplayName: "Server", Body: "Alice joined general."}}, inline)
	assert.ElementsMatch(t, []uint16{7, 8}, confirmsOf(t, mock.Written()))
}

func TestDatagramServerErrorTerminatesRequest(t *testing.T) {
	d, mock := newTestDatagram(t)

	var inline []message.Message
	d.SetHandler(func(m message.Message) { inline = append(inline, m) })

	mock.OnWrite(func(data []byte) {
		id, m := decode(t, data)
		if m.Type() == message.TypeAuth {
			mock.InjectRead(encode(t, 0, message.Confirm{RefID: id}))
			mock.InjectRead(encode(t, 3, message.Err{DisplayName: "Server", Body: "internal failure"}))
		}
	})

	_, err := d.Request(context.Background(), message.Auth{Username: "a", Secret: "b", DisplayName: "c"})
	assert.ErrorIs(t, err, ErrTerminated)
	require.Len(t, inline, 1)
	assert.Equal(t, message.Err{DisplayName: "Server", Body: "internal failure"}, inline[0])
	assert.Equal(t, []uint16{3}, confirmsOf(t, mock.Written()))
}

func TestDatagramReplyTimeout(t *testing.T) {
	d, mock := newTestDatagram(t)
	mock.OnWrite(func(data []byte) {
		id, m := decode(t, data)
		if m.Type() == message.TypeAuth {
			mock.InjectRead(encode(t, 0, message.Confirm{RefID: id}))
		}
	})

	_, err := d.Request(context.Background(), message.Auth{Username: "a", Secret: "b", DisplayName: "c"})
	assert.ErrorIs(t, err, ErrReplyTimeout)
}

func TestDatagramDuplicateConfirmAndReplyAreIdempotent(t *testing.T) {
	d, mock := newTestDatagram(t)

	var inline []message.Message
	d.SetHandler(func(m message.Message) { inline = append(inline, m) })

	mock.OnWrite(func(data []byte) {
		id, m := decode(t, data)
		if m.Type() == message.TypeAuth {
			mock.InjectRead(encode(t, 0, message.Confirm{RefID: id}))
			mock.InjectRead(encode(t, 9, message.Reply{OK: true, RefID: id, Body: "ok"}))
		}
	})

	_, err := d.Request(context.Background(), message.Auth{Username: "a", Secret: "b", DisplayName: "c"})
	require.NoError(t, err)

	// Server lost our CONFIRM and repeats everything
	mock.InjectRead(encode(t, 0, message.Confirm{RefID: 0}))
	mock.InjectRead(encode(t, 9, message.Reply{OK: true, RefID: 0, Body: "ok"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = d.Poll(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Empty(t, inline)
	assert.Equal(t, []uint16{9, 9}, confirmsOf(t, mock.Written()))
	assert.Equal(t, uint64(1), d.Statistics().Duplicates())
}

func TestDatagramPollSuppressesDuplicates(t *testing.T) {
	d, mock := newTestDatagram(t)

	mock.InjectRead(encode(t, 5, message.Chat{DisplayName: "Bob", Body: "one"}))
	mock.InjectRead(encode(t, 5, message.Chat{DisplayName: "Bob", Body: "one"}))
	mock.InjectRead(encode(t, 6, message.Bye{}))

	got, err := d.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, message.Chat{DisplayName: "Bob", Body: "one"}, got)

	got, err = d.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, message.Bye{}, got)

	assert.Equal(t, []uint16{5, 5, 6}, confirmsOf(t, mock.Written()))
}

func TestDatagramPollMalformed(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		confirm []uint16
	}{
		{"unknown type", []byte{0x42, 0x00, 0x09}, []uint16{9}},
		{"truncated body", []byte{0x04, 0x00, 0x0A, 'x'}, []uint16{10}},
		{"too short to confirm", []byte{0x04}, nil},
		{"auth from server", []byte{0x02, 0x00, 0x0B, 'a', 0, 'b', 0, 'c', 0}, []uint16{11}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, mock := newTestDatagram(t)
			mock.InjectRead(tt.frame)

			_, err := d.Poll(context.Background())
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Equal(t, tt.confirm, confirmsOf(t, mock.Written()))
		})
	}
}

func TestDatagramPollDropsStrayFrames(t *testing.T) {
	d, mock := newTestDatagram(t)

	mock.InjectRead(encode(t, 0, message.Confirm{RefID: 77}))
	mock.InjectRead(encode(t, 12, message.Reply{OK: true, RefID: 3, Body: "late"}))
	mock.InjectRead(encode(t, 13, message.Err{DisplayName: "Server", Body: "bye now"}))

	got, err := d.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, message.Err{DisplayName: "Server", Body: "bye now"}, got)
	assert.Equal(t, []uint16{12, 13}, confirmsOf(t, mock.Written()))
	assert.Equal(t, uint64(2), d.Statistics().Ignored())
}

func TestDatagramClose(t *testing.T) {
	d, mock := newTestDatagram(t)

	require.NoError(t, d.Close())
	assert.True(t, mock.IsClosed())
	assert.ErrorIs(t, d.Send(context.Background(), message.Bye{}), ErrClosed)
	_, err := d.Poll(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDatagramRejectsInvalidOutbound(t *testing.T) {
	d, mock := newTestDatagram(t)

	_, err := d.Request(context.Background(), message.Chat{DisplayName: "Alice", Body: "hi"})
	assert.ErrorIs(t, err, ErrWrongExchange)

	err = d.Send(context.Background(), message.Join{ChannelID: "general", DisplayName: "Alice"})
	assert.ErrorIs(t, err, ErrWrongExchange)

	err = d.Send(context.Background(), message.Chat{DisplayName: "Al ice", Body: "hi"})
	assert.ErrorIs(t, err, message.ErrInvalidField)

	_, err = d.Request(context.Background(), message.Join{ChannelID: "general", DisplayName: ""})
	assert.ErrorIs(t, err, message.ErrInvalidField)

	assert.Empty(t, mock.Written())
}

func TestDatagramStatisticsTrackActivity(t *testing.T) {
	d, mock := newTestDatagram(t)
	assert.Contains(t, d.Statistics().String(), "last_tx=never last_rx=never")

	mock.OnWrite(func(data []byte) {
		if id, m := decode(t, data); m.Type() == message.TypeMsg {
			mock.InjectRead(encode(t, 0, message.Confirm{RefID: id}))
		}
	})

	start := time.Now()
	require.NoError(t, d.Send(context.Background(), message.Chat{DisplayName: "Alice", Body: "hi"}))

	stats := d.Statistics()
	assert.False(t, stats.LastTxTime().Before(start))
	assert.False(t, stats.LastRxTime().IsZero())
	assert.NotContains(t, stats.String(), "never")
}
