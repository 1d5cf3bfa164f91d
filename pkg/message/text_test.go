package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLine(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{Auth{Username: "alice", Secret: "s3", DisplayName: "Alice"}, "AUTH alice AS Alice USING s3\r\n"},
		{Join{ChannelID: "general", DisplayName: "Alice"}, "JOIN general AS Alice\r\n"},
		{Chat{DisplayName: "Alice", Body: "hi all"}, "MESSAGE FROM Alice IS hi all\r\n"},
		{Err{DisplayName: "Alice", Body: "oops"}, "ERROR FROM Alice IS oops\r\n"},
		{Reply{OK: true, Body: "Joined."}, "REPLY OK IS Joined.\r\n"},
		{Reply{OK: false, Body: "No."}, "REPLY NOK IS No.\r\n"},
		{Bye{}, "BYE\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.msg.Type().String(), func(t *testing.T) {
			got, err := EncodeLine(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestEncodeLineRejectsConfirm(t *testing.T) {
	_, err := EncodeLine(Confirm{RefID: 1})
	assert.ErrorIs(t, err, ErrNotEncodable)
}

func TestLineRoundTrip(t *testing.T) {
	msgs := []Message{
		Auth{Username: "bob-1", Secret: "abc-DEF", DisplayName: "Bob!"},
		Join{ChannelID: "discord.general", DisplayName: "Bob"},
		Chat{DisplayName: "Bob", Body: "multiple   spaces IS kept"},
		Err{DisplayName: "Server", Body: "bad thing"},
		Reply{OK: true, Body: "Auth success."},
		Reply{OK: false, Body: ""},
		Bye{},
	}

	for _, m := range msgs {
		line, err := EncodeLine(m)
		require.NoError(t, err)

		got, ok := ParseLine(string(line))
		require.True(t, ok, "line %q did not parse", line)
		assert.Equal(t, m, got)
	}
}

func TestParseLineSynonymsAndCase(t *testing.T) {
	tests := []struct {
		line string
		want Message
	}{
		{"MSG FROM Server IS Alice joined.", Chat{DisplayName: "Server", Body: "Alice joined."}},
		{"msg from Server is hi", Chat{DisplayName: "Server", Body: "hi"}},
		{"ERR FROM Server IS nope", Err{DisplayName: "Server", Body: "nope"}},
		{"reply ok is fine", Reply{OK: true, Body: "fine"}},
		{"bye\r\n", Bye{}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ParseLine(tt.line)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLineIgnoresNoise(t *testing.T) {
	lines := []string{
		"",
		"   ",
		"HELLO",
		"REPLY MAYBE IS x",
		"REPLY OK",
		"MSG FROM",
		"MSG FROM Alice SAYS hi",
		"BYE now",
		"JOIN general",
		"AUTH a AS b",
		"\x00\x01\x02",
	}

	for _, l := range lines {
		_, ok := ParseLine(l)
		assert.False(t, ok, "line %q should be ignored", l)
	}
}
