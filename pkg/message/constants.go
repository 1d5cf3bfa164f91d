package message

import "errors"

// Type is the datagram tag byte identifying a message kind.
type Type uint8

const (
	TypeConfirm Type = 0x00
	TypeReply   Type = 0x01
	TypeAuth    Type = 0x02
	TypeJoin    Type = 0x03
	TypeMsg     Type = 0x04
	TypeErr     Type = 0xFE
	TypeBye     Type = 0xFF
)

// String returns string representation of Type
func (t Type) String() string {
	switch t {
	case TypeConfirm:
		return "CONFIRM"
	case TypeReply:
		return "REPLY"
	case TypeAuth:
		return "AUTH"
	case TypeJoin:
		return "JOIN"
	case TypeMsg:
		return "MSG"
	case TypeErr:
		return "ERR"
	case TypeBye:
		return "BYE"
	default:
		return "UNKNOWN"
	}
}

// Field limits
const (
	MaxUsernameLen    = 20
	MaxSecretLen      = 128
	MaxDisplayNameLen = 20
	MaxChannelIDLen   = 20
	MaxBodyLen        = 1400
)

// Datagram layout
const (
	HeaderSize      = 3 // type + message id
	ReplyHeaderSize = HeaderSize + 1 + 2
	MaxDatagramSize = 65507
)

// LineTerminator ends every stream-transport line.
const LineTerminator = "\r\n"

var (
	ErrShortFrame        = errors.New("frame too short")
	ErrUnknownType       = errors.New("unknown message type")
	ErrMissingTerminator = errors.New("string field not null-terminated")
	ErrInvalidField      = errors.New("invalid field")
	ErrFieldTooLong      = errors.New("field too long")
	ErrNotEncodable      = errors.New("message cannot be encoded for this transport")
)
