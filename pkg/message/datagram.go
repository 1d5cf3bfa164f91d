package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// EncodeDatagram serializes m with message id id.
//
// Layout: [1B type][2B id big-endian][payload]. String fields are
// null-terminated UTF-8. A Confirm carries its RefID in the id slot and
// no payload; id is ignored for it.
func EncodeDatagram(id uint16, m Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(64)

	switch v := m.(type) {
	case Confirm:
		writeHeader(&buf, TypeConfirm, v.RefID)
		return buf.Bytes(), nil

	case Reply:
		writeHeader(&buf, TypeReply, id)
		if v.OK {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		var ref [2]byte
		binary.BigEndian.PutUint16(ref[:], v.RefID)
		buf.Write(ref[:])
		if err := writeStrings(&buf, v.Body); err != nil {
			return nil, err
		}

	case Auth:
		writeHeader(&buf, TypeAuth, id)
		if err := writeStrings(&buf, v.Username, v.DisplayName, v.Secret); err != nil {
			return nil, err
		}

	case Join:
		writeHeader(&buf, TypeJoin, id)
		if err := writeStrings(&buf, v.ChannelID, v.DisplayName); err != nil {
			return nil, err
		}

	case Chat:
		writeHeader(&buf, TypeMsg, id)
		if err := writeStrings(&buf, v.DisplayName, v.Body); err != nil {
			return nil, err
		}

	case Err:
		writeHeader(&buf, TypeErr, id)
		if err := writeStrings(&buf, v.DisplayName, v.Body); err != nil {
			return nil, err
		}

	case Bye:
		writeHeader(&buf, TypeBye, id)

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}

	if buf.Len() > MaxDatagramSize {
		return nil, fmt.Errorf("%w: datagram of %d bytes", ErrFieldTooLong, buf.Len())
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, t Type, id uint16) {
	var hdr [HeaderSize]byte
	hdr[0] = byte(t)
	binary.BigEndian.PutUint16(hdr[1:3], id)
	buf.Write(hdr[:])
}

func writeStrings(buf *bytes.Buffer, fields ...string) error {
	for _, f := range fields {
		if strings.IndexByte(f, 0) >= 0 {
			return fmt.Errorf("%w: embedded NUL", ErrInvalidField)
		}
		buf.WriteString(f)
		buf.WriteByte(0)
	}
	return nil
}

// SetDatagramID rewrites the message id of an encoded frame in place.
func SetDatagramID(frame []byte, id uint16) {
	if len(frame) >= HeaderSize {
		binary.BigEndian.PutUint16(frame[1:3], id)
	}
}

// PeekDatagram returns the type and id of a frame without decoding its payload.
// It lets a receiver acknowledge frames whose payload is malformed.
func PeekDatagram(frame []byte) (Type, uint16, error) {
	if len(frame) < HeaderSize {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}
	return Type(frame[0]), binary.BigEndian.Uint16(frame[1:3]), nil
}

// DecodeDatagram parses one frame. It never panics on malformed input.
func DecodeDatagram(frame []byte) (uint16, Message, error) {
	t, id, err := PeekDatagram(frame)
	if err != nil {
		return 0, nil, err
	}
	payload := frame[HeaderSize:]

	switch t {
	case TypeConfirm:
		return id, Confirm{RefID: id}, nil

	case TypeReply:
		if len(frame) < ReplyHeaderSize {
			return id, nil, fmt.Errorf("%w: reply of %d bytes", ErrShortFrame, len(frame))
		}
		result := payload[0]
		if result > 1 {
			return id, nil, fmt.Errorf("%w: reply result %d", ErrInvalidField, result)
		}
		ref := binary.BigEndian.Uint16(payload[1:3])
		fields, err := readStrings(payload[3:], 1)
		if err != nil {
			return id, nil, err
		}
		return id, Reply{OK: result == 1, RefID: ref, Body: fields[0]}, nil

	case TypeAuth:
		fields, err := readStrings(payload, 3)
		if err != nil {
			return id, nil, err
		}
		return id, Auth{Username: fields[0], DisplayName: fields[1], Secret: fields[2]}, nil

	case TypeJoin:
		fields, err := readStrings(payload, 2)
		if err != nil {
			return id, nil, err
		}
		return id, Join{ChannelID: fields[0], DisplayName: fields[1]}, nil

	case TypeMsg:
		fields, err := readStrings(payload, 2)
		if err != nil {
			return id, nil, err
		}
		return id, Chat{DisplayName: fields[0], Body: fields[1]}, nil

	case TypeErr:
		fields, err := readStrings(payload, 2)
		if err != nil {
			return id, nil, err
		}
		return id, Err{DisplayName: fields[0], Body: fields[1]}, nil

	case TypeBye:
		return id, Bye{}, nil

	default:
		return id, nil, fmt.Errorf("%w: 0x%02x", ErrUnknownType, byte(t))
	}
}

// readStrings extracts exactly n null-terminated strings from b.
func readStrings(b []byte, n int) ([]string, error) {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		end := bytes.IndexByte(b, 0)
		if end < 0 {
			return nil, ErrMissingTerminator
		}
		out = append(out, string(b[:end]))
		b = b[end+1:]
	}
	return out, nil
}
