package message

import (
	"fmt"
	"strings"
)

// EncodeLine renders m as one CRLF-terminated line of the stream grammar.
func EncodeLine(m Message) ([]byte, error) {
	var line string

	switch v := m.(type) {
	case Auth:
		line = fmt.Sprintf("AUTH %s AS %s USING %s", v.Username, v.DisplayName, v.Secret)
	case Join:
		line = fmt.Sprintf("JOIN %s AS %s", v.ChannelID, v.DisplayName)
	case Chat:
		line = fmt.Sprintf("MESSAGE FROM %s IS %s", v.DisplayName, v.Body)
	case Err:
		line = fmt.Sprintf("ERROR FROM %s IS %s", v.DisplayName, v.Body)
	case Reply:
		verdict := "NOK"
		if v.OK {
			verdict = "OK"
		}
		line = fmt.Sprintf("REPLY %s IS %s", verdict, v.Body)
	case Bye:
		line = "BYE"
	case Confirm:
		return nil, fmt.Errorf("%w: %s", ErrNotEncodable, m.Type())
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}

	if strings.ContainsAny(line, "\r\n") {
		return nil, fmt.Errorf("%w: line break inside field", ErrInvalidField)
	}
	return []byte(line + LineTerminator), nil
}

// ParseLine matches one line (terminator optional) against the stream
// grammar. Keywords are case-insensitive; MSG/MESSAGE and ERR/ERROR are
// synonyms. The second result is false for any line that does not match.
func ParseLine(line string) (Message, bool) {
	line = strings.TrimRight(line, "\r\n")
	head, _, _ := strings.Cut(line, " ")

	switch strings.ToUpper(head) {
	case "MSG", "MESSAGE":
		name, body, ok := parseFromIs(line)
		if !ok {
			return nil, false
		}
		return Chat{DisplayName: name, Body: body}, true

	case "ERR", "ERROR":
		name, body, ok := parseFromIs(line)
		if !ok {
			return nil, false
		}
		return Err{DisplayName: name, Body: body}, true

	case "REPLY":
		parts := strings.SplitN(line, " ", 4)
		if len(parts) != 4 || !strings.EqualFold(parts[2], "IS") {
			return nil, false
		}
		switch strings.ToUpper(parts[1]) {
		case "OK":
			return Reply{OK: true, Body: parts[3]}, true
		case "NOK":
			return Reply{OK: false, Body: parts[3]}, true
		}
		return nil, false

	case "AUTH":
		f := strings.Split(line, " ")
		if len(f) != 6 || !strings.EqualFold(f[2], "AS") || !strings.EqualFold(f[4], "USING") {
			return nil, false
		}
		if f[1] == "" || f[3] == "" || f[5] == "" {
			return nil, false
		}
		return Auth{Username: f[1], DisplayName: f[3], Secret: f[5]}, true

	case "JOIN":
		f := strings.Split(line, " ")
		if len(f) != 4 || !strings.EqualFold(f[2], "AS") || f[1] == "" || f[3] == "" {
			return nil, false
		}
		return Join{ChannelID: f[1], DisplayName: f[3]}, true

	case "BYE":
		if strings.TrimSpace(line) != head {
			return nil, false
		}
		return Bye{}, true
	}
	return nil, false
}

// parseFromIs splits "<KW> FROM <name> IS <body>".
func parseFromIs(line string) (name, body string, ok bool) {
	parts := strings.SplitN(line, " ", 5)
	if len(parts) != 5 || !strings.EqualFold(parts[1], "FROM") || !strings.EqualFold(parts[3], "IS") {
		return "", "", false
	}
	if parts[2] == "" {
		return "", "", false
	}
	return parts[2], parts[4], true
}
