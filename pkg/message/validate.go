package message

import (
	"fmt"
	"strings"
)

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-'
}

// isVisible reports printable, non-space ASCII (0x21-0x7E).
func isVisible(c byte) bool {
	return c >= 0x21 && c <= 0x7E
}

func checkField(name, value string, maxLen int, allowed func(byte) bool) error {
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidField, name)
	}
	if len(value) > maxLen {
		return fmt.Errorf("%w: %s is longer than %d", ErrFieldTooLong, name, maxLen)
	}
	for i := 0; i < len(value); i++ {
		if !allowed(value[i]) {
			return fmt.Errorf("%w: %s contains invalid character %q", ErrInvalidField, name, value[i])
		}
	}
	return nil
}

// ValidateUsername checks a username: 1-20 characters of [A-Za-z0-9-].
func ValidateUsername(s string) error {
	return checkField("username", s, MaxUsernameLen, isIdentChar)
}

// ValidateSecret checks a secret: 1-128 characters of [A-Za-z0-9-].
func ValidateSecret(s string) error {
	return checkField("secret", s, MaxSecretLen, isIdentChar)
}

// ValidateDisplayName checks a display name: 1-20 printable ASCII characters, no whitespace.
func ValidateDisplayName(s string) error {
	return checkField("display name", s, MaxDisplayNameLen, isVisible)
}

// ValidateChannelID checks a channel id: 1-20 printable ASCII characters, no whitespace.
func ValidateChannelID(s string) error {
	return checkField("channel id", s, MaxChannelIDLen, isVisible)
}

// ValidateBody checks a chat body: at most 1400 bytes, no NUL or line breaks.
func ValidateBody(s string) error {
	if len(s) > MaxBodyLen {
		return fmt.Errorf("%w: message is longer than %d bytes", ErrFieldTooLong, MaxBodyLen)
	}
	if strings.ContainsAny(s, "\x00\r\n") {
		return fmt.Errorf("%w: message contains a control character", ErrInvalidField)
	}
	return nil
}

// Validate checks every user-supplied field of m.
func Validate(m Message) error {
	switch v := m.(type) {
	case Auth:
		if err := ValidateUsername(v.Username); err != nil {
			return err
		}
		if err := ValidateSecret(v.Secret); err != nil {
			return err
		}
		return ValidateDisplayName(v.DisplayName)
	case Join:
		if err := ValidateChannelID(v.ChannelID); err != nil {
			return err
		}
		return ValidateDisplayName(v.DisplayName)
	case Chat:
		if err := ValidateDisplayName(v.DisplayName); err != nil {
			return err
		}
		return ValidateBody(v.Body)
	case Err:
		if err := ValidateDisplayName(v.DisplayName); err != nil {
			return err
		}
		return ValidateBody(v.Body)
	case Bye, Confirm, Reply:
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
}
