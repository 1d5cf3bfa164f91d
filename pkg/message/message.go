// Package message defines the chat protocol's message variants and their
// two wire encodings: the binary datagram format and the CRLF line grammar
// used on stream transports.
package message

import "fmt"

// Message is one of Auth, Join, Chat, Err, Bye, Confirm or Reply.
type Message interface {
	Type() Type
}

// Auth asks the server to authenticate Username with Secret.
type Auth struct {
	Username    string
	Secret      string
	DisplayName string
}

// Join asks the server to move the user into ChannelID.
type Join struct {
	ChannelID   string
	DisplayName string
}

// Chat is a chat message, sent or received.
type Chat struct {
	DisplayName string
	Body        string
}

// Err is a protocol error report. Receiving one ends the session.
type Err struct {
	DisplayName string
	Body        string
}

// Bye terminates the conversation.
type Bye struct{}

// Confirm acknowledges the datagram carrying RefID. Datagram only.
type Confirm struct {
	RefID uint16
}

// Reply is the server's verdict on the Auth or Join carrying RefID.
// RefID is meaningless on stream transports.
type Reply struct {
	OK    bool
	RefID uint16
	Body  string
}

func (Auth) Type() Type    { return TypeAuth }
func (Join) Type() Type    { return TypeJoin }
func (Chat) Type() Type    { return TypeMsg }
func (Err) Type() Type     { return TypeErr }
func (Bye) Type() Type     { return TypeBye }
func (Confirm) Type() Type { return TypeConfirm }
func (Reply) Type() Type   { return TypeReply }

func (m Auth) String() string {
	return fmt.Sprintf("AUTH{user=%s, display=%s}", m.Username, m.DisplayName)
}

func (m Join) String() string {
	return fmt.Sprintf("JOIN{channel=%s, display=%s}", m.ChannelID, m.DisplayName)
}

func (m Chat) String() string {
	return fmt.Sprintf("MSG{from=%s, %d bytes}", m.DisplayName, len(m.Body))
}

func (m Err) String() string {
	return fmt.Sprintf("ERR{from=%s, %q}", m.DisplayName, m.Body)
}

func (Bye) String() string { return "BYE" }

func (m Confirm) String() string {
	return fmt.Sprintf("CONFIRM{ref=%d}", m.RefID)
}

func (m Reply) String() string {
	return fmt.Sprintf("REPLY{ok=%t, ref=%d, %q}", m.OK, m.RefID, m.Body)
}

// ExpectsReply reports whether m is answered by a Reply.
func ExpectsReply(m Message) bool {
	switch m.(type) {
	case Auth, Join:
		return true
	default:
		return false
	}
}
