package client

import (
	"errors"
	"fmt"
	"strings"

	"avaneesh/ipk24chat-go/pkg/message"
)

// CommandKind identifies a line of user input.
type CommandKind int

const (
	CmdNone CommandKind = iota // blank line
	CmdAuth
	CmdJoin
	CmdRename
	CmdHelp
	CmdBye
	CmdChat
)

func (k CommandKind) String() string {
	switch k {
	case CmdNone:
		return "none"
	case CmdAuth:
		return "/auth"
	case CmdJoin:
		return "/join"
	case CmdRename:
		return "/rename"
	case CmdHelp:
		return "/help"
	case CmdBye:
		return "/bye"
	case CmdChat:
		return "message"
	default:
		return "unknown"
	}
}

var ErrUsage = errors.New("wrong number of arguments")

// Command is one validated line of user input.
type Command struct {
	Kind CommandKind

	Username    string
	Secret      string
	DisplayName string
	ChannelID   string
	Body        string
}

// ParseCommand parses and validates one input line. Every field is checked
// here so that a rejected command never reaches the transport.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Command{Kind: CmdNone}, nil
	}

	if !strings.HasPrefix(line, "/") {
		return chatCommand(line)
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "/auth":
		if len(args) != 3 {
			return Command{}, fmt.Errorf("%w: usage /auth {Username} {Secret} {DisplayName}", ErrUsage)
		}
		cmd := Command{Kind: CmdAuth, Username: args[0], Secret: args[1], DisplayName: args[2]}
		if err := message.ValidateUsername(cmd.Username); err != nil {
			return Command{}, err
		}
		if err := message.ValidateSecret(cmd.Secret); err != nil {
			return Command{}, err
		}
		if err := message.ValidateDisplayName(cmd.DisplayName); err != nil {
			return Command{}, err
		}
		return cmd, nil

	case "/join":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: usage /join {ChannelID}", ErrUsage)
		}
		if err := message.ValidateChannelID(args[0]); err != nil {
			return Command{}, err
		}
		return Command{Kind: CmdJoin, ChannelID: args[0]}, nil

	case "/rename":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%w: usage /rename {DisplayName}", ErrUsage)
		}
		if err := message.ValidateDisplayName(args[0]); err != nil {
			return Command{}, err
		}
		return Command{Kind: CmdRename, DisplayName: args[0]}, nil

	case "/help":
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%w: /help takes no arguments", ErrUsage)
		}
		return Command{Kind: CmdHelp}, nil

	case "/bye":
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%w: /bye takes no arguments", ErrUsage)
		}
		return Command{Kind: CmdBye}, nil
	}

	// anything else, slash or not, is chat
	return chatCommand(line)
}

func chatCommand(line string) (Command, error) {
	if err := message.ValidateBody(line); err != nil {
		return Command{}, err
	}
	return Command{Kind: CmdChat, Body: line}, nil
}
