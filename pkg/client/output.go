package client

import (
	"fmt"
	"io"
	"sync"

	"avaneesh/ipk24chat-go/pkg/message"
)

const helpText = `/auth {Username} {Secret} {DisplayName} - Authenticate with the server.
/join {ChannelID} - Join a chat channel.
/rename {DisplayName} - Change your display name.
/help - Show this help message.
/bye - Leave and exit.
Any other text will be sent as a message.
`

// printer renders everything the user sees. Chat goes to stdout, all
// errors and reply outcomes go to stderr. It is shared by the foreground
// loop and the listener goroutine.
type printer struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

func (p *printer) chat(m message.Chat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.stdout, "%s: %s\n", m.DisplayName, m.Body)
}

func (p *printer) serverError(m message.Err) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.stderr, "ERR FROM %s: %s\n", m.DisplayName, m.Body)
}

func (p *printer) localError(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.stderr, "ERR: "+format+"\n", args...)
}

func (p *printer) reply(r message.Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.OK {
		fmt.Fprintf(p.stderr, "Success: %s\n", r.Body)
	} else {
		fmt.Fprintf(p.stderr, "Failure: %s\n", r.Body)
	}
}

func (p *printer) help() {
	p.mu.Lock()
	defer p.mu.Unlock()
	io.WriteString(p.stdout, helpText)
}
