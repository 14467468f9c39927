package service

import (
	"context"
)

// Event kinds as delivered by the conversational front end.
// The transport is out of scope: anything able to tag a user identity and
// one of these three shapes can drive the core.
const (
	EventCommand  = "command"  // a command was invoked ("/withdraw")
	EventText     = "text"     // a free-text message
	EventCallback = "callback" // a button press with a payload
)

// Event is one discrete inbound event for a single user.
type Event struct {
	Kind string
	// Text carries the command name, the message text or the callback
	// payload depending on Kind
	Text string
}

// Reply is an outbound payload to send back to the user.
type Reply struct {
	Text string
}

// Notifier delivers out-of-band messages (settlement results resolve after
// the originating request has returned). Failures are logged and swallowed
// by callers: duplicate notifications are worse than a missed one.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, userID int64, text string) error

func (f NotifierFunc) Notify(ctx context.Context, userID int64, text string) error {
	return f(ctx, userID, text)
}
