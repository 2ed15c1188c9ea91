// Package mail defines the outbound mail port used by the notification
// dispatcher. Protocol-level delivery belongs to the transport behind the
// Sender interface; the engine only needs success or failure per message.
package mail

import "context"

// Message is one rendered notification ready for delivery.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers one message. Implementations must be safe for concurrent
// use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
