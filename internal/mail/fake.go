package mail

import (
	"context"
	"sync"
)

// FakeSender records messages for tests and can be told to fail.
type FakeSender struct {
	mu       sync.Mutex
	messages []Message
	failWith error
}

func NewFakeSender() *FakeSender {
	return &FakeSender{}
}

// FailWith makes every subsequent Send return err; pass nil to recover.
func (f *FakeSender) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *FakeSender) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return f.failWith
	}

	f.messages = append(f.messages, msg)

	return nil
}

// Sent returns a copy of the recorded messages.
func (f *FakeSender) Sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Message, len(f.messages))
	copy(out, f.messages)

	return out
}
