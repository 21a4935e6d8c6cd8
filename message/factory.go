// Package message creates broker message records and owns the allocation of
// their identities across store restarts.
package message

import (
	"github.com/gabriel-vasile/mimetype"
)

// Message is the broker's record of a message body.
type Message struct {
	ID          ID
	ContentType string
	Body        []byte
	Persistent  bool
}

// Factory creates message records, drawing identities from an Allocator.
type Factory struct {
	alloc *Allocator
}

// NewFactory creates a factory backed by alloc
func NewFactory(alloc *Allocator) *Factory {
	return &Factory{alloc: alloc}
}

// Allocator returns the allocator backing the factory.
func (f *Factory) Allocator() *Allocator {
	return f.alloc
}

// Recover rebuilds a persisted message under its original identity. An empty
// contentType is sniffed from the body.
func (f *Factory) Recover(id ID, contentType string, body []byte) (*Message, error) {
	if err := f.alloc.AssertIdentity(id); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = detect(body)
	}
	return &Message{ID: id, ContentType: contentType, Body: body, Persistent: true}, nil
}

// Create builds a new message with the next identity.
func (f *Factory) Create(body []byte, persistent bool) (*Message, error) {
	id, err := f.alloc.AllocateNext()
	if err != nil {
		return nil, err
	}
	return &Message{ID: id, ContentType: detect(body), Body: body, Persistent: persistent}, nil
}

// CompleteRecovery switches the backing allocator to sequential allocation.
func (f *Factory) CompleteRecovery() {
	f.alloc.CompleteRecovery()
}

func detect(body []byte) string {
	return mimetype.Detect(body).String()
}
