// Package displaytest provides an in-memory display.Channel for tests.
package displaytest

import (
	"context"
	"strconv"
	"sync"

	"github.com/osa030/lavabox/internal/domain/display"
)

// Sent is one message delivered through the fake.
type Sent struct {
	Ref     display.MessageRef
	Payload display.Payload
}

// Channel records sends, edits and deletes.
type Channel struct {
	mu      sync.Mutex
	seq     int
	sent    []Sent
	edits   []Sent
	deleted []display.MessageRef

	// SendErr, EditErr are returned by Send and Edit when set.
	SendErr error
	EditErr error
}

// New creates an empty fake channel.
func New() *Channel {
	return &Channel{}
}

func (c *Channel) Send(ctx context.Context, channelID string, p display.Payload) (display.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return display.MessageRef{}, c.SendErr
	}
	c.seq++
	ref := display.MessageRef{ChannelID: channelID, MessageID: strconv.Itoa(c.seq)}
	c.sent = append(c.sent, Sent{Ref: ref, Payload: p})
	return ref, nil
}

func (c *Channel) Edit(ctx context.Context, ref display.MessageRef, p display.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EditErr != nil {
		return c.EditErr
	}
	c.edits = append(c.edits, Sent{Ref: ref, Payload: p})
	return nil
}

func (c *Channel) Delete(ctx context.Context, ref display.MessageRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, ref)
	return nil
}

// SetEditErr sets EditErr under the lock.
func (c *Channel) SetEditErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EditErr = err
}

// Sent returns the sent messages.
func (c *Channel) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Edits returns the edits.
func (c *Channel) Edits() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.edits...)
}

// Deleted returns the deleted message refs.
func (c *Channel) Deleted() []display.MessageRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]display.MessageRef(nil), c.deleted...)
}

// SentContaining counts sent messages whose content or embed description equals text.
func (c *Channel) SentContaining(text string) int {
	n := 0
	for _, s := range c.Sent() {
		if s.Payload.Content == text || (s.Payload.Embed != nil && s.Payload.Embed.Description == text) {
			n++
		}
	}
	return n
}

var _ display.Channel = (*Channel)(nil)
