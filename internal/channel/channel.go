// Package channel connects messaging transports to the message bus.
package channel

import (
	"context"
	"log"

	"github.com/stellarlinkco/autoreply/internal/bus"
)

// Channel is one messaging transport. Inbound events go to the bus; replies
// are delivered synchronously through Send.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

type BaseChannel struct {
	name string
	bus  *bus.MessageBus
}

func NewBaseChannel(name string, b *bus.MessageBus) BaseChannel {
	return BaseChannel{name: name, bus: b}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// publish hands msg to the bus, giving up when ctx ends.
func (c *BaseChannel) publish(ctx context.Context, msg bus.InboundMessage) {
	if c.bus == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.bus.Publish(ctx, msg); err != nil {
		log.Printf("[%s] dropped message %s: %v", c.name, msg.MessageID, err)
	}
}
