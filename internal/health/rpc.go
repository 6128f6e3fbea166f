package health

import (
	"context"
	"errors"
	"fmt"
)

// Pinger is anything that can report liveness of a remote endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RPCChecker reports node liveness through the chain client.
type RPCChecker struct {
	client    Pinger
	connected func() bool
}

// NewRPCChecker creates a checker. connected may be nil.
func NewRPCChecker(client Pinger, connected func() bool) *RPCChecker {
	return &RPCChecker{client: client, connected: connected}
}

// Ping fails fast when the client never connected, else pings the node.
func (c *RPCChecker) Ping(ctx context.Context) error {
	if c.client == nil {
		return errors.New("no chain client")
	}
	if c.connected != nil && !c.connected() {
		return errors.New("chain client disconnected")
	}
	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("chain rpc: %w", err)
	}
	return nil
}
