package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Chain routes completion requests through an ordered list of clients,
// falling back to the next client when one fails.
type Chain struct {
	clients map[string]Client
	order   []string
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewChain creates an empty provider chain.
func NewChain(logger *zap.Logger) *Chain {
	return &Chain{
		clients: make(map[string]Client),
		logger:  logger,
	}
}

// Register appends a client to the chain. First registered is primary.
func (c *Chain) Register(cl Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.clients[cl.ID()]; !exists {
		c.order = append(c.order, cl.ID())
	}
	c.clients[cl.ID()] = cl
	c.logger.Info("registered llm client",
		zap.String("id", cl.ID()), zap.String("name", cl.Name()))
}

// Len returns the number of registered clients.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Complete tries each client in order until one succeeds.
func (c *Chain) Complete(ctx context.Context, req *Request) (*Response, error) {
	c.mu.RLock()
	order := make([]string, len(c.order))
	copy(order, c.order)
	clients := c.clients
	c.mu.RUnlock()

	if len(order) == 0 {
		return nil, fmt.Errorf("no llm clients registered")
	}

	var lastErr error
	for _, id := range order {
		resp, err := clients[id].Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("llm client failed, trying next",
			zap.String("client", id), zap.Error(err))
	}
	return nil, fmt.Errorf("all llm clients failed: %w", lastErr)
}
