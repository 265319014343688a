package transport

import (
	"context"
	"fmt"
	"sync"
)

// Network is an in-process fabric of Memory transport endpoints. It backs
// unit tests and single-process deployments where coordinator and agents
// share an address space.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Memory
}

// NewNetwork creates an empty in-memory transport fabric.
func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*Memory)}
}

// Endpoint returns the transport endpoint with the given name, creating
// it on first use.
func (n *Network) Endpoint(name string) *Memory {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ep, ok := n.endpoints[name]; ok {
		return ep
	}
	ep := &Memory{
		net:   n,
		name:  name,
		inbox: make(chan envelope, 64),
		done:  make(chan struct{}),
	}
	n.endpoints[name] = ep
	return ep
}

// deliver routes a payload to the named endpoint's inbox.
func (n *Network) deliver(ctx context.Context, origin, destination string, payload []byte) error {
	n.mu.Lock()
	dest, ok := n.endpoints[destination]
	n.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown transport destination: %s", destination)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case dest.inbox <- envelope{Origin: origin, Payload: payload}:
		return nil
	}
}

// Memory is one endpoint on an in-process Network. It implements Transport.
type Memory struct {
	net   *Network
	name  string
	inbox chan envelope
	done  chan struct{}
	once  sync.Once
}

// Send delivers a payload to another endpoint on the same network.
func (m *Memory) Send(ctx context.Context, destination string, payload []byte) error {
	select {
	case <-m.done:
		return fmt.Errorf("transport closed")
	default:
	}
	return m.net.deliver(ctx, m.name, destination, payload)
}

// Receive blocks until a payload arrives, the context is cancelled, or
// the endpoint is closed.
func (m *Memory) Receive(ctx context.Context) (string, []byte, error) {
	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case <-m.done:
		return "", nil, fmt.Errorf("transport closed")
	case env := <-m.inbox:
		return env.Origin, env.Payload, nil
	}
}

// Close shuts the endpoint down. Pending Receive calls unblock with an
// error. The endpoint stays registered on the network, so later sends to
// it enqueue until the inbox fills rather than failing as unknown.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
