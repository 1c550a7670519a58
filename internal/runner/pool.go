package runner

import (
	"context"
	"sync"
	"time"

	"github.com/rileyhilliard/gpustat/internal/config"
	"github.com/rileyhilliard/gpustat/pkg/sshutil"
)

// keepaliveRequest is the global request OpenSSH uses for ServerAliveInterval.
const keepaliveRequest = "keepalive@openssh.com"

// DialFunc opens a new connection to host.
type DialFunc func(ctx context.Context, host config.Host) (sshutil.SSHClient, error)

// SSHDialer returns a DialFunc backed by sshutil.Dial.
func SSHDialer(opts sshutil.Options) DialFunc {
	return func(ctx context.Context, h config.Host) (sshutil.SSHClient, error) {
		client, err := sshutil.Dial(ctx, sshutil.Target{
			Name:    h.Name,
			Address: h.Address,
			User:    h.User,
			Port:    h.Port,
			KeyPath: h.KeyPath,
		}, opts)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Pool keeps one SSH connection per host name alive between cycles so each
// cycle does not pay for a fresh handshake.
type Pool struct {
	mu          sync.Mutex
	connections map[string]*poolEntry
	dial        DialFunc
}

// poolEntry holds a connection and the descriptor it was opened for.
type poolEntry struct {
	client   sshutil.SSHClient
	host     config.Host
	lastUsed time.Time
}

// NewPool creates a new SSH connection pool.
func NewPool(dial DialFunc) *Pool {
	return &Pool{
		connections: make(map[string]*poolEntry),
		dial:        dial,
	}
}

// Get returns the cached connection for host.Name, or dials a new one.
// A cached connection is replaced when it fails a keepalive probe or was
// opened for a different address, user, port or key.
func (p *Pool) Get(ctx context.Context, host config.Host) (sshutil.SSHClient, error) {
	p.mu.Lock()
	entry, exists := p.connections[host.Name]
	p.mu.Unlock()

	if exists {
		if sameEndpoint(entry.host, host) && isAlive(entry.client) {
			p.mu.Lock()
			entry.lastUsed = time.Now()
			p.mu.Unlock()
			return entry.client, nil
		}
		p.remove(host.Name, entry.client)
	}

	client, err := p.dial(ctx, host)
	if err != nil {
		return nil, err
	}
	// The caller gave up during the handshake and may already have
	// invalidated this host.
	if err := ctx.Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	p.mu.Lock()
	if old, ok := p.connections[host.Name]; ok && old.client != client {
		_ = old.client.Close()
	}
	p.connections[host.Name] = &poolEntry{
		client:   client,
		host:     host,
		lastUsed: time.Now(),
	}
	p.mu.Unlock()

	return client, nil
}

// Invalidate closes and forgets the connection for name, if any.
func (p *Pool) Invalidate(name string) {
	p.remove(name, nil)
}

// Close closes all connections in the pool and clears it.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, entry := range p.connections {
		_ = entry.client.Close()
		delete(p.connections, name)
	}
}

// Size returns the number of connections in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connections)
}

// remove closes and removes the entry for name. When only is non-nil the
// entry is removed only if it still holds that client.
func (p *Pool) remove(name string, only sshutil.SSHClient) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.connections[name]
	if !ok || (only != nil && entry.client != only) {
		return
	}
	_ = entry.client.Close()
	delete(p.connections, name)
}

// isAlive checks if a connection is still usable.
func isAlive(client sshutil.SSHClient) bool {
	if client == nil {
		return false
	}
	_, _, err := client.SendRequest(keepaliveRequest, true, nil)
	return err == nil
}

func sameEndpoint(a, b config.Host) bool {
	return a.Address == b.Address && a.User == b.User && a.Port == b.Port && a.KeyPath == b.KeyPath
}
