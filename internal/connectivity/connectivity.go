// Package connectivity decides whether remote writes should even be
// attempted. The sync engine consults a Monitor before each best-effort
// remote call; when offline it skips straight to queueing.
package connectivity

import (
	"net"
	"sync"
	"time"
)

// Monitor reports whether the remote store is believed reachable.
type Monitor interface {
	Online() bool
}

// Static is a Monitor with a fixed answer. Useful for tests and for
// forcing offline mode from configuration.
type Static struct {
	Reachable bool
}

func (s Static) Online() bool { return s.Reachable }

// Prober checks reachability by dialing a TCP address, caching the result
// for a short interval so hot paths don't dial on every write.
type Prober struct {
	Addr    string
	Timeout time.Duration
	TTL     time.Duration

	mu      sync.Mutex
	last    bool
	checked time.Time
}

// NewProber creates a Prober with sensible defaults.
func NewProber(addr string) *Prober {
	return &Prober{
		Addr:    addr,
		Timeout: 2 * time.Second,
		TTL:     10 * time.Second,
	}
}

func (p *Prober) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.checked) < p.TTL {
		return p.last
	}

	conn, err := net.DialTimeout("tcp", p.Addr, p.Timeout)
	if err == nil {
		conn.Close()
	}
	p.last = err == nil
	p.checked = time.Now()
	return p.last
}
