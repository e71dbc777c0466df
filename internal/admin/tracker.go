package admin

import (
	"net"
	"sync"
	"time"
)

// ConnectionInfo is one open connection as reported to the admin
// surface's /sys/connections endpoint.
type ConnectionInfo struct {
	RemoteIP   string
	RemotePort string
	LocalIP    string
	LocalPort  string
	USOnline   uint64
}

type trackedConn struct {
	remote   net.Addr
	local    net.Addr
	openedAt time.Time
}

// ConnectionTracker records currently-open connections so the admin
// surface can report them.
type ConnectionTracker struct {
	mu   sync.Mutex
	next uint64
	open map[uint64]trackedConn
}

// NewConnectionTracker returns an empty tracker.
func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{open: make(map[uint64]trackedConn)}
}

// Register records conn as open and returns a func to call when it
// closes.
func (t *ConnectionTracker) Register(conn net.Conn) func() {
	t.mu.Lock()
	id := t.next
	t.next++
	t.open[id] = trackedConn{remote: conn.RemoteAddr(), local: conn.LocalAddr(), openedAt: time.Now()}
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.open, id)
		t.mu.Unlock()
	}
}

// Snapshot lists every currently-open connection.
func (t *ConnectionTracker) Snapshot() []ConnectionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ConnectionInfo, 0, len(t.open))
	for _, c := range t.open {
		rip, rport := splitHostPort(c.remote)
		lip, lport := splitHostPort(c.local)
		out = append(out, ConnectionInfo{
			RemoteIP:   rip,
			RemotePort: rport,
			LocalIP:    lip,
			LocalPort:  lport,
			USOnline:   uint64(time.Since(c.openedAt).Microseconds()),
		})
	}
	return out
}

func splitHostPort(addr net.Addr) (string, string) {
	if addr == nil {
		return "", ""
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), ""
	}
	return host, port
}
