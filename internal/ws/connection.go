package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one feed socket. A user may hold several (one per tab).
type Connection struct {
	ID        string    // connection id (UUID)
	UserID    string    // lobby uid from the cookie
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was established

	lastSeen atomic.Int64 // unix nanos of the last frame read
	notify   chan struct{}
	writeMu  sync.Mutex // serializes writes to this connection
	closed   sync.Once
	done     chan struct{}
}

func newConnection(id, userID string, conn net.Conn, now time.Time) *Connection {
	c := &Connection{
		ID:        id,
		UserID:    userID,
		Conn:      conn,
		CreatedAt: now,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	c.touch(now)
	return c
}

// WriteMessage sends a text frame. The write mutex keeps concurrent
// goroutines from interleaving frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// writeControl sends a pong or close frame.
func (c *Connection) writeControl(f ws.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, f)
}

// LastSeen returns the time of the last frame read from the client.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Connection) touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
}

// signal asks the writer to refresh. Signals coalesce.
func (c *Connection) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Close closes the network connection once.
func (c *Connection) Close() error {
	var err error
	c.closed.Do(func() {
		close(c.done)
		err = c.Conn.Close()
	})
	return err
}

// ConnectionManager is a thread-safe registry of connections by id and by
// user.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection            // conn id -> Connection
	byUser map[string]map[string]*Connection // uid -> conn id -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
	}
}

// Add registers a new connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	set, ok := cm.byUser[conn.UserID]
	if !ok {
		set = make(map[string]*Connection)
		cm.byUser[conn.UserID] = set
	}
	set[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove unregisters a connection by id and closes it. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		if set := cm.byUser[conn.UserID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(cm.byUser, conn.UserID)
			}
		}
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// ForUser returns a snapshot of the user's connections.
func (cm *ConnectionManager) ForUser(uid string) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	set := cm.byUser[uid]
	conns := make([]*Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
