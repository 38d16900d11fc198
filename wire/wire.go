// Package wire simulates a BLE GATT link between devices over Unix domain
// sockets. Each device listens at {socketDir}/gattstream-{uuid}.sock; a
// connection carries ATT PDUs inside L2CAP basic frames. The central writes
// the stream characteristic with Write Request, the peripheral sends Handle
// Value Indications, so every value written is acknowledged by the peer.
package wire

import (
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/user/gattstream/logger"
	"github.com/user/gattstream/util"
)

// Wire handles Unix domain socket communication for one device
type Wire struct {
	hardwareUUID string
	socketDir    string
	socketPath   string
	prefix       string

	listener    net.Listener
	connections map[string]*Connection // peer UUID -> single connection
	latest      map[string]*Connection // peer UUID -> newest connection not yet torn down
	mu          sync.RWMutex

	requestTimeout time.Duration

	// Callbacks
	connectCallback    func(peerUUID string, role ConnectionRole)
	disconnectCallback func(peerUUID string)
	dataCallback       func(peerUUID string, value []byte)
	callbackMu         sync.RWMutex

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// NewWire creates a new Wire instance for hardwareUUID. Sockets live in socketDir.
func NewWire(hardwareUUID, socketDir string) *Wire {
	return &Wire{
		hardwareUUID: hardwareUUID,
		socketDir:    socketDir,
		socketPath:   util.SocketPath(socketDir, hardwareUUID),
		prefix:       logger.Prefix(hardwareUUID, "Wire"),
		connections:  make(map[string]*Connection),
		latest:       make(map[string]*Connection),
		stopped:      make(chan struct{}),
	}
}

// SetRequestTimeout bounds how long a write waits for its acknowledgment.
// Zero means the ATT default of 30 seconds. Applies to new connections.
func (w *Wire) SetRequestTimeout(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requestTimeout = d
}

// Start begins listening on the Unix domain socket
func (w *Wire) Start() error {
	// Clean up any stale socket file
	os.Remove(w.socketPath)

	listener, err := net.Listen("unix", w.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.socketPath, err)
	}
	w.listener = listener

	logger.Info(w.prefix, "📻 Listening on %s", w.socketPath)

	w.wg.Add(1)
	go w.acceptConnections()
	return nil
}

// Stop closes every connection and the listener, then waits for read loops
// and pending deliveries to finish. Safe to call more than once. Must not be
// called from a Wire callback.
func (w *Wire) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		if w.listener != nil {
			w.listener.Close()
		}

		w.mu.Lock()
		conns := make([]*Connection, 0, len(w.connections))
		for _, c := range w.connections {
			conns = append(conns, c)
		}
		w.connections = make(map[string]*Connection)
		w.mu.Unlock()

		for _, c := range conns {
			w.closeConnection(c)
		}

		w.wg.Wait()
		os.Remove(w.socketPath)
		logger.Info(w.prefix, "🛑 Stopped")
	})
}

func (w *Wire) isStopped() bool {
	select {
	case <-w.stopped:
		return true
	default:
		return false
	}
}

// GetHardwareUUID returns this device's UUID
func (w *Wire) GetHardwareUUID() string {
	return w.hardwareUUID
}

// SetConnectCallback sets the callback fired once a connection is ready for data.
// For one peer, callbacks never overlap across connections: a reconnect is
// announced only after the previous connection's disconnect callback returned.
func (w *Wire) SetConnectCallback(callback func(peerUUID string, role ConnectionRole)) {
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.connectCallback = callback
}

// SetDisconnectCallback sets the callback fired after a connection is gone and
// every value received on it has been delivered
func (w *Wire) SetDisconnectCallback(callback func(peerUUID string)) {
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.disconnectCallback = callback
}

// SetDataCallback sets the callback receiving each value written by a peer.
// Values from one peer arrive in order on a single goroutine.
func (w *Wire) SetDataCallback(callback func(peerUUID string, value []byte)) {
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.dataCallback = callback
}

func (w *Wire) getConnection(peerUUID string) (*Connection, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.connections[peerUUID]
	return c, ok
}

// IsConnected checks if we're connected to a peer
func (w *Wire) IsConnected(peerUUID string) bool {
	_, ok := w.getConnection(peerUUID)
	return ok
}

// GetConnectionRole returns our role in the connection with the peer
func (w *Wire) GetConnectionRole(peerUUID string) (ConnectionRole, bool) {
	c, ok := w.getConnection(peerUUID)
	if !ok {
		return "", false
	}
	return c.role, true
}

// GetConnectedPeers returns connected peer UUIDs in sorted order
func (w *Wire) GetConnectedPeers() []string {
	w.mu.RLock()
	peers := make([]string, 0, len(w.connections))
	for uuid := range w.connections {
		peers = append(peers, uuid)
	}
	w.mu.RUnlock()
	sort.Strings(peers)
	return peers
}

// GetMTU returns the negotiated MTU, or DefaultMTU if not connected
func (w *Wire) GetMTU(peerUUID string) int {
	c, ok := w.getConnection(peerUUID)
	if !ok {
		return DefaultMTU
	}
	return c.getMTU()
}
