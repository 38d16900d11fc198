package wire

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/user/gattstream/wire/att"
	"github.com/user/gattstream/wire/l2cap"
)

// ConnectionRole represents the role in a specific connection
type ConnectionRole string

const (
	RoleCentral    ConnectionRole = "central"    // We initiated connection
	RolePeripheral ConnectionRole = "peripheral" // They initiated connection
)

const (
	// MTU limits. The central asks for MaxMTU so one ATT PDU can carry a full
	// 512 byte attribute value.
	DefaultMTU = l2cap.DefaultMTU
	MaxMTU     = l2cap.MaxMTU

	// MaxAttributeLen is the largest characteristic value (Core Spec Vol 3, Part F, 3.2.9)
	MaxAttributeLen = 512

	// StreamHandle is the value handle of the stream characteristic
	StreamHandle uint16 = 0x0003

	// attHeaderLen is opcode + handle in front of a value
	attHeaderLen = 3

	// HandshakeTimeout bounds the identity handshake and MTU exchange
	HandshakeTimeout = 5 * time.Second
)

var (
	// ErrNotConnected is returned for operations on an unknown peer
	ErrNotConnected = errors.New("wire: not connected")
	// ErrAlreadyConnected is returned by Connect for an existing peer
	ErrAlreadyConnected = errors.New("wire: already connected")
	// ErrValueTooLong is returned when a value exceeds MaxAttributeLen or the MTU
	ErrValueTooLong = errors.New("wire: value too long")
)

// Connection represents a single bidirectional link to a peer
type Connection struct {
	conn       net.Conn
	remoteUUID string
	role       ConnectionRole // Our role in this connection

	sendMutex sync.Mutex // Protects writes to the socket
	writeMu   sync.Mutex // One acknowledged value write at a time

	mtuMu    sync.RWMutex
	mtu      int
	mtuReady chan struct{}
	mtuOnce  sync.Once

	// Requests we initiated; the peer's requests are answered inline
	requests *att.RequestTracker

	// Values received from the peer, handed to the data callback in order
	inbox     *deliveryQueue
	inboxDone chan struct{}

	readDone chan struct{} // closed when the read loop exits

	// prev is the peer's previous connection if it was still tearing down
	// when this one registered; guarded by Wire.mu. gone closes after our
	// disconnect callback.
	prev *Connection
	gone chan struct{}

	stateMu   sync.Mutex
	announced bool // connect callback fired
	closed    bool
}

func newConnection(conn net.Conn, remoteUUID string, role ConnectionRole, timeout time.Duration) *Connection {
	return &Connection{
		conn:       conn,
		remoteUUID: remoteUUID,
		role:       role,
		mtu:        DefaultMTU,
		mtuReady:   make(chan struct{}),
		requests:   att.NewRequestTracker(timeout),
		inbox:      newDeliveryQueue(),
		inboxDone:  make(chan struct{}),
		readDone:   make(chan struct{}),
		gone:       make(chan struct{}),
	}
}

func (c *Connection) getMTU() int {
	c.mtuMu.RLock()
	defer c.mtuMu.RUnlock()
	return c.mtu
}

// setMTU records the negotiated MTU and releases anyone waiting on it
func (c *Connection) setMTU(mtu int) {
	if mtu > MaxMTU {
		mtu = MaxMTU
	}
	if mtu < l2cap.MinMTU {
		mtu = l2cap.MinMTU
	}
	c.mtuMu.Lock()
	c.mtu = mtu
	c.mtuMu.Unlock()
	c.mtuOnce.Do(func() { close(c.mtuReady) })
}
