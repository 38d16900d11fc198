package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/user/gattstream/logger"
	"github.com/user/gattstream/util"
	"github.com/user/gattstream/wire/att"
)

// maxHandshakeLen bounds the identity a peer may announce
const maxHandshakeLen = 256

// acceptConnections handles incoming connections
func (w *Wire) acceptConnections() {
	defer w.wg.Done()

	for {
		conn, err := w.listener.Accept()
		if err != nil {
			if w.isStopped() {
				return
			}
			logger.Warn(w.prefix, "⚠️  Accept failed: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		w.wg.Add(1)
		go w.handleIncomingConnection(conn)
	}
}

// writeHandshake sends our identity: 4-byte big-endian length + UUID bytes
func writeHandshake(conn net.Conn, uuid string) error {
	buf := make([]byte, 4+len(uuid))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(uuid)))
	copy(buf[4:], uuid)
	_, err := conn.Write(buf)
	return err
}

func readHandshake(conn net.Conn) (string, error) {
	var uuidLen uint32
	if err := binary.Read(conn, binary.BigEndian, &uuidLen); err != nil {
		return "", err
	}
	if uuidLen == 0 || uuidLen > maxHandshakeLen {
		return "", fmt.Errorf("invalid handshake length %d", uuidLen)
	}
	uuidBytes := make([]byte, uuidLen)
	if _, err := io.ReadFull(conn, uuidBytes); err != nil {
		return "", err
	}
	return string(uuidBytes), nil
}

// register stores a new connection and accounts for its read loop
func (w *Wire) register(conn net.Conn, peerUUID string, role ConnectionRole) (*Connection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isStopped() {
		return nil, fmt.Errorf("wire stopped")
	}
	if _, exists := w.connections[peerUUID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConnected, shortHash(peerUUID))
	}

	c := newConnection(conn, peerUUID, role, w.requestTimeout)
	c.prev = w.latest[peerUUID]
	c.requests.SetTimeoutCallback(func(opcode byte, handle uint16) {
		logger.Warn(w.prefix, "⏱️  %s on handle 0x%04X to %s timed out, dropping connection",
			att.OpcodeNames[opcode], handle, shortHash(peerUUID))
		w.closeConnection(c)
	})
	w.connections[peerUUID] = c
	w.latest[peerUUID] = c
	w.wg.Add(1) // read loop
	return c, nil
}

// handleIncomingConnection processes a new incoming connection (we become Peripheral)
func (w *Wire) handleIncomingConnection(conn net.Conn) {
	defer w.wg.Done()

	conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	peerUUID, err := readHandshake(conn)
	if err != nil {
		logger.Warn(w.prefix, "❌ Handshake failed: %v", err)
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	c, err := w.register(conn, peerUUID, RolePeripheral)
	if err != nil {
		logger.Warn(w.prefix, "❌ Rejecting connection from %s: %v", shortHash(peerUUID), err)
		conn.Close()
		return
	}
	go w.readMessages(c)

	// The central opens with an MTU exchange; hold the connection back until
	// it lands so the first indication can carry a full value
	select {
	case <-c.mtuReady:
	case <-c.readDone:
		return
	case <-time.After(HandshakeTimeout):
		logger.Warn(w.prefix, "⚠️  No MTU exchange from %s, staying at %d", shortHash(peerUUID), DefaultMTU)
	}

	w.announce(c)
}

// Connect establishes a connection to a peer (we become Central) and
// negotiates the MTU before returning
func (w *Wire) Connect(peerUUID string) error {
	if w.IsConnected(peerUUID) {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, shortHash(peerUUID))
	}

	peerSocketPath := util.SocketPath(w.socketDir, peerUUID)
	conn, err := net.DialTimeout("unix", peerSocketPath, HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", shortHash(peerUUID), err)
	}

	if err := writeHandshake(conn, w.hardwareUUID); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send handshake: %w", err)
	}

	c, err := w.register(conn, peerUUID, RoleCentral)
	if err != nil {
		conn.Close()
		return err
	}
	go w.readMessages(c)

	if err := w.exchangeMTU(c); err != nil {
		w.closeConnection(c)
		return fmt.Errorf("MTU exchange with %s: %w", shortHash(peerUUID), err)
	}

	if !w.announce(c) {
		return fmt.Errorf("%w: %s dropped during setup", ErrNotConnected, shortHash(peerUUID))
	}
	return nil
}

// announce fires the connect callback and starts delivering received values.
// Returns false if the connection already closed.
func (w *Wire) announce(c *Connection) bool {
	w.mu.RLock()
	prev := c.prev
	w.mu.RUnlock()
	if prev != nil {
		// The peer's previous connection may still be delivering values
		select {
		case <-prev.gone:
		case <-c.readDone:
			return false
		}
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.closed {
		return false
	}
	c.announced = true

	logger.Info(w.prefix, "🔗 Connected to %s as %s (mtu %d)", shortHash(c.remoteUUID), c.role, c.getMTU())

	w.callbackMu.RLock()
	connectCb := w.connectCallback
	w.callbackMu.RUnlock()
	if connectCb != nil {
		connectCb(c.remoteUUID, c.role)
	}

	// The read loop still holds its wg slot here, so Add cannot race Stop's Wait
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(c.inboxDone)
		c.inbox.run(func(value []byte) {
			w.callbackMu.RLock()
			dataCb := w.dataCallback
			w.callbackMu.RUnlock()
			if dataCb != nil {
				dataCb(c.remoteUUID, value)
			}
		})
	}()
	return true
}

// teardown runs once per connection when its read loop exits
func (w *Wire) teardown(c *Connection) {
	defer w.retire(c)

	w.mu.Lock()
	if w.connections[c.remoteUUID] == c {
		delete(w.connections, c.remoteUUID)
	}
	w.mu.Unlock()

	c.conn.Close()
	c.requests.CancelPending()

	c.stateMu.Lock()
	c.closed = true
	announced := c.announced
	c.stateMu.Unlock()

	c.inbox.close()
	if !announced {
		return
	}

	// Everything the peer wrote before leaving is delivered first
	<-c.inboxDone
	logger.Info(w.prefix, "🔌 Disconnected from %s", shortHash(c.remoteUUID))

	w.callbackMu.RLock()
	disconnectCb := w.disconnectCallback
	w.callbackMu.RUnlock()
	if disconnectCb != nil {
		disconnectCb(c.remoteUUID)
	}
}

// retire closes c.gone after every earlier connection to the peer has gone
func (w *Wire) retire(c *Connection) {
	w.mu.RLock()
	prev := c.prev
	w.mu.RUnlock()
	if prev != nil {
		<-prev.gone
	}

	w.mu.Lock()
	c.prev = nil
	if w.latest[c.remoteUUID] == c {
		delete(w.latest, c.remoteUUID)
	}
	w.mu.Unlock()
	close(c.gone)
}

// closeConnection closes c's socket and fails its pending request. The read
// loop then runs teardown.
func (w *Wire) closeConnection(c *Connection) {
	w.mu.Lock()
	if w.connections[c.remoteUUID] == c {
		delete(w.connections, c.remoteUUID)
	}
	w.mu.Unlock()

	if opcode, handle, age, ok := c.requests.GetPendingInfo(); ok {
		logger.Debug(w.prefix, "🔌 Abandoning %s on handle 0x%04X to %s after %v",
			att.OpcodeNames[opcode], handle, shortHash(c.remoteUUID), age.Round(time.Millisecond))
	}
	c.requests.CancelPending()
	c.conn.Close()
}

// Disconnect closes the connection to a peer. The disconnect callback fires
// asynchronously once the read loop has drained.
func (w *Wire) Disconnect(peerUUID string) error {
	c, exists := w.getConnection(peerUUID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotConnected, shortHash(peerUUID))
	}

	if c.role == RolePeripheral {
		logger.Debug(w.prefix, "🔌 Peripheral requesting disconnect from %s", shortHash(peerUUID))
	} else {
		logger.Debug(w.prefix, "🔌 Central disconnecting from %s", shortHash(peerUUID))
	}

	w.closeConnection(c)
	return nil
}
