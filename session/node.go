// Package session joins the simulated BLE link to the chunk transport: every
// connection the wire reports gets a transport bound to it, every value the
// peer writes is fed to that transport, and application messages go out as
// acknowledged chunks.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/gattstream/config"
	"github.com/user/gattstream/logger"
	"github.com/user/gattstream/transport"
	"github.com/user/gattstream/util"
	"github.com/user/gattstream/wire"
)

// MessageHandler receives each complete message from a peer
type MessageHandler func(peer string, msg []byte)

// Node is one device: a wire endpoint plus a transport per connected peer
type Node struct {
	prefix  string
	wire    *wire.Wire
	manager *transport.Manager

	mu        sync.RWMutex
	onMessage MessageHandler
	observer  transport.Observer

	connected chan string
}

// NewNode builds a node from cfg. An empty cfg.DeviceID is replaced by the
// UUID persisted in the data directory.
func NewNode(cfg *config.Config) (*Node, error) {
	id := cfg.DeviceID
	if id == "" {
		var err error
		id, err = LoadOrGenerateDeviceID(cfg.DataDir)
		if err != nil {
			return nil, err
		}
	}

	opts, err := cfg.TransportOptions(id)
	if err != nil {
		return nil, err
	}
	socketDir, err := util.EnsureSocketDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	n := &Node{
		prefix:    logger.Prefix(id, "Node"),
		wire:      wire.NewWire(id, socketDir),
		manager:   transport.NewManager(opts),
		observer:  transport.NopObserver{},
		connected: make(chan string, 16),
	}
	n.wire.SetRequestTimeout(cfg.WriteTimeout.Std())
	n.manager.SetObserver(n)

	n.wire.SetConnectCallback(n.handleConnect)
	n.wire.SetDisconnectCallback(n.handleDisconnect)
	n.wire.SetDataCallback(func(peer string, value []byte) {
		n.manager.Deliver(peer, value)
	})
	return n, nil
}

// ID returns the node's hardware UUID
func (n *Node) ID() string { return n.wire.GetHardwareUUID() }

// Start begins accepting connections
func (n *Node) Start() error {
	return n.wire.Start()
}

// Stop disconnects every peer and closes the socket
func (n *Node) Stop() {
	n.wire.Stop()
	n.manager.Close()
}

// Connect dials peer; the transport is bound before Connect returns
func (n *Node) Connect(peer string) error {
	return n.wire.Connect(peer)
}

// Disconnect drops the connection to peer
func (n *Node) Disconnect(peer string) error {
	return n.wire.Disconnect(peer)
}

// Connected yields peers as their transports are bound. Events are dropped
// when nobody reads the channel.
func (n *Node) Connected() <-chan string {
	return n.connected
}

// Role reports whether we are central or peripheral towards peer
func (n *Node) Role(peer string) (wire.ConnectionRole, bool) {
	return n.wire.GetConnectionRole(peer)
}

// Peers lists peers with a bound transport
func (n *Node) Peers() []string {
	return n.manager.Peers()
}

// Stats returns the transport counters for peer
func (n *Node) Stats(peer string) (transport.Stats, bool) {
	t, ok := n.manager.Get(peer)
	if !ok {
		return transport.Stats{}, false
	}
	return t.Stats(), true
}

// OnMessageReceived registers the handler for complete inbound messages.
// Messages from one peer arrive in order on a single goroutine.
func (n *Node) OnMessageReceived(fn MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onMessage = fn
}

// SetObserver forwards every transport event to o as well
func (n *Node) SetObserver(o transport.Observer) {
	if o == nil {
		o = transport.NopObserver{}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observer = o
}

func (n *Node) obs() transport.Observer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.observer
}

// SendMessage sends msg to peer. The channel yields exactly one result and
// is then closed.
func (n *Node) SendMessage(ctx context.Context, peer string, msg []byte) <-chan transport.SendResult {
	return n.manager.SendAsync(ctx, peer, msg)
}

// Send is the blocking form of SendMessage
func (n *Node) Send(ctx context.Context, peer string, msg []byte) error {
	_, err := n.manager.Send(ctx, peer, msg)
	if err != nil {
		return fmt.Errorf("send to %s: %w", peer, err)
	}
	return nil
}

func (n *Node) handleConnect(peer string, role wire.ConnectionRole) {
	if _, err := n.manager.Connect(peer, n.wire.Link(peer)); err != nil {
		logger.Error(n.prefix, "❌ Cannot bind transport for %s: %v", peer, err)
		return
	}
	logger.Debug(n.prefix, "🔗 %s bound as %s", peer, role)
	select {
	case n.connected <- peer:
	default:
	}
}

func (n *Node) handleDisconnect(peer string) {
	n.manager.Disconnect(peer)
}

// transport.Observer

func (n *Node) DidConnect(id string) { n.obs().DidConnect(id) }

func (n *Node) DidDisconnect(id string) { n.obs().DidDisconnect(id) }

func (n *Node) DidSendData(id string, res transport.SendResult) {
	n.obs().DidSendData(id, res)
}

func (n *Node) DidFailSend(id string, res transport.SendResult) {
	logger.Warn(n.prefix, "❌ Send to %s failed: %v", id, res.Err)
	n.obs().DidFailSend(id, res)
}

func (n *Node) DidReceiveData(id string, payload []byte) {
	n.mu.RLock()
	handler := n.onMessage
	n.mu.RUnlock()
	if handler != nil {
		handler(id, payload)
	}
	n.obs().DidReceiveData(id, payload)
}
