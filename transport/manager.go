package transport

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/user/gattstream/logger"
)

// Observer is notified of connection and message events. Calls for one
// connection arrive in order; calls for different connections may overlap.
type Observer interface {
	DidConnect(id string)
	DidDisconnect(id string)
	DidSendData(id string, res SendResult)
	DidFailSend(id string, res SendResult)
	DidReceiveData(id string, payload []byte)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) DidConnect(string)              {}
func (NopObserver) DidDisconnect(string)           {}
func (NopObserver) DidSendData(string, SendResult) {}
func (NopObserver) DidFailSend(string, SendResult) {}
func (NopObserver) DidReceiveData(string, []byte)  {}

// Manager keeps one Transport per connection identity so several peers can
// be served at once without sharing buffers or state.
type Manager struct {
	opts Options

	mu         sync.RWMutex
	transports map[string]*Transport

	obsMu    sync.RWMutex
	observer Observer
}

// NewManager creates a manager whose transports share opts
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:       opts,
		transports: make(map[string]*Transport),
		observer:   NopObserver{},
	}
}

// SetObserver replaces the event observer; nil restores NopObserver
func (m *Manager) SetObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observer = o
}

func (m *Manager) obs() Observer {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	return m.observer
}

// Connect binds link as the write destination for id
func (m *Manager) Connect(id string, link Link) (*Transport, error) {
	m.mu.Lock()
	if _, exists := m.transports[id]; exists {
		m.mu.Unlock()
		return nil, errors.Wrapf(ErrAlreadyBound, "connection %s", id)
	}
	t := New(id, m.opts)
	t.SetMessageHandler(func(payload []byte) {
		m.obs().DidReceiveData(id, payload)
	})
	t.SetSendCompleteHandler(func(res SendResult) {
		if res.Err != nil {
			m.obs().DidFailSend(id, res)
		} else {
			m.obs().DidSendData(id, res)
		}
	})
	if err := t.Bind(link); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.transports[id] = t
	m.mu.Unlock()

	logger.Info(logger.Prefix(m.opts.LogID, "Manager"), "🔗 Connection %s bound", shortID(id))
	m.obs().DidConnect(id)
	return t, nil
}

// Disconnect unbinds and forgets id. Returns false if id was unknown.
func (m *Manager) Disconnect(id string) bool {
	m.mu.Lock()
	t, exists := m.transports[id]
	if exists {
		delete(m.transports, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}
	t.Unbind()
	logger.Info(logger.Prefix(m.opts.LogID, "Manager"), "🔌 Connection %s released", shortID(id))
	m.obs().DidDisconnect(id)
	return true
}

// Get returns the transport for id
func (m *Manager) Get(id string) (*Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transports[id]
	return t, ok
}

// Send sends payload on id's connection. Unknown ids fail with ErrLinkUnavailable.
func (m *Manager) Send(ctx context.Context, id string, payload []byte) (SendResult, error) {
	t, ok := m.Get(id)
	if !ok {
		res := SendResult{Payload: len(payload), Err: ErrLinkUnavailable}
		m.obs().DidFailSend(id, res)
		return res, ErrLinkUnavailable
	}
	return t.Send(ctx, payload)
}

// SendAsync is Send with channel completion
func (m *Manager) SendAsync(ctx context.Context, id string, payload []byte) <-chan SendResult {
	ch := make(chan SendResult, 1)
	go func() {
		res, _ := m.Send(ctx, id, payload)
		ch <- res
		close(ch)
	}()
	return ch
}

// Deliver routes a received fragment to id's transport
func (m *Manager) Deliver(id string, fragment []byte) int {
	t, ok := m.Get(id)
	if !ok {
		logger.Warn(logger.Prefix(m.opts.LogID, "Manager"), "⚠️  Fragment from unknown connection %s dropped", shortID(id))
		return 0
	}
	return t.OnFragment(fragment)
}

// Peers lists bound connection ids in sorted order
func (m *Manager) Peers() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.transports))
	for id := range m.transports {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close disconnects every connection
func (m *Manager) Close() {
	for _, id := range m.Peers() {
		m.Disconnect(id)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
