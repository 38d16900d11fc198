// Package transport moves framed messages over a link that only accepts
// small acknowledged writes. The send path frames a payload and writes it
// as ordered bounded chunks; the receive path accumulates fragments in a
// per-connection buffer and hands complete messages to a callback.
package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/user/gattstream/frame"
	"github.com/user/gattstream/logger"
)

// Options configures a Transport
type Options struct {
	// MaxChunk bounds each link write; DefaultMaxChunk when zero
	MaxChunk int
	// Codec frames and compresses payloads; frame.DefaultCodec when nil
	Codec *frame.Codec
	// LogID is the local device id used in log prefixes
	LogID string
}

// SendResult is the completion of one Send
type SendResult struct {
	Payload int   // application bytes handed to Send
	Framed  int   // framed bytes written to the link
	Chunks  int   // link writes issued
	Err     error // nil on success
}

// Stats counts traffic on one connection
type Stats struct {
	MessagesSent       int
	BytesSent          int // framed bytes
	SendFailures       int
	FragmentsReceived  int
	MessagesReceived   int
	CorruptFrames      int
	DroppedBytes       int // noise ahead of frames plus buffers lost on disconnect
	FragmentsDiscarded int // arrived while idle
	Buffered           int // bytes of an incomplete frame awaiting more fragments
}

// Transport owns the byte-level session state of a single connection: the
// bound link, the receive buffer and the lifecycle state.
type Transport struct {
	id       string
	codec    *frame.Codec
	maxChunk int
	prefix   string

	// sendMu keeps whole messages from interleaving on the link
	sendMu sync.Mutex
	// recvMu keeps extraction and delivery of one fragment atomic
	recvMu sync.Mutex

	mu         sync.Mutex
	state      State
	link       Link
	buf        *frame.Buffer
	sending    bool
	bindCtx    context.Context
	cancelBind context.CancelCauseFunc
	stats      Stats

	// tail completes a frame an aborted send left half written; it goes out
	// ahead of the next frame so the peer can skip the broken one
	tail []byte

	cbMu           sync.RWMutex
	onMessage      func(payload []byte)
	onSendComplete func(SendResult)
}

// New creates an idle transport for the connection identified by id
func New(id string, opts Options) *Transport {
	if opts.MaxChunk <= 0 {
		opts.MaxChunk = DefaultMaxChunk
	}
	if opts.Codec == nil {
		opts.Codec = frame.DefaultCodec()
	}
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return &Transport{
		id:       id,
		codec:    opts.Codec,
		maxChunk: opts.MaxChunk,
		prefix:   logger.Prefix(opts.LogID, "Transport "+short),
		state:    StateIdle,
	}
}

// ID returns the connection identity
func (t *Transport) ID() string { return t.id }

// MaxChunk returns the per-write size bound
func (t *Transport) MaxChunk() int { return t.maxChunk }

// SetMessageHandler registers the callback receiving each reassembled message
func (t *Transport) SetMessageHandler(fn func(payload []byte)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.onMessage = fn
}

// SetSendCompleteHandler registers a callback invoked exactly once per Send,
// on success or failure
func (t *Transport) SetSendCompleteHandler(fn func(SendResult)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.onSendComplete = fn
}

// State returns the current lifecycle state
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stats returns a snapshot of the traffic counters
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stats
	if t.buf != nil {
		st.Buffered = t.buf.Len()
	}
	return st
}

// Bind attaches the write destination and starts a fresh receive buffer
func (t *Transport) Bind(link Link) error {
	if link == nil {
		return errors.New("transport: nil link")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateIdle {
		return ErrAlreadyBound
	}
	t.link = link
	t.buf = frame.NewBuffer()
	t.tail = nil
	t.bindCtx, t.cancelBind = context.WithCancelCause(context.Background())
	t.state = StateBound

	logger.Debug(t.prefix, "🔗 Bound (max chunk %d, %s/%s)",
		t.maxChunk, t.codec.Compressor().Name(), t.codec.Framer().Name())
	return nil
}

// Unbind returns to idle: the receive buffer and any partial frame in it are
// discarded, and an in-flight send fails with ErrDisconnected.
func (t *Transport) Unbind() {
	t.mu.Lock()
	if t.state == StateIdle {
		t.mu.Unlock()
		return
	}
	lost := 0
	if t.buf != nil {
		lost = t.buf.Len()
	}
	t.stats.DroppedBytes += lost
	cancel := t.cancelBind
	t.state = StateIdle
	t.link = nil
	t.buf = nil
	t.cancelBind = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel(ErrDisconnected)
	}
	if lost > 0 {
		logger.Warn(t.prefix, "⚠️  Unbound with %d bytes of an incomplete frame", lost)
	} else {
		logger.Debug(t.prefix, "🔌 Unbound")
	}
}

// settle recomputes Bound/Active. Caller holds mu.
func (t *Transport) settle() {
	if t.state == StateIdle {
		return
	}
	if t.sending || (t.buf != nil && t.buf.Len() > 0) {
		t.state = StateActive
	} else {
		t.state = StateBound
	}
}

// Send frames payload and writes it as ordered chunks, waiting for each
// acknowledgment. The first failing chunk aborts the rest. Only one message
// is on the link at a time; concurrent callers queue behind it.
func (t *Transport) Send(ctx context.Context, payload []byte) (SendResult, error) {
	res, err := t.send(ctx, payload)
	res.Err = err

	t.mu.Lock()
	if err != nil {
		t.stats.SendFailures++
	} else {
		t.stats.MessagesSent++
		t.stats.BytesSent += res.Framed
	}
	t.mu.Unlock()

	t.cbMu.RLock()
	done := t.onSendComplete
	t.cbMu.RUnlock()
	if done != nil {
		done(res)
	}
	return res, err
}

func (t *Transport) send(ctx context.Context, payload []byte) (SendResult, error) {
	res := SendResult{Payload: len(payload)}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.mu.Lock()
	if t.state == StateIdle || t.link == nil {
		t.mu.Unlock()
		logger.Warn(t.prefix, "❌ Send of %d bytes with no bound link", len(payload))
		return res, ErrLinkUnavailable
	}
	link := t.link
	bindCtx := t.bindCtx
	tail := t.tail
	t.sending = true
	t.settle()
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.sending = false
		t.settle()
		t.mu.Unlock()
	}()

	wire, err := t.codec.EncodeFrame(payload)
	if err != nil {
		logger.Warn(t.prefix, "❌ Encode failed: %v", err)
		return res, err
	}
	stream := wire
	if len(tail) > 0 {
		stream = append(append(make([]byte, 0, len(tail)+len(wire)), tail...), wire...)
	}
	chunks, err := SplitIntoChunks(stream, t.maxChunk)
	if err != nil {
		return res, err
	}

	sendCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(bindCtx, func() { cancel(context.Cause(bindCtx)) })
	defer stop()

	logger.Debug(t.prefix, "📤 Sending %d bytes as %d framed bytes in %d chunks",
		len(payload), len(wire), len(chunks))

	sent := 0
	for i, chunk := range chunks {
		err := sendCtx.Err()
		if err == nil {
			err = link.WriteChunk(sendCtx, chunk)
		}
		if err != nil {
			if sendCtx.Err() != nil {
				err = causeOf(sendCtx)
			}
			logger.Warn(t.prefix, "❌ Chunk %d/%d failed: %v", i+1, len(chunks), err)
			t.abandon(bindCtx, tail, wire, sent)
			return res, &PartialWriteError{Index: i, Total: len(chunks), Sent: sent, Err: err}
		}
		sent += len(chunk)
		logger.Trace(t.prefix, "   chunk %d/%d acknowledged (%d bytes)", i+1, len(chunks), len(chunk))
	}
	if len(tail) > 0 {
		t.mu.Lock()
		if t.bindCtx == bindCtx {
			t.tail = nil
		}
		t.mu.Unlock()
	}

	res.Framed = len(wire)
	res.Chunks = len(chunks)
	logger.Info(t.prefix, "✅ Sent message (%d bytes, %d framed, %d chunks)", len(payload), len(wire), len(chunks))
	return res, nil
}

// abandon records what the peer needs to get past a frame that stopped after
// sent bytes of tail+frame. Nothing is kept once the link is gone.
func (t *Transport) abandon(bindCtx context.Context, tail, frame []byte, sent int) {
	var next []byte
	switch {
	case sent < len(tail):
		next = tail[sent:]
	case sent > len(tail):
		next = t.codec.Framer().Abandon(frame, sent-len(tail))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bindCtx != bindCtx || bindCtx.Err() != nil {
		return
	}
	if len(next) == 0 {
		t.tail = nil
		return
	}
	t.tail = next
	logger.Debug(t.prefix, "✂️  Next frame carries %d bytes closing the aborted one", len(next))
}

func causeOf(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

// SendAsync runs Send in the background. The channel yields exactly one
// result and is then closed.
func (t *Transport) SendAsync(ctx context.Context, payload []byte) <-chan SendResult {
	ch := make(chan SendResult, 1)
	go func() {
		res, _ := t.Send(ctx, payload)
		ch <- res
		close(ch)
	}()
	return ch
}

// OnFragment appends a received fragment to the buffer, extracts every
// complete frame and delivers the decoded messages to the message handler in
// order before returning. It does no I/O. Returns the number delivered.
func (t *Transport) OnFragment(fragment []byte) int {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()

	t.mu.Lock()
	if t.state == StateIdle {
		t.stats.FragmentsDiscarded++
		t.mu.Unlock()
		logger.Warn(t.prefix, "⚠️  Discarding %d byte fragment: not bound", len(fragment))
		return 0
	}
	t.buf.Append(fragment)
	t.stats.FragmentsReceived++
	ex := t.codec.ExtractFrames(t.buf)
	t.stats.MessagesReceived += len(ex.Payloads)
	t.stats.CorruptFrames += len(ex.Errors)
	t.stats.DroppedBytes += ex.Dropped
	pending := t.buf.Len()
	t.settle()
	t.mu.Unlock()

	logger.Trace(t.prefix, "📥 Fragment %d bytes, %d buffered, %d complete", len(fragment), pending, len(ex.Payloads))
	if ex.Dropped > 0 {
		logger.Warn(t.prefix, "⚠️  Dropped %d bytes outside any frame", ex.Dropped)
	}
	for _, err := range ex.Errors {
		logger.Warn(t.prefix, "⚠️  Skipping corrupt frame: %v", err)
	}

	t.cbMu.RLock()
	handler := t.onMessage
	t.cbMu.RUnlock()
	for _, payload := range ex.Payloads {
		logger.Debug(t.prefix, "📨 Message received (%d bytes)", len(payload))
		if handler != nil {
			handler(payload)
		}
	}
	return len(ex.Payloads)
}
