package wire

import (
	"context"
	"fmt"

	"github.com/user/gattstream/logger"
	"github.com/user/gattstream/wire/att"
	"github.com/user/gattstream/wire/l2cap"
)

// sendATTPacket encodes an ATT packet and writes it to the peer inside an
// L2CAP basic frame
func (w *Wire) sendATTPacket(c *Connection, packet interface{}) error {
	attData, err := att.EncodePacket(packet)
	if err != nil {
		return fmt.Errorf("failed to encode ATT packet: %w", err)
	}

	// MTU exchange and error responses are exempt from the MTU check
	switch packet.(type) {
	case *att.ExchangeMTURequest, *att.ExchangeMTUResponse, *att.ErrorResponse:
	default:
		if mtu := c.getMTU(); len(attData) > mtu {
			return fmt.Errorf("%w: ATT packet %d > MTU %d", ErrValueTooLong, len(attData), mtu)
		}
	}

	data := l2cap.NewATTPacket(attData).Encode()

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send L2CAP packet: %w", err)
	}

	logger.Trace(w.prefix, "📡 Sent %s to %s: len=%d bytes",
		att.OpcodeNames[attData[0]], shortHash(c.remoteUUID), len(data))
	return nil
}

// request sends packet as an ATT request and waits for the matching response
func (w *Wire) request(ctx context.Context, c *Connection, opcode uint8, handle uint16, packet interface{}) (att.Response, error) {
	respC, err := c.requests.StartRequest(opcode, handle, 0)
	if err != nil {
		return att.Response{}, err
	}
	if err := w.sendATTPacket(c, packet); err != nil {
		c.requests.FailRequest(err)
		<-respC
		return att.Response{}, err
	}
	resp := c.requests.Await(ctx, respC)
	if resp.Packet == nil && ctx.Err() != nil {
		// The transaction was abandoned but the peer may still answer it; the
		// bearer cannot carry another request
		logger.Warn(w.prefix, "⚠️  %s to %s abandoned (%v), dropping connection",
			att.OpcodeNames[opcode], shortHash(c.remoteUUID), resp.Error)
		w.closeConnection(c)
	}
	return resp, resp.Error
}

// exchangeMTU runs the central's MTU exchange
func (w *Wire) exchangeMTU(c *Connection) error {
	ctx, cancel := context.WithTimeout(context.Background(), HandshakeTimeout)
	defer cancel()

	logger.Debug(w.prefix, "📤 MTU Request to %s: client_mtu=%d", shortHash(c.remoteUUID), MaxMTU)
	resp, err := w.request(ctx, c, att.OpExchangeMTURequest, 0, &att.ExchangeMTURequest{ClientRxMTU: MaxMTU})
	if err != nil {
		return err
	}
	mtuResp, ok := resp.Packet.(*att.ExchangeMTUResponse)
	if !ok {
		return fmt.Errorf("unexpected MTU reply %T", resp.Packet)
	}
	c.setMTU(int(mtuResp.ServerRxMTU))
	logger.Debug(w.prefix, "✅ MTU negotiated with %s: %d bytes", shortHash(c.remoteUUID), c.getMTU())
	return nil
}

// WriteValue writes value to the peer's stream characteristic and returns
// once the peer acknowledged it. As central this is a Write Request, as
// peripheral a Handle Value Indication. Concurrent calls for one peer are
// serialized.
func (w *Wire) WriteValue(ctx context.Context, peerUUID string, value []byte) error {
	c, ok := w.getConnection(peerUUID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, shortHash(peerUUID))
	}
	if len(value) > MaxAttributeLen {
		return fmt.Errorf("%w: %d > %d", ErrValueTooLong, len(value), MaxAttributeLen)
	}
	if mtu := c.getMTU(); len(value)+attHeaderLen > mtu {
		return fmt.Errorf("%w: %d byte value over MTU %d", ErrValueTooLong, len(value), mtu)
	}

	var opcode uint8
	var packet interface{}
	if c.role == RoleCentral {
		opcode = att.OpWriteRequest
		packet = &att.WriteRequest{Handle: StreamHandle, Value: value}
	} else {
		opcode = att.OpHandleValueIndication
		packet = &att.HandleValueIndication{Handle: StreamHandle, Value: value}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := w.request(ctx, c, opcode, StreamHandle, packet); err != nil {
		return fmt.Errorf("write to %s: %w", shortHash(peerUUID), err)
	}
	return nil
}
