package wire

import (
	"errors"
	"io"
	"net"

	"github.com/user/gattstream/logger"
	"github.com/user/gattstream/wire/att"
	"github.com/user/gattstream/wire/l2cap"
)

// readMessages continuously reads L2CAP packets from a connection until the
// socket closes. The wg slot was taken by register.
func (w *Wire) readMessages(c *Connection) {
	defer func() {
		close(c.readDone)
		w.teardown(c)
		w.wg.Done()
	}()

	for {
		packet, err := l2cap.ReadPacket(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warn(w.prefix, "⚠️  Read from %s failed: %v", shortHash(c.remoteUUID), err)
			}
			return
		}

		logger.Trace(w.prefix, "📥 L2CAP packet from %s: channel=0x%04X, len=%d bytes",
			shortHash(c.remoteUUID), packet.ChannelID, len(packet.Payload))

		switch packet.ChannelID {
		case l2cap.ChannelATT:
			attPacket, err := att.DecodePacket(packet.Payload)
			if err != nil {
				logger.Warn(w.prefix, "❌ Failed to decode ATT packet from %s: %v", shortHash(c.remoteUUID), err)
				continue
			}
			w.handleATTPacket(c, attPacket)

		default:
			logger.Warn(w.prefix, "⚠️  Unsupported L2CAP channel 0x%04X from %s", packet.ChannelID, shortHash(c.remoteUUID))
		}
	}
}

// handleATTPacket processes an incoming ATT packet. It runs on the read loop
// and must not block on the application.
func (w *Wire) handleATTPacket(c *Connection, packet interface{}) {
	peer := shortHash(c.remoteUUID)

	switch p := packet.(type) {
	case *att.ExchangeMTURequest:
		logger.Debug(w.prefix, "📥 MTU Request from %s: client_mtu=%d", peer, p.ClientRxMTU)
		if err := w.sendATTPacket(c, &att.ExchangeMTUResponse{ServerRxMTU: MaxMTU}); err != nil {
			logger.Warn(w.prefix, "❌ Failed to send MTU response to %s: %v", peer, err)
		}
		c.setMTU(int(p.ClientRxMTU))
		logger.Debug(w.prefix, "✅ MTU negotiated with %s: %d bytes", peer, c.getMTU())

	case *att.WriteRequest:
		if code := w.acceptValue(c, p.Handle, p.Value); code != 0 {
			w.sendATTPacket(c, &att.ErrorResponse{
				RequestOpcode: att.OpWriteRequest,
				Handle:        p.Handle,
				ErrorCode:     code,
			})
			return
		}
		if err := w.sendATTPacket(c, &att.WriteResponse{}); err != nil {
			logger.Warn(w.prefix, "❌ Failed to acknowledge write from %s: %v", peer, err)
		}

	case *att.WriteCommand:
		w.acceptValue(c, p.Handle, p.Value)

	case *att.HandleValueIndication:
		// Indications cannot be refused; a rejected value is dropped but still confirmed
		w.acceptValue(c, p.Handle, p.Value)
		if err := w.sendATTPacket(c, &att.HandleValueConfirmation{}); err != nil {
			logger.Warn(w.prefix, "❌ Failed to confirm indication from %s: %v", peer, err)
		}

	case *att.HandleValueNotification:
		w.acceptValue(c, p.Handle, p.Value)

	case *att.ExchangeMTUResponse:
		w.completeRequest(c, att.OpExchangeMTUResponse, p)
	case *att.WriteResponse:
		w.completeRequest(c, att.OpWriteResponse, p)
	case *att.HandleValueConfirmation:
		w.completeRequest(c, att.OpHandleValueConfirmation, p)
	case *att.ErrorResponse:
		logger.Debug(w.prefix, "📥 Error Response from %s: %v", peer,
			att.NewError(p.ErrorCode, p.RequestOpcode, p.Handle))
		w.completeRequest(c, att.OpErrorResponse, p)

	default:
		logger.Warn(w.prefix, "⚠️  Unsupported ATT packet type %T from %s", packet, peer)
	}
}

// acceptValue queues a received value for delivery. Returns an ATT error
// code when the value is refused, zero otherwise.
func (w *Wire) acceptValue(c *Connection, handle uint16, value []byte) uint8 {
	switch {
	case handle != StreamHandle:
		logger.Warn(w.prefix, "⚠️  Write to unknown handle 0x%04X from %s", handle, shortHash(c.remoteUUID))
		return att.ErrInvalidHandle
	case len(value) > MaxAttributeLen:
		logger.Warn(w.prefix, "⚠️  %d byte value from %s exceeds %d", len(value), shortHash(c.remoteUUID), MaxAttributeLen)
		return att.ErrInvalidAttributeValueLength
	case !c.inbox.push(value):
		return att.ErrUnlikelyError
	}
	logger.Trace(w.prefix, "📥 Value from %s: %d bytes", shortHash(c.remoteUUID), len(value))
	return 0
}

func (w *Wire) completeRequest(c *Connection, opcode uint8, packet interface{}) {
	if err := c.requests.CompleteRequest(opcode, packet); err != nil {
		logger.Warn(w.prefix, "⚠️  %s from %s without pending request: %v",
			att.OpcodeNames[opcode], shortHash(c.remoteUUID), err)
	}
}
