package l2cap

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestPacketEncodeDecode(t *testing.T) {
	tests := []struct {
		name      string
		packet    *Packet
		wantBytes []byte
	}{
		{
			name:      "empty payload",
			packet:    &Packet{ChannelID: ChannelATT, Payload: []byte{}},
			wantBytes: []byte{0x00, 0x00, 0x04, 0x00},
		},
		{
			name:      "small ATT payload",
			packet:    &Packet{ChannelID: ChannelATT, Payload: []byte{0x01, 0x02, 0x03}},
			wantBytes: []byte{0x03, 0x00, 0x04, 0x00, 0x01, 0x02, 0x03},
		},
		{
			name:      "SMP channel",
			packet:    &Packet{ChannelID: ChannelSMP, Payload: []byte{0xAA, 0xBB}},
			wantBytes: []byte{0x02, 0x00, 0x06, 0x00, 0xAA, 0xBB},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.packet.Encode()
			if !bytes.Equal(encoded, tt.wantBytes) {
				t.Errorf("Encode() = %v, want %v", encoded, tt.wantBytes)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if decoded.ChannelID != tt.packet.ChannelID {
				t.Errorf("ChannelID = 0x%04X, want 0x%04X", decoded.ChannelID, tt.packet.ChannelID)
			}
			if !bytes.Equal(decoded.Payload, tt.packet.Payload) {
				t.Errorf("Payload = %v, want %v", decoded.Payload, tt.packet.Payload)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x00}); err == nil {
		t.Error("expected error for short header")
	}
	if _, err := Decode([]byte{0x05, 0x00, 0x04, 0x00, 0x01}); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestReadPacketFromStream(t *testing.T) {
	value := bytes.Repeat([]byte{0x5A}, MaxMTU)

	var stream bytes.Buffer
	stream.Write(NewATTPacket([]byte{0x13}).Encode())
	stream.Write(NewATTPacket(value).Encode())

	first, err := ReadPacket(&stream)
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if first.ChannelID != ChannelATT || !bytes.Equal(first.Payload, []byte{0x13}) {
		t.Errorf("first packet = %+v", first)
	}

	second, err := ReadPacket(&stream)
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if !bytes.Equal(second.Payload, value) {
		t.Errorf("second payload length = %d, want %d", len(second.Payload), len(value))
	}

	if _, err := ReadPacket(&stream); !errors.Is(err, io.EOF) {
		t.Errorf("ReadPacket() on drained stream = %v, want io.EOF", err)
	}

	truncated := bytes.NewReader([]byte{0x04, 0x00, 0x04, 0x00, 0x01})
	if _, err := ReadPacket(truncated); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadPacket() on truncated stream = %v, want io.ErrUnexpectedEOF", err)
	}
}
