package upstream

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// Binary frame layout: 16-byte big-endian header followed by the body.
// packLen(4) headerLen(2) ver(2) op(4) seq(4).
const packetHeaderLen = 16

// Protocol operation codes.
const (
	opHeartbeat      = 2
	opHeartbeatReply = 3
	opSendMsg        = 5
	opAuth           = 7
	opAuthReply      = 8
)

// Body versions.
const (
	verPlain      = 0
	verPopularity = 1
	verZlib       = 2
)

type packet struct {
	ver  uint16
	op   uint32
	body []byte
}

func encodePacket(ver uint16, op uint32, body []byte) []byte {
	buf := make([]byte, packetHeaderLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(packetHeaderLen+len(body)))
	binary.BigEndian.PutUint16(buf[4:6], packetHeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], ver)
	binary.BigEndian.PutUint32(buf[8:12], op)
	binary.BigEndian.PutUint32(buf[12:16], 1)
	copy(buf[packetHeaderLen:], body)
	return buf
}

// decodePackets splits one websocket message into its contained frames.
func decodePackets(data []byte) ([]packet, error) {
	var packets []packet
	for len(data) > 0 {
		if len(data) < packetHeaderLen {
			return nil, fmt.Errorf("truncated packet header: %d bytes", len(data))
		}
		packLen := binary.BigEndian.Uint32(data[0:4])
		headerLen := binary.BigEndian.Uint16(data[4:6])
		if int(packLen) > len(data) || headerLen < packetHeaderLen || int(headerLen) > int(packLen) {
			return nil, fmt.Errorf("invalid packet lengths: pack=%d header=%d", packLen, headerLen)
		}
		packets = append(packets, packet{
			ver:  binary.BigEndian.Uint16(data[6:8]),
			op:   binary.BigEndian.Uint32(data[8:12]),
			body: data[headerLen:packLen],
		})
		data = data[packLen:]
	}
	return packets, nil
}

// inflate decompresses a ver=2 body, which contains a nested packet stream.
func inflate(body []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to open zlib body: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate body: %w", err)
	}
	return out, nil
}
