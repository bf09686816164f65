package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"simgym/message"
)

// BinaryCodec lays out an RPCMessage as length-prefixed fields:
//
//	opLen u16 | op | mode i32 | status u8 | simTime i32 | payloadLen u32 | payload | errLen u16 | err
type BinaryCodec struct{}

const binaryFixedSize = 2 + 4 + 1 + 4 + 4 + 2

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *RPCMessage")
	}
	if len(msg.Op) > 0xFFFF || len(msg.Error) > 0xFFFF {
		return nil, errors.New("BinaryCodec: op or error string too long")
	}

	buf := make([]byte, binaryFixedSize+len(msg.Op)+len(msg.Payload)+len(msg.Error))
	offset := 0

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(msg.Op)))
	offset += 2
	offset += copy(buf[offset:], msg.Op)

	binary.BigEndian.PutUint32(buf[offset:], uint32(msg.Mode))
	offset += 4

	buf[offset] = msg.Status
	offset++

	binary.BigEndian.PutUint32(buf[offset:], uint32(msg.SimTime))
	offset += 4

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(msg.Payload)))
	offset += 4
	offset += copy(buf[offset:], msg.Payload)

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(msg.Error)))
	offset += 2
	copy(buf[offset:], msg.Error)

	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errors.New("BinaryCodec: v must be *RPCMessage")
	}

	r := reader{data: data}
	opLen := int(r.uint16())
	msg.Op = string(r.bytes(opLen))
	msg.Mode = message.OpMode(int32(r.uint32()))
	msg.Status = r.byte()
	msg.SimTime = int32(r.uint32())
	payloadLen := int(r.uint32())
	payload := r.bytes(payloadLen)
	msg.Payload = make([]byte, len(payload))
	copy(msg.Payload, payload)
	errLen := int(r.uint16())
	msg.Error = string(r.bytes(errLen))

	if r.short {
		return fmt.Errorf("BinaryCodec: truncated message (%d bytes)", len(data))
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks a byte slice and records, rather than panics on, a short read.
type reader struct {
	data   []byte
	offset int
	short  bool
}

func (r *reader) bytes(n int) []byte {
	if r.short || r.offset+n > len(r.data) {
		r.short = true
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *reader) byte() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
