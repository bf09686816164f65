// Package protocol implements the binary frame protocol spoken between a
// remote API client and the simulator server.
//
// Every frame is a fixed 24-byte header followed by a variable-length body.
// The receiver reads the header first to learn the body length, then reads
// exactly that many bytes. The first 18 bytes follow the simulator's
// documented message header, so header offsets can be queried by callers
// (see Header.Info).
//
// Frame format:
//
//	0    2  3        7        11       15   17 18 19 20       24
//	┌────┬──┬────────┬────────┬────────┬────┬──┬──┬──┬────────┬──────────────┐
//	│crc │v │ msg id │ client │ server │scn │st│ct│ft│bodyLen │ body ...     │
//	│u16 │01│ uint32 │ time   │ time   │u16 │  │  │  │ uint32 │ bodyLen bytes│
//	└────┴──┴────────┴────────┴────────┴────┴──┴──┴──┴────────┴──────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	Version    byte = 0x01
	HeaderSize int  = 24
)

// Header field offsets. Offsets up to OffsetServerState are part of the
// external service contract and must not move.
const (
	OffsetCRC         = 0
	OffsetVersion     = 2
	OffsetMessageID   = 3
	OffsetClientTime  = 7
	OffsetServerTime  = 11
	OffsetSceneID     = 15
	OffsetServerState = 17
	offsetCodec       = 18
	offsetFrameType   = 19
	offsetBodyLen     = 20
)

// Server state bits carried at OffsetServerState.
const (
	StateSimulationNotStopped byte = 1 << 0
	StateSimulationPaused     byte = 1 << 1
	StateRealTime             byte = 1 << 2
)

// FrameType distinguishes request, reply, and heartbeat frames.
type FrameType byte

const (
	FrameRequest   FrameType = 0 // Client → Server command
	FrameReply     FrameType = 1 // Server → Client reply (also pushed for streaming commands)
	FrameHeartbeat FrameType = 2 // KeepAlive probe (no body)
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header represents the fixed frame header.
type Header struct {
	MessageID   uint32 // Request sequence; the server echoes it in the reply
	ClientTime  uint32 // Client timestamp in ms, echoed by the server
	ServerTime  uint32 // Server timestamp in ms, set on replies
	SceneID     uint16 // Identifies the scene currently loaded on the server
	ServerState byte   // Bit coded, see State* constants
	CodecType   byte
	FrameType   FrameType
	BodyLen     uint32
}

// InfoType selects one documented header field, see Header.Info.
type InfoType int

const (
	InfoVersion     InfoType = OffsetVersion
	InfoMessageID   InfoType = OffsetMessageID
	InfoClientTime  InfoType = OffsetClientTime
	InfoServerTime  InfoType = OffsetServerTime
	InfoSceneID     InfoType = OffsetSceneID
	InfoServerState InfoType = OffsetServerState
)

// Info returns the value of a header field addressed by its documented offset.
func (h *Header) Info(info InfoType) (int32, error) {
	switch info {
	case InfoVersion:
		return int32(Version), nil
	case InfoMessageID:
		return int32(h.MessageID), nil
	case InfoClientTime:
		return int32(h.ClientTime), nil
	case InfoServerTime:
		return int32(h.ServerTime), nil
	case InfoSceneID:
		return int32(h.SceneID), nil
	case InfoServerState:
		return int32(h.ServerState), nil
	}
	return 0, fmt.Errorf("unknown header offset: %d", info)
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize+len(body))

	buf[OffsetVersion] = Version
	binary.BigEndian.PutUint32(buf[OffsetMessageID:], h.MessageID)
	binary.BigEndian.PutUint32(buf[OffsetClientTime:], h.ClientTime)
	binary.BigEndian.PutUint32(buf[OffsetServerTime:], h.ServerTime)
	binary.BigEndian.PutUint16(buf[OffsetSceneID:], h.SceneID)
	buf[OffsetServerState] = h.ServerState
	buf[offsetCodec] = h.CodecType
	buf[offsetFrameType] = byte(h.FrameType)
	binary.BigEndian.PutUint32(buf[offsetBodyLen:], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	// CRC covers everything after the CRC field itself
	binary.BigEndian.PutUint16(buf[OffsetCRC:], checksum(buf[OffsetVersion:]))

	// Single write so a frame is never split across concurrent writers
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the version, codec type, frame type and checksum.
// Uses io.ReadFull to guarantee exactly N bytes are read, preventing partial reads.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[OffsetVersion] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[OffsetVersion])
	}

	codecType := headerBuf[offsetCodec]
	if codecType != CodecTypeJSON && codecType != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", codecType)
	}

	frameType := FrameType(headerBuf[offsetFrameType])
	if frameType != FrameRequest && frameType != FrameReply && frameType != FrameHeartbeat {
		return nil, nil, fmt.Errorf("unsupported frame type: %d", frameType)
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[offsetBodyLen:])
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	want := binary.BigEndian.Uint16(headerBuf[OffsetCRC:])
	if got := checksum(headerBuf[OffsetVersion:], body); got != want {
		return nil, nil, fmt.Errorf("checksum mismatch: got %#04x, want %#04x", got, want)
	}

	return &Header{
		MessageID:   binary.BigEndian.Uint32(headerBuf[OffsetMessageID:]),
		ClientTime:  binary.BigEndian.Uint32(headerBuf[OffsetClientTime:]),
		ServerTime:  binary.BigEndian.Uint32(headerBuf[OffsetServerTime:]),
		SceneID:     binary.BigEndian.Uint16(headerBuf[OffsetSceneID:]),
		ServerState: headerBuf[OffsetServerState],
		CodecType:   codecType,
		FrameType:   frameType,
		BodyLen:     bodyLen,
	}, body, nil
}

// checksum is the server's 16-bit additive checksum.
func checksum(parts ...[]byte) uint16 {
	var sum uint16
	for _, p := range parts {
		for _, b := range p {
			sum += uint16(b)
		}
	}
	return sum
}
