package codec

import (
	"encoding/json"
	"fmt"
)

// JSONCodec serializes envelopes with encoding/json. Readable on the wire and
// easy to debug; BinaryCodec is the compact alternative for image payloads.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("JSONCodec: %w", err)
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
