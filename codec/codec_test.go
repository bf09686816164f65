package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simgym/message"
)

func sampleMessage() *message.RPCMessage {
	return &message.RPCMessage{
		Op:      message.OpGetObjectPosition,
		Mode:    message.ModeBlocking,
		Status:  message.StatusRemoteError,
		SimTime: 1250,
		Payload: []byte(`{"handle":3,"relative_to":-1}`),
		Error:   "object does not exist",
	}
}

func TestCodecs(t *testing.T) {
	for _, cdc := range []Codec{&JSONCodec{}, &BinaryCodec{}} {
		original := sampleMessage()

		data, err := cdc.Encode(original)
		require.NoError(t, err)

		var decoded message.RPCMessage
		require.NoError(t, cdc.Decode(data, &decoded))
		assert.Equal(t, *original, decoded, "codec %d", cdc.Type())
	}
}

func TestBinaryCodecTruncated(t *testing.T) {
	cdc := &BinaryCodec{}
	data, err := cdc.Encode(sampleMessage())
	require.NoError(t, err)

	var decoded message.RPCMessage
	err = cdc.Decode(data[:len(data)-3], &decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestBinaryCodecRejectsOtherTypes(t *testing.T) {
	_, err := (&BinaryCodec{}).Encode("not a message")
	assert.Error(t, err)
}

func TestParseCodecType(t *testing.T) {
	ct, err := ParseCodecType("binary")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeBinary, ct)

	ct, err = ParseCodecType("")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeJSON, ct)

	_, err = ParseCodecType("xml")
	assert.Error(t, err)
}
