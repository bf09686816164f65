package codec

import (
	"testing"

	"simgym/message"
)

func benchmarkCodec(b *testing.B, cdc Codec) {
	msg := &message.RPCMessage{
		Op:      message.OpGetObjectPosition,
		Mode:    message.ModeBlocking,
		SimTime: 1200,
		Payload: []byte(`{"handle":3,"relative_to":-1}`),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(msg)
		var out message.RPCMessage
		cdc.Decode(data, &out)
	}
}

func BenchmarkCodecJSON(b *testing.B)   { benchmarkCodec(b, GetCodec(CodecTypeJSON)) }
func BenchmarkCodecBinary(b *testing.B) { benchmarkCodec(b, GetCodec(CodecTypeBinary)) }
