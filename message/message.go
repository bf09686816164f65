// Package message defines the command envelope exchanged between a remote API
// client and the simulator server.
//
// RPCMessage is the "envelope" for every remote call. It gets serialized by the
// codec layer and wrapped in a protocol frame for transmission over TCP.
package message

import "fmt"

// OpMode is the operation mode of a command. Values are bit-compatible with
// the simulator server's command header.
type OpMode int32

const (
	ModeOneshot        OpMode = 0x000000 // Send, don't wait for the reply
	ModeBlocking       OpMode = 0x010000 // Send and wait for the reply
	ModeStreaming      OpMode = 0x020000 // Server re-executes the command every simulation step
	ModeOneshotSplit   OpMode = 0x030000
	ModeStreamingSplit OpMode = 0x040000
	ModeDiscontinue    OpMode = 0x050000 // Cancel a streaming command on the server
	ModeBuffer         OpMode = 0x060000 // Read the latest buffered reply, send nothing
	ModeRemove         OpMode = 0x070000 // Drop the buffered reply, send nothing
)

func (m OpMode) String() string {
	switch m {
	case ModeOneshot:
		return "oneshot"
	case ModeBlocking:
		return "blocking"
	case ModeStreaming:
		return "streaming"
	case ModeOneshotSplit:
		return "oneshot_split"
	case ModeStreamingSplit:
		return "streaming_split"
	case ModeDiscontinue:
		return "discontinue"
	case ModeBuffer:
		return "buffer"
	case ModeRemove:
		return "remove"
	}
	return fmt.Sprintf("opmode(%#x)", int32(m))
}

// StatusRemoteError is set in RPCMessage.Status when the command failed on
// the server side.
const StatusRemoteError uint8 = 1 << 0

// RPCMessage carries the data for a single command or its reply.
//
//   - On request: Op and Mode are set, Payload contains the JSON encoded args.
//   - On reply:   Payload contains the JSON encoded result, Status/Error are set
//     if the server failed to execute the command. SimTime is the simulation
//     time in ms when the command was executed (0 if the simulation is stopped).
type RPCMessage struct {
	Op      string // Format: "Service.Method", e.g., "Simulation.Start"
	Mode    OpMode
	Status  uint8
	SimTime int32
	Error   string
	Payload []byte
}

// Failed reports whether the server flagged the command as failed.
func (m *RPCMessage) Failed() bool {
	return m.Status&StatusRemoteError != 0
}
