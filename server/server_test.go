package server

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simgym/codec"
	"simgym/message"
	"simgym/middleware"
	"simgym/protocol"
	"simgym/registry"
)

const railScene = `
name: rail
dt: 0.1
objects:
  - {name: cart, type: shape, position: [0, 0, 0.5], mass: 1}
  - {name: slide, type: joint, joint: prismatic, axis: [1, 0, 0], child: cart, max_velocity: 5}
`

func startServer(t *testing.T, opts WorldOptions, setup func(*Server), reg registry.Registry, srvOpts ...Option) (*Server, net.Conn) {
	t.Helper()
	scene, err := ParseScene([]byte(railScene))
	require.NoError(t, err)

	svr := NewServer(NewWorld(scene, opts, nil), srvOpts...)
	if setup != nil {
		setup(svr)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.ServeListener(listener, listener.Addr().String(), reg)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return svr, conn
}

func send(t *testing.T, conn net.Conn, seq uint32, op string, mode message.OpMode, args any) {
	t.Helper()
	payload, err := json.Marshal(args)
	require.NoError(t, err)

	cdc := codec.GetCodec(codec.CodecTypeJSON)
	body, err := cdc.Encode(&message.RPCMessage{Op: op, Mode: mode, Payload: payload})
	require.NoError(t, err)

	header := protocol.Header{
		MessageID:  seq,
		ClientTime: 42,
		CodecType:  protocol.CodecTypeJSON,
		FrameType:  protocol.FrameRequest,
	}
	require.NoError(t, protocol.Encode(conn, &header, body))
}

func receive(t *testing.T, conn net.Conn) (*protocol.Header, *message.RPCMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	header, body, err := protocol.Decode(conn)
	require.NoError(t, err)

	var resp message.RPCMessage
	require.NoError(t, codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, &resp))
	return header, &resp
}

func call(t *testing.T, conn net.Conn, seq uint32, op string, args any) (*protocol.Header, *message.RPCMessage) {
	t.Helper()
	send(t, conn, seq, op, message.ModeBlocking, args)
	header, resp := receive(t, conn)
	require.Equal(t, seq, header.MessageID)
	return header, resp
}

func TestDispatch(t *testing.T) {
	_, conn := startServer(t, WorldOptions{}, nil, nil)

	header, resp := call(t, conn, 1, message.OpGetObjectHandle, message.NameArgs{Name: "cart"})
	assert.False(t, resp.Failed())
	assert.Equal(t, uint32(42), header.ClientTime, "client time is echoed")
	var handle message.IntReply
	require.NoError(t, json.Unmarshal(resp.Payload, &handle))

	_, resp = call(t, conn, 2, message.OpGetObjectPosition, message.HandleArgs{Handle: handle.Value, RelativeTo: message.HandleWorld})
	var pos message.Vec3Reply
	require.NoError(t, json.Unmarshal(resp.Payload, &pos))
	assert.Equal(t, [3]float64{0, 0, 0.5}, pos.Value)

	_, resp = call(t, conn, 3, message.OpGetObjectHandle, message.NameArgs{Name: "nope"})
	assert.True(t, resp.Failed())
	assert.NotEmpty(t, resp.Error)

	_, resp = call(t, conn, 4, "Object.Explode", message.Empty{})
	assert.True(t, resp.Failed())
	assert.Contains(t, resp.Error, "unknown method")

	_, resp = call(t, conn, 5, "NoDot", message.Empty{})
	assert.True(t, resp.Failed())
}

func TestSynchronousStepping(t *testing.T) {
	svr, conn := startServer(t, WorldOptions{}, nil, nil)

	call(t, conn, 1, message.OpSynchronous, message.SynchronousArgs{Enable: true})
	header, _ := call(t, conn, 2, message.OpStartSimulation, message.Empty{})
	assert.Equal(t, protocol.StateSimulationNotStopped, header.ServerState&protocol.StateSimulationNotStopped)

	call(t, conn, 3, message.OpGetObjectHandle, message.NameArgs{Name: "cart"})
	assert.Equal(t, uint64(0), svr.World().Steps(), "requests do not advance a synchronous simulation")

	header, resp := call(t, conn, 4, message.OpSynchronousTrigger, message.Empty{})
	assert.Equal(t, uint64(1), svr.World().Steps())
	assert.Equal(t, int32(100), resp.SimTime)
	assert.Equal(t, uint32(100), header.ServerTime)
}

func TestStreamingPushPrecedesReply(t *testing.T) {
	_, conn := startServer(t, WorldOptions{}, nil, nil)

	_, resp := call(t, conn, 1, message.OpGetObjectHandle, message.NameArgs{Name: "slide"})
	var slide message.IntReply
	require.NoError(t, json.Unmarshal(resp.Payload, &slide))

	call(t, conn, 2, message.OpSynchronous, message.SynchronousArgs{Enable: true})
	call(t, conn, 3, message.OpStartSimulation, message.Empty{})
	call(t, conn, 4, message.OpSetJointTargetVelocity, message.JointArgs{Handle: slide.Value, Value: 1})

	send(t, conn, 5, message.OpGetJointPosition, message.ModeStreaming, message.HandleArgs{Handle: slide.Value})
	header, _ := receive(t, conn)
	require.Equal(t, uint32(5), header.MessageID)

	send(t, conn, 6, message.OpSynchronousTrigger, message.ModeBlocking, message.Empty{})
	header, push := receive(t, conn)
	assert.Equal(t, uint32(5), header.MessageID, "streamed value first")
	var value message.FloatReply
	require.NoError(t, json.Unmarshal(push.Payload, &value))
	assert.InDelta(t, 0.1, value.Value, 1e-9)

	header, _ = receive(t, conn)
	assert.Equal(t, uint32(6), header.MessageID)

	// after discontinue a trigger yields only its own reply
	send(t, conn, 7, message.OpGetJointPosition, message.ModeDiscontinue, message.HandleArgs{Handle: slide.Value})
	receive(t, conn)
	header, _ = call(t, conn, 8, message.OpSynchronousTrigger, message.Empty{})
	assert.Equal(t, uint32(8), header.MessageID)
}

func TestStopLatency(t *testing.T) {
	_, conn := startServer(t, WorldOptions{StopLatency: 2}, nil, nil)

	call(t, conn, 1, message.OpStartSimulation, message.Empty{})
	header, _ := call(t, conn, 2, message.OpStopSimulation, message.Empty{})
	assert.NotZero(t, header.ServerState&protocol.StateSimulationNotStopped)
	header, _ = call(t, conn, 3, message.OpGetObjectHandle, message.NameArgs{Name: "cart"})
	assert.NotZero(t, header.ServerState&protocol.StateSimulationNotStopped)
	header, _ = call(t, conn, 4, message.OpGetObjectHandle, message.NameArgs{Name: "cart"})
	assert.Zero(t, header.ServerState&protocol.StateSimulationNotStopped)
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	mark := func(name string) middleware.Middleware {
		return func(next middleware.HandlerFunc) middleware.HandlerFunc {
			return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
				order = append(order, name+">")
				resp := next(ctx, req)
				order = append(order, "<"+name)
				return resp
			}
		}
	}
	_, conn := startServer(t, WorldOptions{}, func(s *Server) {
		s.Use(mark("a"))
		s.Use(mark("b"))
	}, nil)

	call(t, conn, 1, message.OpGetObjectHandle, message.NameArgs{Name: "cart"})
	assert.Equal(t, []string{"a>", "b>", "<b", "<a"}, order)
}

func TestRegistration(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	scene, err := ParseScene([]byte(railScene))
	require.NoError(t, err)
	svr := NewServer(NewWorld(scene, WorldOptions{}, nil), WithServiceName("sims"), WithWeight(3))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	done := make(chan error, 1)
	go func() { done <- svr.ServeListener(listener, addr, reg) }()

	require.Eventually(t, func() bool {
		instances, _ := reg.Discover("sims")
		return len(instances) == 1
	}, time.Second, 10*time.Millisecond)
	instances, err := reg.Discover("sims")
	require.NoError(t, err)
	assert.Equal(t, addr, instances[0].Addr)
	assert.Equal(t, 3, instances[0].Weight)
	assert.Equal(t, "rail", instances[0].Scene)

	require.NoError(t, svr.Shutdown(time.Second))
	require.NoError(t, <-done)
	instances, err = reg.Discover("sims")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestSceneLoadRejectedWhileRunning(t *testing.T) {
	var loaded []string
	svr, conn := startServer(t, WorldOptions{}, nil, nil,
		WithSceneDir("/scenes"),
		WithSceneLoader(func(path string) (*Scene, error) {
			loaded = append(loaded, path)
			return ParseScene([]byte(railScene))
		}),
	)

	header, resp := call(t, conn, 1, message.OpLoadScene, message.SceneArgs{Path: "rail.yaml"})
	require.False(t, resp.Failed(), resp.Error)
	assert.Equal(t, uint16(1), header.SceneID)
	assert.Equal(t, []string{"/scenes/rail.yaml"}, loaded)

	call(t, conn, 2, message.OpStartSimulation, message.Empty{})
	_, resp = call(t, conn, 3, message.OpLoadScene, message.SceneArgs{Path: "rail.yaml"})
	assert.True(t, resp.Failed())
	assert.Len(t, loaded, 2, "parsed but not applied")
	_, resp = call(t, conn, 4, message.OpCloseScene, message.Empty{})
	assert.True(t, resp.Failed())
	assert.True(t, svr.World().Running())
}
