// Package transport implements the client side of the remote API: one
// ClientTransport per TCP connection to a simulator server, and a Library
// that hands out integer client ids for open connections.
//
// Each command gets a unique message id. A background goroutine (recvLoop)
// reads every reply and routes it either to the caller blocked on that id or,
// for commands that do not wait (oneshot, streaming), into a per-command inbox
// that buffer-mode calls read from:
//
//	Call(blocking, id=1) ──┐                     ┌─→ pending[1] → caller wakes up
//	Call(streaming, id=2) ─┼──→ conn ──→ server ─┤
//	                       │                     └─→ inbox["Object.GetPosition{...}"] (every step)
//	Call(buffer) ──────────┘ (reads inbox, sends nothing)
package transport

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"simgym/codec"
	"simgym/message"
	"simgym/protocol"
	"simgym/status"
)

// ErrConnectionLost is reported to callers waiting on a connection that broke.
var ErrConnectionLost = errors.New("connection lost")

// Reply is the raw outcome of one call.
type Reply struct {
	Code    status.ReturnCode
	SimTime int32
	Payload []byte
	Error   string // server-side error text, if any
}

// Options tunes a ClientTransport.
type Options struct {
	Codec             codec.CodecType
	ReplyTimeout      time.Duration // how long a blocking call waits for its reply
	HeartbeatInterval time.Duration // 0 disables heartbeats
}

func (o Options) withDefaults() Options {
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = 5 * time.Second
	}
	return o
}

// ClientTransport manages a single TCP connection to the simulator server.
type ClientTransport struct {
	conn    net.Conn
	opts    Options
	logger  *zap.Logger
	started time.Time

	seq     uint32     // Monotonically increasing message id (protected by sending mutex)
	sending sync.Mutex // Whole frames must be written atomically
	pending sync.Map   // map[uint32]chan *message.RPCMessage, blocking callers
	keys    sync.Map   // map[uint32]string, inbox key of commands that don't wait

	inboxMu sync.Mutex
	inbox   map[string]*message.RPCMessage
	streams map[string]uint32 // inbox key → message id of the streaming command

	last   atomic.Pointer[protocol.Header] // header of the last frame received
	broken atomic.Bool
	done   chan struct{}
	once   sync.Once
}

// NewClientTransport creates a transport for the given connection and starts
// the receive loop and, if configured, the heartbeat loop.
func NewClientTransport(conn net.Conn, opts Options, logger *zap.Logger) *ClientTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &ClientTransport{
		conn:    conn,
		opts:    opts.withDefaults(),
		logger:  logger,
		started: time.Now(),
		inbox:   make(map[string]*message.RPCMessage),
		streams: make(map[string]uint32),
		done:    make(chan struct{}),
	}
	go t.recvLoop()
	if t.opts.HeartbeatInterval > 0 {
		go t.heartbeatLoop(t.opts.HeartbeatInterval)
	}
	return t
}

// Call issues one command in the given operation mode. It never returns an
// error: every failure is folded into the reply's return code.
func (t *ClientTransport) Call(op string, args any, mode message.OpMode) Reply {
	if t.broken.Load() {
		return Reply{Code: status.ReturnLocalError, Error: ErrConnectionLost.Error()}
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return Reply{Code: status.ReturnLocalError, Error: err.Error()}
	}
	key := op + string(payload)

	switch mode {
	case message.ModeBlocking:
		return t.callBlocking(op, payload)

	case message.ModeOneshot:
		if err := t.send(op, payload, mode, key); err != nil {
			return t.localError(err)
		}
		return Reply{Code: status.ReturnOK}

	case message.ModeStreaming:
		t.inboxMu.Lock()
		_, streaming := t.streams[key]
		t.inboxMu.Unlock()
		if !streaming {
			if err := t.send(op, payload, mode, key); err != nil {
				return t.localError(err)
			}
		}
		return t.buffered(key)

	case message.ModeBuffer:
		return t.buffered(key)

	case message.ModeDiscontinue:
		t.inboxMu.Lock()
		if seq, ok := t.streams[key]; ok {
			t.keys.Delete(seq)
		}
		delete(t.streams, key)
		delete(t.inbox, key)
		t.inboxMu.Unlock()
		if err := t.send(op, payload, mode, ""); err != nil {
			return t.localError(err)
		}
		return Reply{Code: status.ReturnOK}

	case message.ModeRemove:
		t.inboxMu.Lock()
		delete(t.inbox, key)
		t.inboxMu.Unlock()
		return Reply{Code: status.ReturnOK}
	}

	// Split modes chunk payloads above a size threshold; every payload this
	// client produces fits a single frame, so they are not offered.
	return Reply{Code: status.ReturnIllegalOpMode}
}

func (t *ClientTransport) callBlocking(op string, payload []byte) Reply {
	// Register a response channel BEFORE sending (avoid race with recvLoop)
	respChan := make(chan *message.RPCMessage, 1)

	t.sending.Lock()
	t.seq++
	seq := t.seq
	t.pending.Store(seq, respChan)
	err := t.write(seq, op, payload, message.ModeBlocking)
	t.sending.Unlock()
	if err != nil {
		t.pending.Delete(seq)
		return t.localError(err)
	}
	// The receive loop may have died before our channel was registered.
	if t.broken.Load() {
		if _, mine := t.pending.LoadAndDelete(seq); mine {
			return Reply{Code: status.ReturnLocalError, Error: ErrConnectionLost.Error()}
		}
	}

	timer := time.NewTimer(t.opts.ReplyTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp == nil {
			return Reply{Code: status.ReturnLocalError, Error: ErrConnectionLost.Error()}
		}
		return toReply(resp)
	case <-timer.C:
		t.pending.Delete(seq)
		return Reply{Code: status.ReturnTimeout}
	}
}

// send writes a command that does not wait for its reply; the reply, if any,
// is stored in the inbox under key.
func (t *ClientTransport) send(op string, payload []byte, mode message.OpMode, key string) error {
	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq
	if key != "" {
		t.keys.Store(seq, key)
	}
	// Registered before the write so the first reply is already known to
	// belong to a stream.
	if mode == message.ModeStreaming {
		t.inboxMu.Lock()
		t.streams[key] = seq
		t.inboxMu.Unlock()
	}
	if err := t.write(seq, op, payload, mode); err != nil {
		t.keys.Delete(seq)
		t.inboxMu.Lock()
		delete(t.streams, key)
		t.inboxMu.Unlock()
		return err
	}
	return nil
}

// write encodes and writes one request frame. Caller holds t.sending.
func (t *ClientTransport) write(seq uint32, op string, payload []byte, mode message.OpMode) error {
	msg := message.RPCMessage{
		Op:      op,
		Mode:    mode,
		Payload: payload,
	}
	body, err := codec.GetCodec(t.opts.Codec).Encode(&msg)
	if err != nil {
		return err
	}
	header := protocol.Header{
		MessageID:  seq,
		ClientTime: t.clientTime(),
		CodecType:  byte(t.opts.Codec),
		FrameType:  protocol.FrameRequest,
	}
	return protocol.Encode(t.conn, &header, body)
}

func (t *ClientTransport) buffered(key string) Reply {
	t.inboxMu.Lock()
	defer t.inboxMu.Unlock()

	resp, ok := t.inbox[key]
	if !ok {
		return Reply{Code: status.ReturnNoValue}
	}
	return toReply(resp)
}

func (t *ClientTransport) localError(err error) Reply {
	t.logger.Debug("transport write failed", zap.Error(err))
	return Reply{Code: status.ReturnLocalError, Error: err.Error()}
}

func toReply(resp *message.RPCMessage) Reply {
	r := Reply{
		Code:    status.ReturnOK,
		SimTime: resp.SimTime,
		Payload: resp.Payload,
		Error:   resp.Error,
	}
	if resp.Failed() {
		r.Code = status.ReturnRemoteError
	}
	return r
}

// recvLoop runs in a dedicated goroutine, reading frames until the connection
// breaks. Replies to blocking calls wake their caller; everything else is
// kept as the latest reply of its command.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.closeAllPending(err)
			return
		}
		if header.FrameType == protocol.FrameHeartbeat {
			continue
		}
		t.last.Store(header)

		resp := &message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, resp); err != nil {
			t.logger.Warn("dropping undecodable reply", zap.Uint32("message_id", header.MessageID), zap.Error(err))
			continue
		}

		if channel, ok := t.pending.LoadAndDelete(header.MessageID); ok {
			channel.(chan *message.RPCMessage) <- resp
			continue
		}

		key, ok := t.keys.Load(header.MessageID)
		if !ok {
			continue // late reply of a blocking call that timed out
		}
		t.inboxMu.Lock()
		t.inbox[key.(string)] = resp
		// oneshot replies arrive once, streaming ones keep coming
		if _, streaming := t.streams[key.(string)]; !streaming {
			t.keys.Delete(header.MessageID)
		}
		t.inboxMu.Unlock()
	}
}

// closeAllPending wakes every blocked caller with a nil reply so they report
// a local error instead of waiting for their timeout.
func (t *ClientTransport) closeAllPending(err error) {
	t.broken.Store(true)
	select {
	case <-t.done:
	default:
		t.logger.Debug("transport receive loop stopped", zap.Error(err))
	}
	t.pending.Range(func(key, value any) bool {
		value.(chan *message.RPCMessage) <- nil
		t.pending.Delete(key)
		return true
	})
}

// LastHeader returns the header of the most recent frame received, or nil.
func (t *ClientTransport) LastHeader() *protocol.Header {
	return t.last.Load()
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// Close stops the background loops and closes the connection.
func (t *ClientTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

func (t *ClientTransport) clientTime() uint32 {
	return uint32(time.Since(t.started).Milliseconds())
}

// heartbeatLoop sends periodic heartbeat frames so the server can tell an
// idle client from a dead one.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{
			ClientTime: t.clientTime(),
			CodecType:  byte(t.opts.Codec),
			FrameType:  protocol.FrameHeartbeat,
		}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			return
		}
	}
}
