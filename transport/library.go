package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"simgym/message"
	"simgym/protocol"
	"simgym/status"
)

// ErrUnknownClient is returned for a client id that is not open.
var ErrUnknownClient = errors.New("unknown client id")

// Dialer opens the TCP connection behind a client id.
type Dialer func(network, address string, timeout time.Duration) (net.Conn, error)

// Library is the table of open connections, addressed by client id.
// Ids start at 0 and are never reused within one Library.
type Library struct {
	mu      sync.Mutex
	next    int
	clients map[int]*ClientTransport
	opts    Options
	dial    Dialer
	logger  *zap.Logger
}

// NewLibrary creates an empty connection table.
func NewLibrary(opts Options, logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{
		clients: make(map[int]*ClientTransport),
		opts:    opts,
		dial:    net.DialTimeout,
		logger:  logger,
	}
}

// WithDialer replaces the function used to open connections.
func (l *Library) WithDialer(d Dialer) *Library {
	l.dial = d
	return l
}

// Open dials address:port once. It returns the new client id, or -1 and the
// dial error.
func (l *Library) Open(address string, port int, timeout time.Duration) (int, error) {
	addr := net.JoinHostPort(address, strconv.Itoa(port))
	conn, err := l.dial("tcp", addr, timeout)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", addr, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.next
	l.next++
	l.clients[id] = NewClientTransport(conn, l.opts, l.logger.With(zap.Int("client_id", id)))
	l.logger.Debug("connection opened", zap.Int("client_id", id), zap.String("addr", addr))
	return id, nil
}

func (l *Library) get(id int) (*ClientTransport, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.clients[id]
	return t, ok
}

// Call issues op on client id. An id that is not open yields the
// initialize-error flag.
func (l *Library) Call(id int, op string, args any, mode message.OpMode) Reply {
	t, ok := l.get(id)
	if !ok {
		return Reply{Code: status.ReturnInitializeError, Error: ErrUnknownClient.Error()}
	}
	return t.Call(op, args, mode)
}

// InMessageInfo reads one field of the last header received on client id.
// It reports no-value before any reply has arrived.
func (l *Library) InMessageInfo(id int, info protocol.InfoType) (int32, status.ReturnCode) {
	t, ok := l.get(id)
	if !ok {
		return 0, status.ReturnInitializeError
	}
	h := t.LastHeader()
	if h == nil {
		return 0, status.ReturnNoValue
	}
	v, err := h.Info(info)
	if err != nil {
		return 0, status.ReturnIllegalOpMode
	}
	return v, status.ReturnOK
}

// Close releases client id. Closing an id twice returns ErrUnknownClient.
func (l *Library) Close(id int) error {
	l.mu.Lock()
	t, ok := l.clients[id]
	delete(l.clients, id)
	l.mu.Unlock()
	if !ok {
		return ErrUnknownClient
	}
	l.logger.Debug("connection closed", zap.Int("client_id", id))
	return t.Close()
}

// CloseAll releases every open client id.
func (l *Library) CloseAll() {
	l.mu.Lock()
	ids := make([]int, 0, len(l.clients))
	for id := range l.clients {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	for _, id := range ids {
		_ = l.Close(id)
	}
}
