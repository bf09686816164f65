// Package server implements a reference simulator server that speaks the
// remote API wire protocol. It is small and kinematic, and is meant as a
// stand-in for a real simulator in tests, demos and CI.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → for each request, in order: world.Tick → Codec.Decode → Middleware Chain
//	    → businessHandler (reflect.Call on a World service)
//	  → if the world stepped: re-send every streaming subscription of this conn
//	  → write the reply (header stamped with server time, scene id, server state)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"simgym/codec"
	"simgym/message"
	"simgym/middleware"
	"simgym/protocol"
	"simgym/registry"
)

// DefaultServiceName is the name the server advertises in the registry.
const DefaultServiceName = "simgym"

// Server serves the remote API over TCP for one World.
type Server struct {
	world       *World
	sceneDir    string
	sceneLoader func(path string) (*Scene, error)
	serviceName string
	ttl         int64
	weight      int
	logger      *zap.Logger

	serviceMap    map[string]*service     // "Object" → *service
	listener      net.Listener            // TCP listener
	wg            sync.WaitGroup          // Tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool             // Set during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware // Applied in the order they were added
	handler       middleware.HandlerFunc  // middleware(middleware(...(businessHandler)))
	registry      registry.Registry       // nil when not using discovery
	advertiseAddr string                  // Routable address registered for this server

	connsMu sync.Mutex // guards listener and conns
	conns   map[net.Conn]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithSceneDir resolves relative scene paths against dir.
func WithSceneDir(dir string) Option {
	return func(s *Server) { s.sceneDir = dir }
}

// WithSceneLoader replaces LoadScene as the way Scene.Load reads a scene.
func WithSceneLoader(load func(path string) (*Scene, error)) Option {
	return func(s *Server) { s.sceneLoader = load }
}

// WithServiceName sets the name registered in the registry.
func WithServiceName(name string) Option {
	return func(s *Server) { s.serviceName = name }
}

// WithTTL sets the registry lease TTL in seconds.
func WithTTL(ttl int64) Option {
	return func(s *Server) { s.ttl = ttl }
}

// WithWeight sets the load balancing weight advertised in the registry.
func WithWeight(weight int) Option {
	return func(s *Server) { s.weight = weight }
}

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a server for world with every remote API service
// registered.
func NewServer(world *World, opts ...Option) *Server {
	s := &Server{
		world:       world,
		sceneLoader: LoadScene,
		serviceName: DefaultServiceName,
		ttl:         10,
		logger:      zap.NewNop(),
		serviceMap:  make(map[string]*service),
		conns:       make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	services := map[string]any{
		"Scene":      &sceneService{world: world, dir: s.sceneDir, load: s.sceneLoader},
		"Simulation": &simulationService{world: world},
		"Object":     &objectService{world: world},
		"Joint":      &jointService{world: world},
		"Sensor":     &sensorService{world: world},
		"Signal":     &signalService{world: world},
		"Param":      &paramService{world: world},
	}
	for name, rcvr := range services {
		if err := s.RegisterName(name, rcvr); err != nil {
			panic(err) // the built-in services are always well formed
		}
	}
	return s
}

// RegisterName registers rcvr's remote methods as "name.Method".
func (s *Server) RegisterName(name string, rcvr any) error {
	svc, err := newService(name, rcvr)
	if err != nil {
		return err
	}
	s.serviceMap[svc.name] = svc
	return nil
}

// World returns the world the server operates on.
func (s *Server) World() *World {
	return s.world
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on address and serves until Shutdown. advertiseAddr is the
// address registered in reg; pass a nil reg to skip discovery.
func (s *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener serves on an existing listener until Shutdown.
func (s *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	s.connsMu.Lock()
	s.listener = listener
	s.connsMu.Unlock()

	// Built once: Chain(A, B)(h) runs A.before → B.before → h → B.after → A.after
	s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)

	s.advertiseAddr = advertiseAddr
	if reg != nil {
		s.registry = reg
		inst := registry.ServiceInstance{
			Addr:    advertiseAddr,
			Weight:  s.weight,
			Version: fmt.Sprintf("%d", protocol.Version),
			Scene:   s.world.SceneName(),
		}
		if err := reg.Register(s.serviceName, inst, s.ttl); err != nil {
			return fmt.Errorf("registering %s: %w", s.serviceName, err)
		}
	}
	s.logger.Info("serving", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Addr returns the listener address, or nil before serving.
func (s *Server) Addr() net.Addr {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

type subscription struct {
	seq uint32
	req message.RPCMessage
}

// handleConn serves one connection. Requests are handled strictly in the
// order they arrive, so a client observes its commands' effects in order.
func (s *Server) handleConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		conn.Close()
	}()

	log := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("connection accepted")

	subs := make(map[string]*subscription)
	pushed := s.world.Ticks()
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			log.Debug("connection closed", zap.Error(err))
			return
		}
		if header.FrameType == protocol.FrameHeartbeat {
			continue
		}

		s.wg.Add(1)
		err = s.serveRequest(conn, header, body, subs, &pushed)
		s.wg.Done()
		if err != nil {
			log.Warn("writing reply failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) serveRequest(conn net.Conn, header *protocol.Header, body []byte, subs map[string]*subscription, pushed *uint64) error {
	s.world.Tick()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	req := message.RPCMessage{}
	var resp *message.RPCMessage
	if err := c.Decode(body, &req); err != nil {
		resp = &message.RPCMessage{Error: err.Error()}
	} else {
		resp = s.dispatch(&req)
	}

	key := req.Op + string(req.Payload)
	switch req.Mode {
	case message.ModeStreaming:
		subs[key] = &subscription{seq: header.MessageID, req: req}
	case message.ModeDiscontinue:
		delete(subs, key)
	}

	// Streamed values go out before the reply, so a client woken by the
	// reply to a trigger already holds this step's data.
	if ticks := s.world.Ticks(); ticks != *pushed {
		*pushed = ticks
		for _, sub := range subs {
			if err := s.write(conn, header, sub.seq, s.dispatch(&sub.req)); err != nil {
				return err
			}
		}
	}
	return s.write(conn, header, header.MessageID, resp)
}

// dispatch runs req through the middleware chain and fills the envelope.
func (s *Server) dispatch(req *message.RPCMessage) *message.RPCMessage {
	resp := s.handler(context.Background(), req)
	resp.Op = req.Op
	resp.Mode = req.Mode
	resp.SimTime = s.world.SimTime()
	if resp.Error != "" {
		resp.Status |= message.StatusRemoteError
	}
	return resp
}

func (s *Server) write(conn net.Conn, req *protocol.Header, seq uint32, resp *message.RPCMessage) error {
	body, err := codec.GetCodec(codec.CodecType(req.CodecType)).Encode(resp)
	if err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}
	header := protocol.Header{
		MessageID:  seq,
		ClientTime: req.ClientTime,
		CodecType:  req.CodecType,
		FrameType:  protocol.FrameReply,
	}
	s.world.Stamp(&header)
	return protocol.Encode(conn, &header, body)
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry (clients stop picking this server)
//  2. Set the shutdown flag and close the listener
//  3. Wait for in-flight requests to finish (with timeout)
//  4. Close the remaining connections
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.registry != nil {
		if err := s.registry.Deregister(s.serviceName, s.advertiseAddr); err != nil {
			s.logger.Warn("deregistering failed", zap.Error(err))
		}
	}

	s.shutdown.Store(true)
	s.connsMu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.connsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.New("timeout waiting for ongoing requests to finish")
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()
	return err
}

// businessHandler dispatches "Service.Method" to the registered service:
// look up → reflect.New(args) → json.Unmarshal → reflect.Call → json.Marshal.
func (s *Server) businessHandler(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	serviceName, methodName, ok := strings.Cut(req.Op, ".")
	if !ok {
		return &message.RPCMessage{Error: fmt.Sprintf("invalid operation %q", req.Op)}
	}
	svc, ok := s.serviceMap[serviceName]
	if !ok {
		return &message.RPCMessage{Error: fmt.Sprintf("unknown service %q", serviceName)}
	}
	method, ok := svc.method[methodName]
	if !ok {
		return &message.RPCMessage{Error: fmt.Sprintf("unknown method %q", req.Op)}
	}

	argv := reflect.New(method.ArgType)
	replyv := reflect.New(method.ReplyType)
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, argv.Interface()); err != nil {
			return &message.RPCMessage{Error: fmt.Sprintf("decoding arguments: %v", err)}
		}
	}

	if err := svc.call(method, argv, replyv); err != nil {
		return &message.RPCMessage{Error: err.Error()}
	}

	payload, err := json.Marshal(replyv.Interface())
	if err != nil {
		return &message.RPCMessage{Error: fmt.Sprintf("encoding result: %v", err)}
	}
	return &message.RPCMessage{Payload: payload}
}
