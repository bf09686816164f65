// Package session manages the lifecycle of one client connection to a
// simulator: connect, load a scene, start, step in lockstep, stop and
// disconnect.
//
//	Disconnected ──Connect──→ Connected ──LoadScene──→ SceneLoaded
//	     ↑                      │  ↑                       │
//	     └──────Disconnect──────┘  └──StopSimulation──┐    │ StartSimulation
//	                                                  │    ↓
//	                               StepSimulation ⇄ SimRunning
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"simgym/client"
	"simgym/message"
	"simgym/protocol"
	"simgym/retry"
	"simgym/status"
)

// SignalDebug is the integer signal a connected client keeps set on the
// server; reading it back is also how a stop is polled.
const (
	SignalDebug      = "sig_debug"
	SignalDebugValue = 1337
)

// ErrUsage is wrapped by every error caused by calling an operation in the
// wrong state.
var ErrUsage = errors.New("session: invalid use")

var (
	ErrAlreadyConnected   = fmt.Errorf("%w: client is already connected", ErrUsage)
	ErrNotConnected       = fmt.Errorf("%w: client is not even connected", ErrUsage)
	ErrSceneAlreadyLoaded = fmt.Errorf("%w: scene is already loaded", ErrUsage)
	ErrSceneNotLoaded     = fmt.Errorf("%w: scene is not loaded", ErrUsage)
	ErrAlreadyRunning     = fmt.Errorf("%w: simulation is already running", ErrUsage)
	ErrNotRunning         = fmt.Errorf("%w: simulation is not running", ErrUsage)
)

var (
	ErrUnableToConnect = errors.New("unable to connect to simulator")
	ErrStopTimeout     = errors.New("simulation did not report stopped in time")
)

// Library opens and closes client ids and issues commands on them.
// *transport.Library implements it.
type Library interface {
	client.Caller
	Open(address string, port int, timeout time.Duration) (int, error)
	Close(id int) error
}

// Clock is the time source used for stop polling and, unless the retry
// policy brings its own, connect backoff.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	return retry.SleepContext(ctx, d)
}

// Config tunes a Manager. The zero value is completed by withDefaults.
type Config struct {
	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration
	// Retry bounds the connection attempts.
	Retry retry.Policy
	// StopTimeout bounds the wait for the server to report stopped.
	// Zero waits forever.
	StopTimeout time.Duration
	// PollInterval is the pause between two stop polls.
	PollInterval time.Duration
	// AssumeHeadless skips the headless query and leaves the GUI alone.
	AssumeHeadless bool
	Clock          Clock
}

// DefaultConfig returns 64 connection attempts one second apart and a 30s
// stop timeout.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: time.Second,
		Retry: retry.Policy{
			MaxAttempts: 64,
			Backoff:     retry.Constant(time.Second),
		},
		StopTimeout:  30 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if c.Retry.Backoff == nil {
		c.Retry.Backoff = def.Retry.Backoff
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	if c.Retry.Sleep == nil {
		c.Retry.Sleep = c.Clock.Sleep
	}
	return c
}

// State is the coarse lifecycle state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateSceneLoaded
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateSceneLoaded:
		return "scene_loaded"
	case StateRunning:
		return "running"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Manager owns one client connection and enforces the lifecycle order.
// It is not safe for concurrent use.
type Manager struct {
	lib    Library
	cfg    Config
	logger *zap.Logger

	address     string
	port        int
	clientID    int
	client      *client.Client
	connected   bool
	sceneLoaded bool
	simRunning  bool
	headless    bool
}

// New creates a disconnected manager.
func New(lib Library, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		lib:      lib,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		clientID: -1,
	}
}

// Connect opens a connection to address:port, retrying according to the
// configured policy, and prepares the server for a training session.
func (m *Manager) Connect(ctx context.Context, address string, port int) error {
	if m.connected {
		return ErrAlreadyConnected
	}

	policy := m.cfg.Retry
	policy.OnRetry = func(attempt int, err error) {
		m.logger.Warn("unable to connect, retrying",
			zap.String("address", address),
			zap.Int("port", port),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	id := -1
	err := policy.Do(ctx, func(int) error {
		var err error
		id, err = m.lib.Open(address, port, m.cfg.ConnectTimeout)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w at %s:%d: %w", ErrUnableToConnect, address, port, err)
	}

	c := client.New(m.lib, id)
	if err := m.prepare(c); err != nil {
		_ = m.lib.Close(id)
		return err
	}

	m.address, m.port = address, port
	m.clientID = id
	m.client = c
	m.connected = true
	m.logger.Info("connected",
		zap.String("address", address),
		zap.Int("port", port),
		zap.Int("client_id", id),
		zap.Bool("headless", m.headless))
	return nil
}

// prepare sets the liveness signal and hides the GUI panels of a server
// that has a display.
func (m *Manager) prepare(c *client.Client) error {
	if _, err := status.Must(c.SetIntegerSignal(SignalDebug, SignalDebugValue, message.ModeBlocking)); err != nil {
		return err
	}

	m.headless = true
	if m.cfg.AssumeHeadless {
		return nil
	}
	headless, err := status.Must(c.GetBooleanParameter(message.BoolParamHeadless, message.ModeBlocking))
	if err != nil {
		return err
	}
	m.headless = headless
	if headless {
		return nil
	}
	for _, panel := range []int32{
		message.BoolParamBrowserVisible,
		message.BoolParamHierarchyVisible,
		message.BoolParamConsoleVisible,
	} {
		if _, err := status.Must(c.SetBooleanParameter(panel, false, message.ModeBlocking)); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect clears the liveness signal and closes the connection. The
// session returns to its initial state even if closing fails.
func (m *Manager) Disconnect() error {
	if !m.connected {
		return ErrNotConnected
	}
	if r := m.client.ClearIntegerSignal(SignalDebug, message.ModeBlocking); r.Code != status.ReturnOK {
		m.logger.Warn("clearing liveness signal failed", zap.Stringer("code", r.Code))
	}
	err := m.lib.Close(m.clientID)

	m.logger.Info("disconnected", zap.Int("client_id", m.clientID))
	m.clientID = -1
	m.client = nil
	m.connected = false
	m.sceneLoaded = false
	m.simRunning = false
	return err
}

// LoadScene loads the scene at path on the server.
func (m *Manager) LoadScene(path string) error {
	if !m.connected {
		return ErrNotConnected
	}
	if m.sceneLoaded {
		return ErrSceneAlreadyLoaded
	}
	if _, err := status.Must(m.client.LoadScene(path, 0, message.ModeBlocking)); err != nil {
		return fmt.Errorf("loading scene %q: %w", path, err)
	}
	m.sceneLoaded = true
	return nil
}

// CloseScene unloads the scene loaded by LoadScene.
func (m *Manager) CloseScene() error {
	if !m.connected {
		return ErrNotConnected
	}
	if !m.sceneLoaded {
		return ErrSceneNotLoaded
	}
	if _, err := status.Must(m.client.CloseScene(message.ModeBlocking)); err != nil {
		return err
	}
	m.sceneLoaded = false
	return nil
}

// StartSimulation starts the simulation in synchronous mode, so that it
// only advances on StepSimulation.
func (m *Manager) StartSimulation() error {
	if !m.connected {
		return ErrNotConnected
	}
	if m.simRunning {
		return ErrAlreadyRunning
	}
	if _, err := status.Must(m.client.Synchronous(true)); err != nil {
		return err
	}
	if _, err := status.Must(m.client.StartSimulation(message.ModeBlocking)); err != nil {
		return err
	}
	if !m.headless {
		if _, err := status.Must(m.client.SetBooleanParameter(message.BoolParamThreadedRendering, true, message.ModeBlocking)); err != nil {
			return err
		}
	}
	m.simRunning = true
	m.logger.Debug("simulation started")
	return nil
}

// StopSimulation stops the simulation and waits until the server reports
// it stopped. The server may keep running for a few replies after the stop
// command, so the liveness signal is read back until the server-state bit of
// the reply header clears.
func (m *Manager) StopSimulation(ctx context.Context) error {
	if !m.connected {
		return ErrNotConnected
	}
	if !m.simRunning {
		return ErrNotRunning
	}
	if _, err := status.Must(m.client.StopSimulation(message.ModeBlocking)); err != nil {
		return err
	}

	start := m.cfg.Clock.Now()
	for polls := 1; ; polls++ {
		if _, err := status.Must(m.client.GetIntegerSignal(SignalDebug, message.ModeBlocking)); err != nil {
			return fmt.Errorf("polling server state: %w", err)
		}
		state, err := status.Must(m.client.InMessageInfo(protocol.InfoServerState))
		if err != nil {
			return fmt.Errorf("polling server state: %w", err)
		}
		if byte(state)&protocol.StateSimulationNotStopped == 0 {
			m.logger.Debug("simulation stopped", zap.Int("polls", polls))
			break
		}
		if m.cfg.StopTimeout > 0 && m.cfg.Clock.Now().Sub(start) >= m.cfg.StopTimeout {
			return fmt.Errorf("%w after %d polls", ErrStopTimeout, polls)
		}
		if err := m.cfg.Clock.Sleep(ctx, m.cfg.PollInterval); err != nil {
			return err
		}
	}
	m.simRunning = false
	return nil
}

// StepSimulation advances the simulation by exactly one step and returns
// once the server has completed it.
func (m *Manager) StepSimulation() error {
	if !m.simRunning {
		return ErrNotRunning
	}
	_, err := status.Must(m.client.SynchronousTrigger())
	return err
}

// Client returns the typed remote API of the open connection, or nil when
// disconnected.
func (m *Manager) Client() *client.Client {
	return m.client
}

func (m *Manager) Connected() bool   { return m.connected }
func (m *Manager) SceneLoaded() bool { return m.sceneLoaded }
func (m *Manager) Running() bool     { return m.simRunning }

// Headless reports whether the connected server has no display.
func (m *Manager) Headless() bool { return m.headless }

// ClientID returns the open client id, or -1.
func (m *Manager) ClientID() int { return m.clientID }

// Address returns the address and port of the last successful Connect.
func (m *Manager) Address() (string, int) { return m.address, m.port }

// State summarises the lifecycle flags.
func (m *Manager) State() State {
	switch {
	case m.simRunning:
		return StateRunning
	case m.sceneLoaded:
		return StateSceneLoaded
	case m.connected:
		return StateConnected
	}
	return StateDisconnected
}
