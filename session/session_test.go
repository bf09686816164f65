package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"simgym/client"
	"simgym/internal/simtest"
	"simgym/message"
	"simgym/protocol"
	"simgym/retry"
	"simgym/server"
	"simgym/status"
	"simgym/transport"
)

type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

// flakyLibrary fails the first failures calls to Open of every Connect.
type flakyLibrary struct {
	*transport.Library
	failures int
	opens    int
}

func (l *flakyLibrary) Open(address string, port int, timeout time.Duration) (int, error) {
	l.opens++
	if l.opens <= l.failures {
		return -1, errors.New("connection refused")
	}
	return l.Library.Open(address, port, timeout)
}

// stuckLibrary reports the simulation as running on every reply.
type stuckLibrary struct {
	*transport.Library
}

func (l *stuckLibrary) InMessageInfo(id int, info protocol.InfoType) (int32, status.ReturnCode) {
	if info == protocol.InfoServerState {
		return int32(protocol.StateSimulationNotStopped), status.ReturnOK
	}
	return l.Library.InMessageInfo(id, info)
}

func newLibrary(t *testing.T) *transport.Library {
	lib := transport.NewLibrary(transport.Options{}, nil)
	t.Cleanup(lib.CloseAll)
	return lib
}

func connect(t *testing.T, sim *simtest.Sim, cfg Config) *Manager {
	t.Helper()
	m := New(newLibrary(t), cfg, nil)
	require.NoError(t, m.Connect(context.Background(), sim.Host, sim.Port))
	return m
}

func TestStartStopCycles(t *testing.T) {
	sim := simtest.Start(t, simtest.Scene(t, "cartpole"), server.WorldOptions{StopLatency: 2})
	m := connect(t, sim, Config{})
	ctx := context.Background()

	assert.Equal(t, StateConnected, m.State())
	for i := 0; i < 100; i++ {
		require.NoError(t, m.StartSimulation())
		require.True(t, m.Running())
		require.NoError(t, m.StepSimulation())
		require.NoError(t, m.StopSimulation(ctx))
		require.False(t, m.Running())
		require.False(t, sim.World.Running())
	}
	require.NoError(t, m.Disconnect())
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, -1, m.ClientID())
}

func TestStepAdvancesExactlyOneStep(t *testing.T) {
	sim := simtest.Start(t, simtest.Scene(t, "cartpole"), server.WorldOptions{})
	m := connect(t, sim, Config{})

	require.NoError(t, m.StartSimulation())
	// a started synchronous simulation does not advance on its own
	for i := 0; i < 5; i++ {
		_, err := status.Must(m.Client().GetIntegerSignal(SignalDebug, message.ModeBlocking))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(0), sim.World.Steps())

	for i := 1; i <= 10; i++ {
		require.NoError(t, m.StepSimulation())
		assert.Equal(t, uint64(i), sim.World.Steps())
	}
}

func TestUsageErrors(t *testing.T) {
	sim := simtest.Start(t, simtest.Scene(t, "cartpole"), server.WorldOptions{})
	ctx := context.Background()
	m := New(newLibrary(t), Config{}, nil)

	assert.ErrorIs(t, m.Disconnect(), ErrNotConnected)
	assert.ErrorIs(t, m.StartSimulation(), ErrNotConnected)
	assert.ErrorIs(t, m.StepSimulation(), ErrNotRunning)
	assert.ErrorIs(t, m.LoadScene("cartpole.yaml"), ErrNotConnected)

	require.NoError(t, m.Connect(ctx, sim.Host, sim.Port))
	err := m.Connect(ctx, sim.Host, sim.Port)
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	assert.ErrorIs(t, err, ErrUsage)

	assert.ErrorIs(t, m.StopSimulation(ctx), ErrNotRunning)
	assert.ErrorIs(t, m.CloseScene(), ErrSceneNotLoaded)

	require.NoError(t, m.LoadScene("cartpole.yaml"))
	assert.ErrorIs(t, m.LoadScene("cartpole.yaml"), ErrSceneAlreadyLoaded)
	assert.Equal(t, StateSceneLoaded, m.State())

	require.NoError(t, m.StartSimulation())
	assert.ErrorIs(t, m.StartSimulation(), ErrAlreadyRunning)
	assert.Equal(t, StateRunning, m.State())

	require.NoError(t, m.StopSimulation(ctx))
	require.NoError(t, m.CloseScene())
	require.NoError(t, m.Disconnect())
	assert.ErrorIs(t, m.Disconnect(), ErrNotConnected)
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	sim := simtest.Start(t, nil, server.WorldOptions{})
	core, logs := observer.New(zap.WarnLevel)
	clock := &fakeClock{now: time.Unix(0, 0)}
	lib := &flakyLibrary{Library: newLibrary(t), failures: 3}

	m := New(lib, Config{Clock: clock}, zap.New(core))
	require.NoError(t, m.Connect(context.Background(), sim.Host, sim.Port))

	assert.Equal(t, 4, lib.opens)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, clock.slept)
	assert.Equal(t, 3, logs.FilterMessage("unable to connect, retrying").Len())
	assert.True(t, m.Connected())

	// a second session starts counting from scratch
	require.NoError(t, m.Disconnect())
	lib.opens, lib.failures = 0, 3
	clock.slept = nil
	require.NoError(t, m.Connect(context.Background(), sim.Host, sim.Port))
	assert.Equal(t, 4, lib.opens)
	assert.Len(t, clock.slept, 3)
}

func TestConnectGivesUp(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	lib := &flakyLibrary{Library: newLibrary(t), failures: 1000}

	m := New(lib, Config{Clock: clock}, nil)
	err := m.Connect(context.Background(), "127.0.0.1", 1)

	require.ErrorIs(t, err, ErrUnableToConnect)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 64, lib.opens)
	assert.Len(t, clock.slept, 63)
	assert.False(t, m.Connected())
	assert.Equal(t, -1, m.ClientID())
}

func TestConnectHonoursContext(t *testing.T) {
	lib := &flakyLibrary{Library: newLibrary(t), failures: 1000}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := New(lib, Config{}, nil)
	err := m.Connect(ctx, "127.0.0.1", 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, lib.opens)
}

func TestConnectSetsLivenessSignalAndHidesPanels(t *testing.T) {
	sim := simtest.Start(t, nil, server.WorldOptions{})
	m := connect(t, sim, Config{})
	c := m.Client()

	v, err := status.Must(c.GetIntegerSignal(SignalDebug, message.ModeBlocking))
	require.NoError(t, err)
	assert.Equal(t, int32(SignalDebugValue), v)
	assert.False(t, m.Headless())

	for _, panel := range []int32{
		message.BoolParamBrowserVisible,
		message.BoolParamHierarchyVisible,
		message.BoolParamConsoleVisible,
	} {
		visible, err := status.Must(c.GetBooleanParameter(panel, message.ModeBlocking))
		require.NoError(t, err)
		assert.False(t, visible, "panel %d", panel)
	}

	require.NoError(t, m.StartSimulation())
	threaded, err := status.Must(c.GetBooleanParameter(message.BoolParamThreadedRendering, message.ModeBlocking))
	require.NoError(t, err)
	assert.True(t, threaded)
}

func TestHeadlessServerKeepsPanels(t *testing.T) {
	sim := simtest.Start(t, nil, server.WorldOptions{Headless: true})
	m := connect(t, sim, Config{})
	c := m.Client()
	assert.True(t, m.Headless())

	visible, err := status.Must(c.GetBooleanParameter(message.BoolParamBrowserVisible, message.ModeBlocking))
	require.NoError(t, err)
	assert.True(t, visible)

	require.NoError(t, m.StartSimulation())
	threaded, err := status.Must(c.GetBooleanParameter(message.BoolParamThreadedRendering, message.ModeBlocking))
	require.NoError(t, err)
	assert.False(t, threaded)
}

func TestDisconnectClearsLivenessSignal(t *testing.T) {
	sim := simtest.Start(t, nil, server.WorldOptions{})
	m := connect(t, sim, Config{})
	require.NoError(t, m.Disconnect())

	lib := newLibrary(t)
	id, err := lib.Open(sim.Host, sim.Port, time.Second)
	require.NoError(t, err)
	r := client.New(lib, id).GetIntegerSignal(SignalDebug, message.ModeBlocking)
	assert.Equal(t, status.ReturnRemoteError, r.Code)
}

func TestStopWaitsForServer(t *testing.T) {
	sim := simtest.Start(t, simtest.Scene(t, "cartpole"), server.WorldOptions{StopLatency: 5})
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := connect(t, sim, Config{Clock: clock, PollInterval: time.Millisecond})

	require.NoError(t, m.StartSimulation())
	require.NoError(t, m.StopSimulation(context.Background()))

	// the stop reply and the first four polls still carry the running bit
	assert.Len(t, clock.slept, 4)
	assert.False(t, m.Running())
}

func TestStopTimeout(t *testing.T) {
	sim := simtest.Start(t, simtest.Scene(t, "cartpole"), server.WorldOptions{})
	clock := &fakeClock{now: time.Unix(0, 0)}
	lib := &stuckLibrary{Library: newLibrary(t)}
	m := New(lib, Config{Clock: clock, StopTimeout: 100 * time.Millisecond, PollInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, m.Connect(context.Background(), sim.Host, sim.Port))

	require.NoError(t, m.StartSimulation())
	err := m.StopSimulation(context.Background())
	require.ErrorIs(t, err, ErrStopTimeout)
	assert.True(t, m.Running())
	assert.Len(t, clock.slept, 10)
}
