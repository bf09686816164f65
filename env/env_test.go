package env

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"simgym/client"
	"simgym/internal/simtest"
	"simgym/retry"
	"simgym/server"
	"simgym/session"
	"simgym/status"
	"simgym/timestep"
	"simgym/transport"
)

// slider drives the cart of the cart-pole scene and observes its position
// and velocity. The episode ends once the cart passes x = 0.51.
type slider struct {
	cart, action int32
	starts       int
}

func (s *slider) Name() string { return "slider" }

func (s *slider) Setup(e *Env) (err error) {
	if s.cart, err = e.ObjectHandle("cart"); err != nil {
		return err
	}
	s.action, err = e.ObjectHandle("action")
	return err
}

func (s *slider) ActionSpec() Spec      { return Box(1, -1, 1) }
func (s *slider) ObservationSpec() Spec { return Box(2, math.Inf(-1), math.Inf(1)) }

func (s *slider) Actuate(e *Env, a mat.Vector) error {
	return e.SetJointTargetVelocity(s.action, a.AtVec(0))
}

func (s *slider) Observe(e *Env) (*mat.VecDense, error) {
	pos, err := e.ObjectPosition(s.cart)
	if err != nil {
		return nil, err
	}
	lin, _, err := e.ObjectVelocity(s.cart)
	if err != nil {
		return nil, err
	}
	return mat.NewVecDense(2, []float64{pos[0], lin[0]}), nil
}

func (s *slider) Reward(obs, a mat.Vector) float64 { return 1 }
func (s *slider) Done(obs mat.Vector) bool          { return obs.AtVec(0) > 0.51 }

func (s *slider) Start(e *Env) error {
	s.starts++
	return nil
}

func newEnv(t *testing.T, cfg Config) (*Env, *simtest.Sim) {
	t.Helper()
	sim := simtest.Start(t, simtest.Scene(t, "cartpole"), server.WorldOptions{StopLatency: 1})
	lib := transport.NewLibrary(transport.Options{}, nil)
	t.Cleanup(lib.CloseAll)

	cfg.Address, cfg.Port = sim.Host, sim.Port
	e, err := New(context.Background(), session.New(lib, session.Config{}, nil), &slider{}, cfg, nil)
	require.NoError(t, err)
	return e, sim
}

func action(v ...float64) *mat.VecDense {
	return mat.NewVecDense(len(v), v)
}

func TestStepCount(t *testing.T) {
	e, sim := newEnv(t, Config{})
	ctx := context.Background()

	first, err := e.Reset(ctx)
	require.NoError(t, err)
	assert.True(t, first.First())
	assert.Equal(t, 0, first.Number)

	for i := 1; i <= 5; i++ {
		step, err := e.Step(ctx, action(0.1))
		require.NoError(t, err)
		assert.Equal(t, timestep.Mid, step.StepType)
		assert.Equal(t, i, step.Number)
		assert.Equal(t, first.Info.EpisodeID, step.Info.EpisodeID)
		assert.Equal(t, 1.0, step.Reward)
	}
	assert.Equal(t, uint64(5), sim.World.Steps())

	step, err := e.Step(ctx, action(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), sim.World.Steps())
	assert.InDelta(t, 5*0.02*0.1, step.Observation.AtVec(0), 1e-9)
	assert.Equal(t, int32(120), step.Info.SimTime)
}

func TestResetTwice(t *testing.T) {
	e, sim := newEnv(t, Config{})
	ctx := context.Background()

	first, err := e.Reset(ctx)
	require.NoError(t, err)
	_, err = e.Step(ctx, action(1))
	require.NoError(t, err)

	second, err := e.Reset(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.Info.EpisodeID, second.Info.EpisodeID)
	assert.Equal(t, 0.0, second.Observation.AtVec(0), "stop restores the scene")
	assert.True(t, sim.World.Running())
	assert.Equal(t, 2, e.Task().(*slider).starts)

	step, err := e.Step(ctx, action(1))
	require.NoError(t, err)
	assert.Equal(t, 1, step.Number)
}

func TestResetWithoutSteps(t *testing.T) {
	e, sim := newEnv(t, Config{})
	ctx := context.Background()
	cart, err := e.ObjectHandle("cart")
	require.NoError(t, err)

	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 3; i++ {
		if i > 0 {
			require.NoError(t, e.SetObjectPosition(cart, [3]float64{0.3, 0, 0.25}))
		}
		first, err := e.Reset(ctx)
		require.NoError(t, err)
		assert.True(t, first.First())
		assert.False(t, seen[first.Info.EpisodeID], "episode ids are fresh")
		seen[first.Info.EpisodeID] = true
		assert.Equal(t, 0.0, first.Observation.AtVec(0), "reset %d stopped and restored the scene", i)

		assert.True(t, sim.World.Running())
		assert.Equal(t, uint64(0), sim.World.Steps())
	}
	assert.Equal(t, 3, e.Task().(*slider).starts)
}

func TestHandleCacheFollowsClient(t *testing.T) {
	e, sim := newEnv(t, Config{})
	ctx := context.Background()
	require.Len(t, e.handles, 2)

	mgr := e.Session()
	require.NoError(t, mgr.Disconnect())
	require.NoError(t, mgr.Connect(ctx, sim.Host, sim.Port))

	h, err := e.ObjectHandle("cart")
	require.NoError(t, err)
	want, err := sim.World.ObjectHandle("cart")
	require.NoError(t, err)
	assert.Equal(t, want, h)
	assert.Len(t, e.handles, 1, "handles from the old client are dropped")
}

func TestStepBeforeReset(t *testing.T) {
	e, _ := newEnv(t, Config{})
	_, err := e.Step(context.Background(), action(0))
	assert.ErrorIs(t, err, ErrNotReset)
}

func TestActionBounds(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected", func(t *testing.T) {
		e, sim := newEnv(t, Config{})
		_, err := e.Reset(ctx)
		require.NoError(t, err)

		_, err = e.Step(ctx, action(1.5))
		assert.ErrorIs(t, err, ErrActionOutOfBounds)
		_, err = e.Step(ctx, action(math.NaN()))
		assert.ErrorIs(t, err, ErrActionOutOfBounds)
		assert.Equal(t, uint64(0), sim.World.Steps(), "a rejected action must not step")
	})

	t.Run("clipped", func(t *testing.T) {
		e, _ := newEnv(t, Config{ClipActions: true})
		_, err := e.Reset(ctx)
		require.NoError(t, err)

		step, err := e.Step(ctx, action(5))
		require.NoError(t, err)
		assert.Equal(t, 1.0, step.Observation.AtVec(1))

		_, err = e.Step(ctx, action(0, 0))
		assert.ErrorIs(t, err, ErrActionOutOfBounds, "clipping cannot fix a wrong length")
	})

	t.Run("non-finite never clipped", func(t *testing.T) {
		e, sim := newEnv(t, Config{ClipActions: true})
		_, err := e.Reset(ctx)
		require.NoError(t, err)

		for _, x := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			_, err = e.Step(ctx, action(x))
			assert.ErrorIs(t, err, ErrActionOutOfBounds, "%v", x)
		}
		assert.Equal(t, uint64(0), sim.World.Steps())
	})
}

func TestEpisodeEnds(t *testing.T) {
	ctx := context.Background()

	t.Run("terminal", func(t *testing.T) {
		e, _ := newEnv(t, Config{})
		_, err := e.Reset(ctx)
		require.NoError(t, err)

		var step timestep.TimeStep
		for i := 0; i < 100 && !step.Last(); i++ {
			step, err = e.Step(ctx, action(1))
			require.NoError(t, err)
		}
		require.True(t, step.Last())
		assert.False(t, step.Info.Truncated)
		assert.Equal(t, 26, step.Number) // 1 m/s at 0.02 s per step

		// stepping on is allowed
		_, err = e.Step(ctx, action(1))
		assert.NoError(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		e, _ := newEnv(t, Config{MaxEpisodeSteps: 3})
		_, err := e.Reset(ctx)
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			step, err := e.Step(ctx, action(0))
			require.NoError(t, err)
			assert.Equal(t, i == 3, step.Last())
			assert.Equal(t, i == 3, step.Info.Truncated)
		}
	})
}

func TestClose(t *testing.T) {
	e, sim := newEnv(t, Config{})
	ctx := context.Background()
	_, err := e.Reset(ctx)
	require.NoError(t, err)

	require.NoError(t, e.Close(ctx))
	assert.False(t, sim.World.Running())
	assert.ErrorIs(t, e.Close(ctx), session.ErrNotConnected)

	_, err = e.Step(ctx, action(0))
	assert.ErrorIs(t, err, ErrNotReset)
	_, err = e.ObjectHandle("cart")
	assert.ErrorIs(t, err, session.ErrNotConnected)
}

func TestNewFailsWithoutServer(t *testing.T) {
	lib := transport.NewLibrary(transport.Options{}, nil)
	mgr := session.New(lib, session.Config{
		Retry: retry.Policy{
			MaxAttempts: 2,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		},
	}, nil)

	_, err := New(context.Background(), mgr, &slider{}, Config{Address: "127.0.0.1", Port: 1}, nil)
	assert.ErrorIs(t, err, session.ErrUnableToConnect)
	assert.False(t, mgr.Connected())
}

func TestNewClosesOnSetupFailure(t *testing.T) {
	sim := simtest.Start(t, nil, server.WorldOptions{})
	lib := transport.NewLibrary(transport.Options{}, nil)
	t.Cleanup(lib.CloseAll)
	mgr := session.New(lib, session.Config{}, nil)

	_, err := New(context.Background(), mgr, &slider{}, Config{Address: sim.Host, Port: sim.Port}, nil)
	var serr *status.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, status.ReturnRemoteError, serr.Code)
	assert.False(t, mgr.Connected())
}

func TestLoadsConfiguredScene(t *testing.T) {
	sim := simtest.Start(t, nil, server.WorldOptions{})
	lib := transport.NewLibrary(transport.Options{}, nil)
	t.Cleanup(lib.CloseAll)
	mgr := session.New(lib, session.Config{}, nil)

	e, err := New(context.Background(), mgr, &slider{}, Config{Address: sim.Host, Port: sim.Port, Scene: "cartpole.yaml"}, nil)
	require.NoError(t, err)
	assert.True(t, mgr.SceneLoaded())
	_, err = sim.World.ObjectHandle("cart")
	assert.NoError(t, err)
	require.NoError(t, e.Close(context.Background()))
}

func TestAccessors(t *testing.T) {
	e, _ := newEnv(t, Config{})
	ctx := context.Background()
	_, err := e.Reset(ctx)
	require.NoError(t, err)

	t.Run("joint angle is negated degrees", func(t *testing.T) {
		h, err := e.ObjectHandle("action")
		require.NoError(t, err)
		require.NoError(t, e.SetJointTargetAngle(h, 10))
		require.NoError(t, e.Session().StepSimulation())

		angle, err := e.JointAngle(h)
		require.NoError(t, err)
		assert.InDelta(t, 10, angle, 1e-9)
	})

	t.Run("force sensor", func(t *testing.T) {
		h, err := e.ObjectHandle("load_cell")
		require.NoError(t, err)
		r, err := e.ForceSensor(h)
		require.NoError(t, err)
		assert.Equal(t, client.ForceValid, r.State)
		assert.InDelta(t, 9.8, r.Force[2], 1e-9)
	})

	t.Run("vision image is top row first", func(t *testing.T) {
		h, err := e.ObjectHandle("viewer")
		require.NoError(t, err)
		im, err := e.VisionImage(h)
		require.NoError(t, err)
		assert.Equal(t, 64, im.Width)
		assert.Equal(t, 48, im.Height)
		assert.Equal(t, byte(47), im.At(0, 0)[1])
		assert.Equal(t, byte(0), im.At(47, 0)[1])
	})

	t.Run("signals", func(t *testing.T) {
		require.NoError(t, e.SetFloatSignal("gain", 0.5))
		v, err := e.FloatSignal("gain")
		require.NoError(t, err)
		assert.Equal(t, 0.5, v)

		require.NoError(t, e.SetStringSignal("mode", "train"))
		s, err := e.StringSignal("mode")
		require.NoError(t, err)
		assert.Equal(t, "train", s)

		_, err = e.IntegerSignal("missing")
		var serr *status.Error
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, status.ReturnRemoteError, serr.Code)
	})

	t.Run("render needs a camera", func(t *testing.T) {
		_, err := e.Render()
		assert.Error(t, err)
	})
}
