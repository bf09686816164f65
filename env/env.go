// Package env adapts a simulator session to the reinforcement learning
// step/reset/close contract. A Task supplies the scene-specific parts:
// which objects to read, how to actuate, and how to score.
//
// One Step is always: validate the action, actuate, trigger exactly one
// simulation step, observe, then compute reward and termination.
package env

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"simgym/client"
	"simgym/message"
	"simgym/protocol"
	"simgym/session"
	"simgym/status"
	"simgym/timestep"
)

var (
	// ErrActionOutOfBounds is returned by Step for an action outside the
	// task's action spec when clipping is disabled.
	ErrActionOutOfBounds = errors.New("action out of bounds")
	// ErrNotReset is returned by Step before the first Reset.
	ErrNotReset = errors.New("environment must be reset before stepping")
)

// Task implements the scene-specific parts of an environment
type Task interface {
	Name() string
	// Setup runs once after connecting: resolve handles, set parameters.
	Setup(e *Env) error
	ActionSpec() Spec
	ObservationSpec() Spec
	Actuate(e *Env, action mat.Vector) error
	Observe(e *Env) (*mat.VecDense, error)
	Reward(obs, action mat.Vector) float64
	Done(obs mat.Vector) bool
}

// Starter is implemented by tasks that prepare each episode after the
// simulation has been (re)started and before the first observation.
type Starter interface {
	Start(e *Env) error
}

// Renderer is implemented by tasks with a camera.
type Renderer interface {
	Render(e *Env) (client.Image, error)
}

// Config holds the environment options.
type Config struct {
	Address string
	Port    int
	// Scene is loaded after connecting when non-empty.
	Scene string
	// ClipActions clamps out-of-bounds actions instead of rejecting them.
	ClipActions bool
	Seed        uint64
	// MaxEpisodeSteps ends an episode after this many steps; 0 never does.
	MaxEpisodeSteps int
}

// Env is a simulator-backed environment. It is not safe for concurrent use.
type Env struct {
	mgr    *session.Manager
	task   Task
	cfg    Config
	logger *zap.Logger
	rng    *rand.Rand

	handles map[string]int32
	// handlesFor is the client id the cached handles were resolved on.
	handlesFor int
	episode uuid.UUID
	steps   int
	reset   bool
}

// New connects mgr to the configured server, loads the scene and sets the
// task up. On failure the session is closed again.
func New(ctx context.Context, mgr *session.Manager, task Task, cfg Config, logger *zap.Logger) (*Env, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Env{
		mgr:     mgr,
		task:    task,
		cfg:     cfg,
		logger:  logger.With(zap.String("task", task.Name())),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		handles: make(map[string]int32),

		handlesFor: -1,
	}

	if err := mgr.Connect(ctx, cfg.Address, cfg.Port); err != nil {
		return nil, err
	}
	if err := e.setup(); err != nil {
		if cerr := e.Close(ctx); cerr != nil {
			e.logger.Warn("closing after failed setup", zap.Error(cerr))
		}
		return nil, err
	}
	return e, nil
}

func (e *Env) setup() error {
	if e.cfg.Scene != "" {
		if err := e.mgr.LoadScene(e.cfg.Scene); err != nil {
			return err
		}
	}
	if err := e.task.Setup(e); err != nil {
		return fmt.Errorf("setting up %s: %w", e.task.Name(), err)
	}
	return nil
}

// Reset (re)starts the simulation and returns the first timestep of a new
// episode.
func (e *Env) Reset(ctx context.Context) (timestep.TimeStep, error) {
	if e.mgr.Running() {
		if err := e.mgr.StopSimulation(ctx); err != nil {
			return timestep.TimeStep{}, err
		}
	}
	if err := e.mgr.StartSimulation(); err != nil {
		return timestep.TimeStep{}, err
	}
	if s, ok := e.task.(Starter); ok {
		if err := s.Start(e); err != nil {
			return timestep.TimeStep{}, err
		}
	}
	obs, err := e.task.Observe(e)
	if err != nil {
		return timestep.TimeStep{}, err
	}

	e.episode = uuid.New()
	e.steps = 0
	e.reset = true
	e.logger.Debug("episode started", zap.Stringer("episode", e.episode))
	return timestep.New(timestep.First, 0, obs, 0, e.info(false)), nil
}

// Step applies action for one simulation step. Stepping past the end of an
// episode is allowed; the task decides what such steps are worth.
func (e *Env) Step(ctx context.Context, action mat.Vector) (timestep.TimeStep, error) {
	if !e.reset || !e.mgr.Running() {
		return timestep.TimeStep{}, ErrNotReset
	}

	spec := e.task.ActionSpec()
	if !spec.Contains(action) {
		if action == nil || action.Len() != spec.Len() || !finite(action) || !e.cfg.ClipActions {
			return timestep.TimeStep{}, fmt.Errorf("%w: %v not in %v", ErrActionOutOfBounds, vecString(action), spec.Bounds())
		}
		action = spec.Clip(action)
	}

	if err := e.task.Actuate(e, action); err != nil {
		return timestep.TimeStep{}, err
	}
	if err := e.mgr.StepSimulation(); err != nil {
		return timestep.TimeStep{}, err
	}
	obs, err := e.task.Observe(e)
	if err != nil {
		return timestep.TimeStep{}, err
	}

	e.steps++
	reward := e.task.Reward(obs, action)
	stepType := timestep.Mid
	truncated := false
	switch {
	case e.task.Done(obs):
		stepType = timestep.Last
	case e.cfg.MaxEpisodeSteps > 0 && e.steps >= e.cfg.MaxEpisodeSteps:
		stepType = timestep.Last
		truncated = true
	}
	return timestep.New(stepType, reward, obs, e.steps, e.info(truncated)), nil
}

func (e *Env) info(truncated bool) timestep.Info {
	info := timestep.Info{EpisodeID: e.episode, Truncated: truncated}
	if t, err := status.Must(e.mgr.Client().InMessageInfo(protocol.InfoServerTime)); err == nil {
		info.SimTime = t
	}
	return info
}

// Close stops the simulation if it runs and disconnects. Closing an
// environment that is not connected returns session.ErrNotConnected.
func (e *Env) Close(ctx context.Context) error {
	e.reset = false
	if !e.mgr.Connected() {
		return session.ErrNotConnected
	}
	var errs []error
	if e.mgr.Running() {
		errs = append(errs, e.mgr.StopSimulation(ctx))
	}
	errs = append(errs, e.mgr.Disconnect())
	clear(e.handles)
	return errors.Join(errs...)
}

// Render returns the task's camera image.
func (e *Env) Render() (client.Image, error) {
	r, ok := e.task.(Renderer)
	if !ok {
		return client.Image{}, fmt.Errorf("task %s has no camera", e.task.Name())
	}
	return r.Render(e)
}

// ActionSpec returns the task's action spec.
func (e *Env) ActionSpec() Spec { return e.task.ActionSpec() }

// ObservationSpec returns the task's observation spec.
func (e *Env) ObservationSpec() Spec { return e.task.ObservationSpec() }

// Task returns the task the environment runs.
func (e *Env) Task() Task { return e.task }

// Session returns the underlying session manager.
func (e *Env) Session() *session.Manager { return e.mgr }

// Rand is the environment's seeded random source, for tasks that randomise
// their start states.
func (e *Env) Rand() *rand.Rand { return e.rng }

// Episode returns the id of the current episode.
func (e *Env) Episode() uuid.UUID { return e.episode }

func (e *Env) client() (*client.Client, error) {
	c := e.mgr.Client()
	if c == nil {
		return nil, session.ErrNotConnected
	}
	return c, nil
}

// ObjectHandle resolves an object name. Handles are cached until the
// session disconnects.
func (e *Env) ObjectHandle(name string) (int32, error) {
	if id := e.mgr.ClientID(); id != e.handlesFor {
		clear(e.handles)
		e.handlesFor = id
	}
	if h, ok := e.handles[name]; ok {
		return h, nil
	}
	c, err := e.client()
	if err != nil {
		return 0, err
	}
	h, err := status.Must(c.GetObjectHandle(name, message.ModeBlocking))
	if err != nil {
		return 0, fmt.Errorf("object %q: %w", name, err)
	}
	e.handles[name] = h
	return h, nil
}

func blocking[T any](e *Env, call func(c *client.Client) status.Result[T]) (T, error) {
	c, err := e.client()
	if err != nil {
		var zero T
		return zero, err
	}
	return status.Must(call(c))
}

func ignore(_ message.Empty, err error) error { return err }

// ObjectPosition returns the position of handle relative to the world.
func (e *Env) ObjectPosition(handle int32) ([3]float64, error) {
	return e.ObjectPositionRelative(handle, message.HandleWorld)
}

// ObjectPositionRelative returns the position of handle relative to another
// object.
func (e *Env) ObjectPositionRelative(handle, relativeTo int32) ([3]float64, error) {
	return blocking(e, func(c *client.Client) status.Result[[3]float64] {
		return c.GetObjectPosition(handle, relativeTo, message.ModeBlocking)
	})
}

// ObjectOrientation returns the Euler angles of handle relative to the world.
func (e *Env) ObjectOrientation(handle int32) ([3]float64, error) {
	return e.ObjectOrientationRelative(handle, message.HandleWorld)
}

// ObjectOrientationRelative returns the Euler angles of handle relative to
// another object.
func (e *Env) ObjectOrientationRelative(handle, relativeTo int32) ([3]float64, error) {
	return blocking(e, func(c *client.Client) status.Result[[3]float64] {
		return c.GetObjectOrientation(handle, relativeTo, message.ModeBlocking)
	})
}

// ObjectVelocity returns the linear and angular velocity of handle.
func (e *Env) ObjectVelocity(handle int32) (linear, angular [3]float64, err error) {
	v, err := blocking(e, func(c *client.Client) status.Result[message.VelocityReply] {
		return c.GetObjectVelocity(handle, message.ModeBlocking)
	})
	return v.Linear, v.Angular, err
}

// SetObjectPosition moves handle to pos in world coordinates.
func (e *Env) SetObjectPosition(handle int32, pos [3]float64) error {
	return ignore(blocking(e, func(c *client.Client) status.Result[message.Empty] {
		return c.SetObjectPosition(handle, message.HandleWorld, pos, message.ModeBlocking)
	}))
}

// JointAngle returns a revolute joint's angle in degrees, with the sign
// flipped to match SetJointTargetAngle.
func (e *Env) JointAngle(handle int32) (float64, error) {
	rad, err := blocking(e, func(c *client.Client) status.Result[float64] {
		return c.GetJointPosition(handle, message.ModeBlocking)
	})
	return -rad * 180 / math.Pi, err
}

// SetJointTargetAngle sets a revolute joint's target angle in degrees, with
// the sign convention of JointAngle.
func (e *Env) SetJointTargetAngle(handle int32, deg float64) error {
	return ignore(blocking(e, func(c *client.Client) status.Result[message.Empty] {
		return c.SetJointTargetPosition(handle, -deg*math.Pi/180, message.ModeBlocking)
	}))
}

// SetJointTargetVelocity sets a joint's target velocity (rad/s or m/s).
func (e *Env) SetJointTargetVelocity(handle int32, v float64) error {
	return ignore(blocking(e, func(c *client.Client) status.Result[message.Empty] {
		return c.SetJointTargetVelocity(handle, v, message.ModeBlocking)
	}))
}

// JointForce returns the force or torque applied by a joint.
func (e *Env) JointForce(handle int32) (float64, error) {
	return blocking(e, func(c *client.Client) status.Result[float64] {
		return c.GetJointForce(handle, message.ModeBlocking)
	})
}

// SetJointForce sets the maximum force or torque a joint can apply.
func (e *Env) SetJointForce(handle int32, f float64) error {
	return ignore(blocking(e, func(c *client.Client) status.Result[message.Empty] {
		return c.SetJointForce(handle, f, message.ModeBlocking)
	}))
}

// ForceSensor reads and decodes a force sensor.
func (e *Env) ForceSensor(handle int32) (client.ForceReading, error) {
	r, err := blocking(e, func(c *client.Client) status.Result[message.ForceSensorReply] {
		return c.ReadForceSensor(handle, message.ModeBlocking)
	})
	if err != nil {
		return client.ForceReading{}, err
	}
	return client.DecodeForce(r.State, r.Force, r.Torque), nil
}

// VisionImage reads an RGB image, top row first.
func (e *Env) VisionImage(handle int32) (client.Image, error) {
	r, err := blocking(e, func(c *client.Client) status.Result[message.VisionReply] {
		return c.GetVisionSensorImage(handle, 0, message.ModeBlocking)
	})
	if err != nil {
		return client.Image{}, err
	}
	return client.DecodeVisionImage(r.Resolution, r.Image)
}

// StatusbarMessage prints text in the simulator's status bar.
func (e *Env) StatusbarMessage(text string) error {
	return ignore(blocking(e, func(c *client.Client) status.Result[message.Empty] {
		return c.AddStatusbarMessage(text, message.ModeBlocking)
	}))
}

// Signals are named values shared with scripts running in the simulator.
// Reading a signal that is not set fails with a remote error.

// SetIntegerSignal sets an integer signal.
func (e *Env) SetIntegerSignal(name string, v int32) error {
	return ignore(blocking(e, func(c *client.Client) status.Result[message.Empty] {
		return c.SetIntegerSignal(name, v, message.ModeBlocking)
	}))
}

// IntegerSignal reads an integer signal.
func (e *Env) IntegerSignal(name string) (int32, error) {
	return blocking(e, func(c *client.Client) status.Result[int32] {
		return c.GetIntegerSignal(name, message.ModeBlocking)
	})
}

// SetFloatSignal sets a float signal.
func (e *Env) SetFloatSignal(name string, v float64) error {
	return ignore(blocking(e, func(c *client.Client) status.Result[message.Empty] {
		return c.SetFloatSignal(name, v, message.ModeBlocking)
	}))
}

// FloatSignal reads a float signal.
func (e *Env) FloatSignal(name string) (float64, error) {
	return blocking(e, func(c *client.Client) status.Result[float64] {
		return c.GetFloatSignal(name, message.ModeBlocking)
	})
}

// SetStringSignal sets a string signal.
func (e *Env) SetStringSignal(name, v string) error {
	return ignore(blocking(e, func(c *client.Client) status.Result[message.Empty] {
		return c.SetStringSignal(name, v, message.ModeBlocking)
	}))
}

// StringSignal reads a string signal.
func (e *Env) StringSignal(name string) (string, error) {
	return blocking(e, func(c *client.Client) status.Result[string] {
		return c.GetStringSignal(name, message.ModeBlocking)
	})
}

// Parameters are simulator settings addressed by the message.*Param ids.

// SetBooleanParameter sets a boolean simulator parameter.
func (e *Env) SetBooleanParameter(id int32, v bool) error {
	return ignore(blocking(e, func(c *client.Client) status.Result[message.Empty] {
		return c.SetBooleanParameter(id, v, message.ModeBlocking)
	}))
}

// BooleanParameter reads a boolean simulator parameter.
func (e *Env) BooleanParameter(id int32) (bool, error) {
	return blocking(e, func(c *client.Client) status.Result[bool] {
		return c.GetBooleanParameter(id, message.ModeBlocking)
	})
}

// SetIntegerParameter sets an integer simulator parameter.
func (e *Env) SetIntegerParameter(id, v int32) error {
	return ignore(blocking(e, func(c *client.Client) status.Result[message.Empty] {
		return c.SetIntegerParameter(id, v, message.ModeBlocking)
	}))
}

// IntegerParameter reads an integer simulator parameter.
func (e *Env) IntegerParameter(id int32) (int32, error) {
	return blocking(e, func(c *client.Client) status.Result[int32] {
		return c.GetIntegerParameter(id, message.ModeBlocking)
	})
}

// SetFloatParameter sets a float simulator parameter.
func (e *Env) SetFloatParameter(id int32, v float64) error {
	return ignore(blocking(e, func(c *client.Client) status.Result[message.Empty] {
		return c.SetFloatParameter(id, v, message.ModeBlocking)
	}))
}

// FloatParameter reads a float simulator parameter.
func (e *Env) FloatParameter(id int32) (float64, error) {
	return blocking(e, func(c *client.Client) status.Result[float64] {
		return c.GetFloatParameter(id, message.ModeBlocking)
	})
}

// SetArrayParameter sets an array simulator parameter.
func (e *Env) SetArrayParameter(id int32, v []float64) error {
	return ignore(blocking(e, func(c *client.Client) status.Result[message.Empty] {
		return c.SetArrayParameter(id, v, message.ModeBlocking)
	}))
}

// ArrayParameter reads an array simulator parameter.
func (e *Env) ArrayParameter(id int32) ([]float64, error) {
	return blocking(e, func(c *client.Client) status.Result[[]float64] {
		return c.GetArrayParameter(id, message.ModeBlocking)
	})
}

func finite(v mat.Vector) bool {
	for i := 0; i < v.Len(); i++ {
		if x := v.AtVec(i); math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func vecString(v mat.Vector) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%v", mat.Formatted(v.T(), mat.Squeeze()))
}
