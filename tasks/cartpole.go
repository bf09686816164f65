package tasks

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"simgym/client"
	"simgym/env"
	"simgym/message"
)

const (
	CartPoleTau      = 0.02  // seconds between state updates
	CartPoleGravity  = 9.8
	CartPoleForceMag = 100.0 // maximum force of the cart's actuator

	// Episode ends when the cart leaves ±XThreshold or the pole tilts
	// beyond ±ThetaThreshold radians.
	CartPoleXThreshold     = 2.4
	CartPoleThetaThreshold = 12 * 2 * math.Pi / 360

	cartPoleVelocityScale = 2.0
	cartPoleJitter        = 0.04
)

// CartPole balances a pole on a cart driven by a velocity-controlled
// prismatic joint. The action in [-1, 1] scales the joint's target
// velocity. Observations are (x, ẋ, θ, θ̇).
type CartPole struct {
	action, cart, pole, viewer int32

	// steps taken after the episode ended, or -1 while it runs
	stepsBeyondDone int
}

func NewCartPole() *CartPole {
	return &CartPole{stepsBeyondDone: -1}
}

func (c *CartPole) Name() string { return "cartpole" }

func (c *CartPole) Setup(e *env.Env) error {
	var err error
	for name, h := range map[string]*int32{
		"action": &c.action,
		"cart":   &c.cart,
		"pole":   &c.pole,
		"viewer": &c.viewer,
	} {
		if *h, err = e.ObjectHandle(name); err != nil {
			return err
		}
	}
	if err := e.SetFloatParameter(message.FloatParamSimulationTimeStep, CartPoleTau); err != nil {
		return err
	}
	if err := e.SetArrayParameter(message.ArrayParamGravity, []float64{0, 0, -CartPoleGravity}); err != nil {
		return err
	}
	return e.SetJointForce(c.action, CartPoleForceMag)
}

func (c *CartPole) ActionSpec() env.Spec {
	return env.Box(1, -1, 1)
}

// ObservationSpec bounds the angle at twice the threshold so a failing
// observation is still within bounds.
func (c *CartPole) ObservationSpec() env.Spec {
	high := []float64{
		CartPoleXThreshold * 2, math.MaxFloat32,
		CartPoleThetaThreshold * 2, math.MaxFloat32,
	}
	low := make([]float64, len(high))
	for i, h := range high {
		low[i] = -h
	}
	return env.NewSpec(low, high, env.Continuous)
}

func (c *CartPole) Actuate(e *env.Env, a mat.Vector) error {
	return e.SetJointTargetVelocity(c.action, a.AtVec(0)*cartPoleVelocityScale)
}

func (c *CartPole) Observe(e *env.Env) (*mat.VecDense, error) {
	pos, err := e.ObjectPosition(c.cart)
	if err != nil {
		return nil, err
	}
	cartLin, _, err := e.ObjectVelocity(c.cart)
	if err != nil {
		return nil, err
	}
	orient, err := e.ObjectOrientation(c.pole)
	if err != nil {
		return nil, err
	}
	_, poleAng, err := e.ObjectVelocity(c.pole)
	if err != nil {
		return nil, err
	}
	return mat.NewVecDense(4, []float64{pos[0], cartLin[0], orient[1], poleAng[1]}), nil
}

// Reward is 1 for every step up to and including the one that ends the
// episode, and 0 for any step after that.
func (c *CartPole) Reward(obs, _ mat.Vector) float64 {
	if !c.Done(obs) {
		return 1
	}
	if c.stepsBeyondDone < 0 {
		c.stepsBeyondDone = 0
		return 1
	}
	c.stepsBeyondDone++
	return 0
}

func (c *CartPole) Done(obs mat.Vector) bool {
	x, theta := obs.AtVec(0), obs.AtVec(2)
	return x < -CartPoleXThreshold || x > CartPoleXThreshold ||
		theta < -CartPoleThetaThreshold || theta > CartPoleThetaThreshold
}

// Start nudges the cart with a small random velocity for one step.
func (c *CartPole) Start(e *env.Env) error {
	c.stepsBeyondDone = -1
	jitter := distuv.Uniform{Min: -cartPoleJitter, Max: cartPoleJitter, Src: e.Rand()}
	if err := e.SetJointTargetVelocity(c.action, jitter.Rand()); err != nil {
		return err
	}
	return e.Session().StepSimulation()
}

func (c *CartPole) Render(e *env.Env) (client.Image, error) {
	return e.VisionImage(c.viewer)
}
