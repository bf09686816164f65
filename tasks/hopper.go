package tasks

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"simgym/client"
	"simgym/env"
)

const (
	// HopperPower scales a unit action to a joint target velocity.
	HopperPower = 3.75
	// HopperStandThreshold is the torso height below which the hopper fell.
	HopperStandThreshold = 0.10

	hopperAliveReward    = 16.0
	hopperVelocityReward = 8.0
	hopperStartFactor    = 0.02
)

var (
	hopperJoints = []string{"thigh_joint", "leg_joint", "foot_joint"}
	hopperShapes = []string{"torso", "thigh", "leg", "foot"}
)

// Hopper drives a three-joint leg. Each action component in [-1, 1] is a
// joint's target velocity in units of HopperPower. Observations are the
// torso height followed by the angular then linear velocity of every shape.
type Hopper struct {
	// RandomStart applies one small random action before the first
	// observation of an episode.
	RandomStart bool

	camera int32
	joints []int32
	shapes []int32
}

func NewHopper() *Hopper {
	return &Hopper{}
}

func (h *Hopper) Name() string { return "hopper" }

func (h *Hopper) Setup(e *env.Env) error {
	var err error
	if h.camera, err = e.ObjectHandle("camera"); err != nil {
		return err
	}
	if h.joints, err = handles(e, hopperJoints); err != nil {
		return err
	}
	h.shapes, err = handles(e, hopperShapes)
	return err
}

func handles(e *env.Env, names []string) ([]int32, error) {
	out := make([]int32, len(names))
	for i, name := range names {
		h, err := e.ObjectHandle(name)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

func (h *Hopper) ActionSpec() env.Spec {
	return env.Box(len(hopperJoints), -1, 1)
}

func (h *Hopper) ObservationSpec() env.Spec {
	return env.Box(len(hopperShapes)*3*2+1, math.Inf(-1), math.Inf(1))
}

func (h *Hopper) Actuate(e *env.Env, a mat.Vector) error {
	for i, joint := range h.joints {
		v := math.Max(-1, math.Min(1, a.AtVec(i)))
		if err := e.SetJointTargetVelocity(joint, HopperPower*v); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hopper) Observe(e *env.Env) (*mat.VecDense, error) {
	torso, err := e.ObjectPosition(h.shapes[0])
	if err != nil {
		return nil, err
	}
	obs := make([]float64, 0, len(h.shapes)*6+1)
	obs = append(obs, torso[2])
	for _, shape := range h.shapes {
		lin, ang, err := e.ObjectVelocity(shape)
		if err != nil {
			return nil, err
		}
		obs = append(obs, ang[:]...)
		obs = append(obs, lin[:]...)
	}
	return mat.NewVecDense(len(obs), obs), nil
}

// Reward pays for staying alive and for forward torso velocity.
func (h *Hopper) Reward(obs, _ mat.Vector) float64 {
	return hopperAliveReward + hopperVelocityReward*obs.AtVec(4)
}

func (h *Hopper) Done(obs mat.Vector) bool {
	return obs.AtVec(0) < HopperStandThreshold
}

func (h *Hopper) Start(e *env.Env) error {
	if !h.RandomStart {
		return nil
	}
	factor := distuv.Uniform{Min: 0, Max: hopperStartFactor, Src: e.Rand()}.Rand()
	action := h.ActionSpec().Sampler(e.Rand().Uint64()).Sample()
	action.ScaleVec(factor, action)
	if err := h.Actuate(e, action); err != nil {
		return err
	}
	return e.Session().StepSimulation()
}

func (h *Hopper) Render(e *env.Env) (client.Image, error) {
	return e.VisionImage(h.camera)
}
