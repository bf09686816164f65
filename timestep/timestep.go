// Package timestep implements timesteps of the agent-environment interaction
package timestep

import (
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// StepType denotes the position of a TimeStep in its episode: the first
// step after a reset, a middle step, or the last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// Info carries bookkeeping that is not part of the observation.
type Info struct {
	EpisodeID uuid.UUID
	SimTime   int32 // simulation time of the observation, in ms
	Truncated bool  // the episode hit its step limit rather than a terminal state
}

// TimeStep packages together a single timestep in an environment
type TimeStep struct {
	StepType    StepType
	Reward      float64
	Observation mat.Vector
	Number      int
	Info        Info
}

func New(t StepType, r float64, o mat.Vector, n int, info Info) TimeStep {
	return TimeStep{StepType: t, Reward: r, Observation: o, Number: n, Info: info}
}

// First returns whether a TimeStep is the first in an episode
func (t *TimeStep) First() bool {
	return t.StepType == First
}

// Mid returns whether a TimeStep is a middle step in an episode
func (t *TimeStep) Mid() bool {
	return t.StepType == Mid
}

// Last returns whether a TimeStep is the last step in an episode
func (t *TimeStep) Last() bool {
	return t.StepType == Last
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Step Number:  %v"
	return fmt.Sprintf(str, t.StepType, t.Reward, t.Number)
}
