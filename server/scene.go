package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Object kinds understood in scene files.
const (
	KindShape        = "shape"
	KindDummy        = "dummy"
	KindJoint        = "joint"
	KindForceSensor  = "force_sensor"
	KindVisionSensor = "vision_sensor"
)

// Joint types.
const (
	JointRevolute  = "revolute"
	JointPrismatic = "prismatic"
)

// Scene is the YAML description of a world.
//
//	name: cartpole
//	dt: 0.05
//	gravity: [0, 0, -9.81]
//	objects:
//	  - {name: cart, type: shape, position: [0, 0, 0.1], mass: 1}
//	  - {name: action, type: joint, joint: prismatic, axis: [1, 0, 0], child: cart}
type Scene struct {
	Name    string        `yaml:"name"`
	Dt      float64       `yaml:"dt"`
	Gravity [3]float64    `yaml:"gravity"`
	Objects []SceneObject `yaml:"objects"`
}

// SceneObject is one entry of Scene.Objects. Fields that do not apply to
// the object's type are ignored.
type SceneObject struct {
	Name        string     `yaml:"name"`
	Type        string     `yaml:"type"`
	Parent      string     `yaml:"parent"`
	Position    [3]float64 `yaml:"position"`
	Orientation [3]float64 `yaml:"orientation"`
	Mass        float64    `yaml:"mass"`

	// joint
	Joint       string     `yaml:"joint"`
	Axis        [3]float64 `yaml:"axis"`
	Child       string     `yaml:"child"`
	MaxForce    float64    `yaml:"max_force"`
	MaxVelocity float64    `yaml:"max_velocity"`
	// Pendulum joints swing under gravity, driven by the acceleration of
	// the prismatic joint named in Carrier.
	Pendulum bool    `yaml:"pendulum"`
	Length   float64 `yaml:"length"`
	Carrier  string  `yaml:"carrier"`

	// force sensor
	Attached string `yaml:"attached"`
	Broken   bool   `yaml:"broken"`

	// vision sensor
	Resolution [2]int32 `yaml:"resolution"`
}

// DefaultDt is the simulation time step used when a scene does not set one.
const DefaultDt = 0.05

// LoadScene reads and validates a scene file.
func LoadScene(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene: %w", err)
	}
	return ParseScene(data)
}

// ParseScene decodes and validates a YAML scene.
func ParseScene(data []byte) (*Scene, error) {
	var sc Scene
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scene: %w", err)
	}
	if sc.Dt == 0 {
		sc.Dt = DefaultDt
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks names are unique and every reference resolves.
func (sc *Scene) Validate() error {
	if sc.Dt < 0 {
		return fmt.Errorf("scene %q: dt must be positive", sc.Name)
	}
	byName := make(map[string]*SceneObject, len(sc.Objects))
	for i := range sc.Objects {
		o := &sc.Objects[i]
		if o.Name == "" {
			return fmt.Errorf("scene %q: object %d has no name", sc.Name, i)
		}
		if _, dup := byName[o.Name]; dup {
			return fmt.Errorf("scene %q: duplicate object %q", sc.Name, o.Name)
		}
		switch o.Type {
		case KindShape, KindDummy, KindForceSensor:
		case KindJoint:
			if o.Joint != JointRevolute && o.Joint != JointPrismatic {
				return fmt.Errorf("scene %q: joint %q has invalid type %q", sc.Name, o.Name, o.Joint)
			}
			if o.Pendulum && o.Length <= 0 {
				return fmt.Errorf("scene %q: pendulum joint %q needs a positive length", sc.Name, o.Name)
			}
		case KindVisionSensor:
			if o.Resolution[0] <= 0 || o.Resolution[1] <= 0 {
				return fmt.Errorf("scene %q: vision sensor %q needs a resolution", sc.Name, o.Name)
			}
		default:
			return fmt.Errorf("scene %q: object %q has unknown type %q", sc.Name, o.Name, o.Type)
		}
		byName[o.Name] = o
	}

	for _, o := range sc.Objects {
		refs := map[string]string{"parent": o.Parent, "child": o.Child, "carrier": o.Carrier, "attached": o.Attached}
		for field, ref := range refs {
			if ref == "" {
				continue
			}
			if _, ok := byName[ref]; !ok {
				return fmt.Errorf("scene %q: object %q: %s %q not found", sc.Name, o.Name, field, ref)
			}
		}
		if o.Carrier != "" {
			if c := byName[o.Carrier]; c.Type != KindJoint || c.Joint != JointPrismatic {
				return fmt.Errorf("scene %q: carrier of %q must be a prismatic joint", sc.Name, o.Name)
			}
		}
	}
	return nil
}
