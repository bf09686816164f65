package server

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"simgym/message"
	"simgym/protocol"
)

var (
	errUnknownHandle = errors.New("object does not exist")
	errUnknownSignal = errors.New("signal does not exist")
	errUnknownParam  = errors.New("parameter does not exist")
	errWrongType     = errors.New("object has the wrong type for this command")
	errReadOnly      = errors.New("parameter is read-only")
	errRunning       = errors.New("not allowed while the simulation is running")
)

type control int

const (
	controlHold control = iota
	controlVelocity
	controlPosition
)

type object struct {
	handle int32
	def    SceneObject
	parent *object
	kids   []*object

	pos, orient    [3]float64
	linVel, angVel [3]float64

	// joint state
	child     *object
	carrier   *object
	attached  *object
	control   control
	jointPos  float64
	jointVel  float64
	jointAcc  float64
	force     float64
	maxForce  float64
	targetPos float64
	targetVel float64
}

// WorldOptions configures server-side behaviour that is not part of a scene.
type WorldOptions struct {
	// StopLatency is the number of replies after a stop command during which
	// the header still reports the simulation as not stopped.
	StopLatency int
	Headless    bool
	RealTime    bool
}

// World is the simulator state shared by every connection of a server.
// It is a kinematic model: joints integrate their commanded velocity and
// carry their child object (and its descendants) along; only pendulum joints
// have dynamics of their own.
type World struct {
	mu     sync.Mutex
	opts   WorldOptions
	logger *zap.Logger

	scene   *Scene
	sceneID uint16
	objects []*object
	byName  map[string]*object

	dt      float64
	gravity [3]float64
	steps   uint64 // since the simulation started
	ticks   uint64 // since the world was created

	running       bool
	syncRequested bool
	syncActive    bool
	stopping      int

	boolParams   map[int32]bool
	intParams    map[int32]int32
	floatParams  map[int32]float64
	intSignals   map[string]int32
	floatSignals map[string]float64
	strSignals   map[string]string
	statusbar    []string
}

// NewWorld creates a world with the given scene loaded. A nil scene gives an
// empty world.
func NewWorld(scene *Scene, opts WorldOptions, logger *zap.Logger) *World {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &World{
		opts:   opts,
		logger: logger,
		boolParams: map[int32]bool{
			message.BoolParamHierarchyVisible:  true,
			message.BoolParamConsoleVisible:    true,
			message.BoolParamBrowserVisible:    true,
			message.BoolParamThreadedRendering: false,
		},
		intParams:    map[int32]int32{message.IntParamDynamicEngine: 0},
		floatParams:  map[int32]float64{},
		intSignals:   map[string]int32{},
		floatSignals: map[string]float64{},
		strSignals:   map[string]string{},
	}
	if scene == nil {
		scene = &Scene{Name: "empty", Dt: DefaultDt}
	}
	w.setScene(scene)
	return w
}

func (w *World) setScene(scene *Scene) {
	w.scene = scene
	w.dt = scene.Dt
	w.gravity = scene.Gravity
	w.build()
}

// build recreates every object from the scene description.
func (w *World) build() {
	w.objects = make([]*object, len(w.scene.Objects))
	w.byName = make(map[string]*object, len(w.scene.Objects))
	for i, def := range w.scene.Objects {
		o := &object{
			handle:   int32(i + 1),
			def:      def,
			pos:      def.Position,
			orient:   def.Orientation,
			maxForce: def.MaxForce,
		}
		w.objects[i] = o
		w.byName[def.Name] = o
	}
	for _, o := range w.objects {
		if o.def.Parent != "" {
			o.parent = w.byName[o.def.Parent]
			o.parent.kids = append(o.parent.kids, o)
		}
		if o.def.Child != "" {
			o.child = w.byName[o.def.Child]
		}
		if o.def.Carrier != "" {
			o.carrier = w.byName[o.def.Carrier]
		}
		if o.def.Attached != "" {
			o.attached = w.byName[o.def.Attached]
		}
	}
	w.steps = 0
}

// LoadScene replaces the current scene. It fails while the simulation runs.
func (w *World) LoadScene(scene *Scene) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errRunning
	}
	w.sceneID++
	w.setScene(scene)
	w.logger.Info("scene loaded", zap.String("scene", scene.Name), zap.Uint16("scene_id", w.sceneID))
	return nil
}

// CloseScene unloads the current scene, leaving an empty world.
func (w *World) CloseScene() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errRunning
	}
	w.sceneID++
	w.setScene(&Scene{Name: "empty", Dt: DefaultDt})
	return nil
}

// Start starts the simulation. Synchronous mode is latched here: enabling it
// afterwards has no effect until the next start.
func (w *World) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopping = 0
	w.syncActive = w.syncRequested
	w.logger.Debug("simulation started", zap.Bool("synchronous", w.syncActive))
}

// Stop stops the simulation and restores the scene's initial state.
func (w *World) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	w.syncActive = false
	w.stopping = w.opts.StopLatency
	w.build()
	w.logger.Debug("simulation stopped")
}

// SetSynchronous requests (or cancels) synchronous mode for the next start.
func (w *World) SetSynchronous(enable bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncRequested = enable
}

// Trigger advances a synchronous simulation by one step. It does nothing
// when the simulation is stopped or free running.
func (w *World) Trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running && w.syncActive {
		w.step()
	}
}

// Tick advances a free running simulation by one step; the server calls it
// once per handled request.
func (w *World) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running && !w.syncActive {
		w.step()
	}
}

// Steps returns the number of steps since the simulation started.
func (w *World) Steps() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.steps
}

// Ticks returns the number of steps since the world was created. Unlike
// Steps it never goes back to zero.
func (w *World) Ticks() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ticks
}

// SceneName returns the name of the loaded scene.
func (w *World) SceneName() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.scene.Name
}

// Running reports whether the simulation is running.
func (w *World) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stamp fills the server fields of a reply header. Each call consumes one
// reply of the stop latency.
func (w *World) Stamp(h *protocol.Header) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var state byte
	if w.running || w.stopping > 0 {
		state |= protocol.StateSimulationNotStopped
	}
	if !w.running && w.stopping > 0 {
		w.stopping--
	}
	if w.opts.RealTime {
		state |= protocol.StateRealTime
	}
	h.ServerState = state
	h.SceneID = w.sceneID
	h.ServerTime = w.simTimeMs()
}

func (w *World) simTimeMs() uint32 {
	return uint32(math.Round(float64(w.steps) * w.dt * 1000))
}

// SimTime returns the simulation time in milliseconds.
func (w *World) SimTime() int32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int32(w.simTimeMs())
}

// StatusbarMessages returns the messages posted so far.
func (w *World) StatusbarMessages() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.statusbar...)
}

func (w *World) addStatusbarMessage(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statusbar = append(w.statusbar, text)
	w.logger.Info("statusbar", zap.String("text", text))
}

// step integrates every joint once, in scene order.
func (w *World) step() {
	dt := w.dt
	for _, o := range w.objects {
		if o.def.Type != KindJoint {
			continue
		}
		prev := o.jointVel
		vel := prev
		switch {
		case o.def.Pendulum:
			g := -w.gravity[2]
			var a float64
			if o.carrier != nil {
				a = o.carrier.jointAcc
			}
			vel += (g*math.Sin(o.jointPos) - a*math.Cos(o.jointPos)) / o.def.Length * dt
		case o.control == controlVelocity:
			vel = o.targetVel
		case o.control == controlPosition:
			vel = (o.targetPos - o.jointPos) / dt
		default:
			vel = 0
		}
		if vmax := o.def.MaxVelocity; vmax > 0 && !o.def.Pendulum {
			vel = clamp(vel, -vmax, vmax)
		}

		mass := 1.0
		if o.child != nil && o.child.def.Mass > 0 {
			mass = o.child.def.Mass
		}
		acc := (vel - prev) / dt
		if o.maxForce > 0 && !o.def.Pendulum {
			limit := o.maxForce / mass
			acc = clamp(acc, -limit, limit)
			vel = prev + acc*dt
		}
		o.jointAcc = acc
		o.jointVel = vel
		o.force = acc * mass
		o.jointPos += vel * dt

		if o.child == nil {
			continue
		}
		axis := o.def.Axis
		switch o.def.Joint {
		case JointPrismatic:
			move(o.child, scale(axis, vel*dt), scale(axis, vel))
		case JointRevolute:
			o.child.orient = add(o.child.orient, scale(axis, vel*dt))
			o.child.angVel = scale(axis, vel)
		}
	}
	w.steps++
	w.ticks++
}

// move displaces o and its descendants, setting their linear velocity.
func move(o *object, delta, vel [3]float64) {
	o.pos = add(o.pos, delta)
	o.linVel = vel
	for _, k := range o.kids {
		move(k, delta, vel)
	}
}

func (w *World) lookup(handle int32) (*object, error) {
	if handle < 1 || int(handle) > len(w.objects) {
		return nil, fmt.Errorf("%w: handle %d", errUnknownHandle, handle)
	}
	return w.objects[handle-1], nil
}

func (w *World) joint(handle int32) (*object, error) {
	o, err := w.lookup(handle)
	if err != nil {
		return nil, err
	}
	if o.def.Type != KindJoint {
		return nil, fmt.Errorf("%w: %q is a %s", errWrongType, o.def.Name, o.def.Type)
	}
	return o, nil
}

// reference resolves a "relative to" handle into the frame origin it names.
func (w *World) reference(o *object, relativeTo int32) (pos, orient [3]float64, err error) {
	switch relativeTo {
	case message.HandleWorld:
		return
	case message.HandleParent:
		if o.parent != nil {
			return o.parent.pos, o.parent.orient, nil
		}
		return
	}
	ref, err := w.lookup(relativeTo)
	if err != nil {
		return pos, orient, err
	}
	return ref.pos, ref.orient, nil
}

// ObjectHandle resolves an object name.
func (w *World) ObjectHandle(name string) (int32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", errUnknownHandle, name)
	}
	return o.handle, nil
}

// ObjectPosition returns the position of handle in the frame of relativeTo.
func (w *World) ObjectPosition(handle, relativeTo int32) ([3]float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := w.lookup(handle)
	if err != nil {
		return [3]float64{}, err
	}
	ref, _, err := w.reference(o, relativeTo)
	if err != nil {
		return [3]float64{}, err
	}
	return sub(o.pos, ref), nil
}

// SetObjectPosition moves handle (and its descendants) to p in the frame of
// relativeTo.
func (w *World) SetObjectPosition(handle, relativeTo int32, p [3]float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := w.lookup(handle)
	if err != nil {
		return err
	}
	ref, _, err := w.reference(o, relativeTo)
	if err != nil {
		return err
	}
	move(o, sub(add(ref, p), o.pos), o.linVel)
	return nil
}

// ObjectOrientation returns the Euler angles of handle in the frame of
// relativeTo.
func (w *World) ObjectOrientation(handle, relativeTo int32) ([3]float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := w.lookup(handle)
	if err != nil {
		return [3]float64{}, err
	}
	_, ref, err := w.reference(o, relativeTo)
	if err != nil {
		return [3]float64{}, err
	}
	return sub(o.orient, ref), nil
}

// ObjectVelocity returns the linear and angular velocity of handle.
func (w *World) ObjectVelocity(handle int32) (linear, angular [3]float64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := w.lookup(handle)
	if err != nil {
		return linear, angular, err
	}
	return o.linVel, o.angVel, nil
}

// JointPosition returns the joint coordinate (rad or m).
func (w *World) JointPosition(handle int32) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := w.joint(handle)
	if err != nil {
		return 0, err
	}
	return o.jointPos, nil
}

// SetJointTargetPosition switches the joint to position control.
func (w *World) SetJointTargetPosition(handle int32, target float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := w.joint(handle)
	if err != nil {
		return err
	}
	o.control = controlPosition
	o.targetPos = target
	return nil
}

// SetJointTargetVelocity switches the joint to velocity control.
func (w *World) SetJointTargetVelocity(handle int32, target float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := w.joint(handle)
	if err != nil {
		return err
	}
	o.control = controlVelocity
	o.targetVel = target
	return nil
}

// JointForce returns the force (or torque) the joint applied in the last step.
func (w *World) JointForce(handle int32) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := w.joint(handle)
	if err != nil {
		return 0, err
	}
	return o.force, nil
}

// SetJointForce sets the maximum force (or torque) of the joint's motor.
func (w *World) SetJointForce(handle int32, f float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := w.joint(handle)
	if err != nil {
		return err
	}
	o.maxForce = math.Abs(f)
	return nil
}

// ReadForceSensor reports the weight of the attached object. State bit 0
// means data is available, bit 1 that the sensor is broken.
func (w *World) ReadForceSensor(handle int32) (state uint8, force, torque [3]float64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := w.lookup(handle)
	if err != nil {
		return 0, force, torque, err
	}
	if o.def.Type != KindForceSensor {
		return 0, force, torque, fmt.Errorf("%w: %q is a %s", errWrongType, o.def.Name, o.def.Type)
	}
	state = 1
	if o.def.Broken {
		state |= 2
	}
	if o.attached != nil {
		force = scale(w.gravity, -o.attached.def.Mass)
	}
	return state, force, torque, nil
}

// VisionSensorImage renders a test pattern: red encodes the column, green
// the row counted from the bottom, blue the step counter. Rows are stored
// bottom row first.
func (w *World) VisionSensorImage(handle int32) (resolution [2]int32, image []byte, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := w.lookup(handle)
	if err != nil {
		return resolution, nil, err
	}
	if o.def.Type != KindVisionSensor {
		return resolution, nil, fmt.Errorf("%w: %q is a %s", errWrongType, o.def.Name, o.def.Type)
	}
	resolution = o.def.Resolution
	width, height := int(resolution[0]), int(resolution[1])
	image = make([]byte, 0, width*height*3)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			image = append(image, byte(col), byte(row), byte(w.steps))
		}
	}
	return resolution, image, nil
}

func (w *World) setIntSignal(name string, v int32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.intSignals[name] = v
}

func (w *World) intSignal(name string) (int32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.intSignals[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", errUnknownSignal, name)
	}
	return v, nil
}

func (w *World) clearIntSignal(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.intSignals, name)
}

func (w *World) setFloatSignal(name string, v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.floatSignals[name] = v
}

func (w *World) floatSignal(name string) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.floatSignals[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", errUnknownSignal, name)
	}
	return v, nil
}

func (w *World) setStringSignal(name, v string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.strSignals[name] = v
}

func (w *World) stringSignal(name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.strSignals[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", errUnknownSignal, name)
	}
	return v, nil
}

func (w *World) boolParam(id int32) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch id {
	case message.BoolParamHeadless:
		return w.opts.Headless, nil
	case message.BoolParamWaitingForTrigger:
		return w.running && w.syncActive, nil
	}
	v, ok := w.boolParams[id]
	if !ok {
		return false, fmt.Errorf("%w: boolean %d", errUnknownParam, id)
	}
	return v, nil
}

func (w *World) setBoolParam(id int32, v bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch id {
	case message.BoolParamHeadless, message.BoolParamWaitingForTrigger:
		return fmt.Errorf("%w: boolean %d", errReadOnly, id)
	}
	w.boolParams[id] = v
	return nil
}

func (w *World) intParam(id int32) (int32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.intParams[id]
	if !ok {
		return 0, fmt.Errorf("%w: integer %d", errUnknownParam, id)
	}
	return v, nil
}

func (w *World) setIntParam(id, v int32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.intParams[id] = v
}

func (w *World) floatParam(id int32) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id == message.FloatParamSimulationTimeStep {
		return w.dt, nil
	}
	v, ok := w.floatParams[id]
	if !ok {
		return 0, fmt.Errorf("%w: float %d", errUnknownParam, id)
	}
	return v, nil
}

func (w *World) setFloatParam(id int32, v float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id == message.FloatParamSimulationTimeStep {
		if w.running {
			return errRunning
		}
		if v <= 0 {
			return fmt.Errorf("time step must be positive, got %g", v)
		}
		w.dt = v
		return nil
	}
	w.floatParams[id] = v
	return nil
}

func (w *World) arrayParam(id int32) ([]float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id != message.ArrayParamGravity {
		return nil, fmt.Errorf("%w: array %d", errUnknownParam, id)
	}
	return append([]float64(nil), w.gravity[:]...), nil
}

func (w *World) setArrayParam(id int32, v []float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id != message.ArrayParamGravity {
		return fmt.Errorf("%w: array %d", errUnknownParam, id)
	}
	if len(v) != 3 {
		return fmt.Errorf("gravity needs 3 components, got %d", len(v))
	}
	copy(w.gravity[:], v)
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func add(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func scale(a [3]float64, k float64) [3]float64 {
	return [3]float64{a[0] * k, a[1] * k, a[2] * k}
}
