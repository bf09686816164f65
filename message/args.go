package message

// Special object handles accepted wherever a "relative to" handle is expected.
const (
	HandleWorld  int32 = -1
	HandleParent int32 = -11
)

// Simulator-wide parameter identifiers.
const (
	BoolParamHierarchyVisible  int32 = 0
	BoolParamConsoleVisible    int32 = 1
	BoolParamBrowserVisible    int32 = 12
	BoolParamThreadedRendering int32 = 32
	BoolParamHeadless          int32 = 34
	BoolParamWaitingForTrigger int32 = 45

	IntParamDynamicEngine int32 = 8

	FloatParamSimulationTimeStep int32 = 1

	ArrayParamGravity int32 = 0
)

// Empty is used for commands without arguments or without a result.
type Empty struct{}

type NameArgs struct {
	Name string `json:"name"`
}

type HandleArgs struct {
	Handle     int32 `json:"handle"`
	RelativeTo int32 `json:"relative_to,omitempty"`
}

type SetPositionArgs struct {
	Handle     int32      `json:"handle"`
	RelativeTo int32      `json:"relative_to"`
	Position   [3]float64 `json:"position"`
}

type JointArgs struct {
	Handle int32   `json:"handle"`
	Value  float64 `json:"value"`
}

type VisionArgs struct {
	Handle  int32 `json:"handle"`
	Options int32 `json:"options"`
}

type SceneArgs struct {
	Path    string `json:"path"`
	Options int32  `json:"options"`
}

type SynchronousArgs struct {
	Enable bool `json:"enable"`
}

type TextArgs struct {
	Text string `json:"text"`
}

type IntegerSignalArgs struct {
	Name  string `json:"name"`
	Value int32  `json:"value"`
}

type FloatSignalArgs struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type StringSignalArgs struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type ParamArgs struct {
	ID int32 `json:"id"`
}

type BooleanParamArgs struct {
	ID    int32 `json:"id"`
	Value bool  `json:"value"`
}

type IntegerParamArgs struct {
	ID    int32 `json:"id"`
	Value int32 `json:"value"`
}

type FloatParamArgs struct {
	ID    int32   `json:"id"`
	Value float64 `json:"value"`
}

type ArrayParamArgs struct {
	ID    int32     `json:"id"`
	Value []float64 `json:"value"`
}

type IntReply struct {
	Value int32 `json:"value"`
}

type FloatReply struct {
	Value float64 `json:"value"`
}

type BoolReply struct {
	Value bool `json:"value"`
}

type StringReply struct {
	Value string `json:"value"`
}

type ArrayReply struct {
	Value []float64 `json:"value"`
}

type Vec3Reply struct {
	Value [3]float64 `json:"value"`
}

type VelocityReply struct {
	Linear  [3]float64 `json:"linear"`
	Angular [3]float64 `json:"angular"`
}

type ForceSensorReply struct {
	State  uint8      `json:"state"`
	Force  [3]float64 `json:"force"`
	Torque [3]float64 `json:"torque"`
}

type VisionReply struct {
	Resolution [2]int32 `json:"resolution"`
	Image      []byte   `json:"image"`
}
