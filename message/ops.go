package message

// Operation names understood by the simulator server. Each is
// "Service.Method" of a service registered on the server.
const (
	OpLoadScene  = "Scene.Load"
	OpCloseScene = "Scene.Close"

	OpStartSimulation     = "Simulation.Start"
	OpStopSimulation      = "Simulation.Stop"
	OpSynchronous         = "Simulation.Synchronous"
	OpSynchronousTrigger  = "Simulation.Trigger"
	OpAddStatusbarMessage = "Simulation.AddStatusbarMessage"

	OpGetObjectHandle      = "Object.GetHandle"
	OpGetObjectPosition    = "Object.GetPosition"
	OpSetObjectPosition    = "Object.SetPosition"
	OpGetObjectOrientation = "Object.GetOrientation"
	OpGetObjectVelocity    = "Object.GetVelocity"

	OpGetJointPosition       = "Joint.GetPosition"
	OpSetJointTargetPosition = "Joint.SetTargetPosition"
	OpSetJointTargetVelocity = "Joint.SetTargetVelocity"
	OpGetJointForce          = "Joint.GetForce"
	OpSetJointForce          = "Joint.SetForce"

	OpReadForceSensor      = "Sensor.ReadForce"
	OpGetVisionSensorImage = "Sensor.GetVisionImage"

	OpSetIntegerSignal   = "Signal.SetInteger"
	OpGetIntegerSignal   = "Signal.GetInteger"
	OpClearIntegerSignal = "Signal.ClearInteger"
	OpSetFloatSignal     = "Signal.SetFloat"
	OpGetFloatSignal     = "Signal.GetFloat"
	OpSetStringSignal    = "Signal.SetString"
	OpGetStringSignal    = "Signal.GetString"

	OpSetBooleanParameter = "Param.SetBoolean"
	OpGetBooleanParameter = "Param.GetBoolean"
	OpSetIntegerParameter = "Param.SetInteger"
	OpGetIntegerParameter = "Param.GetInteger"
	OpSetFloatParameter   = "Param.SetFloat"
	OpGetFloatParameter   = "Param.GetFloat"
	OpSetArrayParameter   = "Param.SetArray"
	OpGetArrayParameter   = "Param.GetArray"
)
