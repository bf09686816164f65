// Package client is the typed remote API. Each method issues one command on
// an open client id and returns a status.Result whose value type is fixed by
// the command; interpreting the return code is left to the caller.
package client

import (
	"encoding/json"

	"simgym/message"
	"simgym/protocol"
	"simgym/status"
	"simgym/transport"
)

// Caller is the part of transport.Library the client needs.
type Caller interface {
	Call(id int, op string, args any, mode message.OpMode) transport.Reply
	InMessageInfo(id int, info protocol.InfoType) (int32, status.ReturnCode)
}

// Client issues commands on one client id.
type Client struct {
	lib Caller
	id  int
}

// New returns a Client issuing commands on client id of lib.
func New(lib Caller, id int) *Client {
	return &Client{lib: lib, id: id}
}

// ID returns the client id commands are issued on.
func (c *Client) ID() int {
	return c.id
}

// call issues op and decodes the reply payload into R.
func call[R any](c *Client, op string, args any, mode message.OpMode) status.Result[R] {
	r := c.lib.Call(c.id, op, args, mode)
	if r.Code != status.ReturnOK {
		return status.Failed[R](op, r.Code)
	}
	var v R
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &v); err != nil {
			return status.Failed[R](op, status.ReturnLocalError)
		}
	}
	return status.OK(op, v)
}

func value[T any](r status.Result[struct{ Value T }]) status.Result[T] {
	return status.Result[T]{Op: r.Op, Code: r.Code, Value: r.Value.Value}
}

// InMessageInfo reads a field of the header of the last reply received.
func (c *Client) InMessageInfo(info protocol.InfoType) status.Result[int32] {
	v, code := c.lib.InMessageInfo(c.id, info)
	if code != status.ReturnOK {
		return status.Failed[int32]("InMessageInfo", code)
	}
	return status.OK("InMessageInfo", v)
}

// Scene

// LoadScene loads the scene file at path on the server.
func (c *Client) LoadScene(path string, options int32, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpLoadScene, message.SceneArgs{Path: path, Options: options}, mode)
}

// CloseScene closes the current scene.
func (c *Client) CloseScene(mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpCloseScene, message.Empty{}, mode)
}

// Simulation

// StartSimulation starts the simulation.
func (c *Client) StartSimulation(mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpStartSimulation, message.Empty{}, mode)
}

// StopSimulation requests a stop. The server may report running for a few
// more replies.
func (c *Client) StopSimulation(mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpStopSimulation, message.Empty{}, mode)
}

// Synchronous enables or disables lockstep mode. It always blocks.
func (c *Client) Synchronous(enable bool) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpSynchronous, message.SynchronousArgs{Enable: enable}, message.ModeBlocking)
}

// SynchronousTrigger advances a synchronous simulation by one step and
// returns once the server has completed it.
func (c *Client) SynchronousTrigger() status.Result[message.Empty] {
	return call[message.Empty](c, message.OpSynchronousTrigger, message.Empty{}, message.ModeBlocking)
}

// AddStatusbarMessage prints text in the status bar.
func (c *Client) AddStatusbarMessage(text string, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpAddStatusbarMessage, message.TextArgs{Text: text}, mode)
}

// Objects

// GetObjectHandle resolves an object name to its handle.
func (c *Client) GetObjectHandle(name string, mode message.OpMode) status.Result[int32] {
	return value(call[struct{ Value int32 }](c, message.OpGetObjectHandle, message.NameArgs{Name: name}, mode))
}

// GetObjectPosition returns the position of handle relative to relativeTo
// (message.HandleWorld, message.HandleParent or another object).
func (c *Client) GetObjectPosition(handle, relativeTo int32, mode message.OpMode) status.Result[[3]float64] {
	return value(call[struct{ Value [3]float64 }](c, message.OpGetObjectPosition, message.HandleArgs{Handle: handle, RelativeTo: relativeTo}, mode))
}

// SetObjectPosition moves handle to position in the frame of relativeTo.
func (c *Client) SetObjectPosition(handle, relativeTo int32, position [3]float64, mode message.OpMode) status.Result[message.Empty] {
	args := message.SetPositionArgs{Handle: handle, RelativeTo: relativeTo, Position: position}
	return call[message.Empty](c, message.OpSetObjectPosition, args, mode)
}

// GetObjectOrientation returns Euler angles (alpha, beta, gamma) in radians.
func (c *Client) GetObjectOrientation(handle, relativeTo int32, mode message.OpMode) status.Result[[3]float64] {
	return value(call[struct{ Value [3]float64 }](c, message.OpGetObjectOrientation, message.HandleArgs{Handle: handle, RelativeTo: relativeTo}, mode))
}

// GetObjectVelocity returns the linear and angular velocity of handle.
func (c *Client) GetObjectVelocity(handle int32, mode message.OpMode) status.Result[message.VelocityReply] {
	return call[message.VelocityReply](c, message.OpGetObjectVelocity, message.HandleArgs{Handle: handle}, mode)
}

// Joints

// GetJointPosition returns the joint's intrinsic position (rad or m).
func (c *Client) GetJointPosition(handle int32, mode message.OpMode) status.Result[float64] {
	return value(call[struct{ Value float64 }](c, message.OpGetJointPosition, message.HandleArgs{Handle: handle}, mode))
}

// SetJointTargetPosition sets the target position of a position-controlled
// joint.
func (c *Client) SetJointTargetPosition(handle int32, target float64, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpSetJointTargetPosition, message.JointArgs{Handle: handle, Value: target}, mode)
}

// SetJointTargetVelocity sets the target velocity of a joint.
func (c *Client) SetJointTargetVelocity(handle int32, target float64, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpSetJointTargetVelocity, message.JointArgs{Handle: handle, Value: target}, mode)
}

// GetJointForce returns the force or torque a joint applies.
func (c *Client) GetJointForce(handle int32, mode message.OpMode) status.Result[float64] {
	return value(call[struct{ Value float64 }](c, message.OpGetJointForce, message.HandleArgs{Handle: handle}, mode))
}

// SetJointForce sets the maximum force or torque of a joint.
func (c *Client) SetJointForce(handle int32, force float64, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpSetJointForce, message.JointArgs{Handle: handle, Value: force}, mode)
}

// Sensors

// ReadForceSensor returns the raw reading; see DecodeForce.
func (c *Client) ReadForceSensor(handle int32, mode message.OpMode) status.Result[message.ForceSensorReply] {
	return call[message.ForceSensorReply](c, message.OpReadForceSensor, message.HandleArgs{Handle: handle}, mode)
}

// GetVisionSensorImage returns the raw image; see DecodeVisionImage.
func (c *Client) GetVisionSensorImage(handle, options int32, mode message.OpMode) status.Result[message.VisionReply] {
	return call[message.VisionReply](c, message.OpGetVisionSensorImage, message.VisionArgs{Handle: handle, Options: options}, mode)
}

// Signals

// SetIntegerSignal sets the integer signal name.
func (c *Client) SetIntegerSignal(name string, v int32, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpSetIntegerSignal, message.IntegerSignalArgs{Name: name, Value: v}, mode)
}

// GetIntegerSignal reads the integer signal name.
func (c *Client) GetIntegerSignal(name string, mode message.OpMode) status.Result[int32] {
	return value(call[struct{ Value int32 }](c, message.OpGetIntegerSignal, message.NameArgs{Name: name}, mode))
}

// ClearIntegerSignal removes the integer signal name.
func (c *Client) ClearIntegerSignal(name string, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpClearIntegerSignal, message.NameArgs{Name: name}, mode)
}

// SetFloatSignal sets the float signal name.
func (c *Client) SetFloatSignal(name string, v float64, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpSetFloatSignal, message.FloatSignalArgs{Name: name, Value: v}, mode)
}

// GetFloatSignal reads the float signal name.
func (c *Client) GetFloatSignal(name string, mode message.OpMode) status.Result[float64] {
	return value(call[struct{ Value float64 }](c, message.OpGetFloatSignal, message.NameArgs{Name: name}, mode))
}

// SetStringSignal sets the string signal name.
func (c *Client) SetStringSignal(name, v string, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpSetStringSignal, message.StringSignalArgs{Name: name, Value: v}, mode)
}

// GetStringSignal reads the string signal name.
func (c *Client) GetStringSignal(name string, mode message.OpMode) status.Result[string] {
	return value(call[struct{ Value string }](c, message.OpGetStringSignal, message.NameArgs{Name: name}, mode))
}

// Parameters

// SetBooleanParameter sets a message.BoolParam* parameter.
func (c *Client) SetBooleanParameter(id int32, v bool, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpSetBooleanParameter, message.BooleanParamArgs{ID: id, Value: v}, mode)
}

// GetBooleanParameter reads a message.BoolParam* parameter.
func (c *Client) GetBooleanParameter(id int32, mode message.OpMode) status.Result[bool] {
	return value(call[struct{ Value bool }](c, message.OpGetBooleanParameter, message.ParamArgs{ID: id}, mode))
}

// SetIntegerParameter sets an integer parameter.
func (c *Client) SetIntegerParameter(id, v int32, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpSetIntegerParameter, message.IntegerParamArgs{ID: id, Value: v}, mode)
}

// GetIntegerParameter reads an integer parameter.
func (c *Client) GetIntegerParameter(id int32, mode message.OpMode) status.Result[int32] {
	return value(call[struct{ Value int32 }](c, message.OpGetIntegerParameter, message.ParamArgs{ID: id}, mode))
}

// SetFloatParameter sets a message.FloatParam* parameter.
func (c *Client) SetFloatParameter(id int32, v float64, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpSetFloatParameter, message.FloatParamArgs{ID: id, Value: v}, mode)
}

// GetFloatParameter reads a message.FloatParam* parameter.
func (c *Client) GetFloatParameter(id int32, mode message.OpMode) status.Result[float64] {
	return value(call[struct{ Value float64 }](c, message.OpGetFloatParameter, message.ParamArgs{ID: id}, mode))
}

// SetArrayParameter sets a message.ArrayParam* parameter.
func (c *Client) SetArrayParameter(id int32, v []float64, mode message.OpMode) status.Result[message.Empty] {
	return call[message.Empty](c, message.OpSetArrayParameter, message.ArrayParamArgs{ID: id, Value: v}, mode)
}

// GetArrayParameter reads a message.ArrayParam* parameter.
func (c *Client) GetArrayParameter(id int32, mode message.OpMode) status.Result[[]float64] {
	return value(call[struct{ Value []float64 }](c, message.OpGetArrayParameter, message.ParamArgs{ID: id}, mode))
}
