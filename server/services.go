package server

import (
	"path/filepath"

	"simgym/message"
)

// The remote API, one receiver per service. Every exported method has the
// signature func(*Args, *Reply) error and is reachable as "Service.Method".

type sceneService struct {
	world *World
	dir   string // base for relative scene paths
	load  func(path string) (*Scene, error)
}

func (s *sceneService) Load(args *message.SceneArgs, reply *message.Empty) error {
	path := args.Path
	if !filepath.IsAbs(path) && s.dir != "" {
		path = filepath.Join(s.dir, path)
	}
	scene, err := s.load(path)
	if err != nil {
		return err
	}
	return s.world.LoadScene(scene)
}

func (s *sceneService) Close(args *message.Empty, reply *message.Empty) error {
	return s.world.CloseScene()
}

type simulationService struct {
	world *World
}

func (s *simulationService) Start(args *message.Empty, reply *message.Empty) error {
	s.world.Start()
	return nil
}

func (s *simulationService) Stop(args *message.Empty, reply *message.Empty) error {
	s.world.Stop()
	return nil
}

func (s *simulationService) Synchronous(args *message.SynchronousArgs, reply *message.Empty) error {
	s.world.SetSynchronous(args.Enable)
	return nil
}

func (s *simulationService) Trigger(args *message.Empty, reply *message.Empty) error {
	s.world.Trigger()
	return nil
}

func (s *simulationService) AddStatusbarMessage(args *message.TextArgs, reply *message.Empty) error {
	s.world.addStatusbarMessage(args.Text)
	return nil
}

type objectService struct {
	world *World
}

func (s *objectService) GetHandle(args *message.NameArgs, reply *message.IntReply) (err error) {
	reply.Value, err = s.world.ObjectHandle(args.Name)
	return err
}

func (s *objectService) GetPosition(args *message.HandleArgs, reply *message.Vec3Reply) (err error) {
	reply.Value, err = s.world.ObjectPosition(args.Handle, args.RelativeTo)
	return err
}

func (s *objectService) SetPosition(args *message.SetPositionArgs, reply *message.Empty) error {
	return s.world.SetObjectPosition(args.Handle, args.RelativeTo, args.Position)
}

func (s *objectService) GetOrientation(args *message.HandleArgs, reply *message.Vec3Reply) (err error) {
	reply.Value, err = s.world.ObjectOrientation(args.Handle, args.RelativeTo)
	return err
}

func (s *objectService) GetVelocity(args *message.HandleArgs, reply *message.VelocityReply) (err error) {
	reply.Linear, reply.Angular, err = s.world.ObjectVelocity(args.Handle)
	return err
}

type jointService struct {
	world *World
}

func (s *jointService) GetPosition(args *message.HandleArgs, reply *message.FloatReply) (err error) {
	reply.Value, err = s.world.JointPosition(args.Handle)
	return err
}

func (s *jointService) SetTargetPosition(args *message.JointArgs, reply *message.Empty) error {
	return s.world.SetJointTargetPosition(args.Handle, args.Value)
}

func (s *jointService) SetTargetVelocity(args *message.JointArgs, reply *message.Empty) error {
	return s.world.SetJointTargetVelocity(args.Handle, args.Value)
}

func (s *jointService) GetForce(args *message.HandleArgs, reply *message.FloatReply) (err error) {
	reply.Value, err = s.world.JointForce(args.Handle)
	return err
}

func (s *jointService) SetForce(args *message.JointArgs, reply *message.Empty) error {
	return s.world.SetJointForce(args.Handle, args.Value)
}

type sensorService struct {
	world *World
}

func (s *sensorService) ReadForce(args *message.HandleArgs, reply *message.ForceSensorReply) (err error) {
	reply.State, reply.Force, reply.Torque, err = s.world.ReadForceSensor(args.Handle)
	return err
}

func (s *sensorService) GetVisionImage(args *message.VisionArgs, reply *message.VisionReply) (err error) {
	reply.Resolution, reply.Image, err = s.world.VisionSensorImage(args.Handle)
	return err
}

type signalService struct {
	world *World
}

func (s *signalService) SetInteger(args *message.IntegerSignalArgs, reply *message.Empty) error {
	s.world.setIntSignal(args.Name, args.Value)
	return nil
}

func (s *signalService) GetInteger(args *message.NameArgs, reply *message.IntReply) (err error) {
	reply.Value, err = s.world.intSignal(args.Name)
	return err
}

func (s *signalService) ClearInteger(args *message.NameArgs, reply *message.Empty) error {
	s.world.clearIntSignal(args.Name)
	return nil
}

func (s *signalService) SetFloat(args *message.FloatSignalArgs, reply *message.Empty) error {
	s.world.setFloatSignal(args.Name, args.Value)
	return nil
}

func (s *signalService) GetFloat(args *message.NameArgs, reply *message.FloatReply) (err error) {
	reply.Value, err = s.world.floatSignal(args.Name)
	return err
}

func (s *signalService) SetString(args *message.StringSignalArgs, reply *message.Empty) error {
	s.world.setStringSignal(args.Name, args.Value)
	return nil
}

func (s *signalService) GetString(args *message.NameArgs, reply *message.StringReply) (err error) {
	reply.Value, err = s.world.stringSignal(args.Name)
	return err
}

type paramService struct {
	world *World
}

func (s *paramService) SetBoolean(args *message.BooleanParamArgs, reply *message.Empty) error {
	return s.world.setBoolParam(args.ID, args.Value)
}

func (s *paramService) GetBoolean(args *message.ParamArgs, reply *message.BoolReply) (err error) {
	reply.Value, err = s.world.boolParam(args.ID)
	return err
}

func (s *paramService) SetInteger(args *message.IntegerParamArgs, reply *message.Empty) error {
	s.world.setIntParam(args.ID, args.Value)
	return nil
}

func (s *paramService) GetInteger(args *message.ParamArgs, reply *message.IntReply) (err error) {
	reply.Value, err = s.world.intParam(args.ID)
	return err
}

func (s *paramService) SetFloat(args *message.FloatParamArgs, reply *message.Empty) error {
	return s.world.setFloatParam(args.ID, args.Value)
}

func (s *paramService) GetFloat(args *message.ParamArgs, reply *message.FloatReply) (err error) {
	reply.Value, err = s.world.floatParam(args.ID)
	return err
}

func (s *paramService) SetArray(args *message.ArrayParamArgs, reply *message.Empty) error {
	return s.world.setArrayParam(args.ID, args.Value)
}

func (s *paramService) GetArray(args *message.ParamArgs, reply *message.ArrayReply) (err error) {
	reply.Value, err = s.world.arrayParam(args.ID)
	return err
}
