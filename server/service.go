package server

import (
	"fmt"
	"reflect"
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// newService wraps rcvr, which must be a pointer to a struct, and collects
// its exported methods of the form func(*Args, *Reply) error.
func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("service %q: receiver must be a pointer to a struct, got %T", name, rcvr)
	}
	if name == "" {
		name = typ.Elem().Name()
	}
	svc := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		t := m.Type
		// receiver, *Args, *Reply → error
		if t.NumIn() != 3 || t.NumOut() != 1 || t.Out(0) != errorType ||
			t.In(1).Kind() != reflect.Ptr || t.In(2).Kind() != reflect.Ptr {
			continue
		}
		svc.method[m.Name] = &methodType{
			method:    m,
			ArgType:   t.In(1).Elem(),
			ReplyType: t.In(2).Elem(),
		}
	}
	if len(svc.method) == 0 {
		return nil, fmt.Errorf("service %q has no remote methods", name)
	}
	return svc, nil
}

func (s *service) call(m *methodType, argv, replyv reflect.Value) error {
	results := m.method.Func.Call([]reflect.Value{s.rcvr, argv, replyv})
	if err := results[0].Interface(); err != nil {
		return err.(error)
	}
	return nil
}
