// Package simtest runs an in-process reference simulator for tests.
package simtest

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"simgym/scenes"
	"simgym/server"
)

// Sim is a running reference server on a loopback port.
type Sim struct {
	Server *server.Server
	World  *server.World
	Host   string
	Port   int
}

// Start serves scene on 127.0.0.1 with an ephemeral port and shuts the
// server down when the test ends. A nil scene gives an empty world.
func Start(t testing.TB, scene *server.Scene, opts server.WorldOptions, srvOpts ...server.Option) *Sim {
	t.Helper()

	// connection goroutines may outlive the test, so no test logger here
	logger := zap.NewNop()
	world := server.NewWorld(scene, opts, logger)
	srvOpts = append([]server.Option{server.WithLogger(logger), server.WithSceneLoader(scenes.Load)}, srvOpts...)
	svr := server.NewServer(world, srvOpts...)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.ServeListener(listener, "", nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	addr := listener.Addr().(*net.TCPAddr)
	return &Sim{Server: svr, World: world, Host: addr.IP.String(), Port: addr.Port}
}

// Scene returns a bundled scene, failing the test if it does not parse.
func Scene(t testing.TB, name string) *server.Scene {
	t.Helper()
	scene, err := scenes.Lookup(name)
	require.NoError(t, err)
	return scene
}
