package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simgym/message"
	"simgym/middleware"
	"simgym/registry"
	"simgym/scenes"
	"simgym/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	var listen, scene string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference simulator server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, done, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer done()

			sc := cfg.Simulator
			if listen != "" {
				sc.Listen = listen
			}
			if scene != "" {
				sc.Scene = scene
			}
			if sc.Scene == "" {
				sc.Scene = cfg.Env.Task + ".yaml"
			}
			if sc.Advertise == "" {
				sc.Advertise = sc.Listen
			}

			initial, err := scenes.Load(sc.Scene)
			if err != nil {
				return err
			}
			world := server.NewWorld(initial, server.WorldOptions{
				StopLatency: sc.StopLatency,
				Headless:    sc.Headless,
				RealTime:    sc.RealTime,
			}, log.Named("world"))

			svr := server.NewServer(world,
				server.WithLogger(log.Named("server")),
				server.WithSceneDir(sc.SceneDir),
				server.WithSceneLoader(scenes.Load),
				server.WithServiceName(cfg.Discovery.Service),
				server.WithTTL(cfg.Discovery.TTL),
				server.WithWeight(cfg.Discovery.Weight),
			)
			svr.Use(middleware.Logging(log.Named("rpc")))
			if sc.RequestTimeout > 0 {
				svr.Use(middleware.Timeout(sc.RequestTimeout, map[string]time.Duration{
					message.OpLoadScene: sc.SceneTimeout,
				}))
			}
			if sc.RateLimit > 0 {
				svr.Use(middleware.RateLimit(sc.RateLimit, sc.Burst))
			}

			var reg registry.Registry
			if len(cfg.Discovery.Endpoints) > 0 {
				etcd, err := registry.NewEtcdRegistry(cfg.Discovery.Endpoints, cfg.Discovery.DialTimeout, log.Named("registry"))
				if err != nil {
					return err
				}
				defer etcd.Close()
				reg = etcd
			}

			return serve(cmd.Context(), svr, sc.Listen, sc.Advertise, reg, log)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides simulator.listen)")
	cmd.Flags().StringVar(&scene, "scene", "", "scene loaded at startup (overrides simulator.scene)")
	return cmd
}

// serve runs svr until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, svr *server.Server, listen, advertise string, reg registry.Registry, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- svr.Serve("tcp", listen, advertise, reg)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", zap.String("listen", listen))
	if err := svr.Shutdown(5 * time.Second); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	return <-errCh
}
