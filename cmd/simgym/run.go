package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simgym/client"
	"simgym/config"
	"simgym/env"
	"simgym/loadbalance"
	"simgym/registry"
	"simgym/session"
	"simgym/tasks"
	"simgym/transport"
)

func newRunCmd(configPath *string) *cobra.Command {
	var (
		task     string
		episodes int
		worker   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run episodes of a built-in task with random actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, done, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer done()

			if task != "" {
				cfg.Env.Task = task
			}
			if episodes > 0 {
				cfg.Env.Episodes = episodes
			}
			if worker == "" {
				worker, _ = os.Hostname()
			}

			address, port, err := resolve(cfg, worker, log)
			if err != nil {
				return err
			}
			return runEpisodes(cmd.Context(), cfg, address, port, log)
		},
	}
	cmd.Flags().StringVar(&task, "task", "", fmt.Sprintf("task to run %v (overrides env.task)", tasks.Names()))
	cmd.Flags().IntVar(&episodes, "episodes", 0, "number of episodes (overrides env.episodes)")
	cmd.Flags().StringVar(&worker, "worker", "", "worker id used to pick a server (default hostname)")
	return cmd
}

// resolve returns the configured server, or one picked from the registry
// when discovery endpoints are configured.
func resolve(cfg *config.Config, worker string, log *zap.Logger) (string, int, error) {
	if len(cfg.Discovery.Endpoints) == 0 {
		return cfg.Server.Address, cfg.Server.Port, nil
	}

	reg, err := registry.NewEtcdRegistry(cfg.Discovery.Endpoints, cfg.Discovery.DialTimeout, log.Named("registry"))
	if err != nil {
		return "", 0, err
	}
	defer reg.Close()

	balancer, err := loadbalance.New(cfg.Discovery.Balancer, cfg.Env.Seed)
	if err != nil {
		return "", 0, err
	}
	r := &client.Resolver{Registry: reg, Balancer: balancer, Service: cfg.Discovery.Service}
	host, port, err := r.Resolve(worker)
	if err != nil {
		return "", 0, err
	}
	log.Info("picked simulator", zap.String("worker", worker), zap.String("host", host), zap.Int("port", port))
	return host, port, nil
}

func runEpisodes(ctx context.Context, cfg *config.Config, address string, port int, log *zap.Logger) error {
	task, err := tasks.New(cfg.Env.Task)
	if err != nil {
		return err
	}

	lib := transport.NewLibrary(cfg.TransportOptions(), log.Named("transport"))
	defer lib.CloseAll()
	mgr := session.New(lib, cfg.SessionConfig(), log.Named("session"))

	e, err := env.New(ctx, mgr, task, cfg.EnvConfig(address, port), log.Named("env"))
	if err != nil {
		return err
	}
	// ctx may be cancelled by now; closing must still reach the server.
	defer func() {
		if err := e.Close(context.Background()); err != nil {
			log.Warn("closing environment", zap.Error(err))
		}
	}()

	sampler := e.ActionSpec().Sampler(cfg.Env.Seed)
	for i := 0; i < cfg.Env.Episodes; i++ {
		step, err := e.Reset(ctx)
		if err != nil {
			return err
		}
		var total float64
		for !step.Last() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if step, err = e.Step(ctx, sampler.Sample()); err != nil {
				return err
			}
			total += step.Reward
		}
		log.Info("episode finished",
			zap.Int("episode", i),
			zap.Stringer("id", step.Info.EpisodeID),
			zap.Int("length", step.Number),
			zap.Float64("return", total),
			zap.Bool("truncated", step.Info.Truncated),
		)
	}
	return nil
}
