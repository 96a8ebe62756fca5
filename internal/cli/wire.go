package cli

import (
	"fmt"
	"io"

	"github.com/lucasnoah/stagecoach/internal/agent"
	"github.com/lucasnoah/stagecoach/internal/breaker"
	"github.com/lucasnoah/stagecoach/internal/checkpoint"
	"github.com/lucasnoah/stagecoach/internal/config"
	"github.com/lucasnoah/stagecoach/internal/db"
	"github.com/lucasnoah/stagecoach/internal/engine"
	"github.com/lucasnoah/stagecoach/internal/monitor"
)

// runtime bundles everything built from one config.
type runtime struct {
	cfg      *config.Config
	engine   *engine.Engine
	monitor  *monitor.Monitor
	manager  *checkpoint.Manager
	runner   *checkpoint.SequenceRunner
	database *db.DB // nil when no DSN configured
}

func (r *runtime) close() {
	if r.database != nil {
		r.database.Close()
	}
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

func loadValidConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("config has %d validation error(s); run 'stagecoach config validate'", len(errs))
	}
	return cfg, nil
}

// buildRuntime turns a validated config into a wired orchestrator:
// one breaker and client per stage, shared monitor, checkpoint storage,
// and the optional Postgres event log. progress receives the engine's
// per-stage log lines; it may be nil.
func buildRuntime(cfg *config.Config, progress io.Writer) (*runtime, error) {
	orch := cfg.Orchestrator
	mon := monitor.New()

	var database *db.DB
	if orch.Database.DSN != "" {
		d, err := db.Open(orch.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := d.Migrate(); err != nil {
			d.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		database = d
	}

	clients := make(map[string]engine.Invoker, len(orch.Stages))
	invokers := make(map[checkpoint.Label]checkpoint.Invoker)
	for _, st := range orch.Stages {
		brk, err := breaker.New(st.Name, breaker.Config{
			FailureThreshold: orch.Defaults.Breaker.FailureThreshold,
			RecoveryTimeout:  orch.Defaults.Breaker.RecoveryTimeoutDuration(),
			SuccessThreshold: orch.Defaults.Breaker.SuccessThreshold,
		})
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", st.Name, err)
		}
		mon.ObserveBreaker(st.Name, brk)

		worker := agent.NewHTTPWorker(agent.HTTPWorkerOpts{
			Stage:   st.Name,
			BaseURL: st.WorkerURL,
			Timeout: st.CallTimeout(),
		})
		client, err := agent.NewClient(agent.ClientOpts{
			Stage:   st.Name,
			Worker:  worker,
			Breaker: brk,
			Monitor: mon,
			Retry: agent.RetryPolicy{
				MaxAttempts: orch.Defaults.Retry.MaxAttempts,
				BaseBackoff: orch.Defaults.Retry.BaseBackoffDuration(),
				MaxBackoff:  orch.Defaults.Retry.MaxBackoffDuration(),
			},
			Mode:       agent.Mode(st.Mode),
			Checkpoint: st.Checkpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", st.Name, err)
		}
		clients[st.Name] = client

		// The first stage carrying a checkpoint label runs that
		// label's worker calls.
		label := checkpoint.Label(st.Checkpoint)
		if label == "" {
			label = checkpoint.Label(agent.CheckpointLabelFor(st.Name))
		}
		if _, ok := invokers[label]; !ok {
			invokers[label] = client
		}
	}

	var sink engine.EventSink
	if database != nil {
		sink = database
	}
	eng, err := engine.New(engine.Opts{
		Sequence:     orch.StageNames(),
		Clients:      clients,
		FailFast:     orch.FailFast,
		StageTimeout: orch.Defaults.StageTimeoutDuration(),
		Events:       sink,
		Progress:     progress,
	})
	if err != nil {
		return nil, err
	}

	backend, err := checkpointBackend(orch.Checkpoints)
	if err != nil {
		return nil, err
	}
	manager := checkpoint.NewManager(checkpoint.ManagerOpts{
		Backend:     backend,
		Invokers:    invokers,
		CallTimeout: orch.Defaults.StageTimeoutDuration(),
	})
	runner := checkpoint.NewSequenceRunner(manager)
	runner.FailFast = !orch.Checkpoints.Sequence.ContinueOnFail()
	runner.DefaultBudget = orch.Checkpoints.Sequence.MaxTotalTimeDuration()

	return &runtime{
		cfg:      cfg,
		engine:   eng,
		monitor:  mon,
		manager:  manager,
		runner:   runner,
		database: database,
	}, nil
}

func checkpointBackend(c config.Checkpoints) (checkpoint.Backend, error) {
	switch c.Storage {
	case "", "memory":
		return checkpoint.NewMemoryBackend(), nil
	case "file":
		return checkpoint.NewFileBackend(c.Dir)
	case "redis":
		return checkpoint.NewRedisBackend(checkpoint.RedisOpts{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown checkpoint storage %q", c.Storage)
	}
}
