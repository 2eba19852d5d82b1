package cli

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/clinicflow/internal/agent"
	"github.com/Kocoro-lab/clinicflow/internal/config"
	"github.com/Kocoro-lab/clinicflow/internal/executor"
	"github.com/Kocoro-lab/clinicflow/internal/llm"
	"github.com/Kocoro-lab/clinicflow/internal/planner"
	"github.com/Kocoro-lab/clinicflow/internal/policy"
	"github.com/Kocoro-lab/clinicflow/internal/tools"
)

// app is the wired object graph shared by every command.
type app struct {
	manager *config.Manager
	logger  *zap.Logger
	level   zap.AtomicLevel
	llm     *llm.HTTPClient
	policy  *policy.Holder
	backend tools.Backend
	agent   *agent.Agent
}

func (a *app) config() *config.Config { return a.manager.Config() }

// newApp loads configuration and builds the agent. Logs go to stderr so
// console output stays parseable.
func newApp() (*app, error) {
	manager, err := config.NewManager(configPath, nil)
	if err != nil {
		return nil, err
	}
	cfg := manager.Config()
	logging := cfg.Logging
	if logLevel != "" {
		logging.Level = logLevel
	}

	logger, level, err := config.NewLogger(logging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	manager.SetLogger(logger)

	backend, err := newBackend(cfg.Backend, logger)
	if err != nil {
		return nil, err
	}

	engine, err := policy.NewOPAEngine(cfg.Policy, logger)
	if err != nil {
		return nil, err
	}
	holder := policy.NewHolder(engine)

	client := llm.NewHTTPClient(cfg.LLM, cfg.CircuitBreaker, logger)

	a := agent.New(
		planner.New(client, cfg.Planner, logger),
		executor.New(backend, holder, logger),
		logger,
	)

	return &app{
		manager: manager,
		logger:  logger,
		level:   level,
		llm:     client,
		policy:  holder,
		backend: backend,
		agent:   a,
	}, nil
}

func newBackend(cfg config.BackendConfig, logger *zap.Logger) (tools.Backend, error) {
	fixtures := tools.DefaultFixtures()
	if cfg.FixturesPath != "" {
		f, err := tools.LoadFixtures(cfg.FixturesPath)
		if err != nil {
			return nil, err
		}
		fixtures = f
		logger.Info("Loaded backend fixtures", zap.String("path", cfg.FixturesPath))
	}
	return tools.NewMockBackend(fixtures, logger), nil
}

// reloadPolicy rebuilds the policy engine when its settings changed.
func (a *app) reloadPolicy(old, updated *config.Config) {
	if old != nil && old.Policy == updated.Policy {
		return
	}
	engine, err := policy.NewOPAEngine(updated.Policy, a.logger)
	if err != nil {
		a.logger.Error("Failed to reinitialize policy engine after config change", zap.Error(err))
		return
	}
	a.policy.Swap(engine)
	a.logger.Info("Policy engine reinitialized",
		zap.Bool("enabled", updated.Policy.Enabled),
		zap.String("mode", string(updated.Policy.Mode)),
	)
}
