package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/debate/internal/agent"
	"github.com/Iron-Ham/debate/internal/config"
	"github.com/Iron-Ham/debate/internal/consensus"
	"github.com/Iron-Ham/debate/internal/cost"
	"github.com/Iron-Ham/debate/internal/debate"
	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/logging"
	"github.com/Iron-Ham/debate/internal/prompt"
	"github.com/Iron-Ham/debate/internal/queue"
	"github.com/Iron-Ham/debate/internal/ratelimit"
	"github.com/Iron-Ham/debate/internal/roles"
	"github.com/Iron-Ham/debate/internal/store"
	"github.com/Iron-Ham/debate/internal/triage"
)

// embeddingKeyEnv holds the bearer token for embedding.url.
const embeddingKeyEnv = "DEBATE_EMBEDDING_API_KEY"

// app holds the collaborators of one command invocation. Everything it
// opens is released by Close.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	store      *store.Store
	bus        *event.Bus
	resolver   *roles.Resolver
	library    *prompt.Library
	supervisor *agent.Supervisor

	rdb      *redis.Client
	broker   *queue.Broker
	notifier *event.Notifier
}

// openApp loads the configuration, opens the store and wires the event
// journal. Redis is only contacted when the queue is enabled or a command
// asks for it through connectQueue.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging.ResolveDir(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   true,
	})
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Store.ResolvePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		bus:      event.NewBus(logger),
		resolver: roles.NewResolver(st),
		library:  prompt.NewLibrary(cfg.Agent.TemplatesDir, logger),
	}
	a.supervisor = agent.NewSupervisor(agent.NewRegistry(config.DataDir()), logger)
	event.NewJournal(st, logger).Attach(a.bus)

	if cfg.Queue.Enabled {
		if _, err := a.connectQueue(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// connectQueue connects to Redis once and starts publishing events to it.
func (a *app) connectQueue(ctx context.Context) (*queue.Broker, error) {
	if a.broker != nil {
		return a.broker, nil
	}
	rdb, err := queue.Connect(ctx, a.cfg.Queue.RedisURL)
	if err != nil {
		return nil, err
	}
	a.rdb = rdb
	a.broker = queue.NewBroker(rdb,
		queue.WithMaxDepth(a.cfg.Queue.MaxDepth),
		queue.WithBrokerBus(a.bus),
		queue.WithBrokerLogger(a.logger),
	)
	a.notifier = event.NewNotifier(a.broker, 0, a.logger)
	a.notifier.Attach(a.bus)
	return a.broker, nil
}

// Close stops supervised agents and releases connections.
func (a *app) Close() {
	a.supervisor.Shutdown()
	a.library.Stop()
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	_ = a.store.Close()
	_ = a.logger.Close()
}

// directory is where agents work.
func (a *app) directory() string {
	return a.cfg.Agent.ResolveDirectory()
}

// runner builds the configured agent backend.
func (a *app) runner() agent.Runner {
	if a.cfg.Agent.Runner == "cli" {
		return agent.NewCLIRunner(a.cfg.Agent.CLICommand, a.directory(), a.supervisor)
	}
	return agent.NewOpenCodeClient(a.cfg.Agent.OpenCodeURL,
		agent.WithDirectory(a.directory()),
		agent.WithLogger(a.logger),
	)
}

func (a *app) executor() *agent.Executor {
	return agent.NewExecutor(a.store, a.resolver, a.library, a.runner(),
		agent.ExecutorConfig{
			AgentTimeout:  a.cfg.Debate.AgentTimeoutDuration(),
			RateLimitWait: a.cfg.RateLimit.Wait(),
		},
		agent.WithLimiter(ratelimit.New(a.cfg.RateLimit.Enabled)),
		agent.WithLedger(cost.NewLedger(a.store, a.bus)),
		agent.WithBus(a.bus),
		agent.WithExecutorLogger(a.logger),
	)
}

func (a *app) calculator() *consensus.Calculator {
	var embedder consensus.Embedder
	if a.cfg.Embedding.URL != "" {
		embedder = consensus.NewHTTPEmbedder(a.cfg.Embedding.URL, a.cfg.Embedding.Model, os.Getenv(embeddingKeyEnv))
	}
	return consensus.NewCalculator(embedder, a.logger)
}

// machine builds the debate state machine. A nil prompter leaves human
// steps as checkpoints. Analysis goes through the queue whenever the app
// is connected to one.
func (a *app) machine(p debate.Prompter) *debate.Machine {
	cfg := debate.ConfigFrom(a.cfg)
	cfg.UseQueue = a.broker != nil
	deps := debate.Deps{
		Store:      a.store,
		Runner:     a.executor(),
		Calculator: a.calculator(),
		Triager:    triage.New(a.cfg.Triage.HistoryWeight),
		Prompter:   p,
		Resolver:   a.resolver,
		Bus:        a.bus,
		Logger:     a.logger,
	}
	if a.broker != nil {
		deps.Queue = a.broker
	}
	return debate.NewMachine(deps, cfg)
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// openResolver serves the roles subcommands.
func openResolver(ctx context.Context) (*roles.Resolver, roles.TemplateSet, func(), error) {
	a, err := openApp(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return a.resolver, a.library, a.Close, nil
}
