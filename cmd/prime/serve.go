package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/primehq/prime/internal/agent"
	"github.com/primehq/prime/internal/agent/providers"
	"github.com/primehq/prime/internal/auth"
	"github.com/primehq/prime/internal/bus"
	"github.com/primehq/prime/internal/channels"
	"github.com/primehq/prime/internal/channels/slack"
	"github.com/primehq/prime/internal/channels/telegram"
	"github.com/primehq/prime/internal/channels/web"
	"github.com/primehq/prime/internal/channels/whatsapp"
	"github.com/primehq/prime/internal/commands"
	"github.com/primehq/prime/internal/config"
	"github.com/primehq/prime/internal/cron"
	"github.com/primehq/prime/internal/dmpolicy"
	"github.com/primehq/prime/internal/gateway"
	"github.com/primehq/prime/internal/idempotency"
	"github.com/primehq/prime/internal/nodes"
	"github.com/primehq/prime/internal/observability"
	"github.com/primehq/prime/internal/rag"
	"github.com/primehq/prime/internal/routing"
	"github.com/primehq/prime/internal/storage"
	"github.com/primehq/prime/internal/tools"
	"github.com/primehq/prime/pkg/models"
)

// lazyPipeline defers the pipeline reference so services constructed
// before it (cron, session directory) can still call into it.
type lazyPipeline struct {
	p *channels.Pipeline
}

func (l *lazyPipeline) Invoke(ctx context.Context, agentID, message, origin string) error {
	return l.p.InvokeAgent(ctx, agentID, message, origin)
}

func (l *lazyPipeline) RunSession(ctx context.Context, session *models.Session, message, origin string) error {
	return l.p.RunSession(ctx, session, message, origin)
}

// healthReporter answers health.get and the gateway_status tool.
type healthReporter struct {
	store    *storage.Store
	adapters *channels.Registry
	start    time.Time
}

func (h *healthReporter) Health(ctx context.Context) map[string]any {
	status := "ok"
	dbStatus := "ok"
	if err := h.store.Ping(ctx); err != nil {
		status = "degraded"
		dbStatus = err.Error()
	}
	out := map[string]any{
		"status":         status,
		"database":       dbStatus,
		"uptime_seconds": int(time.Since(h.start).Seconds()),
		"version":        version,
	}
	if h.adapters != nil {
		out["channels"] = h.adapters.Health(ctx)
	}
	return out
}

func (h *healthReporter) Status(ctx context.Context) map[string]any {
	return h.Health(ctx)
}

func buildStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the gateway, triggers, and channel adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context())
		},
	}
}

func runStart(parent context.Context) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, storage.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if err := writePIDFile(); err != nil {
		logger.Warn("failed to write pid file", "error", err)
	}
	defer removePIDFile()

	tracer, stopTracer, err := observability.NewTracer(observability.TraceConfig{
		ServiceName: "prime",
		Version:     version,
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := stopTracer(context.Background()); err != nil {
			logger.Warn("trace exporter shutdown", "error", err)
		}
	}()

	events := bus.New(bus.WithLogger(logger))
	idem := idempotency.NewService(store)
	cmdBus := commands.NewBus(idem, logger)
	cmdBus.SetTracer(tracer)

	authSvc := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
	}, store)
	deviceFlow := auth.NewDeviceFlow(store, authSvc)

	resolver := routing.NewResolver(store)
	evaluator := dmpolicy.NewEvaluator(store, logger)
	pairingAdmin := dmpolicy.NewAdmin(store, logger)

	ragSvc := rag.NewService(store, ragOptions(cfg, logger)...)

	health := &healthReporter{store: store, start: time.Now()}
	lazy := &lazyPipeline{}
	cronSvc := cron.NewService(store, lazy,
		cron.WithLogger(logger),
		cron.WithTickInterval(cfg.Cron.TickInterval))
	sessions := commands.NewSessionDirectory(store, lazy, store)

	registry := agent.NewRegistry()
	skills, err := tools.RegisterAll(registry, tools.Deps{
		Memory:    store,
		Sessions:  sessions,
		Scheduler: cronSvc,
		Webhooks:  cronSvc,
		Status:    health,
		Browser:   tools.NewBrowser(),
		Skills:    tools.NewSkillSet(skillsDir()),
	})
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	executor := agent.NewExecutor(registry,
		agent.WithSkills(skills),
		agent.WithExecutorLogger(logger))

	pipeline := channels.NewPipeline(store, resolver, evaluator, providers.New, executor,
		channels.WithPipelineLogger(logger),
		channels.WithEvents(events),
		channels.WithPairingAdmin(pairingAdmin),
		channels.WithKnowledge(ragSvc),
		channels.WithWebSearch(&tools.SearchWebTool{}))
	lazy.p = pipeline

	nodeSvc := nodes.NewService(store, store, nodes.NewRegistry(), nodes.Config{
		AutoApproveAll:   cfg.Nodes.AutoApproveAll,
		TrustedCommands:  cfg.Nodes.TrustedCommands,
		AutoApproveRules: cfg.Nodes.AutoApproveRules,
	}, nodes.WithEvents(events), nodes.WithLogger(logger))

	commands.RegisterBuiltins(cmdBus, commands.Deps{
		Tasks:    store,
		Agents:   store,
		Resolver: resolver,
		Policy:   evaluator,
		Health:   health,
		Events:   events,
	})

	server := gateway.NewServer(gateway.Config{
		Addr:               cfg.Server.Addr,
		BackpressurePolicy: cfg.Server.BackpressurePolicy,
		Auth:               authSvc,
		DeviceFlow:         deviceFlow,
		Commands:           cmdBus,
		Events:             events,
		Store:              store,
		RAG:                ragSvc,
		Nodes:              nodeSvc,
		Webhooks:           cronSvc,
		Logger:             logger,
	})

	adapters := channels.NewRegistry()
	if err := registerAdapters(ctx, adapters, cfg, store, pipeline, server, logger); err != nil {
		return err
	}
	health.adapters = adapters
	if err := adapters.StartAll(ctx); err != nil {
		return fmt.Errorf("start channel adapters: %w", err)
	}
	defer adapters.StopAll(context.Background())

	cronSvc.Start(ctx)
	defer cronSvc.Stop()

	go pruneLoop(ctx, idem, store, logger)

	logger.Info("prime starting", "addr", cfg.Server.Addr, "version", version)
	return server.Start(ctx)
}

// registerAdapters builds one adapter per configured channel. The
// WhatsApp and web adapters are HTTP-driven, so their handlers mount
// on the gateway's listener.
func registerAdapters(ctx context.Context, reg *channels.Registry, cfg *config.Config, store *storage.Store, pipeline *channels.Pipeline, server *gateway.Server, logger *slog.Logger) error {
	for i, token := range cfg.Channels.Telegram.BotTokens {
		adapter, err := telegram.NewAdapter(telegram.Config{
			Token:     token,
			AccountID: "telegram-" + strconv.Itoa(i),
			Logger:    logger,
		}, pipeline)
		if err != nil {
			return fmt.Errorf("telegram adapter: %w", err)
		}
		reg.Register(adapter)
	}

	if cfg.Channels.Slack.BotToken != "" && cfg.Channels.Slack.AppToken != "" {
		adapter, err := slack.NewAdapter(slack.Config{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		}, pipeline)
		if err != nil {
			return fmt.Errorf("slack adapter: %w", err)
		}
		reg.Register(adapter)
	}

	if cfg.Channels.WhatsApp.AccessToken != "" {
		adapter, err := whatsapp.NewAdapter(whatsapp.Config{
			AccessToken:   cfg.Channels.WhatsApp.AccessToken,
			PhoneNumberID: cfg.Channels.WhatsApp.PhoneNumberID,
			AppSecret:     cfg.Channels.WhatsApp.AppSecret,
			VerifyToken:   cfg.Channels.WhatsApp.VerifyToken,
			Logger:        logger,
		}, pipeline)
		if err != nil {
			return fmt.Errorf("whatsapp adapter: %w", err)
		}
		server.Mount("/channels/whatsapp", adapter)
		reg.Register(adapter)
	}

	if bot, err := findWebBot(ctx, store); err != nil {
		return err
	} else if bot != nil {
		adapter, err := web.NewAdapter(web.Config{
			Token:     bot.Token,
			AccountID: "web",
			Logger:    logger,
		}, pipeline)
		if err != nil {
			return fmt.Errorf("web adapter: %w", err)
		}
		server.Mount("/channels/web", adapter)
		reg.Register(adapter)
	}
	return nil
}

// findWebBot returns the first active bot that serves the web channel,
// or nil when browser chat is not onboarded.
func findWebBot(ctx context.Context, store *storage.Store) (*models.Bot, error) {
	orgs, err := store.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	for _, org := range orgs {
		bots, err := store.ListBots(ctx, org.ID)
		if err != nil {
			return nil, err
		}
		for i := range bots {
			if !bots[i].Active {
				continue
			}
			for _, c := range bots[i].Channels {
				if c == models.ChannelWeb {
					return &bots[i], nil
				}
			}
		}
	}
	return nil, nil
}

// ragOptions wires the embedder when an OpenAI key is available;
// without one the RAG service falls back to lexical scoring.
func ragOptions(cfg *config.Config, logger *slog.Logger) []rag.Option {
	opts := []rag.Option{rag.WithLogger(logger)}
	if key := cfg.Providers.APIKeys["openai"]; key != "" {
		opts = append(opts, rag.WithEmbedder(rag.NewOpenAIEmbedder(key, "", cfg.RAG.EmbeddingModel)))
	}
	return opts
}

// pruneLoop expires idempotency records and stale approvals hourly.
func pruneLoop(ctx context.Context, idem *idempotency.Service, store *storage.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := idem.PruneExpired(ctx); err != nil {
				logger.Warn("idempotency prune failed", "error", err)
			} else if n > 0 {
				logger.Debug("pruned idempotency records", "count", n)
			}
			if n, err := store.ExpireApprovals(ctx, time.Now()); err != nil {
				logger.Warn("approval expiry failed", "error", err)
			} else if n > 0 {
				logger.Info("expired stale approvals", "count", n)
			}
		}
	}
}

// dataDir is where the pid file and default logs live.
func dataDir() string {
	if v := os.Getenv("PRIME_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".prime")
}

func skillsDir() string {
	return filepath.Join(dataDir(), "skills")
}

func pidFilePath() string {
	return filepath.Join(dataDir(), "prime.pid")
}

func writePIDFile() error {
	if err := os.MkdirAll(dataDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0o600)
}

func removePIDFile() {
	_ = os.Remove(pidFilePath())
}
