// Package runner wires the configured components (provider, tool gateway,
// documentation index, checkpoint store, guardrails, audit and metrics) into
// a chat service, and drives the interactive chat loop.
package runner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/moolen/lookout/internal/agent/audit"
	"github.com/moolen/lookout/internal/agent/chatbot"
	"github.com/moolen/lookout/internal/agent/checkpoint"
	"github.com/moolen/lookout/internal/agent/domains"
	"github.com/moolen/lookout/internal/agent/engine"
	"github.com/moolen/lookout/internal/agent/gateway"
	"github.com/moolen/lookout/internal/agent/guardrails"
	"github.com/moolen/lookout/internal/agent/provider"
	"github.com/moolen/lookout/internal/agent/retriever"
	"github.com/moolen/lookout/internal/agent/tools"
	"github.com/moolen/lookout/internal/agent/worker"
	"github.com/moolen/lookout/internal/config"
	"github.com/moolen/lookout/internal/lifecycle"
	"github.com/moolen/lookout/internal/logging"
	"github.com/moolen/lookout/internal/metrics"
	"github.com/moolen/lookout/internal/tracing"
)

// Config contains the runner configuration.
type Config struct {
	App *config.Config

	// ConfigPath is the YAML file App was loaded from. When set, the file is
	// watched for guardrail and model changes and model switches are written
	// back to it.
	ConfigPath string

	// SessionID names the audit log. A new one is generated when empty.
	SessionID string

	Version string

	// Registerer receives the metrics collectors. A private registry is
	// used when nil.
	Registerer prometheus.Registerer

	// Tools replaces the remote gateway tools. The documentation tool is
	// always added.
	Tools []tools.Tool
}

// Runner owns the long-lived components and the chat service.
type Runner struct {
	cfg       Config
	sessionID string
	logger    *logging.Logger

	manager   *lifecycle.Manager
	tracing   *tracing.Provider
	gateway   *gateway.Gateway
	retriever *retriever.Retriever
	watcher   *config.Watcher

	store   checkpoint.Store
	locks   *checkpoint.KeyedMutex
	guard   *guardrails.BlockTerms
	rules   domains.Rules
	audit   *audit.Logger
	metrics *metrics.Metrics
	chat    *chatbot.Service
}

// New builds every component. Nothing is started until Start.
func New(ctx context.Context, cfg Config) (*Runner, error) {
	if cfg.App == nil {
		cfg.App = config.Default()
	}
	app := cfg.App

	r := &Runner{
		cfg:       cfg,
		sessionID: cfg.SessionID,
		logger:    logging.GetLogger("runner"),
		manager:   lifecycle.NewManager(),
		locks:     checkpoint.NewKeyedMutex(),
		guard:     guardrails.NewBlockTerms(app.Guardrails.BlockedTerms...),
	}
	if r.sessionID == "" {
		r.sessionID = uuid.NewString()
	}

	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r.metrics = metrics.NewMetrics(reg)

	if app.Audit.Dir != "" {
		auditLogger, err := audit.NewLogger(audit.SessionPath(app.Audit.Dir, r.sessionID), r.sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit logger: %w", err)
		}
		r.audit = auditLogger
	}

	var err error
	r.tracing, err = tracing.NewProvider(tracing.Config{
		Enabled:     app.Tracing.Enabled,
		Endpoint:    app.Tracing.Endpoint,
		TLSCAPath:   app.Tracing.TLSCAPath,
		TLSInsecure: app.Tracing.TLSInsecure,
		Version:     cfg.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracing provider: %w", err)
	}

	r.store, err = checkpoint.Open(checkpoint.Config{Backend: app.Checkpoint.Backend, Path: app.Checkpoint.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	r.rules, err = domains.LoadRules(app.Retriever.RulesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	embedder, err := retriever.NewEmbedder(ctx, app.Retriever.Embedder, app.Retriever.EmbeddingModel, app.Env.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	r.retriever, err = retriever.New(retriever.Config{
		RulesDir:     app.Retriever.RulesDir,
		IndexPath:    app.Retriever.IndexPath,
		TopK:         app.Retriever.TopK,
		ChunkSize:    app.Retriever.ChunkSize,
		ChunkOverlap: app.Retriever.ChunkOverlap,
	}, embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to open documentation index: %w", err)
	}

	if cfg.Tools == nil && !app.Gateway.Disabled {
		r.gateway = gateway.New(gateway.Config{
			Transport:     app.Gateway.Transport,
			Command:       app.Gateway.Command,
			Args:          app.Gateway.Args,
			Env:           gateway.DynatraceEnv(app.Env.DynatraceEnvironment, app.Env.DynatracePlatformToken),
			URL:           app.Gateway.URL,
			ClientVersion: cfg.Version,
		})
	}

	if cfg.ConfigPath != "" {
		r.watcher, err = config.NewWatcher(config.WatcherConfig{FilePath: cfg.ConfigPath}, r.reload)
		if err != nil {
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
	}

	if err := r.registerComponents(); err != nil {
		return nil, err
	}

	r.chat, err = chatbot.New(app.Model.Name, app.Model.GraphCacheSize, r.buildEngine)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) registerComponents() error {
	if err := r.manager.Register(r.tracing); err != nil {
		return err
	}
	if r.gateway != nil {
		if err := r.manager.Register(r.gateway, r.tracing); err != nil {
			return err
		}
	}
	if err := r.manager.Register(r.retriever); err != nil {
		return err
	}
	if r.watcher != nil {
		if err := r.manager.Register(r.watcher); err != nil {
			return err
		}
	}
	return nil
}

// buildEngine is the chatbot.BuildFunc. Engines share the store and thread
// locks so a thread survives a model switch.
func (r *Runner) buildEngine(ctx context.Context, model string) (*engine.Engine, error) {
	app := r.cfg.App
	pcfg := provider.Config{
		Model:                model,
		MaxTokens:            app.Model.MaxTokens,
		Temperature:          app.Model.Temperature,
		AnthropicAPIKey:      app.Env.AnthropicAPIKey,
		AzureFoundryEndpoint: app.Env.AzureFoundryEndpoint,
		AzureFoundryAPIKey:   app.Env.AzureFoundryAPIKey,
		GeminiAPIKey:         app.Env.GeminiAPIKey,
	}
	// An explicit provider only applies to the configured model; switched
	// models infer theirs from the name.
	if model == app.Model.Name {
		pcfg.Provider = app.Model.Provider
	}
	p, err := provider.New(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	lookups := app.Supervisor.AnalystDocLookups
	if lookups == 0 {
		lookups = worker.NoDocLookups
	}
	top := domains.Build(p, r.registry(), domains.Options{
		Rules: r.rules,
		Worker: worker.Config{
			MaxToolRounds: app.Supervisor.FetcherToolRounds,
			MaxDocLookups: lookups,
		},
		Metrics: r.metrics,
		Audit:   r.audit,
	})
	return engine.New(top, r.store, engine.Config{
		Model:   model,
		MaxHops: app.Supervisor.MaxHops,
		Guard:   r.guard,
		Locks:   r.locks,
		Audit:   r.audit,
		Metrics: r.metrics,
	}), nil
}

func (r *Runner) registry() *tools.Registry {
	remote := r.cfg.Tools
	if r.gateway != nil {
		remote = r.gateway.Tools()
	}
	registry := tools.NewRegistry(remote...)
	registry.Register(tools.NewDocumentationTool(r.retriever))
	return registry
}

// reload applies a changed config file: guardrail terms and the default
// model. Everything else needs a restart.
func (r *Runner) reload(cfg *config.Config) error {
	r.guard.SetTerms(cfg.Guardrails.BlockedTerms)
	r.logger.InfoWithFields("config reloaded",
		logging.Field("blocked_terms", len(cfg.Guardrails.BlockedTerms)),
		logging.Field("model", cfg.Model.Name))

	if cfg.Model.Name != "" && cfg.Model.Name != r.chat.Model() {
		if err := r.chat.SetModel(cfg.Model.Name); err != nil {
			return fmt.Errorf("failed to switch model: %w", err)
		}
	}
	return nil
}

// Start starts the components in dependency order.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.manager.Start(ctx); err != nil {
		return err
	}
	_ = r.audit.LogSessionStart(r.chat.Model())
	return nil
}

// Stop waits for running turns, then stops the components and closes the
// store and audit log.
func (r *Runner) Stop(ctx context.Context) error {
	r.chat.Wait()
	err := r.manager.Stop(ctx)
	if cerr := r.store.Close(); cerr != nil {
		r.logger.Error("failed to close checkpoint store: %v", cerr)
	}
	_ = r.audit.LogSessionEnd()
	_ = r.audit.Close()
	return err
}

// SetModel switches the chat model and writes it back to the config file.
func (r *Runner) SetModel(model string) error {
	if err := r.chat.SetModel(model); err != nil {
		return err
	}
	if r.cfg.ConfigPath == "" {
		return nil
	}
	if err := config.SaveModel(r.cfg.ConfigPath, model); err != nil {
		return fmt.Errorf("model switched but not saved: %w", err)
	}
	return nil
}

// Chat returns the chat service.
func (r *Runner) Chat() *chatbot.Service { return r.chat }

// Manager lets callers register additional components, e.g. servers.
func (r *Runner) Manager() *lifecycle.Manager { return r.manager }

func (r *Runner) Metrics() *metrics.Metrics { return r.metrics }

func (r *Runner) Retriever() *retriever.Retriever { return r.retriever }

func (r *Runner) Guard() *guardrails.BlockTerms { return r.guard }

func (r *Runner) SessionID() string { return r.sessionID }
