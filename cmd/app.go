package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/aceteam-ai/opencorp/internal/agents"
	"github.com/aceteam-ai/opencorp/internal/backend"
	"github.com/aceteam-ai/opencorp/internal/budget"
	"github.com/aceteam-ai/opencorp/internal/config"
	"github.com/aceteam-ai/opencorp/internal/dispatch"
	"github.com/aceteam-ai/opencorp/internal/events"
	"github.com/aceteam-ai/opencorp/internal/logging"
	"github.com/aceteam-ai/opencorp/internal/scheduler"
	"github.com/aceteam-ai/opencorp/internal/store"
	"github.com/aceteam-ai/opencorp/internal/workflow"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
)

// Collection files under <project>/data.
const (
	spendingDB  = "spending.db"
	workflowsDB = "workflows.db"
	eventsDB    = "events.db"
	pricingDB   = "pricing.db"
	schedulerDB = "scheduler.db"
)

// app is every core component built from one charter.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	stores *store.Registry

	guard      *budget.Guardrail
	openrouter *backend.OpenRouter
	catalog    *backend.Catalog
	workers    *agents.Registry
	dispatcher *dispatch.Dispatcher
	events     *events.Log
	sink       *events.RedisSink
	engine     *workflow.Engine
	scheduler  *scheduler.Scheduler
}

// openApp loads the charter in dir and wires the components. The returned
// context carries the app's logger. engineOpts are appended to the
// engine's options.
func openApp(ctx context.Context, dir string, engineOpts ...workflow.Option) (context.Context, *app, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return ctx, nil, err
	}
	Debug("loaded %s from %s", config.CharterFile, cfg.Dir)

	logOpts := logging.Options{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		RedactSecrets: true,
	}
	if debugMode {
		logOpts.Level = "debug"
	}
	if f := cfg.Logging.File; f != "" {
		if !filepath.IsAbs(f) {
			f = filepath.Join(cfg.Dir, f)
		}
		logOpts.File = f
	}
	logger, err := logging.New(logOpts, os.Stderr)
	if err != nil {
		return ctx, nil, err
	}
	ctx = logging.WithLogger(ctx, logger.Logger)

	a := &app{cfg: cfg, logger: logger, stores: store.NewRegistry()}
	if err := a.wire(ctx, engineOpts); err != nil {
		a.Close()
		return ctx, nil, err
	}
	return ctx, a, nil
}

func (a *app) open(ctx context.Context, name string) (store.Handle, error) {
	h, err := a.stores.Open(ctx, a.cfg.DataPath(name))
	if err != nil {
		return h, fmt.Errorf("open %s: %w", name, err)
	}
	if h.Backup != "" {
		warnColor.Fprintf(os.Stderr, "⚠ %s was corrupt; moved to %s and started empty\n", name, h.Backup)
	}
	return h, nil
}

func (a *app) wire(ctx context.Context, engineOpts []workflow.Option) error {
	cfg := a.cfg
	spending, err := a.open(ctx, spendingDB)
	if err != nil {
		return err
	}
	runs, err := a.open(ctx, workflowsDB)
	if err != nil {
		return err
	}
	evs, err := a.open(ctx, eventsDB)
	if err != nil {
		return err
	}
	prices, err := a.open(ctx, pricingDB)
	if err != nil {
		return err
	}
	tasks, err := a.open(ctx, schedulerDB)
	if err != nil {
		return err
	}

	a.guard, err = budget.New(cfg.Budget, spending.Collection, spending.Lock)
	if err != nil {
		return err
	}

	a.openrouter = backend.NewOpenRouter(backend.OpenRouterOptions{
		APIKey:    cfg.APIKey,
		Timeout:   cfg.Dispatch.RequestTimeout,
		RateLimit: cfg.Dispatch.RateLimit,
		Burst:     cfg.Dispatch.Burst,
	})
	ollama := backend.NewOllama(cfg.Dispatch.OllamaURL, cfg.Dispatch.RequestTimeout, cfg.Dispatch.RateLimit, cfg.Dispatch.Burst)
	router := backend.NewRouter(a.openrouter).Handle(backend.OllamaPrefix, ollama)

	a.catalog = backend.NewCatalog(prices.Collection, prices.Lock)
	if err := a.catalog.Load(ctx); err != nil {
		logging.FromContext(ctx).Warn("pricing cache unavailable, using defaults", "error", err)
	}

	a.workers = agents.NewRegistry(cfg.Dir)
	a.dispatcher = dispatch.New(cfg.Dispatch, cfg.Models, a.guard, router, a.catalog,
		dispatch.WithResolver(a.workers))

	a.events = events.NewLog(evs.Collection, evs.Lock)
	if cfg.Events.RedisURL != "" {
		a.sink, err = events.NewRedisSink(events.RedisSinkConfig{
			RedisURL:      cfg.Events.RedisURL,
			RedisPassword: cfg.Events.RedisPassword,
		})
		if err != nil {
			return err
		}
		if err := a.sink.Ping(ctx); err != nil {
			logging.FromContext(ctx).Warn("events: redis sink unreachable, events stay local", "error", err)
		}
		a.events.On(events.Wildcard, a.sink.Handle)
	}

	opts := append([]workflow.Option{
		workflow.WithExecutors(a.workers),
		workflow.WithSelector(agents.SelectorByName(cfg.Workflow.Selector)),
		workflow.WithEvents(a.events),
	}, engineOpts...)
	a.engine, err = workflow.NewEngine(cfg.Workflow, a.dispatcher, runs.Collection, runs.Lock, opts...)
	if err != nil {
		return err
	}

	a.scheduler, err = scheduler.New(a.dispatcher, tasks.Collection, tasks.Lock,
		scheduler.WithExecutors(a.workers),
		scheduler.WithEvents(a.events))
	return err
}

// Close releases the stores, the Redis client and the log file.
func (a *app) Close() {
	if a.sink != nil {
		a.sink.Close()
	}
	if err := a.stores.CloseAll(); err != nil {
		Debug("close stores: %v", err)
	}
	a.logger.Close()
}

func statusColor(s string) *color.Color {
	switch s {
	case string(workflow.TaskSucceeded), string(budget.StatusNormal):
		return goodColor
	case string(workflow.TaskFailed), string(budget.StatusCritical), string(budget.StatusFrozen):
		return badColor
	case string(workflow.TaskSkipped), string(budget.StatusCaution), string(budget.StatusAusterity):
		return warnColor
	default:
		return labelColor
	}
}
