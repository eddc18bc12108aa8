package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mpataki/quill/internal/config"
	"github.com/mpataki/quill/internal/events"
	"github.com/mpataki/quill/internal/logging"
	"github.com/mpataki/quill/internal/lua"
	"github.com/mpataki/quill/internal/orchestrator"
	"github.com/mpataki/quill/internal/planner"
	"github.com/mpataki/quill/internal/publish"
	"github.com/mpataki/quill/internal/recipe"
	"github.com/mpataki/quill/internal/session"
	"github.com/mpataki/quill/internal/storage"
	"github.com/mpataki/quill/internal/telemetry"
	"github.com/mpataki/quill/internal/tui"
	"github.com/mpataki/quill/internal/worker"
	"github.com/mpataki/quill/internal/workers/extractor"
	"github.com/mpataki/quill/internal/workers/image"
	"github.com/mpataki/quill/internal/workers/logger"
	"github.com/mpataki/quill/internal/workers/scanner"
	"github.com/mpataki/quill/internal/workers/uploader"
)

type setupOptions struct {
	// lock takes the data directory lock; commands that run or delete
	// runs need it.
	lock bool
	// logFile sends logs to <data>/quill.log instead of stderr.
	logFile bool
}

// runtime is everything a command needs, built once per process.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	logOut   io.Closer
	lock     *flock.Flock
	store    *storage.Storage
	posts    *publish.Repository
	registry *worker.Registry
	planner  *planner.Planner
	bus      *events.Bus
	orch     *orchestrator.Orchestrator
	shutdown func(context.Context) error
}

func setup(ctx context.Context, opts setupOptions) (rt *runtime, err error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	rt = &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	var logOut io.Writer = os.Stderr
	if opts.logFile {
		f, err := os.OpenFile(filepath.Join(cfg.DataDir, "quill.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return rt, fmt.Errorf("failed to open log file: %w", err)
		}
		rt.logOut = f
		logOut = f
	}
	rt.logger = logging.Setup(cfg.LogLevel, logOut)

	if opts.lock {
		rt.lock = flock.New(cfg.LockPath)
		locked, err := rt.lock.TryLock()
		if err != nil {
			return rt, fmt.Errorf("failed to lock data directory: %w", err)
		}
		if !locked {
			rt.lock = nil
			return rt, fmt.Errorf("another quill process is using %s", cfg.DataDir)
		}
	}

	rt.store, err = storage.New(cfg.DBPath)
	if err != nil {
		return rt, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Publish.PostgresURL != "" {
		rt.posts, err = publish.OpenPostgres(ctx, cfg.Publish.PostgresURL, logging.WithModule(rt.logger, "publish"))
	} else {
		rt.posts, err = publish.OpenSQLite(ctx, cfg.PublishDBPath(), logging.WithModule(rt.logger, "publish"))
	}
	if err != nil {
		return rt, err
	}

	objects, err := newObjectStore(ctx, cfg)
	if err != nil {
		return rt, err
	}

	rt.registry, err = buildRegistry(cfg, objects, rt.posts, logging.WithModule(rt.logger, "workers"))
	if err != nil {
		return rt, err
	}

	recipes, err := recipe.LoadAll([]string{cfg.UserRecipeDir, cfg.ProjectRecipeDir})
	if err != nil {
		return rt, fmt.Errorf("failed to load recipes: %w", err)
	}

	oracle, err := newOracle(cfg.Planner, rt.registry, logging.WithModule(rt.logger, "planner"))
	if err != nil {
		return rt, err
	}
	rt.planner = planner.New(oracle, recipes, logging.WithModule(rt.logger, "planner"))

	rt.shutdown, err = telemetry.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return rt, fmt.Errorf("failed to set up tracing: %w", err)
	}

	rt.bus = events.NewBus(logging.WithModule(rt.logger, "events"))

	engine := orchestrator.NewEngine(rt.registry, logging.WithModule(rt.logger, "engine"),
		orchestrator.WithRecorder(rt.store),
		orchestrator.WithPublisher(rt.bus),
		orchestrator.WithWorkspaceDir(cfg.WorkspacesDir()),
		orchestrator.WithStepTimeout(cfg.StepTimeout),
		orchestrator.WithTracer(telemetry.Tracer()),
	)

	rt.orch = orchestrator.New(rt.planner, engine, session.New(rt.registry), rt.store,
		cfg.WorkspacesDir(), logging.WithModule(rt.logger, "orchestrator"))

	return rt, nil
}

func (rt *runtime) Close() {
	if rt.bus != nil {
		rt.bus.Close()
	}
	if rt.shutdown != nil {
		rt.shutdown(context.Background())
	}
	if rt.posts != nil {
		rt.posts.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
	if rt.lock != nil {
		rt.lock.Unlock()
	}
	if rt.logOut != nil {
		rt.logOut.Close()
	}
}

// agents describes the registered workers in registration order.
func (rt *runtime) agents() []tui.Agent {
	var out []tui.Agent
	for _, id := range rt.registry.IDs() {
		w, err := rt.registry.Resolve(id)
		if err != nil {
			continue
		}
		a := tui.Agent{ID: id, OutputKeys: w.OutputKeys()}
		if d, ok := w.(worker.Describer); ok {
			a.Description = d.Description()
		}
		out = append(out, a)
	}
	return out
}

func (rt *runtime) shell() *tui.Shell {
	return tui.NewShell(rt.orch, rt.agents(), rt.planner.Verbs())
}

func buildRegistry(cfg *config.Config, objects uploader.ObjectStore, posts uploader.PostRepository, log *slog.Logger) (*worker.Registry, error) {
	reg := worker.NewRegistry()

	workers := []struct {
		id string
		w  worker.Worker
	}{
		{worker.Scanner, scanner.New(log)},
		{worker.Extractor, extractor.New(extractor.Options{
			PostsRoot:     cfg.Publish.PostsRoot,
			DefaultUserID: cfg.Publish.DefaultUserID,
		}, log)},
		{worker.Uploader, uploader.New(objects, posts, uploader.Options{
			BlogBaseURL:     cfg.Publish.BlogBaseURL,
			DefaultUserID:   cfg.Publish.DefaultUserID,
			DefaultUsername: cfg.Publish.DefaultUsername,
		}, log)},
		{worker.Image, image.New(log)},
		{worker.Logger, logger.New(log)},
	}

	for _, entry := range workers {
		if err := reg.Register(entry.id, entry.w); err != nil {
			return nil, err
		}
	}

	if err := reg.Require(worker.Required...); err != nil {
		return nil, fmt.Errorf("cannot start: %w", err)
	}
	return reg, nil
}

func newObjectStore(ctx context.Context, cfg *config.Config) (uploader.ObjectStore, error) {
	if cfg.Publish.ObjectStore == "s3" {
		return uploader.NewS3StoreFromEnv(ctx, cfg.Publish.Bucket, cfg.Publish.Region, cfg.Publish.CDNBaseURL)
	}
	return uploader.NewFileStore(cfg.AssetsDir(), cfg.Publish.CDNBaseURL), nil
}

// newOracle returns the configured fallback planner, or nil when free text
// planning is off.
func newOracle(cfg config.PlannerConfig, registry *worker.Registry, log *slog.Logger) (planner.Oracle, error) {
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return planner.NewLLMOracle(llm, registry, log), nil

	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return planner.NewLLMOracle(llm, registry, log), nil

	case "lua":
		if cfg.LuaScript == "" {
			return nil, fmt.Errorf("planner provider lua needs lua_script")
		}
		if _, err := os.Stat(cfg.LuaScript); err != nil {
			return nil, fmt.Errorf("lua planner script: %w", err)
		}
		return lua.NewOracle(cfg.LuaScript, registry, log), nil
	}

	return nil, nil
}
