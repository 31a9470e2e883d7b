// Package app wires all voxtimer subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API and drives the timers, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithJournalSinks,
// WithOrchestratorOptions, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxtimer/internal/command"
	"github.com/MrWong99/voxtimer/internal/config"
	"github.com/MrWong99/voxtimer/internal/detect"
	"github.com/MrWong99/voxtimer/internal/eventbus"
	"github.com/MrWong99/voxtimer/internal/feed"
	"github.com/MrWong99/voxtimer/internal/health"
	"github.com/MrWong99/voxtimer/internal/journal"
	"github.com/MrWong99/voxtimer/internal/locator"
	"github.com/MrWong99/voxtimer/internal/mcptools"
	"github.com/MrWong99/voxtimer/internal/observe"
	"github.com/MrWong99/voxtimer/internal/orchestrator"
	"github.com/MrWong99/voxtimer/internal/phrase"
	"github.com/MrWong99/voxtimer/internal/timer"
	"github.com/MrWong99/voxtimer/internal/transcript"
)

// serverShutdownTimeout bounds how long Run waits for in-flight HTTP
// requests after its context is cancelled.
const serverShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	version  string
	services *locator.Container

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics     *observe.Metrics
	registry    *timer.Registry
	bus         *eventbus.Bus
	orch        *orchestrator.Orchestrator
	coord       *detect.Coordinator
	ingest      *transcript.Ingestor
	recorder    *journal.Recorder
	journalSub  *eventbus.Subscription
	handler     http.Handler
	server      *http.Server
	watcher     *config.Watcher
	utterances  <-chan transcript.Utterance
	sinks       []journal.Sink
	orchOpts    []orchestrator.Option
	metricsHTTP http.Handler
	level       *slog.LevelVar
	watchPath   string
	watchEvery  time.Duration

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metrics sink shared by every subsystem. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHTTP = h }
}

// WithLogLevel lets configuration reloads adjust v.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithJournalSinks injects journal sinks instead of creating them from
// config.
func WithJournalSinks(sinks ...journal.Sink) Option {
	return func(a *App) { a.sinks = sinks }
}

// WithOrchestratorOptions appends options after the ones derived from config.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(a *App) { a.orchOpts = append(a.orchOpts, opts...) }
}

// WithUtterances makes Run ingest every utterance received on ch.
func WithUtterances(ch <-chan transcript.Utterance) Option {
	return func(a *App) { a.utterances = ch }
}

// WithConfigWatch reloads the config file at path every interval and applies
// hot-reloadable changes. A non-positive interval selects the watcher
// default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchEvery = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously, including opening the
// journal sinks. Nothing runs until [App.Run].
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		version:  "dev",
		services: locator.New(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Timers and events ─────────────────────────────────────────────
	if err := a.initTimers(); err != nil {
		return nil, fmt.Errorf("app: init timers: %w", err)
	}

	// ── 2. Detection and ingestion ───────────────────────────────────────
	if err := a.initDetection(); err != nil {
		return nil, fmt.Errorf("app: init detection: %w", err)
	}

	// ── 3. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 4. Config watcher ────────────────────────────────────────────────
	if a.watchPath != "" {
		var wopts []config.WatcherOption
		if a.watchEvery > 0 {
			wopts = append(wopts, config.WithInterval(a.watchEvery))
		}
		w, err := config.NewWatcher(a.watchPath, a.ApplyConfig, wopts...)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	if err := a.register(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: register services: %w", err)
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTimers creates the registry, the event bus and the orchestrator.
func (a *App) initTimers() error {
	policy, err := orchestrator.ParseResetPolicy(a.cfg.Timers.ResetPolicy)
	if err != nil {
		return err
	}

	a.bus = eventbus.New(
		eventbus.WithQueueSize(a.cfg.Events.QueueSize),
		eventbus.WithReplay(a.cfg.Events.Replay),
		eventbus.WithMetrics(a.metrics),
	)
	// Subscribe before anything can publish so the journal sees every event.
	a.journalSub = a.bus.Subscribe()

	opts := []orchestrator.Option{
		orchestrator.WithTickInterval(a.cfg.Timers.TickInterval),
		orchestrator.WithDefaultDuration(a.cfg.Timers.DefaultDuration),
		orchestrator.WithCompletedTTL(a.cfg.Timers.CompletedTTL),
		orchestrator.WithResetPolicy(policy),
		orchestrator.WithMetrics(a.metrics),
	}
	a.registry = timer.NewRegistry()
	a.orch = orchestrator.New(a.registry, a.bus, append(opts, a.orchOpts...)...)
	return nil
}

// initDetection builds the detector set, the coordinator and the ingestor.
func (a *App) initDetection() error {
	detectors, err := buildDetectors(a.cfg.Detection)
	if err != nil {
		return err
	}
	a.coord = detect.NewCoordinator(detectors,
		detect.WithTimeout(a.cfg.Detection.Timeout),
		detect.WithStateView(a.orch),
		detect.WithMetrics(a.metrics),
	)
	hist := transcript.NewHistory(0, 0)
	a.ingest = transcript.NewIngestor(a.coord, a.orch,
		transcript.WithHistory(hist),
		transcript.WithMetrics(a.metrics),
	)
	return locator.Register(a.services, KeyHistory, hist)
}

// initJournal opens the configured sinks unless some were injected. The
// PostgreSQL sink comes first so it answers history queries while healthy.
func (a *App) initJournal(ctx context.Context) error {
	if a.sinks == nil {
		if dsn := a.cfg.Journal.PostgresDSN; dsn != "" {
			pg, err := journal.OpenPostgres(ctx, dsn)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, func() error { pg.Close(); return nil })
			a.sinks = append(a.sinks, pg)
			slog.Info("app: journal sink enabled", "sink", pg.Name())
		}
		if path := a.cfg.Journal.File; path != "" {
			fs := journal.NewFileSink(path)
			a.sinks = append(a.sinks, fs)
			slog.Info("app: journal sink enabled", "sink", fs.Name(), "path", path)
		}
	}
	a.recorder = journal.NewRecorder(a.sinks, journal.WithMetrics(a.metrics))
	return nil
}

// initHTTP assembles the API, MCP, health and metrics routes.
func (a *App) initHTTP() {
	mux := http.NewServeMux()

	feed.NewServer(a.orch, a.ingest, a.bus,
		feed.WithJournal(a.recorder),
		feed.WithRecent(locator.MustResolve(a.services, KeyHistory)),
		feed.WithAllowedOrigins(a.cfg.Server.AllowedOrigins),
	).Register(mux)

	health.New(
		health.TickLoop(a.orch.LastTick, a.orch.TickInterval(), nil),
		health.Checker{Name: "journal", Check: a.recorder.Check},
	).Register(mux)

	if path := a.cfg.Server.MCPPath; path != "" {
		tools := mcptools.New(a.orch, a.ingest, a.version, mcptools.WithMetrics(a.metrics))
		mux.Handle(path, tools.Handler())
	}
	if a.metricsHTTP != nil {
		mux.Handle("GET /metrics", a.metricsHTTP)
	}

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// register publishes the subsystems in the service container.
func (a *App) register() error {
	return errors.Join(
		locator.Register(a.services, KeyMetrics, a.metrics),
		locator.Register(a.services, KeyRegistry, a.registry),
		locator.Register(a.services, KeyBus, a.bus),
		locator.Register(a.services, KeyOrchestrator, a.orch),
		locator.Register(a.services, KeyCoordinator, a.coord),
		locator.Register(a.services, KeyIngestor, a.ingest),
		locator.Register(a.services, KeyJournal, a.recorder),
	)
}

// buildDetectors turns the detection config into one detector per enabled
// command kind.
func buildDetectors(d config.DetectionConfig) ([]detect.Detector, error) {
	var disabled []command.Kind
	for _, s := range d.Disabled {
		k, err := command.ParseKind(s)
		if err != nil {
			return nil, err
		}
		disabled = append(disabled, k)
	}

	opts := []phrase.Option{phrase.WithMinConfidence(d.MinConfidence)}
	if d.FuzzyThreshold == 0 {
		opts = append(opts, phrase.WithoutFuzzy())
	} else {
		opts = append(opts, phrase.WithFuzzyThreshold(d.FuzzyThreshold))
	}
	for _, name := range slices.Sorted(maps.Keys(d.Synonyms)) {
		k, err := command.ParseKind(name)
		if err != nil {
			return nil, err
		}
		opts = append(opts, phrase.WithSynonyms(k, d.Synonyms[name]...))
	}

	detectors := detect.Defaults(disabled, opts...)
	if len(detectors) == 0 {
		return nil, errors.New("every detector is disabled")
	}
	return detectors, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Services returns the service container. Use the package accessors
// ([Orchestrator], [Bus], ...) to resolve from it.
func (a *App) Services() *locator.Container { return a.services }

// Handler returns the complete HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, drives the tick loop and records the journal until ctx is
// cancelled or a subsystem fails. Cancellation is not an error.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.orch.Run(gctx) })
	g.Go(func() error { return a.recorder.Run(gctx, a.journalSub) })

	if a.utterances != nil {
		g.Go(func() error { return a.ingest.Run(gctx, a.utterances) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	if a.cfg.Server.ListenAddr != "" {
		g.Go(func() error {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	slog.Info("app: running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"mcp_path", a.cfg.Server.MCPPath,
		"journal_sinks", len(a.recorder.Sinks()),
	)
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new.
// Settings that need a restart are logged and otherwise ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.ResetPolicyChanged {
		if p, err := orchestrator.ParseResetPolicy(d.NewResetPolicy); err == nil {
			a.orch.SetResetPolicy(p)
			slog.Info("app: reset policy changed", "policy", d.NewResetPolicy)
		}
	}
	if d.DetectionChanged {
		detectors, err := buildDetectors(new.Detection)
		if err != nil {
			slog.Warn("app: detection reload failed, keeping detectors", "err", err)
		} else {
			a.coord.SetDetectors(detectors)
			slog.Info("app: detectors rebuilt", "count", len(detectors))
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: some changes take effect after a restart", "fields", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting commands, flushes pending journal writes and
// closes the sinks. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		// Refuse new commands first, then end every subscription. The
		// journal drains what was queued before the bus closed.
		_ = a.orch.Close()
		a.bus.Close()
		_ = a.recorder.Run(ctx, a.journalSub)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far. Used when New fails halfway.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
