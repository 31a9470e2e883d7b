// Command voxtimer is the main entry point for the voxtimer voice timer
// service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/voxtimer/internal/app"
	"github.com/MrWong99/voxtimer/internal/config"
	"github.com/MrWong99/voxtimer/internal/console"
	"github.com/MrWong99/voxtimer/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults plus VOXTIMER_* env when empty)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the configuration; missing files are ignored")
	interactive := flag.Bool("console", false, "read utterances from an interactive prompt on stdin")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "voxtimer: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxtimer: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxtimer: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(newLogger(&level, *interactive))

	slog.Info("voxtimer starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SetGlobal:      true,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler()),
		app.WithLogLevel(&level),
		app.WithVersion(version),
	}
	if *watch && *configPath != "" {
		opts = append(opts, app.WithConfigWatch(*configPath, 0))
	}

	printStartupSummary(cfg, *interactive)

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// The console ends the whole process when the user quits.
	if *interactive {
		services := application.Services()
		con := console.New(app.Orchestrator(services), app.Ingestor(services), app.Bus(services))
		go func() {
			if err := con.Run(ctx, stop); err != nil {
				slog.Error("console error", "err", err)
				stop()
			}
		}()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// printStartupSummary prints the effective settings operators ask about
// most.
func printStartupSummary(cfg *config.Config, interactive bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxtimer: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", orNone(cfg.Server.ListenAddr))
	printRow("MCP endpoint", orNone(cfg.Server.MCPPath))
	printRow("Reset policy", cfg.Timers.ResetPolicy)
	printRow("Default timer", cfg.Timers.DefaultDuration.String())
	var disabled string
	if len(cfg.Detection.Disabled) > 0 {
		disabled = strings.Join(cfg.Detection.Disabled, ",")
	}
	printRow("Disabled", orNone(disabled))
	printRow("Journal file", orNone(cfg.Journal.File))
	if cfg.Journal.PostgresDSN != "" {
		printRow("Journal pg", "enabled")
	} else {
		printRow("Journal pg", "(disabled)")
	}
	if interactive {
		printRow("Console", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:18] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// newLogger returns a text logger whose level follows level. With the
// console active only warnings and errors are logged, keeping the prompt
// readable.
func newLogger(level *slog.LevelVar, interactive bool) *slog.Logger {
	var lvl slog.Leveler = level
	if interactive {
		lvl = consoleLevel{level}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// consoleLevel raises the configured level to at least warn.
type consoleLevel struct{ base slog.Leveler }

func (c consoleLevel) Level() slog.Level {
	return max(c.base.Level(), slog.LevelWarn)
}
