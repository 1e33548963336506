// Command collend-sim replays lending scenarios against an in-memory build of
// the collend modules: one state manager, all four engines and the facade,
// driven by a manual clock so delays and interest accrual are deterministic.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"collend/config"
	"collend/observability/logging"
	telemetry "collend/observability/otel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "collend-sim:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "collend.toml", "path to the TOML configuration")
	scenarioPath := flag.String("scenario", "", "path to the YAML scenario to replay")
	verbose := flag.Bool("verbose", false, "force debug logging")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	env := strings.TrimSpace(os.Getenv("COLLEND_ENV"))
	if env == "" {
		env = cfg.Telemetry.Environment
	}
	logger := logging.Setup("collend-sim", env, logging.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		endpoint := cfg.Telemetry.Endpoint
		if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
			endpoint = v
		}
		insecure := cfg.Telemetry.Insecure
		if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
			if parsed, parseErr := strconv.ParseBool(v); parseErr == nil {
				insecure = parsed
			}
		}
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    insecure,
			Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	if strings.TrimSpace(*scenarioPath) == "" {
		return fmt.Errorf("scenario path required (-scenario)")
	}
	sc, err := loadScenario(*scenarioPath)
	if err != nil {
		return err
	}

	w, err := buildWorld(cfg, time.Now().Unix(), logger)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger.Info("simulation starting", "runId", runID, "scenario", sc.Name, "steps", len(sc.Steps))
	if err := w.runScenario(ctx, sc); err != nil {
		logger.Error("simulation failed", "runId", runID, "error", err)
		return err
	}
	logger.Info("simulation finished", "runId", runID)
	w.printSummary(os.Stdout, sc.Name)
	return nil
}
