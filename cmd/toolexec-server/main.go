package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aiops-tools/toolexec/configs"
	"github.com/aiops-tools/toolexec/internal/app"
	"github.com/aiops-tools/toolexec/internal/audit"
	"github.com/aiops-tools/toolexec/internal/catalog"
	"github.com/aiops-tools/toolexec/internal/config"
	"github.com/aiops-tools/toolexec/internal/engine"
	"github.com/aiops-tools/toolexec/internal/httpapi"
	"github.com/aiops-tools/toolexec/internal/ledger"
	"github.com/aiops-tools/toolexec/internal/log"
	"github.com/aiops-tools/toolexec/internal/render"
	"github.com/aiops-tools/toolexec/internal/runner"
	"github.com/aiops-tools/toolexec/internal/sched"
	"github.com/aiops-tools/toolexec/internal/startup"
	"github.com/aiops-tools/toolexec/internal/templates"
)

func main() {
	embeddedCatalog := flag.String("embedded-catalog", "", "Use embedded catalog from configs/ (filename)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.LogLevel)

	var rendered []byte
	if embeddedCatalog != nil && *embeddedCatalog != "" {
		raw, err := configs.Load(*embeddedCatalog)
		if err != nil {
			logger.Error("load embedded catalog failed", "error", err)
			os.Exit(1)
		}
		rendered, err = render.RenderBytes(*embeddedCatalog, raw)
		if err != nil {
			logger.Error("render catalog failed", "error", err)
			os.Exit(1)
		}
	} else {
		rendered, err = render.RenderFile(cfg.CatalogPath)
		if err != nil {
			logger.Error("render catalog failed", "error", err)
			os.Exit(1)
		}
	}

	catalogCfg, err := catalog.Load(rendered)
	if err != nil {
		logger.Error("parse catalog failed", "error", err)
		os.Exit(1)
	}
	cat := catalog.New(catalogCfg)

	templateBundle, err := templates.Load(cfg.Lang)
	if err != nil {
		logger.Error("load templates failed", "error", err)
		os.Exit(1)
	}

	store, err := ledger.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("open ledger failed", "error", err)
		os.Exit(1)
	}

	eng := engine.New(logger, engine.Options{
		Audit:     audit.New(logger),
		Templates: templateBundle,
		Catalog:   cat,
		Ledger:    store,
		Scheduler: sched.New(logger, sched.Options{
			GlobalLimit: cfg.MaxConcurrent,
			QueueDepth:  cfg.QueueDepth,
		}),
		Runner: runner.New(logger, runner.Options{
			WorkRoot:         cfg.WorkDir,
			EnvPassthrough:   cfg.EnvPassthrough,
			MaxOutputBytes:   cfg.MaxOutputBytes,
			TerminationGrace: cfg.TerminationGrace,
		}),
		DefaultTimeout: cfg.DefaultTimeout,
	})
	server := eng.BuildServer()

	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		logger.Warn("shutdown requested", "signal", sig.String())
		cancel()
	}()

	if err := startup.Preflight(cat.Tools(), logger); err != nil {
		logger.Error("preflight failed", "error", err)
		os.Exit(1)
	}
	if err := startup.Run(baseCtx, cat.Server().StartupHooks, logger); err != nil {
		logger.Error("startup hooks failed", "error", err)
		os.Exit(1)
	}

	var runErr error
	switch cat.Server().Transport {
	case "stdio":
		runErr = runStdio(baseCtx, server)
	default:
		runErr = runHTTP(baseCtx, cfg, cat.Server(), server, eng, templateBundle, logger)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	eng.Shutdown(drainCtx)
	drainCancel()
	if err := store.Close(); err != nil {
		logger.Error("close ledger failed", "error", err)
	}

	if runErr != nil {
		logger.Error("runtime error", "error", runErr)
		os.Exit(1)
	}
}

func runStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

func runHTTP(ctx context.Context, envCfg config.Config, serverCfg catalog.ServerConfig, server *mcp.Server, eng *engine.Engine, bundle *templates.Bundle, logger *slog.Logger) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{
		Stateless: serverCfg.HTTP.Stateless,
	})

	apiMux := http.NewServeMux()
	httpapi.New(logger, eng, bundle).Register(apiMux)

	application, err := app.New(ctx, serverCfg, handler, map[string]http.Handler{"/api/": apiMux}, logger, envCfg.ShutdownTimeout)
	if err != nil {
		return err
	}

	return application.Run(ctx)
}
