// Command worker-ai runs the core video-analytics worker: a long-lived TCP
// server that receives frames from edge agents, runs detection + tracking,
// and persists per-session track records (spec.md, SPEC_FULL.md). Grounded
// on the teacher's cmd/server/main.go clir wiring, replacing its C2-server
// subcommands with serve/version/catalog-dump.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leaanthony/clir"
	"github.com/rs/zerolog"

	"github.com/simonll4/worker-ai-core/internal/config"
	"github.com/simonll4/worker-ai-core/internal/decode"
	"github.com/simonll4/worker-ai-core/internal/inference"
	"github.com/simonll4/worker-ai-core/internal/modelpool"
	"github.com/simonll4/worker-ai-core/internal/server"
	"github.com/simonll4/worker-ai-core/internal/session"
	"github.com/simonll4/worker-ai-core/internal/visualizer"
)

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

func main() {
	var configPath string
	var onnxSharedLib string
	var logLevel string

	cli := clir.NewCli("worker-ai", "Distributed video-analytics worker core", version)
	cli.StringFlag("config", "Path to the YAML config file", &configPath)
	cli.StringFlag("log-level", "Log level: debug, info, warn, error", &logLevel)

	serveCmd := cli.NewSubCommand("serve", "Run the TCP server")
	serveCmd.StringFlag("onnx-shared-lib", "Path to a non-default onnxruntime shared library", &onnxSharedLib)
	serveCmd.Action(func() error {
		return runServe(configPath, onnxSharedLib, logLevel)
	})

	versionCmd := cli.NewSubCommand("version", "Print the build version")
	versionCmd.Action(func() error {
		fmt.Println(version)
		return nil
	})

	catalogCmd := cli.NewSubCommand("catalog-dump", "Print the resolved class catalog, one name per line")
	catalogCmd.Action(func() error {
		return runCatalogDump(configPath)
	})

	if err := cli.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runCatalogDump(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cat, err := config.LoadCatalog(cfg.Model)
	if err != nil {
		return err
	}
	for _, name := range cat.Names() {
		fmt.Println(name)
	}
	return nil
}

func runServe(configPath, onnxSharedLib, logLevel string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(logLevel)

	catalog, err := config.LoadCatalog(cfg.Model)
	if err != nil {
		return err
	}

	watcher, err := config.NewWatcher(log)
	if err != nil {
		return err
	}
	defer watcher.Close()
	go watcher.Run()

	if cfg.Model.ClassCatalogPath != "" {
		_ = watcher.Watch(cfg.Model.ClassCatalogPath, func() {
			names, err := config.LoadCatalog(cfg.Model)
			if err != nil {
				log.Warn().Err(err).Msg("class catalog hot-reload failed")
				return
			}
			catalog.Swap(names.Names())
			log.Info().Int("count", len(names.Names())).Msg("class catalog reloaded")
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := modelpool.New(ctx, modelpool.Config{
		MaxCachedModels: cfg.ModelPool.MaxCachedModels,
		IdleTimeout:     time.Duration(cfg.ModelPool.IdleTimeoutSec) * time.Second,
		Loader:          func(path string) (inference.Model, error) { return inference.LoadONNXModel(onnxSharedLib, path) },
		Logger:          log,
	})
	if err != nil {
		return err
	}

	sessions := session.NewManager(session.Config{
		OutputDir:        cfg.Sessions.OutputDir,
		DefaultFPS:       cfg.Sessions.DefaultFPS,
		SegmentDurationS: float64(cfg.Sessions.SegmentDurationS),
	})

	viz := visualizer.New(visualizer.Config{
		Enabled:    cfg.Visualization.Enabled,
		WindowName: cfg.Visualization.WindowName,
		OutputDir:  cfg.Sessions.OutputDir,
		Logger:     log,
	})

	srv := server.New(server.Config{
		Addr:                 fmt.Sprintf("%s:%d", cfg.Server.BindHost, cfg.Server.BindPort),
		Pool:                 pool,
		Decoder:              decode.NewRegistry(),
		Sessions:             sessions,
		Catalog:              catalog,
		Visualizer:           viz,
		Logger:               log,
		DefaultConfThreshold: cfg.Model.ConfThreshold,
		DefaultNMSIoU:        cfg.Model.NMSIoU,
		InitialWindowSize:    4,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	return srv.ListenAndServe(ctx)
}
