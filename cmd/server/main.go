package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pipeci/internal/core"
	"pipeci/internal/history"
	"pipeci/internal/server"
	"pipeci/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot load config")
	}
	if level, lerr := zerolog.ParseLevel(cfg.LogLevel); lerr == nil {
		logger = logger.Level(level)
	}

	pipelines, err := loadPipelines(cfg.PipelineDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot load pipelines")
	}
	if len(pipelines) == 0 {
		logger.Warn().Str("dir", cfg.PipelineDir).Msg("no pipeline definitions found")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("cannot create data dir")
	}
	journal, err := history.Open(filepath.Join(cfg.DataDir, "history.jsonl"))
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot open run history")
	}
	logs := storage.NewLogStore(filepath.Join(cfg.DataDir, "logs"))

	srv := server.New(cfg, pipelines, journal, logs, logger)

	sched, err := server.NewScheduler(srv)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot build scheduler")
	}
	sched.Start()
	defer sched.Stop()

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Int("pipelines", len(pipelines)).Msg("pipeci server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	srv.Wait()
}

// loadPipelines parses every *.yml / *.yaml file in dir. A file that
// fails validation is skipped with a warning so one bad definition
// does not take the server down.
func loadPipelines(dir string, logger zerolog.Logger) ([]*core.Pipeline, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var pipelines []*core.Pipeline
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		p, perr := core.LoadPipeline(path)
		if perr != nil {
			logger.Warn().Err(perr).Str("file", path).Msg("skipping invalid pipeline")
			continue
		}
		logger.Info().Str("pipeline", p.Name).Str("file", path).Msg("pipeline loaded")
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}
