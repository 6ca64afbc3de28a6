package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/splax/pagesdeploy/internal/credential"
	"github.com/splax/pagesdeploy/internal/docker"
	"github.com/splax/pagesdeploy/internal/executil"
	"github.com/splax/pagesdeploy/internal/history"
	httpx "github.com/splax/pagesdeploy/internal/http"
	"github.com/splax/pagesdeploy/internal/pipeline"
	"github.com/splax/pagesdeploy/internal/service/deploy"
	"github.com/splax/pagesdeploy/internal/status"
	"github.com/splax/pagesdeploy/internal/workspace"
	"github.com/splax/pagesdeploy/internal/ws"
	"github.com/splax/pagesdeploy/pkg/config"
	"github.com/splax/pagesdeploy/pkg/logger"
)

func main() {
	cfg := config.LoadDeployConfig()

	logFile, err := logger.OpenFile(cfg.LogFile)
	if err != nil {
		logger.New("deployd", slog.LevelInfo).Error("open log file failed", "error", err, "path", cfg.LogFile)
		os.Exit(1)
	}
	defer logFile.Close()
	log := logger.New("deployd", logger.ParseLevel(cfg.LogLevel), logFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("deploy server starting",
		"source", cfg.SourceDir,
		"site", cfg.SiteDir,
		"publish", cfg.PublishDir,
		"executor", cfg.BuildExecutor,
	)

	creds, err := credential.LoadOrCreate(cfg.APIKeyFile, log)
	if err != nil {
		log.Error("credential init failed", "error", err, "path", cfg.APIKeyFile)
		os.Exit(1)
	}
	statusStore := status.New(cfg.StatusFile, log)
	log.Info("state files ready", "api_key_file", creds.Path(), "status_file", statusStore.Path(), "log_file", cfg.LogFile)

	layout, err := workspace.New(cfg.SourceDir, cfg.SiteDir, cfg.PublishDir)
	if err != nil {
		log.Error("workspace init failed", "error", err)
		os.Exit(1)
	}

	buildCommand, err := executil.ParseCommand(cfg.BuildCommand)
	if err != nil {
		log.Error("invalid build command", "error", err, "command", cfg.BuildCommand)
		os.Exit(1)
	}

	host := executil.NewHost(log)
	var builder executil.Runner = host
	if cfg.BuildExecutor == config.ExecutorDocker {
		dockerClient, err := docker.New(cfg.DockerHost)
		if err != nil {
			log.Error("failed to create docker client", "error", err)
			os.Exit(1)
		}
		defer dockerClient.Close()
		if err := dockerClient.Ping(ctx); err != nil {
			log.Error("docker ping failed", "error", err)
			os.Exit(1)
		}
		builder = docker.NewBuildRunner(dockerClient, cfg.BuildImage, log)
		log.Info("containerized builds enabled", "image", cfg.BuildImage)
	}

	excludes := append(append([]string{}, cfg.SyncExcludes...), cfg.ProtectedFiles()...)
	runner, err := pipeline.New(layout, builder, host, pipeline.Config{
		BuildCommand: buildCommand,
		Excludes:     excludes,
		Remote:       cfg.GitRemote,
		Branch:       cfg.GitBranch,
		BuildTimeout: cfg.BuildTimeout,
		SyncTimeout:  cfg.SyncTimeout,
		GitTimeout:   cfg.GitTimeout,
		PushTimeout:  cfg.PushTimeout,
	}, log)
	if err != nil {
		log.Error("pipeline init failed", "error", err)
		os.Exit(1)
	}

	var recorder history.Recorder = history.NewMemory(cfg.HistoryLimit)
	if cfg.DatabaseURL != "" {
		if err := history.Migrate(ctx, cfg.DatabaseURL, log); err != nil {
			log.Error("history migration failed", "error", err)
			os.Exit(1)
		}
		pg, err := history.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("history database unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		recorder = pg
		log.Info("deployment history stored in postgres")
	}

	opts := deploy.Options{History: recorder}
	var events httpx.EventStream
	if cfg.EventsEnabled {
		hub := ws.NewHub()
		defer hub.Stop()
		opts.Events = hub
		events = hub
	}

	deploySvc, err := deploy.New(ctx, runner, statusStore, log, opts)
	if err != nil {
		log.Error("deploy service init failed", "error", err)
		os.Exit(1)
	}

	var limiter httpx.RateLimiter
	if cfg.RedisAddr != "" {
		limiter, err = httpx.NewRedisRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable; using in-memory limiter", "error", err)
			limiter = nil
		}
	}

	router := httpx.NewRouter(log, deploySvc, creds, events, limiter, httpx.Options{
		Version:         cfg.Version,
		DeployRateLimit: cfg.DeployRateLimit,
		HistoryLimit:    cfg.HistoryLimit,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpx.WithCORS(router, cfg.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("deploy server listening", "addr", cfg.Addr, "version", cfg.Version)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("deploy server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
