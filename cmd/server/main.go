package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"codemorph/internal/config"
	"codemorph/internal/convert"
	"codemorph/internal/ghrepo"
	"codemorph/internal/githubapp"
	"codemorph/internal/ratelimit"
	"codemorph/internal/secrets"
	"codemorph/internal/server"
	"codemorph/internal/util"
	"codemorph/internal/worker"
	"codemorph/pkg/ai"
	"codemorph/pkg/queue"
	"codemorph/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var provider secrets.Provider
	switch cfg.SecretsBackend {
	case "aws":
		p, err := secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			log.Fatalf("failed to init secrets provider: %v", err)
		}
		provider = p
	default:
		provider = secrets.EnvProvider{}
	}
	bundle, err := secrets.LoadBundle(ctx, provider, secrets.BundleNames{
		PrivateKey:    cfg.GitHubPrivateKeySecret,
		WebhookSecret: cfg.GitHubWebhookSecret,
		ClientSecret:  cfg.GitHubClientSecret,
		LLMAPIKey:     cfg.LLMAPIKeySecret,
	})
	if err != nil {
		log.Fatalf("failed to load credentials: %v", err)
	}

	signer, err := githubapp.NewSigner(cfg.GitHubAppID, bundle.AppPrivateKeyPEM)
	if err != nil {
		log.Fatalf("failed to init app signer: %v", err)
	}
	tokenManager := githubapp.NewTokenManager(signer, cfg.GitHubAPIBaseURL)
	repoClient := ghrepo.New(cfg.GitHubAPIBaseURL)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   "codemorph:jobs",
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}

	var gen ai.TextGenerator
	switch cfg.LLMProvider {
	case "openai-compat":
		gen = ai.NewOpenAICompatGenerator(cfg.LLMBaseURL, bundle.LLMAPIKey, cfg.LLMModel)
	default:
		gen, err = ai.NewAnthropicGenerator(bundle.LLMAPIKey, cfg.LLMModel)
		if err != nil {
			log.Fatalf("failed to init llm provider: %v", err)
		}
	}
	engine := convert.New(gen)

	orchestrator := worker.NewOrchestrator(st, tokenManager, repoClient, engine, worker.Config{
		MaxFileSize:       cfg.MaxFileSizeBytes,
		MaxFiles:          cfg.MaxFilesPerRepo,
		FileFanout:        cfg.FileFanout,
		MaxRunningPerUser: cfg.MaxRunningJobsPerUser,
	})
	jobQueue.Start(ctx, cfg.WorkerCount, orchestrator.Run)
	go worker.RunRecovery(ctx, st, jobQueue, time.Minute)

	limiter, err := ratelimit.New(cfg.RedisAddr, cfg.RedisPassword, "codemorph:ratelimit", time.Minute)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}

	srvCfg := server.Config{
		Store:           st,
		Queue:           jobQueue,
		WebhookSecret:   bundle.WebhookSecret,
		RegisterLimiter: limiter.Scope("register", cfg.RegisterRateLimitPerMin),
		ConvertLimiter:  limiter.Scope("convert", cfg.ConvertRateLimitPerMin),
	}
	httpServer := server.New(srvCfg)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("codemorph server listening", "addr", addr, "workers", cfg.WorkerCount)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
