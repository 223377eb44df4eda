package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"claimline/internal/agent"
	"claimline/internal/audit"
	"claimline/internal/auth"
	"claimline/internal/callstate"
	"claimline/internal/claims"
	"claimline/internal/config"
	"claimline/internal/ingress"
	"claimline/internal/llm"
	"claimline/internal/orchestrator"
	"claimline/internal/resilience"
	"claimline/internal/speech"
	"claimline/internal/telephony"
	"claimline/internal/tools"
	"claimline/pkg/logger"
	"claimline/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	store := callstate.NewPostgresStore(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	twilio := telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
	})

	model := llm.NewClient(llm.ClientConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Fast:    llm.TierConfig{Model: cfg.LLM.FastModel},
		Slow:    llm.TierConfig{Model: cfg.LLM.SlowModel},
		Timeout: cfg.LLM.RequestTimeout,
	})

	loop := &agent.Loop{
		Provider:     model,
		Policy:       agent.NewTierPolicy([]string{"update_claim"}),
		MaxRounds:    cfg.Agent.MaxRounds,
		Retry:        resilience.DefaultPolicy(),
		SystemPrompt: cfg.Agent.SystemPrompt,
		Log:          log,
	}

	recognizers := func(ctx context.Context) (speech.Recognizer, error) {
		return speech.NewWSRecognizer(speech.WSRecognizerConfig{
			URL:    cfg.Speech.RecognizerURL,
			APIKey: cfg.Speech.APIKey,
		}), nil
	}
	synth := speech.NewHTTPSynthesizer(speech.HTTPSynthesizerConfig{
		URL:    cfg.Speech.SynthesizerURL,
		APIKey: cfg.Speech.APIKey,
	})

	var callerCap orchestrator.CallerCap
	if cfg.Agent.CallerMaxActive > 0 {
		callerCap = orchestrator.NewRedisCallerCap(rdb, cfg.Agent.CallerMaxActive, 0)
	}

	adapter := ingress.NewAdapter(ingress.NewRedisDeduper(rdb, 0), log)

	orch := orchestrator.New(orchestrator.Config{
		MaxRecognitionRetries: cfg.Agent.MaxRecognitionRetries,
		MaxConcurrentTurns:    int64(cfg.Agent.MaxConcurrentTurns),
	}, orchestrator.Deps{
		Store: store,
		Agent: loop,
		Tools: tools.Deps{
			Claims:          claims.NewService(claims.NewPostgresRepo(db)),
			Telephony:       twilio,
			Audit:           auditSvc,
			Policy:          resilience.DefaultPolicy(),
			TransferTargets: cfg.Agent.TransferTargets,
		},
		Telephony:   twilio,
		Recognizers: recognizers,
		Synth:       synth,
		Ingress:     adapter,
		Audit:       auditSvc,
		Cap:         callerCap,
		Log:         log,
	})
	orch.Start(rootCtx)
	defer orch.Stop()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:     cfg,
		auth:    authManager,
		adapter: adapter,
		orch:    orch,
		store:   store,
		audit:   auditSvc,
		log:     log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Media-stream websockets outlive any sane write deadline; gin
		// upgrades hijack the connection so these apply to plain HTTP only.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
