package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/dmcommerce/config"
	"github.com/yoockh/dmcommerce/internal/api/handlers"
	"github.com/yoockh/dmcommerce/internal/api/middleware"
	"github.com/yoockh/dmcommerce/internal/api/routes"
	"github.com/yoockh/dmcommerce/internal/cache"
	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/logger"
	"github.com/yoockh/dmcommerce/internal/metrics"
	"github.com/yoockh/dmcommerce/internal/providers/channel"
	"github.com/yoockh/dmcommerce/internal/providers/llm"
	"github.com/yoockh/dmcommerce/internal/providers/stt"
	mongorepo "github.com/yoockh/dmcommerce/internal/repositories/mongo"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/rules"
	"github.com/yoockh/dmcommerce/internal/services"
	"github.com/yoockh/dmcommerce/internal/storage"
	"github.com/yoockh/dmcommerce/internal/workers"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("postgres init failed")
	}
	if cfg.AutoMigrate {
		if err := config.AutoMigrate(config.PostgresDB); err != nil {
			log.WithError(err).Fatal("postgres migration failed")
		}
	}
	log.Info("postgres connected")

	// Init MongoDB; the event log is optional
	var events mongorepo.EventRepository
	if err := config.InitMongo(); err != nil {
		log.WithError(err).Warn("mongo unavailable, event log disabled")
	} else {
		if err := config.EnsureMongoIndexes(); err != nil {
			log.WithError(err).Warn("mongo index setup failed")
		}
		events = mongorepo.NewEventRepo(config.MongoDatabase(), time.Duration(cfg.EventTTLDays)*24*time.Hour)
		log.Info("mongo connected")
	}

	// Init Redis; without it the catalog cache is in-process and the webhook
	// processes inline
	var shared cache.Cache = cache.NewMemoryCache()
	var queue handlers.Queue
	if err := config.InitRedis(); err != nil {
		log.WithError(err).Warn("redis unavailable, using in-process cache and inline processing")
	} else {
		shared = cache.NewRedisCache(config.RedisClient, "dmbot:")
		queue = &workers.StreamQueue{Redis: config.RedisClient, Stream: cfg.InboundStream, MaxLen: 100000}
		log.Info("redis connected")
	}

	ruleSet, err := rules.FromEnv()
	if err != nil {
		log.WithError(err).Fatal("rules load failed")
	}
	cls := classify.New(ruleSet)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	db := config.PostgresDB
	users := pgrepo.NewUserRepo(db)
	convos := pgrepo.NewConversationRepo(db)
	messages := pgrepo.NewMessageRepo(db)
	states := pgrepo.NewStateRepo(db)
	products := pgrepo.NewProductRepo(db)
	behaviorRepo := pgrepo.NewBehaviorRepo(db)
	followupRepo := pgrepo.NewFollowupRepo(db)
	ticketRepo := pgrepo.NewTicketRepo(db)
	usageRepo := pgrepo.NewUsageRepo(db)
	knowledge := pgrepo.NewKnowledgeRepo(db)

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	sender := channel.NewHTTPSender(cfg.ChannelBaseURL, cfg.ServiceAPIKey, httpClient)
	userClient := channel.NewHTTPUserClient(cfg.ChannelBaseURL, cfg.ServiceAPIKey, httpClient)

	providers := []llm.Provider{
		llm.NewOpenAICompatible(services.ProviderOpenAI, cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, httpClient),
		llm.NewOpenAICompatible(services.ProviderDeepSeek, cfg.DeepSeekBaseURL, cfg.DeepSeekAPIKey, cfg.DeepSeekModel, httpClient),
	}
	if cfg.GeminiProject != "" {
		gemini, err := llm.NewVertexGemini(ctx, cfg.GeminiProject, cfg.GeminiLocation, cfg.GeminiModel, cfg.GoogleCredentials)
		if err != nil {
			log.WithError(err).Warn("gemini unavailable")
		} else {
			defer gemini.Close()
			providers = append(providers, gemini)
		}
	}

	var transcriber stt.Provider
	if cfg.STTEnabled {
		speech, err := stt.NewGoogleSpeech(ctx, cfg.GoogleCredentials)
		if err != nil {
			log.WithError(err).Warn("speech-to-text unavailable")
		} else {
			defer speech.Close()
			transcriber = speech
		}
	}
	var uploader storage.Uploader
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCSUploader(ctx, cfg.GCSBucket, cfg.GoogleCredentials)
		if err != nil {
			log.WithError(err).Warn("media archive unavailable")
		} else {
			defer gcs.Close()
			uploader = gcs
		}
	}

	limits := services.PlanLimits{
		MaxButtons:           cfg.MaxButtons,
		MaxQuickReplies:      cfg.MaxQuickReplies,
		MaxTemplateSlides:    cfg.MaxTemplateSlides,
		QuickReplyTitleMax:   cfg.QuickReplyTitleMax,
		QuickReplyPayloadMax: cfg.QuickReplyPayloadMax,
	}
	replies := ruleSet.Replies

	stateSvc := services.NewStateService(states)
	catalog := services.NewCatalogService(products, cls, shared, cfg.ProductCatalogTTL, log)
	dispatcher := services.NewDispatcher(convos, messages, stateSvc, sender, events, m, services.DispatchConfig{
		Window:       cfg.Window(),
		MaxChars:     cfg.MaxResponseChars,
		Limits:       limits,
		FallbackText: replies.FallbackLLM,
	}, log)
	followups := services.NewFollowupService(followupRepo, users, knowledge, dispatcher, m, services.FollowupConfig{
		Enabled: cfg.FollowupEnabled,
		Delay:   cfg.FollowupDelay,
		Message: replies.Followup,
	}, log)

	pipeline := services.NewPipeline(services.PipelineDeps{
		Classifier: cls,
		Planner:    services.NewPlanner(cls, limits),
		Guardrail: services.NewGuardrail(cls, services.GuardConfig{
			MaxChars:     cfg.MaxResponseChars,
			MaxSentences: cfg.MaxResponseSentences,
			MaxEmojis:    1,
		}),
		OrderFlow:     services.NewOrderFlow(cls, users, services.OrderConfig{Enabled: cfg.OrderFormEnabled, TTL: cfg.OrderFormTTL}),
		Users:         services.NewUserService(users, userClient, cfg.RequestTimeout, log),
		Conversations: services.NewConversationService(convos, messages),
		State:         stateSvc,
		Profiles: services.NewProfileService(cls, users, services.ProfileConfig{
			ContinueTTL:       cfg.ProductContinueTTL,
			CrossSellEnabled:  cfg.CrossSellEnabled,
			CrossSellCooldown: cfg.CrossSellCooldown,
		}),
		Behavior: services.NewBehaviorService(cls, behaviorRepo, users, messages, events, services.BehaviorConfig{
			HistoryLimit:  cfg.BehaviorHistoryLimit,
			MinConfidence: cfg.BehaviorMinConfidence,
			VIPThreshold:  cfg.VIPScoreThreshold,
		}, log),
		Media: services.NewMediaService(httpClient, transcriber, uploader, services.MediaConfig{
			Language: cfg.STTLanguage,
			Timeout:  cfg.RequestTimeout,
		}, log),
		Matcher: services.NewProductMatcher(products, cls, services.MatcherConfig{
			Limit:             cfg.ProductMatchLimit,
			Candidates:        cfg.ProductMatchCandidates,
			MinScore:          cfg.ProductMatchMinScore,
			SingleTokenMinLen: cfg.ProductMatchSingleTokenMin,
		}),
		Context: services.NewContextBuilder(cls, knowledge, catalog, messages, behaviorRepo, events, services.ContextConfig{
			MaxHistory:      cfg.MaxHistoryMessages,
			MaxUserTurns:    cfg.LLMMaxUserTurns,
			MessageMaxChars: cfg.MaxResponseChars,
		}, log),
		Router: services.NewModelRouter(providers, cls, usageRepo, events, m, services.RouterConfig{
			Mode:        cfg.LLMMode,
			Temperature: cfg.LLMTemperature,
			Timeout:     cfg.LLMTimeout,
		}, log),
		Dispatcher: dispatcher,
		Followups:  followups,
		Tickets: services.NewTicketService(ticketRepo, events, services.EscalationConfig{
			Threshold: cfg.LoopEscalationThreshold,
			Cooldown:  cfg.LoopEscalationCooldown,
		}, log),
		Knowledge: knowledge,
		Events:    events,
		Cache:     shared,
		Metrics:   m,
		Log:       log,
	}, services.PipelineConfig{
		MatchLimit:   cfg.ProductMatchLimit,
		ContextLimit: cfg.LLMProductContextLimit,
	})

	// Workers
	var pool *workers.InboundWorkerPool
	if config.RedisClient != nil {
		pool = &workers.InboundWorkerPool{
			Redis:      config.RedisClient,
			Pipeline:   pipeline,
			NumWorkers: cfg.InboundWorkers,
			Logger:     log,
			Stream:     cfg.InboundStream,
			Group:      cfg.InboundGroup,
		}
		if err := pool.Start(ctx); err != nil {
			log.WithError(err).Fatal("inbound workers failed to start")
		}
	}
	followupWorker := &workers.FollowupWorker{Followups: followups, Interval: cfg.FollowupPoll, Logger: log}
	if err := followupWorker.Start(ctx); err != nil {
		log.WithError(err).Fatal("followup worker failed to start")
	}

	// Start Gin server
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log, "/ping", "/healthz", "/metrics"))
	routes.RegisterRoutes(r, routes.Deps{
		Health: handlers.NewHealthHandler(config.Ping),
		Webhook: handlers.NewWebhookHandler(queue, pipeline, handlers.WebhookConfig{
			MaxInline: int64(cfg.InboundWorkers) * 4,
			Timeout:   3 * cfg.RequestTimeout,
		}, log),
		Catalog:       handlers.NewCatalogHandler(catalog),
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		WebhookSecret: cfg.WebhookSecret,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.WithField("port", cfg.Port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdown(srv, pool, followupWorker, log)
}

func shutdown(srv *http.Server, pool *workers.InboundWorkerPool, fw *workers.FollowupWorker, log *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	done := make(chan struct{})
	go func() {
		if pool != nil {
			pool.Wait()
		}
		fw.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("workers did not stop in time")
	}
}
