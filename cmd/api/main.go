package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kidsdream/api/internal/handlers"
	"github.com/kidsdream/api/internal/payments"
	"github.com/kidsdream/api/internal/platform/auth"
	"github.com/kidsdream/api/internal/platform/config"
	pfirestore "github.com/kidsdream/api/internal/platform/firestore"
	"github.com/kidsdream/api/internal/platform/idempotency"
	"github.com/kidsdream/api/internal/platform/jobs"
	"github.com/kidsdream/api/internal/platform/observability"
	"github.com/kidsdream/api/internal/platform/secrets"
	platformstorage "github.com/kidsdream/api/internal/platform/storage"
	"github.com/kidsdream/api/internal/repositories"
	firestoreRepo "github.com/kidsdream/api/internal/repositories/firestore"
	"github.com/kidsdream/api/internal/services"
	"github.com/kidsdream/api/internal/storygen"
)

const (
	publishAttempts = 3
	publishDelay    = 200 * time.Millisecond
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger("kidsdream-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)
	clientOpts := googleClientOptions(cfg)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	storyRepo, err := firestoreRepo.NewStoryRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise story repository", zap.Error(err))
	}
	subscriptionRepo, err := firestoreRepo.NewSubscriptionRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise subscription repository", zap.Error(err))
	}

	var (
		eventPublisher services.EventPublisher = jobs.NoopEventPublisher{Logger: logger.Named("events")}
		eventTopic     *pubsub.Topic
	)
	if topicName := strings.TrimSpace(cfg.Events.Topic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID, clientOpts...)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		eventTopic = pubsubClient.Topic(topicName)
		defer eventTopic.Stop()
		publisher, err := jobs.NewPubSubEventPublisher(eventTopic, jobs.WithPublishRetry(publishAttempts, publishDelay))
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		eventPublisher = publisher
	}

	var (
		exportStore   services.ExportStore
		storageClient *cloudstorage.Client
	)
	if bucket := strings.TrimSpace(cfg.Stories.ExportBucket); bucket != "" {
		storageClient, err = cloudstorage.NewClient(ctx, clientOpts...)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		store, err := newExportStore(storageClient, cfg)
		if err != nil {
			logger.Warn("story exports disabled", zap.Error(err))
		} else {
			exportStore = store
		}
	}

	systemService, err := newSystemService(firestoreProvider, fetcher, eventTopic, storageClient, cfg, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	idempotencyStore, err := idempotency.NewFirestoreStore(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	generateIdempotency := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	var janitorWG sync.WaitGroup
	janitorWG.Add(1)
	go func() {
		defer janitorWG.Done()
		idempotency.RunJanitor(janitorCtx, idempotencyStore, cfg.Idempotency.CleanupInterval,
			cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	firebaseAuth, err := auth.NewFirebase(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase auth", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseAuth)

	var billing payments.Provider
	if cfg.Stripe.Enabled() {
		paymentsLogger := logger.Named("payments")
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Stripe.APIKey,
			Logger: func(ctx context.Context, event string, fields map[string]any) {
				zFields := make([]zap.Field, 0, len(fields)+1)
				zFields = append(zFields, zap.String("event", event))
				for k, v := range fields {
					zFields = append(zFields, zap.Any(k, v))
				}
				paymentsLogger.Debug("stripe log", zFields...)
			},
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe provider", zap.Error(err))
		}
		billing = stripeProvider
	} else {
		logger.Warn("stripe not configured; premium checkout disabled")
	}

	var webhookParser handlers.BillingEventParser
	if secret := strings.TrimSpace(cfg.Stripe.WebhookSecret); secret != "" {
		verifier, err := payments.NewWebhookVerifier(secret)
		if err != nil {
			logger.Fatal("failed to initialise stripe webhook verifier", zap.Error(err))
		}
		webhookParser = verifier
	}

	engine, err := newStoryEngine(cfg)
	if err != nil {
		logger.Fatal("failed to load story corpus", zap.Error(err))
	}

	storyService, err := services.NewStoryService(services.StoryServiceDeps{
		Stories:       storyRepo,
		Subscriptions: subscriptionRepo,
		Generator:     engine,
		Themes:        engine.Corpus(),
		Exports:       exportStore,
		Events:        eventPublisher,
		RateLimiter:   services.NewPerMinuteRateLimiter(cfg.Stories.GenerateRatePerMinute, time.Now),
		Metrics:       observability.NewStoryMetrics(),
		Logger:        logger,
		Clock:         time.Now,
		FreeQuota:     cfg.Stories.FreeMonthlyQuota,
	})
	if err != nil {
		logger.Fatal("failed to initialise story service", zap.Error(err))
	}

	subscriptionService, err := services.NewSubscriptionService(services.SubscriptionServiceDeps{
		Subscriptions:  subscriptionRepo,
		Billing:        billing,
		Events:         eventPublisher,
		Claims:         firebaseAuth,
		Logger:         logger,
		Clock:          time.Now,
		FreeQuota:      cfg.Stories.FreeMonthlyQuota,
		PremiumPriceID: cfg.Stripe.PremiumPriceID,
		AppURL:         cfg.App.URL,
	})
	if err != nil {
		logger.Fatal("failed to initialise subscription service", zap.Error(err))
	}

	storyHandlers := handlers.NewStoryHandlers(authenticator, storyService, handlers.WithGenerateIdempotency(generateIdempotency))
	subscriptionHandlers := handlers.NewSubscriptionHandlers(authenticator, subscriptionService)
	catalogHandlers := handlers.NewCatalogHandlers(storyService, subscriptionService)
	webhookHandlers := handlers.NewWebhookHandlers(webhookParser, subscriptionService)
	maintenanceHandlers := handlers.NewMaintenanceHandlers(subscriptionService)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithAPIRoutes(storyHandlers.Routes),
		handlers.WithAPIRoutes(subscriptionHandlers.Routes),
		handlers.WithAPIRoutes(catalogHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts,
			handlers.WithInternalMiddlewares(oidcMiddleware),
			handlers.WithInternalRoutes(maintenanceHandlers.Routes),
		)
	} else {
		logger.Warn("maintenance routes disabled: OIDC audience not configured")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("kidsdream api listening",
			zap.String("version", buildInfo.Version),
			zap.Bool("checkout", billing != nil),
			zap.Bool("exports", exportStore != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	janitorCancel()
	janitorWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["KD_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["KD_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(env["KD_ENVIRONMENT"])
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func googleClientOptions(cfg config.Config) []option.ClientOption {
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func newStoryEngine(cfg config.Config) (*storygen.Engine, error) {
	var (
		corpus *storygen.Corpus
		err    error
	)
	if path := strings.TrimSpace(cfg.Stories.CorpusPath); path != "" {
		corpus, err = storygen.LoadCorpusFile(path)
	} else {
		corpus, err = storygen.DefaultCorpus()
	}
	if err != nil {
		return nil, err
	}
	return storygen.NewEngine(corpus)
}

func newExportStore(client *cloudstorage.Client, cfg config.Config) (*platformstorage.ExportStore, error) {
	signer, err := newURLSigner(client, strings.TrimSpace(cfg.Stories.SignerKey))
	if err != nil {
		return nil, err
	}
	signedURLs, err := platformstorage.NewClient(signer)
	if err != nil {
		return nil, err
	}
	uploader, err := platformstorage.NewGCSUploader(client)
	if err != nil {
		return nil, err
	}
	return platformstorage.NewExportStore(uploader, signedURLs, cfg.Stories.ExportBucket, cfg.Stories.SignedURLTTL)
}

// newURLSigner prefers an explicit key (inline JSON or a file path) and
// otherwise signs with the runtime service account.
func newURLSigner(client *cloudstorage.Client, key string) (platformstorage.URLSigner, error) {
	switch {
	case key == "":
		return platformstorage.NewBucketSigner(client)
	case strings.HasPrefix(key, "{"):
		return platformstorage.NewKeySigner([]byte(key))
	default:
		return platformstorage.NewKeySignerFromFile(key)
	}
}

func newSystemService(provider *pfirestore.Provider, fetcher *secrets.Fetcher, topic *pubsub.Topic, storage *cloudstorage.Client, cfg config.Config, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 4)
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Critical: true,
			Timeout:  1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return provider.Ping(ctx, "subscriptions")
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	if storage != nil && cfg.Stories.ExportBucket != "" {
		bucket := storage.Bucket(cfg.Stories.ExportBucket)
		checks = append(checks, repositories.DependencyCheck{
			Name:    "exportBucket",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := bucket.Attrs(ctx)
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system-healthz"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
	})
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	oidc := cfg.Maintenance.OIDC
	if strings.TrimSpace(oidc.JWKSURL) == "" || strings.TrimSpace(oidc.Audience) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := auth.NewJWKSCache(oidc.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache, logger)
	if len(oidc.Issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(strings.TrimSpace(oidc.Audience), oidc.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("KD_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("KD_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("KD_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/kidsdream/api/internal/platform/secrets")),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("KD_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the process refuses to start without.
// Stripe credentials become mandatory once a premium price is configured.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if env == nil {
		return required
	}
	if strings.TrimSpace(env["KD_STRIPE_PREMIUM_PRICE_ID"]) != "" {
		required = append(required, "Stripe.APIKey", "Stripe.WebhookSecret")
	}
	return required
}
