// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/sitewatch/compliance-scanner/internal/alert"
	"github.com/sitewatch/compliance-scanner/internal/api"
	"github.com/sitewatch/compliance-scanner/internal/browser"
	cachememory "github.com/sitewatch/compliance-scanner/internal/cache/memory"
	"github.com/sitewatch/compliance-scanner/internal/classify"
	"github.com/sitewatch/compliance-scanner/internal/clock/system"
	"github.com/sitewatch/compliance-scanner/internal/config"
	"github.com/sitewatch/compliance-scanner/internal/crawl"
	"github.com/sitewatch/compliance-scanner/internal/hash/sha256"
	"github.com/sitewatch/compliance-scanner/internal/id/uuid"
	"github.com/sitewatch/compliance-scanner/internal/memguard"
	"github.com/sitewatch/compliance-scanner/internal/orchestrator"
	publishermemory "github.com/sitewatch/compliance-scanner/internal/publisher/memory"
	publisherpubsub "github.com/sitewatch/compliance-scanner/internal/publisher/pubsub"
	"github.com/sitewatch/compliance-scanner/internal/scanner"
	storagegcs "github.com/sitewatch/compliance-scanner/internal/storage/gcs"
	storagelocal "github.com/sitewatch/compliance-scanner/internal/storage/local"
	storagememory "github.com/sitewatch/compliance-scanner/internal/storage/memory"
	storagepostgres "github.com/sitewatch/compliance-scanner/internal/storage/postgres"
)

// App holds all the shared, long-lived services for the application. It is
// initialized once at startup and passed to the components that need it.
type App struct {
	Logger       *zap.Logger
	Guard        *memguard.Guard
	Pool         *browser.Pool
	Orchestrator *orchestrator.Orchestrator
	Server       *api.Server

	resultStore  *storagepostgres.ResultStore
	pubsubClient *gpubsub.Client
	publisher    *publisherpubsub.Publisher
	gcsClient    *gcsclient.Client
}

// New wires every service from config. Collaborators without configuration
// fall back to in-memory implementations so the binary runs standalone.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Logger: logger}

	guard, err := memguard.New(memguard.Config{
		WarningPercent:   cfg.Memory.WarningPercent,
		CriticalPercent:  cfg.Memory.CriticalPercent,
		EmergencyPercent: cfg.Memory.EmergencyPercent,
		SampleInterval:   time.Duration(cfg.Memory.SampleIntervalSeconds) * time.Second,
	}, logger.Named("memguard"))
	if err != nil {
		return nil, fmt.Errorf("init memory guard: %w", err)
	}
	a.Guard = guard

	clk := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	a.Pool = browser.NewPool(browser.Config{
		MaxInstances:     cfg.Browser.MaxInstances,
		InstanceMemoryMB: cfg.Browser.InstanceMemoryMB,
		HeadroomTimeout:  time.Duration(cfg.Memory.HeadroomWaitSeconds) * time.Second,
		UserAgent:        cfg.Browser.UserAgent,
	}, guard, idGen, logger.Named("pool"))

	worker := crawl.NewWorker(crawl.Config{
		NavigationTimeout: time.Duration(cfg.Crawl.NavTimeoutSeconds) * time.Second,
		SettleDelay:       time.Duration(cfg.Crawl.SettleDelayMs) * time.Millisecond,
		RetryCount:        cfg.Crawl.RetryCount,
		RetryBaseDelay:    time.Duration(cfg.Crawl.RetryBaseDelayMs) * time.Millisecond,
		TextCap:           cfg.Crawl.TextCap,
		ImageCap:          cfg.Crawl.ImageCap,
		DegradedTimeout:   time.Duration(cfg.Crawl.DegradedTimeoutSeconds) * time.Second,
		DegradedTextCap:   cfg.Crawl.DegradedTextCap,
		RespectRobots:     cfg.Crawl.RespectRobots,
		UserAgent:         cfg.Browser.UserAgent,
	}, logger.Named("crawl"))

	chain := classify.NewChain(classify.Config{
		TextTimeout:  time.Duration(cfg.Classify.TextTimeoutSeconds) * time.Second,
		ImageTimeout: time.Duration(cfg.Classify.ImageTimeoutSeconds) * time.Second,
	}, buildProviders(cfg.Classify), logger)

	cache := cachememory.NewCache(clk)
	guard.SetCacheFlusher(cache)

	var alertSink scanner.AlertSink
	if cfg.Alert.Endpoint != "" {
		alertSink = alert.NewWebhookSink(alert.Config{
			Endpoint: cfg.Alert.Endpoint,
			APIKey:   cfg.Alert.APIKey,
			Timeout:  time.Duration(cfg.Alert.TimeoutSeconds) * time.Second,
		}, nil, logger)
	}

	results, err := a.buildResultStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	evidence, err := a.buildEvidenceStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Orchestrator = orchestrator.New(
		a.Pool,
		worker,
		chain,
		cache,
		alertSink,
		results,
		evidence,
		publisher,
		hasher,
		clk,
		idGen,
		orchestrator.Config{
			ScanTimeout:      cfg.ScanTimeout(),
			CacheTTL:         cfg.CacheTTL(),
			AlertThreshold:   cfg.Scanner.AlertThreshold,
			EvidencePrefix:   cfg.Storage.Prefix,
			Topic:            cfg.PubSub.TopicName,
			BatchConcurrency: cfg.Scanner.BatchConcurrency,
		},
		logger,
	)

	a.Server = api.NewServer(a.Orchestrator, guard, results, clk, cfg, logger)
	return a, nil
}

func buildProviders(cfg config.ClassifyConfig) []scanner.Provider {
	var providers []scanner.Provider
	if cfg.PrimaryEndpoint != "" {
		providers = append(providers, classify.NewHTTPProvider(classify.HTTPProviderConfig{
			Name:     "primary",
			Method:   scanner.MethodPrimaryAPI,
			Endpoint: cfg.PrimaryEndpoint,
			APIKey:   cfg.PrimaryAPIKey,
			Timeout:  time.Duration(cfg.TextTimeoutSeconds) * time.Second,
		}, nil))
	}
	if cfg.SecondaryEndpoint != "" {
		providers = append(providers, classify.NewHTTPProvider(classify.HTTPProviderConfig{
			Name:     "secondary",
			Method:   scanner.MethodSecondaryAPI,
			Endpoint: cfg.SecondaryEndpoint,
			APIKey:   cfg.SecondaryAPIKey,
			Timeout:  time.Duration(cfg.TextTimeoutSeconds) * time.Second,
		}, nil))
	}
	providers = append(providers, classify.NewLocalProvider(nil))
	return providers
}

func (a *App) buildResultStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (scanner.ResultStore, error) {
	if cfg.DB.DSN == "" {
		logger.Info("no database configured, using in-memory result history")
		return storagememory.NewResultStore(), nil
	}
	store, err := storagepostgres.NewResultStore(ctx, storagepostgres.ResultStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: int32(cfg.DB.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("init result store: %w", err)
	}
	a.resultStore = store
	logger.Info("using postgres result history")
	return store, nil
}

func (a *App) buildEvidenceStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (scanner.EvidenceStore, error) {
	switch {
	case cfg.Storage.GCSBucket != "":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := storagegcs.New(client, storagegcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs evidence store: %w", err)
		}
		logger.Info("using gcs evidence store", zap.String("bucket", cfg.Storage.GCSBucket))
		return store, nil
	case cfg.Storage.LocalDir != "":
		store, err := storagelocal.New(storagelocal.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local evidence store: %w", err)
		}
		logger.Info("using local evidence store", zap.String("dir", cfg.Storage.LocalDir))
		return store, nil
	default:
		logger.Info("no evidence storage configured, using in-memory store")
		return storagememory.NewEvidenceStore(), nil
	}
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (scanner.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		logger.Info("no pubsub project configured, using in-memory publisher")
		return publishermemory.New(), nil
	}
	client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.pubsubClient = client
	a.publisher = publisherpubsub.New(client)
	logger.Info("using pubsub publisher", zap.String("project", cfg.PubSub.ProjectID))
	return a.publisher, nil
}

// Close gracefully shuts down all services in the container.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.resultStore != nil {
		a.resultStore.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Logger.Warn("close pubsub client", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("close gcs client", zap.Error(err))
		}
	}
}
