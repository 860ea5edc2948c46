package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"label-settlement-go/internal/api"
	"label-settlement-go/internal/carriers"
	"label-settlement-go/internal/database"
	"label-settlement-go/internal/formance"
	"label-settlement-go/internal/idgen"
	"label-settlement-go/internal/importer"
	"label-settlement-go/internal/ledger"
	"label-settlement-go/internal/metrics"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/notify"
	"label-settlement-go/internal/reconcile"
	"label-settlement-go/internal/settlement"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService  *database.Service
	Ledger     *ledger.Service
	Mirror     *formance.Service
	Catalog    *carriers.Catalog
	Registry   *carriers.Registry
	Metrics    *metrics.SettlementMetrics
	Settlement *settlement.Service
	Importer   *importer.Importer
	Reconciler *reconcile.Engine
	ApiService *api.LedgerService

	redis *redis.Client
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires the full settlement stack. Metrics register with
// the default Prometheus registry.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	svc := &Services{DbService: dbService}

	locker, err := svc.newLocker(ctx, cfg.Ledger)
	if err != nil {
		svc.Close()
		return nil, err
	}

	var journal ledger.Journal = ledger.NopJournal{}
	if cfg.Formance.StackURL != "" {
		mirror, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("failed to initialize ledger mirror: %w", err)
		}
		svc.Mirror = mirror
		journal = mirror
	} else {
		zap.L().Info("Ledger mirror disabled (FORMANCE_STACK_URL not set)")
	}
	svc.Ledger = ledger.NewService(dbService, locker, journal, cfg.Ledger.MaxRetries)

	zap.L().Info("Loading carrier catalogue", zap.String("file", cfg.Carriers.CatalogFile))
	svc.Catalog, err = carriers.LoadCatalog(cfg.Carriers.CatalogFile)
	if err != nil {
		svc.Close()
		return nil, err
	}
	zap.L().Info("Carrier catalogue loaded", zap.Strings("carriers", svc.Catalog.Codes()))

	svc.Registry = carriers.NewRegistry(svc.Catalog, carriers.Timeouts{
		Init:     cfg.Carriers.InitTimeout,
		Products: cfg.Carriers.ProductsTimeout,
		Label:    cfg.Carriers.LabelTimeout,
		Default:  cfg.Carriers.DefaultTimeout,
	})
	svc.Metrics = metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)
	svc.Settlement = settlement.NewService(dbService, svc.Ledger, svc.Registry, svc.Catalog, svc.Metrics)

	ids, err := idgen.NewGenerator(dbService, cfg.Import.IdLeaseStep, cfg.Import.NodeId)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.Importer = importer.NewImporter(dbService, svc.Settlement, ids, svc.Catalog, newNotifier(cfg.Notify), svc.Metrics, cfg.Import)
	svc.Reconciler = reconcile.NewEngine(dbService, svc.Ledger, svc.Metrics, cfg.Reconcile)

	var mirror api.BalanceMirror
	if svc.Mirror != nil {
		mirror = svc.Mirror
	}
	svc.ApiService = api.NewLedgerService(dbService, svc.Ledger, mirror)

	return svc, nil
}

// InitializeDatabaseOnly initializes just the database service without
// carriers or the mirror. Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.Mirror != nil {
		cs.Mirror.Close()
	}
	if cs.redis != nil {
		if err := cs.redis.Close(); err != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func (cs *Services) newLocker(ctx context.Context, cfg models.LedgerConfig) (ledger.Locker, error) {
	if cfg.LockBackend != "redis" {
		zap.L().Info("Using in-process ledger locks")
		return ledger.NewKeyedMutex(), nil
	}

	zap.L().Info("Using redis ledger locks", zap.String("addr", cfg.RedisAddr))
	cs.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := cs.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to reach redis at %s: %w", cfg.RedisAddr, err)
	}
	return ledger.NewRedisLocker(cs.redis, cfg.LockTTL, cfg.LockRetry)
}

func newNotifier(cfg models.NotifyConfig) notify.Notifier {
	if cfg.SMTPHost == "" {
		return notify.LogNotifier{}
	}
	n, err := notify.NewSMTPNotifier(cfg)
	if err != nil {
		zap.L().Warn("SMTP notifier unavailable, logging notifications instead", zap.Error(err))
		return notify.LogNotifier{}
	}
	return n
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
