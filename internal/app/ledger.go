package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gw-ledger/internal/clock"
	"gw-ledger/internal/config"
	"gw-ledger/internal/db"
	"gw-ledger/internal/fraud"
	"gw-ledger/internal/kafka"
	"gw-ledger/internal/models"
	"gw-ledger/internal/notify"
	"gw-ledger/internal/service"
	"gw-ledger/internal/storage"
	"gw-ledger/internal/storage/memory"
	"gw-ledger/internal/storage/postgres"
	"gw-ledger/internal/storage/wal"
	"gw-ledger/pkg/logger"
)

type adminLister interface {
	Admins(ctx context.Context) ([]models.Account, error)
}

// LedgerApp owns the ledger worker: storage, fraud engine, ledger service and
// notification delivery.
type LedgerApp struct {
	log     *slog.Logger
	logFile *os.File
	cfg     *config.Config
	clock   clock.Clock

	pool      *pgxpool.Pool
	walStore  *wal.Store
	store     storage.LedgerStore
	txManager storage.TxManager
	directory storage.Directory
	admins    adminLister

	producer   kafka.Producer
	dispatcher *notify.Dispatcher
	engine     *fraud.Engine
	scheduler  *fraud.Scheduler
	ledger     *service.LedgerService
}

func NewLedgerApp() (*LedgerApp, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loggerWithFile, err := logger.NewLoggerWithFile(cfg.LogFile, logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		return nil, err
	}
	log := loggerWithFile.Logger

	log.Info("initializing ledger worker",
		slog.String("storage_driver", cfg.StorageDriver),
		slog.Bool("kafka_enabled", cfg.Kafka.Enabled))

	return &LedgerApp{
		log:     log,
		logFile: loggerWithFile.LogFile,
		cfg:     cfg,
		clock:   clock.Real{},
	}, nil
}

func (a *LedgerApp) BuildStorageLayer(ctx context.Context) error {
	switch a.cfg.StorageDriver {
	case config.DriverPostgres:
		a.log.Info("running database migrations")
		if err := db.RunMigrations(a.cfg.DB.MigrationURL(), a.cfg.Migrations); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		pool, err := db.NewPool(ctx, a.cfg.DB.DSN(), db.DefaultPoolConfig(), a.log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.pool = pool

		users := postgres.NewUserRepository(pool)
		a.store = postgres.NewLedgerRepository(pool)
		a.txManager = postgres.NewTxManager(pool)
		a.directory = users
		a.admins = users

	case config.DriverWAL:
		store, err := wal.Open(a.cfg.WALDir)
		if err != nil {
			return fmt.Errorf("failed to open ledger WAL: %w", err)
		}
		a.walStore = store
		a.store = store
		a.txManager = store
		a.log.Info("ledger WAL replayed",
			slog.String("dir", a.cfg.WALDir),
			slog.Uint64("index", store.CurrentIndex()))

		if err := a.loadDirectory(); err != nil {
			return err
		}

	case config.DriverMemory:
		store := memory.NewStore()
		a.store = store
		a.txManager = store

		if err := a.loadDirectory(); err != nil {
			return err
		}
	}

	a.log.Info("storage layer ready", slog.String("driver", a.cfg.StorageDriver))
	return nil
}

func (a *LedgerApp) loadDirectory() error {
	dir, err := memory.LoadDirectory(a.cfg.DirectoryFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load account directory: %w", err)
		}
		a.log.Warn("account directory file not found, starting empty",
			slog.String("file", a.cfg.DirectoryFile))
		dir = memory.NewDirectory()
	}
	a.directory = dir
	a.admins = dir
	return nil
}

func (a *LedgerApp) BuildNotifyLayer() error {
	var sink notify.Sink
	if a.cfg.Kafka.Enabled {
		a.log.Info("initializing kafka producer", slog.Any("brokers", a.cfg.Kafka.Brokers))
		producer, err := kafka.NewKafkaProducer(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, a.log)
		if err != nil {
			return fmt.Errorf("failed to initialize kafka: %w", err)
		}
		a.producer = producer
		sink = producer
	} else {
		a.log.Info("kafka disabled, notifications go to the log")
		sink = notify.NewLogSink(a.log)
	}

	a.dispatcher = notify.NewDispatcher(sink, a.cfg.Notify.Workers, a.cfg.Notify.QueueSize, a.clock, a.log)
	return nil
}

func (a *LedgerApp) BuildLedgerLayer() error {
	if a.store == nil || a.txManager == nil || a.directory == nil {
		err := errors.New("storage not initialized, call BuildStorageLayer first")
		a.log.Error(err.Error())
		return err
	}
	if a.dispatcher == nil {
		err := errors.New("dispatcher not initialized, call BuildNotifyLayer first")
		a.log.Error(err.Error())
		return err
	}

	fraudCfg := fraud.Config{
		LargeAmountThreshold: a.cfg.Fraud.LargeAmount,
		VelocityWindow:       a.cfg.Fraud.VelocityWindow,
		VelocityThreshold:    a.cfg.Fraud.VelocityThreshold,
		UnusualMinRepeats:    a.cfg.Fraud.UnusualMinRepeats,
		UnusualMinAmount:     a.cfg.Fraud.UnusualMinAmount,
		UnusualRoundMultiple: a.cfg.Fraud.UnusualRoundMultiple,
	}

	a.engine = fraud.NewEngine(a.store, a.txManager, a.dispatcher, a.clock, fraudCfg, a.log.With(slog.String("component", "fraud")))
	a.scheduler = fraud.NewScheduler(a.engine, a.cfg.Fraud.RescanInterval, a.log)
	a.ledger = service.NewLedgerService(
		a.store,
		a.txManager,
		a.directory,
		a.engine,
		a.dispatcher,
		a.clock,
		a.cfg.Ledger.Currency,
		a.log.With(slog.String("component", "ledger")),
	)

	a.log.Info("ledger layer ready")
	return nil
}

// SeedAdminWallet gives the administrator its starting balance. The account
// is ADMIN_ACCOUNT_ID or, when unset, the first administrator in the
// directory. Missing administrators are not an error.
func (a *LedgerApp) SeedAdminWallet(ctx context.Context) error {
	if a.ledger == nil {
		return errors.New("ledger not initialized, call BuildLedgerLayer first")
	}

	adminID := a.cfg.Ledger.AdminAccountID
	if adminID == "" {
		admins, err := a.admins.Admins(ctx)
		if err != nil {
			return fmt.Errorf("failed to list administrators: %w", err)
		}
		if len(admins) == 0 {
			a.log.Warn("no administrator found, admin wallet not seeded")
			return nil
		}
		adminID = admins[0].ID
	}

	balance, seeded, err := a.ledger.InitAdminWallet(ctx, adminID, a.cfg.Ledger.AdminSeed)
	if err != nil {
		return fmt.Errorf("failed to seed admin wallet: %w", err)
	}
	a.log.Info("admin wallet ready",
		slog.String("account_id", adminID),
		slog.String("balance", balance.Amount.String()),
		slog.Bool("seeded", seeded))
	return nil
}

// Ledger exposes the service to in-process callers.
func (a *LedgerApp) Ledger() *service.LedgerService {
	return a.ledger
}

func (a *LedgerApp) Run() error {
	if a.scheduler == nil {
		return errors.New("ledger not initialized, call BuildLedgerLayer first")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.scheduler.Start(ctx)
	a.log.Info("ledger worker running")

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-shutdownChan
	a.log.Info("shutdown signal received", slog.String("signal", sig.String()))

	cancel()
	a.Shutdown()
	return nil
}

func (a *LedgerApp) Shutdown() {
	a.log.Info("ledger worker stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.scheduler != nil {
		if err := a.scheduler.Shutdown(ctx); err != nil {
			a.log.Error("failed to stop rescan scheduler", slog.String("error", err.Error()))
		}
	}

	if a.dispatcher != nil {
		if err := a.dispatcher.Shutdown(ctx); err != nil {
			a.log.Error("failed to stop notification dispatcher", slog.String("error", err.Error()))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Error("failed to close kafka producer", slog.String("error", err.Error()))
		}
	}

	if a.walStore != nil {
		a.log.Info("closing ledger WAL")
		if err := a.walStore.Close(); err != nil {
			a.log.Error("failed to close ledger WAL", slog.String("error", err.Error()))
		}
	}

	if a.pool != nil {
		a.log.Info("closing database connection")
		a.pool.Close()
	}

	a.log.Info("ledger worker stopped")
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			a.log.Error("failed to close log file", slog.String("error", err.Error()))
		}
	}
}
