package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	apiserver "github.com/mindroom-ai/instance-orchestrator/internal/api_server"
	"github.com/mindroom-ai/instance-orchestrator/internal/config"
	"github.com/mindroom-ai/instance-orchestrator/internal/events"
	handlers "github.com/mindroom-ai/instance-orchestrator/internal/handlers/v1alpha1"
	"github.com/mindroom-ai/instance-orchestrator/internal/monitor"
	"github.com/mindroom-ai/instance-orchestrator/internal/naming"
	"github.com/mindroom-ai/instance-orchestrator/internal/registration"
	"github.com/mindroom-ai/instance-orchestrator/internal/remote"
	"github.com/mindroom-ai/instance-orchestrator/internal/service"
	"github.com/mindroom-ai/instance-orchestrator/internal/store"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	err := runCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var runCmd = &cobra.Command{
	Use:   "instance-orchestrator",
	Short: "Run the MindRoom instance orchestrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer zap.S().Info("Orchestrator stopped")

		cfg, err := config.New()
		if err != nil {
			zap.S().Fatalw("reading configuration", "error", err)
		}

		zap.S().Info("Starting instance orchestrator...")
		zap.S().Info("Initializing data store")

		db, err := openDatabase(cfg)
		if err != nil {
			zap.S().Fatalw("opening database", "error", err)
		}
		if err := store.Migrate(db); err != nil {
			zap.S().Fatalw("migrating database", "error", err)
		}
		dataStore := store.NewStore(db)
		defer dataStore.Close()

		tiers, err := loadTiers(cfg)
		if err != nil {
			zap.S().Fatalw("loading tier table", "error", err)
		}

		var publisher *events.Publisher
		if cfg.Events.NATSURL != "" {
			publisher, err = events.NewPublisher(events.PublisherConfig{
				NATSURL:      cfg.Events.NATSURL,
				Timeout:      cfg.Events.FlushTimeout,
				MaxReconnect: cfg.Events.MaxReconnect,
			})
			if err != nil {
				zap.S().Fatalw("connecting to NATS", "error", err)
			}
			defer publisher.Close()
		}

		if cfg.Portal.URL != "" && cfg.Portal.ID != "" {
			registrar := registration.NewRegistrar(registration.Config{
				PortalURL:     cfg.Portal.URL,
				Endpoint:      cfg.Portal.Endpoint,
				ID:            cfg.Portal.ID,
				Name:          cfg.Portal.Name,
				CallbackURL:   cfg.Service.BaseUrl + "/api/v1alpha1",
				SchemaVersion: cfg.Portal.SchemaVersion,
				HTTPTimeout:   cfg.Portal.HTTPTimeout,
			})

			regCtx, regCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer regCancel()
			if err := registrar.Register(regCtx); err != nil {
				zap.S().Fatalw("registering with portal", "error", err)
			}
		}

		factory := remote.NewFactory(remote.Config{
			Host:           cfg.Remote.Host,
			Port:           cfg.Remote.Port,
			User:           cfg.Remote.User,
			KeyPath:        cfg.Remote.KeyPath,
			Key:            cfg.Remote.Key,
			Password:       cfg.Remote.Password,
			KnownHosts:     cfg.Remote.KnownHosts,
			CommandPrefix:  cfg.Remote.CommandPrefix,
			DialTimeout:    cfg.Remote.DialTimeout,
			CommandTimeout: cfg.Remote.CommandTimeout,
		})
		dial := func(ctx context.Context) (service.RemoteClient, error) {
			return factory.Dial(ctx)
		}

		orchestrator := service.NewOrchestrator(dataStore, dial, service.Options{
			Tiers:            tiers,
			BaseDomain:       cfg.Service.BaseDomain,
			ImageRegistry:    cfg.Service.ImageRegistry,
			ImageTag:         cfg.Service.ImageTag,
			Publisher:        publisher,
			Notifier:         service.NewNotifier(cfg.Portal.URL),
			ProvisionTimeout: cfg.Service.ProvisionTimeout,
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		if cfg.Service.MonitorInterval > 0 {
			driftMonitor := monitor.NewMonitorService(dataStore, dial, publisher, monitor.MonitorConfig{
				Interval: cfg.Service.MonitorInterval,
			})
			go func() {
				if err := driftMonitor.Run(ctx); err != nil {
					zap.S().Errorw("Drift monitor stopped", "error", err)
				}
			}()
		}

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}

			zap.S().Infow("Serving control API", "address", listener.Addr().String())
			server := apiserver.New(cfg, listener, handlers.NewInstanceHandler(orchestrator))
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalw("Error running server", "error", err)
			}
		}()

		<-ctx.Done()

		return nil
	},
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	switch cfg.Database.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.Database.DSN), gormCfg)
	default:
		return gorm.Open(sqlite.Open(cfg.Database.DSN), gormCfg)
	}
}

func loadTiers(cfg *config.Config) (naming.TierTable, error) {
	if cfg.Service.TierFile == "" {
		return naming.DefaultTiers(), nil
	}
	return naming.LoadTiers(cfg.Service.TierFile)
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
