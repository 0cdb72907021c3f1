package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/connection"
	"github.com/syncstack/crm-connector/internal/controller/api"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/eventbus"
	"github.com/syncstack/crm-connector/internal/platform/db"
	"github.com/syncstack/crm-connector/internal/platform/logger"
	"github.com/syncstack/crm-connector/internal/platform/utils"
	"github.com/syncstack/crm-connector/internal/ratelimit"
	"github.com/syncstack/crm-connector/internal/realtime"
	"github.com/syncstack/crm-connector/internal/session"

	"github.com/gorilla/mux"
)

func startConnectorService(mgmtAddr string, apiAddr string, orgTypeName string) {

	logger.InitLogger()

	logger.Log.Info("Starting CRM-Connector service")

	cfg := config.GetConfig()
	logger.Log.Info("CRM-Connector configuration:\n", cfg)

	orgType := domain.OrgType(orgTypeName)

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		logger.LogFatalError("Unable to connect to database: ", err)
	}

	sessionProvider, err := session.NewJwtBearerSessionProvider(cfg)
	if err != nil {
		logger.LogFatalError("Unable to build the session provider: ", err)
	}

	purgeCtx, cancelPurge := context.WithCancel(context.Background())
	defer cancelPurge()

	callStats := ratelimit.NewCallStats(cfg.CallStatsRetention)
	callStats.StartPurge(purgeCtx, cfg.CallStatsPurgeInterval)

	syncStore := realtime.NewSqlSyncStore(cfg, database)
	objectRegistry := realtime.NewObjectRegistry(syncStore)

	announcer, err := realtime.NewKafkaChangeEventAnnouncer(cfg)
	if err != nil {
		logger.LogFatalError("Unable to start the change event announcer: ", err)
	}

	synchronizer := realtime.NewSqlDataSynchronizer(objectRegistry, syncStore, announcer)

	pubSubFactory := connection.NewPubSubConnectionFactory(cfg, sessionProvider)

	schemaCache := eventbus.NewSchemaCache(cfg, eventbus.NewConnectionSchemaFetcher(cfg, pubSubFactory, orgType))
	processor := eventbus.NewChangeEventProcessor(schemaCache, synchronizer)
	subscriber := eventbus.NewSubscriber(cfg, eventbus.NewConnectionStreamOpener(pubSubFactory, orgType), processor)

	realtimeService := realtime.NewService(objectRegistry, subscriber)

	rateLimitStore := ratelimit.NewSqlRateLimitStore(cfg, database)

	apiMux := mux.NewRouter()
	mgmtServer := api.NewManagementServer(realtimeService, objectRegistry, rateLimitStore, callStats,
		apiMux, cfg.UrlBasePath, cfg)
	mgmtServer.Routes()

	apiSrv := utils.StartHTTPServer(apiAddr, "management", apiMux)

	readinessCheck := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.DatabaseQueryTimeout)
		defer cancel()
		return database.PingContext(ctx)
	}

	monitoringMux := mux.NewRouter()
	monitoringServer := api.NewMonitoringServer(monitoringMux, cfg, readinessCheck)
	monitoringServer.Routes()

	monitoringSrv := utils.StartHTTPServer(mgmtAddr, "monitoring", monitoringMux)

	err = realtimeService.Start(context.Background())
	if err != nil {
		logger.LogFatalError("Unable to start the realtime sync service: ", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	logger.Log.Info("Received signal to shutdown: ", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HttpShutdownTimeout)
	defer cancel()

	err = realtimeService.Stop()
	if err != nil && err != realtime.ErrServiceNotRunning {
		logger.Log.Error("Error stopping the realtime sync service: ", err)
	}

	utils.ShutdownHTTPServer(ctx, "management", apiSrv)
	utils.ShutdownHTTPServer(ctx, "monitoring", monitoringSrv)

	logger.Log.Info("CRM-Connector shutting down")
}
