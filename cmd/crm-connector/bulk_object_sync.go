package main

import (
	"context"
	"errors"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/connection"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/executor"
	"github.com/syncstack/crm-connector/internal/jobs"
	"github.com/syncstack/crm-connector/internal/platform/db"
	"github.com/syncstack/crm-connector/internal/platform/logger"
	"github.com/syncstack/crm-connector/internal/ratelimit"
	"github.com/syncstack/crm-connector/internal/realtime"
	"github.com/syncstack/crm-connector/internal/session"
)

func startBulkObjectSync(orgTypeName string) {

	logger.InitLogger()

	logger.Log.Info("Starting CRM-Connector bulk object sync")

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

	syncStore := realtime.NewSqlSyncStore(cfg, database)
	objectRegistry := realtime.NewObjectRegistry(syncStore)

	proxy := ratelimit.NewApiInvocationProxy(domain.ApiTypeBulkV2,
		ratelimit.NewSqlRateLimitStore(cfg, database),
		ratelimit.NewSqlCallLogSink(cfg, database),
		ratelimit.NewCallStats(cfg.CallStatsRetention),
		cfg.RateLimitUpdateRetries,
		cfg.RateLimitUpdateRetryBackoff)

	pool := executor.NewPriorityExecutor(cfg)

	bulkFactory := connection.NewBulkV2ConnectionFactory(cfg, sessionProvider)

	job := jobs.NewBulkObjectSyncJob(objectRegistry, syncStore, proxy, pool, bulkFactory, orgType)

	err = job.Run(context.Background())
	if err != nil {
		var limitErr *ratelimit.RateLimitExceededError
		if errors.As(err, &limitErr) {
			logger.LogFatalError("Bulk object sync deferred, daily quota exhausted: ", err)
		}
		logger.LogFatalError("Bulk object sync failed: ", err)
	}

	err = pool.Shutdown()
	if err != nil {
		logger.Log.Error("Executor drain failed: ", err)
	}

	logger.Log.Info("CRM-Connector bulk object sync finished")
}
