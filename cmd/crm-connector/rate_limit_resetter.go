package main

import (
	"context"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/platform/db"
	"github.com/syncstack/crm-connector/internal/platform/logger"
	"github.com/syncstack/crm-connector/internal/ratelimit"
)

func startRateLimitResetter() {

	logger.InitLogger()

	logger.Log.Info("Starting CRM-Connector rate limit resetter")

	cfg := config.GetConfig()

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		logger.LogFatalError("Unable to connect to database: ", err)
	}

	resetter := ratelimit.NewDailyResetter(ratelimit.NewSqlRateLimitStore(cfg, database))

	err = resetter.Reset(context.Background(), time.Now())
	if err != nil {
		logger.LogFatalError("Rate limit reset failed: ", err)
	}

	logger.Log.Info("CRM-Connector rate limit reset finished")
}
