package ratelimit

import (
	"context"
	"database/sql"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
)

type SqlCallLogSink struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlCallLogSink(cfg *config.Config, database *sql.DB) *SqlCallLogSink {
	return &SqlCallLogSink{
		database:     database,
		queryTimeout: cfg.DatabaseQueryTimeout,
	}
}

func (s *SqlCallLogSink) Append(ctx context.Context, callLog ApiCallLog) error {

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	statement, err := s.database.Prepare(
		`INSERT INTO api_call_logs
             (api_type, connection_class, method_name, execution_time_ms, call_time, status, error_message)
             VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return err
	}
	defer statement.Close()

	_, err = statement.ExecContext(ctx, string(callLog.ApiType), callLog.ConnectionClass, callLog.MethodName,
		callLog.ExecutionTimeMs, callLog.CallTime, callLog.Status, callLog.ErrorMessage)

	return err
}
