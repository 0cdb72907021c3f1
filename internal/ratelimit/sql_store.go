package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type SqlRateLimitStore struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlRateLimitStore(cfg *config.Config, database *sql.DB) *SqlRateLimitStore {
	return &SqlRateLimitStore{
		database:     database,
		queryTimeout: cfg.DatabaseQueryTimeout,
	}
}

func (s *SqlRateLimitStore) ListByApiTypeAndLimitType(ctx context.Context, apiType domain.ApiType, limitType string) ([]RateLimitRecord, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlListRecordsDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	return s.listRecords(ctx,
		`SELECT id, api_type, limit_type, current_usage, max_limit, remaining_val, is_blocked, reset_time, version
             FROM rate_limit_records WHERE api_type = $1 AND limit_type = $2`,
		string(apiType), limitType)
}

func (s *SqlRateLimitStore) ListByLimitType(ctx context.Context, limitType string) ([]RateLimitRecord, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlListRecordsDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	return s.listRecords(ctx,
		`SELECT id, api_type, limit_type, current_usage, max_limit, remaining_val, is_blocked, reset_time, version
             FROM rate_limit_records WHERE limit_type = $1`,
		limitType)
}

func (s *SqlRateLimitStore) listRecords(ctx context.Context, query string, args ...interface{}) ([]RateLimitRecord, error) {

	statement, err := s.database.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer statement.Close()

	rows, err := statement.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RateLimitRecord

	for rows.Next() {
		var record RateLimitRecord
		var apiType string

		err := rows.Scan(&record.Id, &apiType, &record.LimitType, &record.CurrentUsage, &record.MaxLimit,
			&record.RemainingVal, &record.IsBlocked, &record.ResetTime, &record.Version)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{"error": err}).Error("SQL scan failed.  Skipping row.")
			continue
		}

		record.ApiType = domain.ApiType(apiType)
		records = append(records, record)
	}

	return records, rows.Err()
}

func (s *SqlRateLimitStore) Insert(ctx context.Context, record RateLimitRecord) (RateLimitRecord, error) {

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	statement, err := s.database.Prepare(
		`INSERT INTO rate_limit_records
             (api_type, limit_type, current_usage, max_limit, remaining_val, is_blocked, reset_time, version)
             VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
             RETURNING id`)
	if err != nil {
		return RateLimitRecord{}, err
	}
	defer statement.Close()

	err = statement.QueryRowContext(ctx, string(record.ApiType), record.LimitType, record.CurrentUsage,
		record.MaxLimit, record.RemainingVal, record.IsBlocked, record.ResetTime).Scan(&record.Id)

	if err != nil {
		var pqError *pq.Error
		if errors.As(err, &pqError) && string(pqError.Code) == pgerrcode.UniqueViolation {
			return RateLimitRecord{}, ErrDuplicateRecord
		}
		return RateLimitRecord{}, err
	}

	record.Version = 1

	return record, nil
}

func (s *SqlRateLimitStore) UpdateWithVersion(ctx context.Context, record RateLimitRecord) (int64, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlUpdateRecordDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	statement, err := s.database.Prepare(
		`UPDATE rate_limit_records
             SET current_usage = $1, max_limit = $2, remaining_val = $3, is_blocked = $4, reset_time = $5, version = version + 1
             WHERE id = $6 AND version = $7`)
	if err != nil {
		return 0, err
	}
	defer statement.Close()

	results, err := statement.ExecContext(ctx, record.CurrentUsage, record.MaxLimit, record.RemainingVal,
		record.IsBlocked, record.ResetTime, record.Id, record.Version)
	if err != nil {
		return 0, err
	}

	return results.RowsAffected()
}

func (s *SqlRateLimitStore) GetById(ctx context.Context, id int64) (RateLimitRecord, error) {

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	statement, err := s.database.Prepare(
		`SELECT id, api_type, limit_type, current_usage, max_limit, remaining_val, is_blocked, reset_time, version
             FROM rate_limit_records WHERE id = $1`)
	if err != nil {
		return RateLimitRecord{}, err
	}
	defer statement.Close()

	var record RateLimitRecord
	var apiType string

	err = statement.QueryRowContext(ctx, id).Scan(&record.Id, &apiType, &record.LimitType, &record.CurrentUsage,
		&record.MaxLimit, &record.RemainingVal, &record.IsBlocked, &record.ResetTime, &record.Version)

	if err == sql.ErrNoRows {
		return RateLimitRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return RateLimitRecord{}, err
	}

	record.ApiType = domain.ApiType(apiType)

	return record, nil
}
