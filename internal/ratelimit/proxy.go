package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ApiInvocationProxy is the single choke point every API call passes
// through: quota pre-check, invocation with timing, call logging and the
// versioned usage update.  It decorates a connection rather than
// intercepting it reflectively.
type ApiInvocationProxy struct {
	apiType domain.ApiType
	store   RateLimitStore
	callLog CallLogSink
	stats   *CallStats

	updateRetries      int
	updateRetryBackoff time.Duration
}

func NewApiInvocationProxy(apiType domain.ApiType, store RateLimitStore, callLog CallLogSink, stats *CallStats, updateRetries int, updateRetryBackoff time.Duration) *ApiInvocationProxy {
	return &ApiInvocationProxy{
		apiType:            apiType,
		store:              store,
		callLog:            callLog,
		stats:              stats,
		updateRetries:      updateRetries,
		updateRetryBackoff: updateRetryBackoff,
	}
}

// Invoke runs call through the rate limiter.  The wrapped call is never
// invoked once the daily quota is exhausted.
func (p *ApiInvocationProxy) Invoke(ctx context.Context, connectionClass string, methodName string, call func(ctx context.Context) error) error {

	log := logger.Log.WithFields(logrus.Fields{"api_type": p.apiType, "connection_class": connectionClass, "method": methodName})

	record, err := p.loadOrCreateRecord(ctx)
	if err != nil {
		return fmt.Errorf("rate limit pre-check failed: %w", err)
	}

	if record.IsBlocked || record.RemainingVal <= 0 {
		p.markBlocked(ctx, log, record)
		metrics.rateLimitBlockedCounter.With(prometheus.Labels{"api_type": p.apiType.String()}).Inc()
		return &RateLimitExceededError{
			ApiType:      p.apiType,
			LimitType:    record.LimitType,
			CurrentUsage: record.CurrentUsage,
			MaxLimit:     record.MaxLimit,
		}
	}

	callDurationTimer := prometheus.NewTimer(metrics.apiCallDuration.With(prometheus.Labels{"api_type": p.apiType.String(), "method": methodName}))
	startTime := time.Now()

	callErr := call(ctx)

	elapsed := time.Since(startTime)
	callDurationTimer.ObserveDuration()

	p.appendCallLog(ctx, log, connectionClass, methodName, startTime, elapsed, callErr)
	p.stats.Record(connectionClass, methodName)

	if callErr != nil {
		metrics.apiCallCounter.With(prometheus.Labels{"api_type": p.apiType.String(), "status": CallStatusFailed}).Inc()
		return callErr
	}

	metrics.apiCallCounter.With(prometheus.Labels{"api_type": p.apiType.String(), "status": CallStatusSuccess}).Inc()

	// The call already completed; a usage bookkeeping failure does not
	// undo it, but it is surfaced to the caller.
	err = p.incrementUsage(ctx, log, record)
	if err != nil {
		metrics.usageUpdateFailureCounter.With(prometheus.Labels{"api_type": p.apiType.String()}).Inc()
		return fmt.Errorf("api call succeeded but usage update failed: %w", err)
	}

	return nil
}

func (p *ApiInvocationProxy) loadOrCreateRecord(ctx context.Context) (RateLimitRecord, error) {

	records, err := p.store.ListByApiTypeAndLimitType(ctx, p.apiType, LimitTypeDaily)
	if err != nil {
		return RateLimitRecord{}, err
	}

	if len(records) > 0 {
		return records[0], nil
	}

	maxLimit := DefaultDailyLimit(p.apiType)

	record := RateLimitRecord{
		ApiType:      p.apiType,
		LimitType:    LimitTypeDaily,
		CurrentUsage: 0,
		MaxLimit:     maxLimit,
		RemainingVal: maxLimit,
		IsBlocked:    false,
		ResetTime:    NextMidnight(time.Now()),
	}

	created, err := p.store.Insert(ctx, record)
	if err == ErrDuplicateRecord {
		// another writer created the default row first
		records, err = p.store.ListByApiTypeAndLimitType(ctx, p.apiType, LimitTypeDaily)
		if err != nil {
			return RateLimitRecord{}, err
		}
		if len(records) == 0 {
			return RateLimitRecord{}, ErrRecordNotFound
		}
		return records[0], nil
	}
	if err != nil {
		return RateLimitRecord{}, err
	}

	return created, nil
}

// markBlocked flips isBlocked once remaining has hit zero.  Conflicts are
// ignored; some other writer has already recorded the same fact.
func (p *ApiInvocationProxy) markBlocked(ctx context.Context, log *logrus.Entry, record RateLimitRecord) {

	if record.IsBlocked {
		return
	}

	record.IsBlocked = true

	_, err := p.store.UpdateWithVersion(ctx, record)
	if err != nil {
		logger.LogWithError(log, "Unable to mark rate limit record as blocked", err)
		return
	}

	log.Warn("Rate limit exhausted, record marked as blocked")
}

func (p *ApiInvocationProxy) incrementUsage(ctx context.Context, log *logrus.Entry, record RateLimitRecord) error {

	for attempt := 0; attempt <= p.updateRetries; attempt++ {

		if attempt > 0 {
			metrics.usageUpdateConflictCounter.With(prometheus.Labels{"api_type": p.apiType.String()}).Inc()
			time.Sleep(p.updateRetryBackoff)

			latest, err := p.store.GetById(ctx, record.Id)
			if err != nil {
				return err
			}
			record = latest
		}

		updated := record
		updated.CurrentUsage = record.CurrentUsage + 1
		// a retry may re-read a row another caller already exhausted
		if updated.CurrentUsage > record.MaxLimit {
			updated.CurrentUsage = record.MaxLimit
		}
		updated.RemainingVal = record.MaxLimit - updated.CurrentUsage
		if updated.RemainingVal <= 0 {
			updated.RemainingVal = 0
			updated.IsBlocked = true
		}

		rowsAffected, err := p.store.UpdateWithVersion(ctx, updated)
		if err != nil {
			return err
		}

		if rowsAffected == 1 {
			if updated.IsBlocked && record.IsBlocked == false {
				log.Warn("Daily quota consumed, further calls will be blocked")
			}
			return nil
		}
	}

	logger.LogWithError(log, "Usage update retries exhausted", ErrVersionConflict)

	return ErrVersionConflict
}

func (p *ApiInvocationProxy) appendCallLog(ctx context.Context, log *logrus.Entry, connectionClass string, methodName string, callTime time.Time, elapsed time.Duration, callErr error) {

	callLog := ApiCallLog{
		ApiType:         p.apiType,
		ConnectionClass: connectionClass,
		MethodName:      methodName,
		ExecutionTimeMs: elapsed.Milliseconds(),
		CallTime:        callTime,
		Status:          CallStatusSuccess,
	}

	if callErr != nil {
		callLog.Status = CallStatusFailed
		callLog.ErrorMessage = callErr.Error()
	}

	err := p.callLog.Append(ctx, callLog)
	if err != nil {
		metrics.callLogFailureCounter.Inc()
		logger.LogWithError(log, "Unable to append api call log", err)
	}
}
