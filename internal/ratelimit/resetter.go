package ratelimit

import (
	"context"
	"time"

	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

// DailyResetter returns every daily record to a clean slate.  It is run by
// a scheduled job shortly after midnight.
type DailyResetter struct {
	store RateLimitStore
}

func NewDailyResetter(store RateLimitStore) *DailyResetter {
	return &DailyResetter{store: store}
}

// Reset clears usage on all daily records whose reset time has passed.  A
// version conflict on one record does not stop the sweep; the record is
// retried on the next run.
func (r *DailyResetter) Reset(ctx context.Context, now time.Time) error {

	records, err := r.store.ListByLimitType(ctx, LimitTypeDaily)
	if err != nil {
		return err
	}

	for _, record := range records {

		if record.ResetTime.After(now) {
			continue
		}

		log := logger.Log.WithFields(logrus.Fields{"api_type": record.ApiType, "limit_type": record.LimitType})

		record.CurrentUsage = 0
		record.RemainingVal = record.MaxLimit
		record.IsBlocked = false
		record.ResetTime = NextMidnight(now)

		rowsAffected, err := r.store.UpdateWithVersion(ctx, record)
		if err != nil {
			logger.LogWithError(log, "Unable to reset rate limit record", err)
			continue
		}

		if rowsAffected == 0 {
			logger.LogWithError(log, "Rate limit record changed during reset", ErrVersionConflict)
			continue
		}

		log.Info("Rate limit record reset")
	}

	return nil
}
