package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syncstack/crm-connector/internal/domain"
)

const LimitTypeDaily = "Daily"

const (
	CallStatusSuccess = "SUCCESS"
	CallStatusFailed  = "FAILED"
)

var (
	ErrRecordNotFound  = errors.New("rate limit record not found")
	ErrDuplicateRecord = errors.New("rate limit record already exists")
	ErrVersionConflict = errors.New("rate limit record version conflict")
)

// defaultDailyLimits are the per-API quotas used when no record exists yet.
var defaultDailyLimits = map[domain.ApiType]int{
	domain.ApiTypeBulkV1: 5000,
	domain.ApiTypeBulkV2: 10000,
	domain.ApiTypeSoap:   15000,
	domain.ApiTypeRest:   15000,
}

const fallbackDailyLimit = 15000

func DefaultDailyLimit(apiType domain.ApiType) int {
	limit, exists := defaultDailyLimits[apiType]
	if exists == false {
		return fallbackDailyLimit
	}
	return limit
}

// RateLimitRecord tracks usage against one limit dimension of an API type.
// Version gates concurrent writers: every successful update increments it,
// and updates conditioned on a stale version affect zero rows.
type RateLimitRecord struct {
	Id           int64
	ApiType      domain.ApiType
	LimitType    string
	CurrentUsage int
	MaxLimit     int
	RemainingVal int
	IsBlocked    bool
	ResetTime    time.Time
	Version      int
}

// ApiCallLog is an append-only row created after every intercepted call.
type ApiCallLog struct {
	ApiType         domain.ApiType
	ConnectionClass string
	MethodName      string
	ExecutionTimeMs int64
	CallTime        time.Time
	Status          string
	ErrorMessage    string
}

type RateLimitStore interface {
	ListByApiTypeAndLimitType(ctx context.Context, apiType domain.ApiType, limitType string) ([]RateLimitRecord, error)
	ListByLimitType(ctx context.Context, limitType string) ([]RateLimitRecord, error)
	Insert(ctx context.Context, record RateLimitRecord) (RateLimitRecord, error)
	// UpdateWithVersion applies the record conditioned on record.Version
	// being current.  Zero rows affected signals a conflict.
	UpdateWithVersion(ctx context.Context, record RateLimitRecord) (int64, error)
	GetById(ctx context.Context, id int64) (RateLimitRecord, error)
}

type CallLogSink interface {
	Append(ctx context.Context, callLog ApiCallLog) error
}

// RateLimitExceededError is returned before the wrapped call executes.  It
// is never retried internally; the scheduled job that hit it must defer.
type RateLimitExceededError struct {
	ApiType      domain.ApiType
	LimitType    string
	CurrentUsage int
	MaxLimit     int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("%s %s API limit exceeded (%d of %d calls used)",
		e.LimitType, e.ApiType, e.CurrentUsage, e.MaxLimit)
}

// NextMidnight returns the reset boundary for daily limits.
func NextMidnight(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day+1, 0, 0, 0, 0, now.Location())
}
