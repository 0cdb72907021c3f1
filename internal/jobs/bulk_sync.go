// Package jobs holds the scheduled and on-demand batch work: full object
// loads over the bulk query API, fanned out through the priority executor
// and throttled by the rate limit proxy.
package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/syncstack/crm-connector/internal/connection"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/executor"
	"github.com/syncstack/crm-connector/internal/platform/logger"
	"github.com/syncstack/crm-connector/internal/ratelimit"
	"github.com/syncstack/crm-connector/internal/realtime"

	"github.com/sirupsen/logrus"
)

const (
	bulkJobStateComplete = "JobComplete"
	bulkJobStateFailed   = "Failed"
	bulkJobStateAborted  = "Aborted"

	bulkConnectionClass = "BulkV2Connection"
)

type bulkQueryApi interface {
	CreateQueryJob(ctx context.Context, soql string) (*connection.BulkV2Job, error)
	GetQueryJob(ctx context.Context, jobId string) (*connection.BulkV2Job, error)
	GetQueryJobResults(ctx context.Context, jobId string) ([]byte, error)
}

type bulkConnectionResolver func(ctx context.Context) (bulkQueryApi, error)

// BulkObjectSyncJob loads full snapshots of every registered object through
// the bulk query API.  Each object becomes one executor task; objects
// earlier in the registry run at a higher priority.
type BulkObjectSyncJob struct {
	registry *realtime.ObjectRegistry
	records  realtime.CrmRecordStore
	proxy    *ratelimit.ApiInvocationProxy
	pool     *executor.PriorityExecutor
	resolve  bulkConnectionResolver

	pollInterval time.Duration
}

func NewBulkObjectSyncJob(registry *realtime.ObjectRegistry, records realtime.CrmRecordStore,
	proxy *ratelimit.ApiInvocationProxy, pool *executor.PriorityExecutor,
	factory connection.ConnectionFactory, orgType domain.OrgType) *BulkObjectSyncJob {

	return &BulkObjectSyncJob{
		registry: registry,
		records:  records,
		proxy:    proxy,
		pool:     pool,
		resolve: func(ctx context.Context) (bulkQueryApi, error) {
			conn, err := factory.GetConnection(ctx, orgType)
			if err != nil {
				return nil, err
			}
			bulkConn, ok := conn.(*connection.BulkV2Connection)
			if !ok {
				return nil, fmt.Errorf("unexpected connection type %T for bulk sync", conn)
			}
			return bulkConn, nil
		},
		pollInterval: 2 * time.Second,
	}
}

func (j *BulkObjectSyncJob) Run(ctx context.Context) error {

	err := j.registry.Refresh(ctx)
	if err != nil {
		return err
	}

	objects := j.registry.List()

	var handles []*executor.TaskHandle

	for i, object := range objects {
		if object.IsRealtimeSyncEnabled == false {
			continue
		}

		objectApi := object.ObjectApi
		priority := len(objects) - i

		handle, err := j.pool.Execute(priority, 1, func(taskCtx context.Context) error {
			return j.syncObject(taskCtx, objectApi)
		})
		if err != nil {
			return err
		}
		handles = append(handles, handle)
	}

	logger.Log.WithFields(logrus.Fields{"objects": len(handles)}).Info("Bulk object sync started")

	err = j.pool.WaitForAll(ctx, handles)
	if err != nil {
		return err
	}

	for _, handle := range handles {
		err := handle.Err()
		if err != nil && err != executor.ErrTaskRemoved {
			return err
		}
	}

	return nil
}

func (j *BulkObjectSyncJob) syncObject(ctx context.Context, objectApi string) error {

	log := logger.Log.WithFields(logrus.Fields{"object_api": objectApi})

	var job *connection.BulkV2Job

	err := j.proxy.Invoke(ctx, bulkConnectionClass, "createQueryJob", func(callCtx context.Context) error {
		api, err := j.resolve(callCtx)
		if err != nil {
			return err
		}
		job, err = api.CreateQueryJob(callCtx, "SELECT Id FROM "+objectApi)
		return err
	})
	if err != nil {
		return err
	}

	err = j.awaitJobCompletion(ctx, job.Id)
	if err != nil {
		return err
	}

	var results []byte
	err = j.proxy.Invoke(ctx, bulkConnectionClass, "getQueryJobResults", func(callCtx context.Context) error {
		api, err := j.resolve(callCtx)
		if err != nil {
			return err
		}
		results, err = api.GetQueryJobResults(callCtx, job.Id)
		return err
	})
	if err != nil {
		return err
	}

	loaded, err := j.loadResults(ctx, objectApi, results)
	if err != nil {
		return err
	}

	err = j.registry.RecordSyncDate(ctx, objectApi, time.Now().UTC())
	if err != nil {
		logger.LogWithError(log, "Unable to record last sync date", err)
	}

	log.WithFields(logrus.Fields{"records": loaded}).Info("Bulk object sync finished")

	return nil
}

func (j *BulkObjectSyncJob) awaitJobCompletion(ctx context.Context, jobId string) error {

	for {
		var job *connection.BulkV2Job

		err := j.proxy.Invoke(ctx, bulkConnectionClass, "getQueryJob", func(callCtx context.Context) error {
			api, err := j.resolve(callCtx)
			if err != nil {
				return err
			}
			job, err = api.GetQueryJob(callCtx, jobId)
			return err
		})
		if err != nil {
			return err
		}

		switch job.State {
		case bulkJobStateComplete:
			return nil
		case bulkJobStateFailed, bulkJobStateAborted:
			return fmt.Errorf("bulk query job %s ended in state %s", jobId, job.State)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(j.pollInterval):
		}
	}
}

// loadResults upserts one change record per CSV result row.  The first
// column set carries the header; an Id column is required.
func (j *BulkObjectSyncJob) loadResults(ctx context.Context, objectApi string, results []byte) (int, error) {

	reader := csv.NewReader(bytes.NewReader(results))

	header, err := reader.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	idColumn := -1
	for i, name := range header {
		if name == "Id" {
			idColumn = i
		}
	}
	if idColumn < 0 {
		return 0, fmt.Errorf("bulk query results for %s are missing the Id column", objectApi)
	}

	loaded := 0

	for {
		row, err := reader.Read()
		if err == io.EOF {
			return loaded, nil
		}
		if err != nil {
			return loaded, err
		}

		fields := make(map[string]interface{}, len(header))
		for i, name := range header {
			if i == idColumn || i >= len(row) {
				continue
			}
			fields[name] = row[i]
		}

		err = j.records.UpsertRecord(ctx, domain.ChangeRecord{
			EntityName:      objectApi,
			RecordID:        row[idColumn],
			ChangeType:      domain.ChangeTypeCreate,
			Fields:          fields,
			CommitTimestamp: time.Now().UTC(),
		})
		if err != nil {
			return loaded, err
		}

		loaded++
	}
}
