package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

// CrmRecordStore holds the local copies of synchronized records.
type CrmRecordStore interface {
	UpsertRecord(ctx context.Context, record domain.ChangeRecord) error
	DeleteRecord(ctx context.Context, entityName string, recordId string) error
}

// ChangeEventAnnouncer publishes applied change records for downstream
// consumers.
type ChangeEventAnnouncer interface {
	Announce(ctx context.Context, record domain.ChangeRecord) error
}

// SqlDataSynchronizer applies decoded change records to the local store.
// Records for entity types that are not registered for realtime sync are
// dropped silently; the registry gates what flows through.
type SqlDataSynchronizer struct {
	registry  *ObjectRegistry
	records   CrmRecordStore
	announcer ChangeEventAnnouncer
}

func NewSqlDataSynchronizer(registry *ObjectRegistry, records CrmRecordStore, announcer ChangeEventAnnouncer) *SqlDataSynchronizer {
	return &SqlDataSynchronizer{
		registry:  registry,
		records:   records,
		announcer: announcer,
	}
}

func (s *SqlDataSynchronizer) SynchronizeData(ctx context.Context, record domain.ChangeRecord) error {

	if s.registry.IsRegistered(record.EntityName) == false {
		return nil
	}

	log := logger.Log.WithFields(logrus.Fields{
		"entity_name": record.EntityName,
		"record_id":   record.RecordID,
		"change_type": record.ChangeType,
	})

	var err error
	if record.ChangeType == domain.ChangeTypeDelete {
		err = s.records.DeleteRecord(ctx, record.EntityName, record.RecordID)
	} else {
		err = s.records.UpsertRecord(ctx, record)
	}
	if err != nil {
		return fmt.Errorf("unable to apply %s change to %s record %s: %w",
			record.ChangeType, record.EntityName, record.RecordID, err)
	}

	err = s.registry.RecordSyncDate(ctx, record.EntityName, time.Now().UTC())
	if err != nil {
		logger.LogWithError(log, "Unable to record last sync date", err)
	}

	if s.announcer != nil {
		err = s.announcer.Announce(ctx, record)
		if err != nil {
			logger.LogWithError(log, "Unable to announce change event", err)
		}
	}

	log.Debug("Change record synchronized")

	return nil
}
