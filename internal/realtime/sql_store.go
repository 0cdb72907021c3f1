package realtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

// SqlSyncStore persists the sync object configuration and the synchronized
// record copies.
type SqlSyncStore struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlSyncStore(cfg *config.Config, database *sql.DB) *SqlSyncStore {
	return &SqlSyncStore{
		database:     database,
		queryTimeout: cfg.DatabaseQueryTimeout,
	}
}

func (s *SqlSyncStore) ListObjects(ctx context.Context) ([]domain.RegisteredObject, error) {

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	statement, err := s.database.Prepare(
		`SELECT object_api, is_realtime_sync_enabled, last_sync_date FROM sync_objects`)
	if err != nil {
		return nil, err
	}
	defer statement.Close()

	rows, err := statement.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objects []domain.RegisteredObject

	for rows.Next() {
		var object domain.RegisteredObject
		var lastSyncDate sql.NullTime

		err := rows.Scan(&object.ObjectApi, &object.IsRealtimeSyncEnabled, &lastSyncDate)
		if err != nil {
			logger.Log.WithFields(logrus.Fields{"error": err}).Error("SQL scan failed.  Skipping row.")
			continue
		}

		if lastSyncDate.Valid {
			object.LastSyncDate = &lastSyncDate.Time
		}

		objects = append(objects, object)
	}

	return objects, rows.Err()
}

func (s *SqlSyncStore) UpsertObject(ctx context.Context, object domain.RegisteredObject) error {

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	statement, err := s.database.Prepare(
		`INSERT INTO sync_objects (object_api, is_realtime_sync_enabled)
             VALUES ($1, $2)
             ON CONFLICT (object_api) DO UPDATE SET is_realtime_sync_enabled = EXCLUDED.is_realtime_sync_enabled`)
	if err != nil {
		return err
	}
	defer statement.Close()

	_, err = statement.ExecContext(ctx, object.ObjectApi, object.IsRealtimeSyncEnabled)

	return err
}

func (s *SqlSyncStore) DeleteObject(ctx context.Context, objectApi string) error {

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	statement, err := s.database.Prepare(`DELETE FROM sync_objects WHERE object_api = $1`)
	if err != nil {
		return err
	}
	defer statement.Close()

	_, err = statement.ExecContext(ctx, objectApi)

	return err
}

func (s *SqlSyncStore) UpdateLastSyncDate(ctx context.Context, objectApi string, syncDate time.Time) error {

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	statement, err := s.database.Prepare(`UPDATE sync_objects SET last_sync_date = $1 WHERE object_api = $2`)
	if err != nil {
		return err
	}
	defer statement.Close()

	_, err = statement.ExecContext(ctx, syncDate, objectApi)

	return err
}

// UpsertRecord applies a change record to the local copy.  Re-applying the
// same event lands on the same row, so replayed batches are harmless.
func (s *SqlSyncStore) UpsertRecord(ctx context.Context, record domain.ChangeRecord) error {

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return err
	}

	statement, err := s.database.Prepare(
		`INSERT INTO crm_records (entity_name, record_id, change_type, fields, commit_timestamp)
             VALUES ($1, $2, $3, $4, $5)
             ON CONFLICT (entity_name, record_id) DO UPDATE
                 SET change_type = EXCLUDED.change_type,
                     fields = crm_records.fields || EXCLUDED.fields,
                     commit_timestamp = EXCLUDED.commit_timestamp`)
	if err != nil {
		return err
	}
	defer statement.Close()

	_, err = statement.ExecContext(ctx, record.EntityName, record.RecordID, string(record.ChangeType),
		fields, record.CommitTimestamp)

	return err
}

func (s *SqlSyncStore) DeleteRecord(ctx context.Context, entityName string, recordId string) error {

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	statement, err := s.database.Prepare(`DELETE FROM crm_records WHERE entity_name = $1 AND record_id = $2`)
	if err != nil {
		return err
	}
	defer statement.Close()

	_, err = statement.ExecContext(ctx, entityName, recordId)

	return err
}
