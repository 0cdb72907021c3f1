package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/eventbus/pubsubproto"
	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const changeEventHeaderField = "ChangeEventHeader"

var errMissingChangeEventHeader = errors.New("change event payload is missing the ChangeEventHeader")

// DataSynchronizer receives decoded change records for persistence.
type DataSynchronizer interface {
	SynchronizeData(ctx context.Context, record domain.ChangeRecord) error
}

// ChangeEventProcessor decodes Avro change events and hands the normalized
// records to the synchronizer.  Events without a usable header are logged
// and skipped rather than wedging the stream.
type ChangeEventProcessor struct {
	schemas      *SchemaCache
	synchronizer DataSynchronizer
}

func NewChangeEventProcessor(schemas *SchemaCache, synchronizer DataSynchronizer) *ChangeEventProcessor {
	return &ChangeEventProcessor{
		schemas:      schemas,
		synchronizer: synchronizer,
	}
}

func (p *ChangeEventProcessor) Process(ctx context.Context, event *pubsubproto.ConsumerEvent) error {

	metrics.eventsReceivedCounter.Inc()

	processingTimer := prometheus.NewTimer(metrics.eventProcessingDuration)
	defer processingTimer.ObserveDuration()

	if event.Event == nil {
		metrics.eventsSkippedCounter.Inc()
		logger.Log.Warn("Skipping consumer event without a producer event")
		return nil
	}

	log := logger.Log.WithFields(logrus.Fields{"event_id": event.Event.Id, "schema_id": event.Event.SchemaId})

	record, err := p.decodeChangeRecord(ctx, event)
	if err == errMissingChangeEventHeader {
		metrics.eventsSkippedCounter.Inc()
		logger.LogWithError(log, "Skipping change event without a usable header", err)
		return nil
	}
	if err != nil {
		metrics.processingFailureCounter.Inc()
		return err
	}

	err = p.synchronizer.SynchronizeData(ctx, record)
	if err != nil {
		metrics.processingFailureCounter.Inc()
		return fmt.Errorf("unable to synchronize %s record %s: %w", record.EntityName, record.RecordID, err)
	}

	metrics.eventsProcessedCounter.Inc()

	return nil
}

func (p *ChangeEventProcessor) decodeChangeRecord(ctx context.Context, event *pubsubproto.ConsumerEvent) (domain.ChangeRecord, error) {

	codec, err := p.schemas.GetCodec(ctx, event.Event.SchemaId)
	if err != nil {
		return domain.ChangeRecord{}, err
	}

	native, _, err := codec.NativeFromBinary(event.Event.Payload)
	if err != nil {
		return domain.ChangeRecord{}, fmt.Errorf("unable to decode event %s: %w", event.Event.Id, err)
	}

	payload, ok := native.(map[string]interface{})
	if !ok {
		return domain.ChangeRecord{}, fmt.Errorf("unexpected decoded event type %T", native)
	}

	header, ok := payload[changeEventHeaderField].(map[string]interface{})
	if !ok {
		return domain.ChangeRecord{}, errMissingChangeEventHeader
	}

	entityName, ok := normalizeValue(header["entityName"]).(string)
	if !ok || entityName == "" {
		return domain.ChangeRecord{}, errMissingChangeEventHeader
	}

	changeType, ok := normalizeValue(header["changeType"]).(string)
	if !ok || changeType == "" {
		return domain.ChangeRecord{}, errMissingChangeEventHeader
	}

	recordId := firstRecordId(header["recordIds"])
	if recordId == "" {
		return domain.ChangeRecord{}, errMissingChangeEventHeader
	}

	record := domain.ChangeRecord{
		EntityName:      entityName,
		RecordID:        recordId,
		ChangeType:      domain.ChangeType(changeType),
		Fields:          make(map[string]interface{}),
		CommitTimestamp: commitTimestamp(header["commitTimestamp"]),
		ReplayID:        event.ReplayId,
	}

	for name, value := range payload {
		if name == changeEventHeaderField {
			continue
		}
		normalized := normalizeValue(value)
		if normalized == nil {
			continue
		}
		record.Fields[name] = normalized
	}

	return record, nil
}

func firstRecordId(value interface{}) string {
	ids, ok := normalizeValue(value).([]interface{})
	if !ok || len(ids) == 0 {
		return ""
	}
	id, _ := normalizeValue(ids[0]).(string)
	return id
}

func commitTimestamp(value interface{}) time.Time {
	epochMillis, ok := normalizeValue(value).(int64)
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(epochMillis).UTC()
}

// avroUnionBranches are the branch names the decoder wraps union values
// in.  A single-entry map keyed by one of these holds the actual value.
var avroUnionBranches = map[string]bool{
	"boolean": true,
	"int":     true,
	"long":    true,
	"float":   true,
	"double":  true,
	"bytes":   true,
	"string":  true,
	"array":   true,
	"enum":    true,
}

func normalizeValue(value interface{}) interface{} {
	wrapper, ok := value.(map[string]interface{})
	if !ok || len(wrapper) != 1 {
		return value
	}

	for branch, inner := range wrapper {
		if avroUnionBranches[branch] {
			return normalizeValue(inner)
		}
	}

	return value
}
