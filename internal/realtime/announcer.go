package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/domain"
	"github.com/syncstack/crm-connector/internal/platform/queue"

	kafka "github.com/segmentio/kafka-go"
)

type changeEventMessage struct {
	EntityName      string                 `json:"entity_name"`
	RecordID        string                 `json:"record_id"`
	ChangeType      string                 `json:"change_type"`
	Fields          map[string]interface{} `json:"fields"`
	CommitTimestamp time.Time              `json:"commit_timestamp"`
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaChangeEventAnnouncer publishes applied change records to a topic.
// Messages are keyed by entity and record id so one record's changes stay
// in order within a partition.
type KafkaChangeEventAnnouncer struct {
	writer kafkaWriter
}

func NewKafkaChangeEventAnnouncer(cfg *config.Config) (*KafkaChangeEventAnnouncer, error) {

	var saslConfig *queue.SaslConfig
	if cfg.KafkaUsername != "" {
		saslConfig = &queue.SaslConfig{
			SaslMechanism: cfg.KafkaSASLMechanism,
			SaslUsername:  cfg.KafkaUsername,
			SaslPassword:  cfg.KafkaPassword,
			KafkaCA:       cfg.KafkaCA,
		}
	}

	writer, err := queue.StartProducer(&queue.ProducerConfig{
		Brokers:    cfg.KafkaBrokers,
		SaslConfig: saslConfig,
		Topic:      cfg.KafkaChangeEventsTopic,
		BatchSize:  cfg.KafkaChangeEventsBatchSize,
		BatchBytes: cfg.KafkaChangeEventsBatchBytes,
		Balancer:   "hash",
	})
	if err != nil {
		return nil, err
	}

	return &KafkaChangeEventAnnouncer{writer: writer}, nil
}

func (a *KafkaChangeEventAnnouncer) Announce(ctx context.Context, record domain.ChangeRecord) error {

	value, err := json.Marshal(changeEventMessage{
		EntityName:      record.EntityName,
		RecordID:        record.RecordID,
		ChangeType:      string(record.ChangeType),
		Fields:          record.Fields,
		CommitTimestamp: record.CommitTimestamp,
	})
	if err != nil {
		return err
	}

	return a.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.EntityName + ":" + record.RecordID),
		Value: value,
	})
}
