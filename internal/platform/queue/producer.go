package queue

import (
	"github.com/syncstack/crm-connector/internal/platform/logger"

	kafka "github.com/segmentio/kafka-go"
)

func StartProducer(cfg *ProducerConfig) (*kafka.Writer, error) {
	logger.Log.Info("Starting a new Kafka producer..")
	logger.Log.Info("Kafka producer configuration: ", cfg)

	var kafkaDialer *kafka.Dialer
	var err error

	if cfg.SaslConfig != nil && cfg.SaslConfig.SaslUsername != "" {
		kafkaDialer, err = saslDialer(cfg.SaslConfig)
		if err != nil {
			logger.Log.Error("Failed to create a new Kafka dialer: ", err)
			return nil, err
		}
	}

	writerConfig := kafka.WriterConfig{
		Brokers:    cfg.Brokers,
		Topic:      cfg.Topic,
		BatchSize:  cfg.BatchSize,
		BatchBytes: cfg.BatchBytes,
	}

	if kafkaDialer != nil {
		writerConfig.Dialer = kafkaDialer
	}

	if cfg.Balancer == "hash" {
		writerConfig.Balancer = &kafka.Hash{}
	}

	w := kafka.NewWriter(writerConfig)

	logger.Log.Info("Producing messages to topic: ", cfg.Topic)

	return w, nil
}
