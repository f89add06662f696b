// Package kafka streams audit events to a Kafka topic as JSON, keyed by subject
// so one investor's events stay ordered within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	audit "portal/pkg/platform/audit"
)

// RecordProducer is satisfied by internal/platform/kafka.Producer.
type RecordProducer interface {
	Produce(ctx context.Context, key, value []byte) error
}

type Store struct {
	producer RecordProducer
}

func New(producer RecordProducer) *Store {
	return &Store{producer: producer}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	key := event.Subject
	if key == "" {
		key = event.SessionID
	}
	return s.producer.Produce(ctx, []byte(key), payload)
}
