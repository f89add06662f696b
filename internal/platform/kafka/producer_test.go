package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(nil, "portal.audit")
	assert.EqualError(t, err, "kafka: no brokers configured")
}
