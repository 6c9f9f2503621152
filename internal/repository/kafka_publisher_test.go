package repository

import (
	"context"
	"errors"
	"testing"

	"AlphaBlend/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	topic string
	key   []byte
	value interface{}
	err   error
}

func (c *capturePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	c.topic, c.key, c.value = topic, key, value
	return c.err
}

func TestKafkaDecisionPublisher_Deliver(t *testing.T) {
	cp := &capturePublisher{}
	k := &KafkaDecisionPublisher{producer: cp, topic: "alpha.decisions"}
	d := &models.BlendedSignal{ID: "x", Symbol: "SOLUSDT", Signal: 0.2}

	require.NoError(t, k.Deliver(context.Background(), d))
	assert.Equal(t, "alpha.decisions", cp.topic)
	assert.Equal(t, []byte("SOLUSDT"), cp.key)
	assert.Same(t, d, cp.value)
	assert.Equal(t, "kafka", k.Name())

	cp.err = errors.New("broker down")
	assert.Error(t, k.Deliver(context.Background(), d))
}
