package rabbitmq

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		cfg, err := NewConfig(WithQueue("tasks", true))

		require.NoError(t, err)
		assert.Equal(t, "direct", cfg.ExchangeType)
		assert.Equal(t, 1, cfg.ConcurrentConsumers)
		assert.Equal(t, 0, cfg.Prefetch)
		assert.Equal(t, 30*time.Second, cfg.ReplyTimeout)
		assert.Equal(t, Requeue, cfg.OnFailure)
		assert.False(t, cfg.AutoAck)
		assert.False(t, cfg.RPC)
	})

	t.Run("applies options", func(t *testing.T) {
		props := amqp.Publishing{ContentType: "application/json", DeliveryMode: amqp.Persistent}
		cfg, err := NewConfig(
			WithExchange("orders", "topic"),
			WithBindingKeys("order.*"),
			WithRoutingKey("order.created"),
			WithConcurrentConsumers(5),
			WithPrefetch(20),
			WithAutoAck(true),
			WithRPC(true),
			WithReplyTimeout(time.Second),
			WithFailureAction(DeadLetter),
			WithProperties(props),
		)

		require.NoError(t, err)
		assert.Equal(t, "orders", cfg.Exchange)
		assert.Equal(t, "topic", cfg.ExchangeType)
		assert.Equal(t, []string{"order.*"}, cfg.BindingKeys)
		assert.Equal(t, "order.created", cfg.RoutingKey)
		assert.Equal(t, 5, cfg.ConcurrentConsumers)
		assert.Equal(t, 20, cfg.Prefetch)
		assert.True(t, cfg.AutoAck)
		assert.True(t, cfg.RPC)
		assert.Equal(t, time.Second, cfg.ReplyTimeout)
		assert.Equal(t, DeadLetter, cfg.OnFailure)
		assert.Equal(t, props, cfg.Properties)
	})

	t.Run("rejects empty exchange and queue", func(t *testing.T) {
		_, err := NewConfig()
		assert.Error(t, err)
	})

	t.Run("rejects non-positive consumer count", func(t *testing.T) {
		_, err := NewConfig(WithQueue("tasks", false), WithConcurrentConsumers(0))
		assert.Error(t, err)
	})

	t.Run("rejects negative prefetch", func(t *testing.T) {
		_, err := NewConfig(WithQueue("tasks", false), WithPrefetch(-1))
		assert.Error(t, err)
	})

	t.Run("rejects non-positive reply timeout", func(t *testing.T) {
		_, err := NewConfig(WithQueue("tasks", false), WithReplyTimeout(0))
		assert.Error(t, err)
	})
}
