package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExchange(t *testing.T) {
	ex := NewExchange([]byte("payload"))

	assert.NotEmpty(t, ex.ID())
	assert.Equal(t, []byte("payload"), ex.Body())
	assert.Nil(t, ex.Response())
	assert.NoError(t, ex.Error())

	other := NewExchange(nil)
	assert.NotEqual(t, ex.ID(), other.ID())
}

func TestExchangeHeaders(t *testing.T) {
	t.Run("set and get", func(t *testing.T) {
		ex := NewExchange(nil)
		ex.SetHeader(HeaderRoutingKey, "orders.created")
		ex.SetHeader(HeaderDeliveryTag, uint64(3))

		v, ok := ex.Header(HeaderRoutingKey)
		require.True(t, ok)
		assert.Equal(t, "orders.created", v)

		_, ok = ex.Header("missing")
		assert.False(t, ok)
	})

	t.Run("setting an existing key replaces it", func(t *testing.T) {
		ex := NewExchange(nil)
		ex.SetHeader(HeaderRoutingKey, "a")
		ex.SetHeader(HeaderRoutingKey, "b")
		assert.Equal(t, "b", ex.StringHeader(HeaderRoutingKey))
		assert.Len(t, ex.Headers(), 1)
	})

	t.Run("string header ignores non-string values", func(t *testing.T) {
		ex := NewExchange(nil)
		ex.SetHeader(HeaderDeliveryTag, uint64(3))
		assert.Equal(t, "", ex.StringHeader(HeaderDeliveryTag))
		assert.Equal(t, "", ex.StringHeader("missing"))
	})

	t.Run("headers returns a copy", func(t *testing.T) {
		ex := NewExchange(nil)
		ex.SetHeader("k", "v")
		snapshot := ex.Headers()
		snapshot["k"] = "mutated"
		assert.Equal(t, "v", ex.StringHeader("k"))
	})
}

func TestExchangeError(t *testing.T) {
	ex := NewExchange(nil)
	first := assert.AnError
	ex.SetError(first)
	ex.SetError(context.Canceled)

	assert.Same(t, first, ex.Error())
}

func TestExchangeComplete(t *testing.T) {
	t.Run("runs hooks in registration order with the outcome", func(t *testing.T) {
		ex := NewExchange(nil)
		var order []string
		ex.OnCompletion(func(ctx context.Context, ex *Exchange, err error) {
			order = append(order, "first")
			assert.ErrorIs(t, err, assert.AnError)
		})
		ex.OnCompletion(func(ctx context.Context, ex *Exchange, err error) {
			order = append(order, "second")
		})

		ex.Complete(context.Background(), assert.AnError)

		assert.Equal(t, []string{"first", "second"}, order)
		assert.ErrorIs(t, ex.Error(), assert.AnError)
	})

	t.Run("completes exactly once", func(t *testing.T) {
		ex := NewExchange(nil)
		calls := 0
		ex.OnCompletion(func(ctx context.Context, ex *Exchange, err error) { calls++ })

		ex.Complete(context.Background(), nil)
		ex.Complete(context.Background(), nil)
		ex.Complete(context.Background(), assert.AnError)

		assert.Equal(t, 1, calls)
		assert.NoError(t, ex.Error())
	})
}

func TestProcessorFunc(t *testing.T) {
	var got *Exchange
	p := ProcessorFunc(func(ctx context.Context, ex *Exchange) error {
		got = ex
		return assert.AnError
	})

	ex := NewExchange([]byte("x"))
	err := p.Process(context.Background(), ex)

	assert.ErrorIs(t, err, assert.AnError)
	assert.Same(t, ex, got)
}
