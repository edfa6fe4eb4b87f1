package pacer

import (
	"context"
	"errors"
	"testing"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	reg := metrics.NewRegistry()
	r := NewRegistry(WithMetrics(reg), WithSettleDelay(0))
	defer r.Close()

	brapi, err := r.Add("brapi", Delay(1500*time.Millisecond), 50)
	require.NoError(t, err)
	finnhub, err := r.Add("finnhub", Delay(1100*time.Millisecond), 100)
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, brapi.Interval())
	assert.Equal(t, 50, brapi.MaxQueue())
	assert.Equal(t, 100, finnhub.MaxQueue())
	assert.Equal(t, "finnhub", finnhub.Name())

	_, err = r.Add("brapi", PerSec(1), 1)
	assert.True(t, errors.Is(err, ErrDuplicateThrottle))

	got, ok := r.Get("brapi")
	require.True(t, ok)
	assert.Same(t, brapi, got)
	assert.Equal(t, []string{"brapi", "finnhub"}, r.Names())

	v, err := r.Enqueue(context.Background(), "finnhub", func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = r.Enqueue(context.Background(), "nope", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.True(t, errors.Is(err, ErrUnknownThrottle))

	stats := r.Stats()
	assert.Equal(t, int64(1), stats["finnhub"].Dispatched)
	assert.Equal(t, int64(0), stats["brapi"].Dispatched)
	assert.NotNil(t, reg.Get("pacer.finnhub.dispatched"))
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Add("a", PerSec(10), 1)
	b, _ := r.Add("b", PerSec(10), 1)
	r.Close()

	for _, th := range []*Throttle{a, b} {
		_, err := th.Enqueue(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
		assert.Equal(t, ErrClosed, err)
	}
}
