package eventbus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/eventbus"
)

type flakyPublisher struct {
	err   error
	calls int
}

func (p *flakyPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.calls++
	return p.err
}

func (p *flakyPublisher) Close() error { return nil }

func TestBreakerPublisher_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &flakyPublisher{err: errors.New("broker down")}
	cfg := eventbus.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 2}
	pub := eventbus.NewBreakerPublisher(next, cfg, testLogger(), nil)

	assert.ErrorContains(t, pub.Publish(context.Background(), "k", nil), "broker down")
	assert.ErrorContains(t, pub.Publish(context.Background(), "k", nil), "broker down")
	assert.Equal(t, "open", pub.State())

	err := pub.Publish(context.Background(), "k", nil)
	assert.ErrorIs(t, err, eventbus.ErrPublisherUnavailable)
	assert.Equal(t, 2, next.calls, "open breaker does not reach the broker")
}

func TestBreakerPublisher_PassesThroughSuccess(t *testing.T) {
	next := &flakyPublisher{}
	pub := eventbus.NewBreakerPublisher(next, eventbus.DefaultBreakerConfig(), nil, nil)

	assert.NoError(t, pub.Publish(context.Background(), "k", []byte("x")))
	assert.Equal(t, "closed", pub.State())
	assert.Equal(t, 1, next.calls)
	assert.NoError(t, pub.Close())
}
