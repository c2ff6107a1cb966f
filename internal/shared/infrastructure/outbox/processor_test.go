package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// memoryRepository keeps outbox messages in a slice and records every
// state transition.
type memoryRepository struct {
	mu        sync.Mutex
	messages  []*outbox.Message
	published []int64
	failed    []int64
	dead      []int64
	loadErr   error
}

func (r *memoryRepository) Save(_ context.Context, msg *outbox.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = int64(len(r.messages) + 1)
	r.messages = append(r.messages, msg)
	return nil
}

func (r *memoryRepository) GetUnpublished(_ context.Context, limit int) ([]*outbox.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}

	now := time.Now()
	var due []*outbox.Message
	for _, msg := range r.messages {
		if msg.PublishedAt != nil || msg.DeadLetteredAt != nil {
			continue
		}
		if msg.NextRetryAt != nil && msg.NextRetryAt.After(now) {
			continue
		}
		due = append(due, msg)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (r *memoryRepository) find(id int64) *outbox.Message {
	for _, msg := range r.messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

func (r *memoryRepository) MarkPublished(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.find(id).PublishedAt = &now
	r.published = append(r.published, id)
	return nil
}

func (r *memoryRepository) MarkFailed(_ context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := r.find(id)
	msg.RetryCount++
	msg.LastError = &errMsg
	msg.NextRetryAt = &nextRetryAt
	r.failed = append(r.failed, id)
	return nil
}

func (r *memoryRepository) MarkDead(_ context.Context, id int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	msg := r.find(id)
	msg.DeadLetteredAt = &now
	msg.DeadLetterReason = &reason
	r.dead = append(r.dead, id)
	return nil
}

func (r *memoryRepository) Backlog(context.Context) (outbox.Backlog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b outbox.Backlog
	for _, msg := range r.messages {
		switch {
		case msg.DeadLetteredAt != nil:
			b.Dead++
		case msg.PublishedAt == nil:
			b.Pending++
		}
	}
	return b, nil
}

func (r *memoryRepository) DeleteOld(_ context.Context, olderThanDays int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	kept := r.messages[:0]
	var deleted int64
	for _, msg := range r.messages {
		if msg.PublishedAt != nil && msg.PublishedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, msg)
	}
	r.messages = kept
	return deleted, nil
}

func (r *memoryRepository) publishedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

// brokerStub fails publishes for the routing keys in down.
type brokerStub struct {
	mu   sync.Mutex
	keys []string
	down map[string]bool
}

func (b *brokerStub) Publish(_ context.Context, routingKey string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down[routingKey] {
		return errors.New("broker unavailable")
	}
	b.keys = append(b.keys, routingKey)
	return nil
}

func (b *brokerStub) Close() error { return nil }

func (b *brokerStub) routed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.keys...)
}

func createTestMessage(routingKey string) *outbox.Message {
	payload, _ := json.Marshal(map[string]string{"name": "cat.png"})
	return &outbox.Message{
		EventID:       uuid.New(),
		AggregateType: "Image",
		AggregateID:   "1",
		EventType:     routingKey,
		RoutingKey:    routingKey,
		Payload:       payload,
		CreatedAt:     time.Now().Add(-time.Second),
	}
}

func seed(t *testing.T, repo *memoryRepository, keys ...string) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, repo.Save(context.Background(), createTestMessage(key)))
	}
}

func TestProcessor_PublishesInOrder(t *testing.T) {
	repo := &memoryRepository{}
	broker := &brokerStub{}
	p := outbox.NewProcessor(repo, broker, outbox.DefaultProcessorConfig(), nil, nil)
	seed(t, repo, "imagery.image-uploaded-event", "imagery.image-transformed-event")

	require.NoError(t, p.ProcessOnce(context.Background()))

	assert.Equal(t, []string{"imagery.image-uploaded-event", "imagery.image-transformed-event"}, broker.routed())
	assert.Equal(t, []int64{1, 2}, repo.published)

	stats := p.GetStats()
	assert.Equal(t, uint64(2), stats.PublishedCount)
	require.NotNil(t, stats.LastProcessedAt)
	require.NotNil(t, stats.OldestMessageAt)
	assert.Greater(t, stats.LagSeconds, 0.0)
}

func TestProcessor_RetriesWithBackoff(t *testing.T) {
	repo := &memoryRepository{}
	broker := &brokerStub{down: map[string]bool{"imagery.down": true}}
	p := outbox.NewProcessor(repo, broker, outbox.DefaultProcessorConfig(), nil, nil)
	seed(t, repo, "imagery.up", "imagery.down")

	before := time.Now()
	require.NoError(t, p.ProcessOnce(context.Background()))

	assert.Equal(t, []int64{1}, repo.published)
	assert.Equal(t, []int64{2}, repo.failed)
	msg := repo.find(2)
	assert.Equal(t, 1, msg.RetryCount)
	require.NotNil(t, msg.NextRetryAt)
	assert.WithinDuration(t, before.Add(time.Second), *msg.NextRetryAt, 500*time.Millisecond)

	// The message is not due yet, so a second pass does nothing.
	require.NoError(t, p.ProcessOnce(context.Background()))
	assert.Equal(t, []int64{2}, repo.failed)

	stats := p.GetStats()
	assert.Equal(t, uint64(1), stats.FailedCount)
	assert.Equal(t, "broker unavailable", stats.LastError)
	assert.NotNil(t, stats.LastErrorAt)
}

func TestProcessor_DeadLettersAtMaxRetries(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		retryCount int
		wantDead   bool
	}{
		{"first failure with one retry allowed", 1, 0, true},
		{"no retries configured", 0, 0, true},
		{"retries left", 5, 3, false},
		{"last retry", 5, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &memoryRepository{}
			broker := &brokerStub{down: map[string]bool{"imagery.down": true}}
			cfg := outbox.DefaultProcessorConfig()
			cfg.MaxRetries = tt.maxRetries
			p := outbox.NewProcessor(repo, broker, cfg, nil, nil)

			msg := createTestMessage("imagery.down")
			msg.RetryCount = tt.retryCount
			require.NoError(t, repo.Save(context.Background(), msg))

			require.NoError(t, p.ProcessOnce(context.Background()))

			if tt.wantDead {
				assert.Equal(t, []int64{1}, repo.dead)
				assert.Empty(t, repo.failed)
				assert.Equal(t, uint64(1), p.GetStats().DeadCount)
				require.NotNil(t, msg.DeadLetterReason)
				assert.Equal(t, "broker unavailable", *msg.DeadLetterReason)
			} else {
				assert.Empty(t, repo.dead)
				assert.Equal(t, []int64{1}, repo.failed)
			}
		})
	}
}

func TestProcessor_LoadFailure(t *testing.T) {
	repo := &memoryRepository{loadErr: errors.New("database locked")}
	p := outbox.NewProcessor(repo, &brokerStub{}, outbox.DefaultProcessorConfig(), nil, nil)

	err := p.ProcessOnce(context.Background())
	assert.ErrorContains(t, err, "database locked")
	assert.Equal(t, "database locked", p.GetStats().LastError)
}

func TestProcessor_StartDrainsFullBatches(t *testing.T) {
	repo := &memoryRepository{}
	broker := &brokerStub{}
	cfg := outbox.DefaultProcessorConfig()
	cfg.PollInterval = time.Hour
	cfg.BatchSize = 1
	p := outbox.NewProcessor(repo, broker, cfg, nil, nil)
	seed(t, repo, "imagery.a", "imagery.b", "imagery.c")

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())

	require.Eventually(t, func() bool { return repo.publishedCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	assert.False(t, p.IsRunning())
	assert.False(t, p.GetStats().IsRunning)
}

func TestProcessor_PicksUpNewMessages(t *testing.T) {
	repo := &memoryRepository{}
	cfg := outbox.DefaultProcessorConfig()
	cfg.PollInterval = 10 * time.Millisecond
	p := outbox.NewProcessor(repo, &brokerStub{}, cfg, nil, nil)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	seed(t, repo, "imagery.late")
	require.Eventually(t, func() bool { return repo.publishedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestProcessor_StartAndStopAreIdempotent(t *testing.T) {
	p := outbox.NewProcessor(&memoryRepository{}, &brokerStub{}, outbox.DefaultProcessorConfig(), nil, nil)

	p.Stop()
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
	p.Stop()
	assert.False(t, p.IsRunning())
}

func TestProcessor_StopsWithContext(t *testing.T) {
	p := outbox.NewProcessor(&memoryRepository{}, &brokerStub{}, outbox.DefaultProcessorConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the context was cancelled")
	}
}

func TestProcessor_RecordsMetrics(t *testing.T) {
	repo := &memoryRepository{}
	broker := &brokerStub{down: map[string]bool{"imagery.down": true}}
	metrics := observability.NewInMemoryMetrics()
	p := outbox.NewProcessor(repo, broker, outbox.DefaultProcessorConfig(), nil, metrics)
	seed(t, repo, "imagery.up", "imagery.down")

	require.NoError(t, p.ProcessOnce(context.Background()))

	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricOutboxPublished))
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricOutboxFailed))
	assert.Greater(t, metrics.GetGauge(observability.MetricOutboxLag), 0.0)
}

func TestProcessor_CleanupAndBacklog(t *testing.T) {
	ctx := context.Background()
	repo := &memoryRepository{}
	p := outbox.NewProcessor(repo, &brokerStub{}, outbox.DefaultProcessorConfig(), nil, nil)

	old := createTestMessage("imagery.old")
	published := time.Now().AddDate(0, 0, -30)
	old.PublishedAt = &published
	require.NoError(t, repo.Save(ctx, old))
	seed(t, repo, "imagery.fresh")

	backlog, err := p.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, outbox.Backlog{Pending: 1}, backlog)

	deleted, err := p.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, repo.messages, 1)
}

func TestProcessorConfig_Backoff(t *testing.T) {
	cfg := outbox.ProcessorConfig{RetryBackoffBase: time.Second, RetryBackoffMax: 10 * time.Second}

	assert.Equal(t, time.Second, cfg.Backoff(0))
	assert.Equal(t, time.Second, cfg.Backoff(1))
	assert.Equal(t, 2*time.Second, cfg.Backoff(2))
	assert.Equal(t, 8*time.Second, cfg.Backoff(4))
	assert.Equal(t, 10*time.Second, cfg.Backoff(5))
	assert.Equal(t, 10*time.Second, cfg.Backoff(60))

	assert.Equal(t, time.Second, outbox.ProcessorConfig{}.Backoff(1))
}
