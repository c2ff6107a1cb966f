package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// ProcessorConfig tunes the relay from the outbox table to the broker.
type ProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries is the number of failed publishes after which a message is
	// dead-lettered. Zero dead-letters on the first failure.
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	// RetentionDays bounds how long published messages are kept by Cleanup.
	RetentionDays int
}

// DefaultProcessorConfig returns the configuration used when none is given.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:     100 * time.Millisecond,
		BatchSize:        100,
		MaxRetries:       5,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  time.Minute,
		RetentionDays:    7,
	}
}

// Backoff returns the delay before retry attempt n, counting from 1. The base
// delay doubles per attempt up to RetryBackoffMax.
func (c ProcessorConfig) Backoff(attempt int) time.Duration {
	base, ceiling := c.RetryBackoffBase, c.RetryBackoffMax
	if base <= 0 {
		base = time.Second
	}
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	d := base
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}

// Stats is a snapshot of the processor counters.
type Stats struct {
	IsRunning       bool
	PublishedCount  uint64
	FailedCount     uint64
	DeadCount       uint64
	LagSeconds      float64
	LastError       string
	LastErrorAt     *time.Time
	LastProcessedAt *time.Time
	OldestMessageAt *time.Time
}

// Processor relays committed outbox messages to the event publisher. A message
// whose publish fails is retried with backoff and dead-lettered once
// MaxRetries is reached.
type Processor struct {
	repo      Repository
	publisher eventbus.Publisher
	cfg       ProcessorConfig
	logger    *slog.Logger
	metrics   observability.Metrics

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	published atomic.Uint64
	failed    atomic.Uint64
	dead      atomic.Uint64

	statsMu         sync.Mutex
	lastError       string
	lastErrorAt     *time.Time
	lastProcessedAt *time.Time
	oldestAt        *time.Time
	lag             float64
}

// NewProcessor creates a processor. logger and metrics may be nil.
func NewProcessor(repo Repository, publisher eventbus.Publisher, cfg ProcessorConfig, logger *slog.Logger, metrics observability.Metrics) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultProcessorConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultProcessorConfig().BatchSize
	}
	return &Processor{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "outbox"),
		metrics:   metrics,
	}
}

// Start runs the relay loop in the background until Stop is called or ctx
// is done. Starting a running processor is a no-op.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return nil
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(ctx, p.stop, p.done)

	p.logger.Info("outbox processor started",
		"poll_interval", p.cfg.PollInterval,
		"batch_size", p.cfg.BatchSize,
		"max_retries", p.cfg.MaxRetries,
	)
	return nil
}

// Stop waits for the batch in flight to finish and stops the loop.
func (p *Processor) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if done == nil {
		return
	}

	close(stop)
	<-done
	p.logger.Info("outbox processor stopped")
}

// IsRunning reports whether Start was called without a matching Stop.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil
}

func (p *Processor) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// The first batch is relayed immediately.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}

		n, err := p.relay(ctx)
		if err != nil {
			p.logger.ErrorContext(ctx, "outbox relay failed", observability.ErrorKey, err)
		}
		next := p.cfg.PollInterval
		if err == nil && n == p.cfg.BatchSize {
			// A full batch means more messages are probably due.
			next = 0
		}
		timer.Reset(next)
	}
}

// ProcessOnce relays a single batch.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	_, err := p.relay(ctx)
	return err
}

func (p *Processor) relay(ctx context.Context) (int, error) {
	msgs, err := p.repo.GetUnpublished(ctx, p.cfg.BatchSize)
	if err != nil {
		p.noteError(err)
		return 0, fmt.Errorf("failed to load outbox batch: %w", err)
	}
	p.noteBatch(msgs)

	for _, msg := range msgs {
		p.settle(ctx, msg, p.publisher.Publish(ctx, msg.RoutingKey, msg.Payload))
	}
	return len(msgs), nil
}

// settle records the outcome of one publish attempt.
func (p *Processor) settle(ctx context.Context, msg *Message, pubErr error) {
	log := p.logger.With(
		"outbox_id", msg.ID,
		"event_id", msg.EventID,
		"routing_key", msg.RoutingKey,
	)

	if pubErr == nil {
		if err := p.repo.MarkPublished(ctx, msg.ID); err != nil {
			log.ErrorContext(ctx, "failed to mark outbox message published", observability.ErrorKey, err)
			return
		}
		p.published.Add(1)
		p.metrics.Counter(observability.MetricOutboxPublished, 1)
		return
	}

	p.noteError(pubErr)
	log = log.With(
		observability.CorrelationIDKey, correlationOf(msg),
		"retry_count", msg.RetryCount,
		observability.ErrorKey, pubErr,
	)

	attempt := msg.RetryCount + 1
	if attempt >= p.cfg.MaxRetries {
		p.dead.Add(1)
		p.metrics.Counter(observability.MetricOutboxDeadLettered, 1)
		log.WarnContext(ctx, "dead-lettering outbox message")
		if err := p.repo.MarkDead(ctx, msg.ID, pubErr.Error()); err != nil {
			log.ErrorContext(ctx, "failed to dead-letter outbox message", "mark_error", err)
		}
		return
	}

	p.failed.Add(1)
	p.metrics.Counter(observability.MetricOutboxFailed, 1)
	retryAt := time.Now().Add(p.cfg.Backoff(attempt))
	log.WarnContext(ctx, "outbox publish failed, will retry", "retry_at", retryAt)
	if err := p.repo.MarkFailed(ctx, msg.ID, pubErr.Error(), retryAt); err != nil {
		log.ErrorContext(ctx, "failed to reschedule outbox message", "mark_error", err)
	}
}

func correlationOf(msg *Message) string {
	if len(msg.Metadata) == 0 {
		return ""
	}
	var md domain.EventMetadata
	if err := json.Unmarshal(msg.Metadata, &md); err != nil {
		return ""
	}
	return md.CorrelationID.String()
}

// Cleanup removes published messages older than RetentionDays.
func (p *Processor) Cleanup(ctx context.Context) (int64, error) {
	if p.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	deleted, err := p.repo.DeleteOld(ctx, p.cfg.RetentionDays)
	if err != nil {
		p.noteError(err)
		return 0, fmt.Errorf("failed to clean up outbox: %w", err)
	}
	if deleted > 0 {
		p.logger.InfoContext(ctx, "outbox cleanup completed",
			"deleted", deleted,
			"retention_days", p.cfg.RetentionDays,
		)
	}
	return deleted, nil
}

// Backlog counts the messages not yet delivered.
func (p *Processor) Backlog(ctx context.Context) (Backlog, error) {
	return p.repo.Backlog(ctx)
}

// GetStats returns a snapshot of the processor counters.
func (p *Processor) GetStats() Stats {
	running := p.IsRunning()

	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return Stats{
		IsRunning:       running,
		PublishedCount:  p.published.Load(),
		FailedCount:     p.failed.Load(),
		DeadCount:       p.dead.Load(),
		LagSeconds:      p.lag,
		LastError:       p.lastError,
		LastErrorAt:     p.lastErrorAt,
		LastProcessedAt: p.lastProcessedAt,
		OldestMessageAt: p.oldestAt,
	}
}

func (p *Processor) noteError(err error) {
	now := time.Now()
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.lastError = err.Error()
	p.lastErrorAt = &now
}

// noteBatch updates the lag from the oldest message of the batch.
func (p *Processor) noteBatch(msgs []*Message) {
	now := time.Now()
	var oldest *time.Time
	for _, msg := range msgs {
		if oldest == nil || msg.CreatedAt.Before(*oldest) {
			created := msg.CreatedAt
			oldest = &created
		}
	}

	lag := 0.0
	if oldest != nil {
		lag = now.Sub(*oldest).Seconds()
	}

	p.statsMu.Lock()
	p.lastProcessedAt = &now
	p.oldestAt = oldest
	p.lag = lag
	p.statsMu.Unlock()

	p.metrics.Gauge(observability.MetricOutboxLag, lag)
}
