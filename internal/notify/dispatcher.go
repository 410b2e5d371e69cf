package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/metricwatch/internal/model"
	"github.com/t77yq/metricwatch/internal/telemetry"
)

// Channel delivers one alert to one destination. The dispatcher owns retries,
// so implementations make a single attempt per call.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert model.Alert) error
}

// Config holds dispatcher configuration
type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	SendTimeout time.Duration
	Backoff     RetryStrategy
}

type job struct {
	alert   model.Alert
	channel Channel
}

// Dispatcher delivers alerts to channels from a pool of background workers so
// that callers never wait on a channel.
type Dispatcher struct {
	logger   *zap.Logger
	config   Config
	channels map[string]Channel

	mu     sync.RWMutex
	jobs   chan job
	closed bool

	startOnce sync.Once
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewDispatcher creates a dispatcher over the given channels
func NewDispatcher(config Config, channels []Channel, logger *zap.Logger) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}
	if config.Backoff == nil {
		config.Backoff = &ExponentialBackoff{
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		}
	}

	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		logger:   logger.Named("dispatcher"),
		config:   config,
		channels: byName,
		jobs:     make(chan job, config.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the workers. Alerts dispatched before Start are queued.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.logger.Info("Starting notification dispatcher",
			zap.Int("workers", d.config.Workers),
			zap.Int("queue_size", d.config.QueueSize),
			zap.Int("max_attempts", d.config.MaxAttempts))

		for i := 0; i < d.config.Workers; i++ {
			d.wg.Add(1)
			go d.worker(i)
		}
	})
}

// Channels lists the registered channel names
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	return names
}

// Dispatch queues alert for every named channel and returns immediately.
// Unknown channels and a full queue are logged and counted.
func (d *Dispatcher) Dispatch(alert model.Alert, channels []string) {
	for _, name := range channels {
		if err := d.enqueue(alert, name); err != nil {
			d.logger.Error("Failed to queue notification",
				zap.String("alert_id", alert.ID),
				zap.String("channel", name),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) enqueue(alert model.Alert, name string) error {
	ch, ok := d.channels[name]
	if !ok {
		telemetry.NotificationsDropped.Inc()
		return fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		telemetry.NotificationsDropped.Inc()
		return ErrDispatcherClosed
	}

	select {
	case d.jobs <- job{alert: alert.Clone(), channel: ch}:
		telemetry.NotificationQueueSize.Set(float64(len(d.jobs)))
		return nil
	default:
		telemetry.NotificationsDropped.Inc()
		return ErrQueueFull
	}
}

// Drain stops accepting alerts and waits for queued and in-flight
// notifications until ctx is done. Work still pending at the deadline is
// abandoned.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	// Workers that were never started cannot drain the queue.
	d.Start()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("Notification dispatcher drained")
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("Abandoning pending notifications at shutdown deadline",
			zap.Int("queued", len(d.jobs)))
		return fmt.Errorf("failed to drain notifications: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for j := range d.jobs {
		telemetry.NotificationQueueSize.Set(float64(len(d.jobs)))
		if d.ctx.Err() != nil {
			continue
		}
		d.deliver(id, j)
	}
}

// deliver sends one job with bounded attempts. Exhausting the attempts only
// fails this channel.
func (d *Dispatcher) deliver(workerID int, j job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered from panic while sending notification",
				zap.Int("worker_id", workerID),
				zap.String("channel", j.channel.Name()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			telemetry.PanicsRecovered.WithLabelValues("dispatcher").Inc()
		}
	}()

	name := j.channel.Name()
	for attempt := 0; attempt < d.config.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(d.ctx, d.config.SendTimeout)
		err := j.channel.Send(ctx, j.alert)
		cancel()

		if err == nil {
			telemetry.NotificationAttempts.WithLabelValues(name, "success").Inc()
			d.logger.Debug("Notification sent",
				zap.String("alert_id", j.alert.ID),
				zap.String("channel", name),
				zap.Int("attempt", attempt+1))
			return
		}

		telemetry.NotificationAttempts.WithLabelValues(name, "failed").Inc()
		d.logger.Warn("Notification attempt failed",
			zap.String("alert_id", j.alert.ID),
			zap.String("channel", name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", d.config.MaxAttempts),
			zap.Error(err))

		if attempt == d.config.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(d.config.Backoff.NextRetry(attempt))
		select {
		case <-d.ctx.Done():
			timer.Stop()
			d.logger.Warn("Notification abandoned at shutdown",
				zap.String("alert_id", j.alert.ID),
				zap.String("channel", name))
			return
		case <-timer.C:
		}
	}

	telemetry.NotificationsExhausted.WithLabelValues(name).Inc()
	d.logger.Error("Notification failed after all attempts",
		zap.String("alert_id", j.alert.ID),
		zap.String("channel", name),
		zap.Int("attempts", d.config.MaxAttempts))
}
