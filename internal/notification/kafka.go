package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
)

const (
	kafkaQueueSize    = 256
	kafkaBreakerName  = "balance-notifier-writer"
	breakerMinSamples = 5
	breakerFailRatio  = 0.5
	breakerOpenPeriod = 30 * time.Second
)

var (
	errNotifierNotStarted = errors.New("kafka notifier not started")
	errNotifierStopped    = errors.New("kafka notifier stopped")
)

// KafkaConfig selects where balance notifications are published.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type writeCloser interface {
	Close() error
}

// KafkaNotifier publishes messages asynchronously. Writes go through a
// circuit breaker so an unreachable broker fails fast instead of stalling
// the queue.
type KafkaNotifier struct {
	log     *slog.Logger
	topic   string
	writer  messageWriter
	closer  writeCloser
	breaker *gobreaker.CircuitBreaker
	queue   chan kafka.Message

	mu      sync.Mutex
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewKafkaNotifier builds a notifier writing JSON messages keyed by account.
func NewKafkaNotifier(cfg KafkaConfig, log *slog.Logger) (*KafkaNotifier, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
		Balancer:               &kafka.Hash{},
	}
	return newKafkaNotifierWithWriter(cfg.Topic, log, writer, writer)
}

// newKafkaNotifierWithWriter is used by tests to substitute the writer.
func newKafkaNotifierWithWriter(topic string, log *slog.Logger, writer messageWriter, closer writeCloser) (*KafkaNotifier, error) {
	if log == nil {
		return nil, errors.New("kafka notifier requires a logger")
	}
	if writer == nil {
		return nil, errors.New("kafka notifier requires a writer")
	}
	log = log.With(slog.String("component", "kafka_notifier"))
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    kafkaBreakerName,
		Timeout: breakerOpenPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinSamples {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("kafka_notifier_breaker_state", slog.String("name", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return &KafkaNotifier{
		log:     log,
		topic:   topic,
		writer:  writer,
		closer:  closer,
		breaker: breaker,
		queue:   make(chan kafka.Message, kafkaQueueSize),
	}, nil
}

// Start launches the delivery loop.
func (n *KafkaNotifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return nil
	}
	n.runCtx, n.cancel = context.WithCancel(ctx)
	n.started = true
	n.wg.Add(1)
	go n.run()
	n.log.Info("kafka_notifier_started", slog.String("topic", n.topic))
	return nil
}

// Stop ends the loop after draining queued messages and closes the writer.
func (n *KafkaNotifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	var stopErr error
	select {
	case <-done:
	case <-ctx.Done():
		stopErr = ctx.Err()
	}
	if n.closer != nil {
		if err := n.closer.Close(); err != nil {
			n.log.Error("kafka_notifier_close_err", slog.Any("err", err))
		}
	}
	n.log.Info("kafka_notifier_stopped")
	return stopErr
}

// Send queues message for delivery.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	n.mu.Lock()
	started, runCtx := n.started, n.runCtx
	n.mu.Unlock()
	if !started {
		return errNotifierNotStarted
	}

	value, err := json.Marshal(message)
	if err != nil {
		return err
	}
	select {
	case n.queue <- kafka.Message{Key: []byte(message.Account), Value: value}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-runCtx.Done():
		return errNotifierStopped
	}
}

func (n *KafkaNotifier) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.runCtx.Done():
			n.drain()
			return
		case msg := <-n.queue:
			n.deliver(n.runCtx, msg)
		}
	}
}

func (n *KafkaNotifier) drain() {
	ctx := context.WithoutCancel(n.runCtx)
	for {
		select {
		case msg := <-n.queue:
			n.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (n *KafkaNotifier) deliver(ctx context.Context, msg kafka.Message) {
	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			n.log.Warn("kafka_notifier_dropped", slog.String("reason", "breaker_open"), slog.String("key", string(msg.Key)))
			return
		}
		n.log.Error("kafka_notifier_publish_err", slog.Any("err", err), slog.String("key", string(msg.Key)))
		return
	}
	n.log.Debug("kafka_notifier_publish_success", slog.String("key", string(msg.Key)))
}
