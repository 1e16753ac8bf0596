package realtime

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"sehat-saathi/internal/models"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type KafkaOptions struct {
	Brokers       string
	Topic         string
	GroupPrefix   string
	AssignTimeout time.Duration
}

// KafkaFeed consumes the shared responses topic (keyed by emergency id) with a private
// consumer group per subscription, so every subscriber sees every insert from now on.
type KafkaFeed struct {
	opts   KafkaOptions
	logger *zap.Logger
}

func NewKafkaFeed(opts KafkaOptions, logger *zap.Logger) *KafkaFeed {
	if opts.AssignTimeout <= 0 {
		opts.AssignTimeout = 10 * time.Second
	}
	return &KafkaFeed{opts: opts, logger: logger}
}

type kafkaSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *kafkaSubscription) Unsubscribe() error {
	s.cancel()
	<-s.done
	return nil
}

func (f *KafkaFeed) Subscribe(ctx context.Context, emergencyID string, onInsert InsertHandler, onStatus StatusHandler) (Subscription, error) {
	groupID := fmt.Sprintf("%s-%s", f.opts.GroupPrefix, uuid.NewString())
	logger := f.logger.With(zap.String("emergency_id", emergencyID), zap.String("group_id", groupID))

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  f.opts.Brokers,
		"group.id":           groupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	onStatus(models.StatusConnecting)
	var assigned atomic.Bool
	rebalance := func(c *kafka.Consumer, ev kafka.Event) error {
		switch e := ev.(type) {
		case kafka.AssignedPartitions:
			logger.Info("Subscribed to hospital responses", zap.Int("partitions", len(e.Partitions)))
			assigned.Store(true)
			onStatus(models.StatusSubscribed)
		case kafka.RevokedPartitions:
			onStatus(models.StatusConnecting)
		}
		return nil
	}
	if err := consumer.Subscribe(f.opts.Topic, rebalance); err != nil {
		consumer.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", f.opts.Topic, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &kafkaSubscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer consumer.Close()
		f.pollLoop(loopCtx, consumer, emergencyID, onInsert, onStatus, &assigned, logger)
	}()
	return sub, nil
}

func (f *KafkaFeed) pollLoop(ctx context.Context, consumer *kafka.Consumer, emergencyID string, onInsert InsertHandler, onStatus StatusHandler, assigned *atomic.Bool, logger *zap.Logger) {
	deadline := time.Now().Add(f.opts.AssignTimeout)
	timedOut := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !timedOut && !assigned.Load() && time.Now().After(deadline) {
			logger.Warn("No partition assignment yet", zap.Duration("timeout", f.opts.AssignTimeout))
			onStatus(models.StatusTimedOut)
			timedOut = true
		}

		ev := consumer.Poll(100)
		if ev == nil {
			continue
		}
		switch e := ev.(type) {
		case *kafka.Message:
			handleKafkaMessage(e, emergencyID, onInsert, logger)
		case kafka.Error:
			logger.Warn("Kafka error", zap.Error(e), zap.String("code", e.Code().String()))
			if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
				onStatus(models.StatusError)
			}
		}
	}
}

func handleKafkaMessage(msg *kafka.Message, emergencyID string, onInsert InsertHandler, logger *zap.Logger) {
	if len(msg.Key) > 0 && string(msg.Key) != emergencyID {
		return
	}
	resp, ok, err := decodeInsert(msg.Value, emergencyID)
	if err != nil {
		logger.Warn("Dropping malformed response event", zap.Error(err))
		return
	}
	if ok {
		onInsert(resp)
	}
}

type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   *zap.Logger
}

func NewKafkaPublisher(brokers, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": brokers})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}, nil
}

func (p *KafkaPublisher) PublishInsert(ctx context.Context, resp models.HospitalResponse) error {
	payload, err := encodeInsert(resp)
	if err != nil {
		return err
	}
	delivery := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(resp.EmergencyID),
		Value:          payload,
	}, delivery)
	if err != nil {
		return fmt.Errorf("failed to produce to %s: %w", p.topic, err)
	}
	select {
	case ev := <-delivery:
		if m, ok := ev.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery to %s failed: %w", p.topic, m.TopicPartition.Error)
		}
		p.logger.Debug("Published response insert", zap.String("emergency_id", resp.EmergencyID), zap.String("response_id", resp.ID))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *KafkaPublisher) Close() error {
	p.producer.Flush(5000)
	p.producer.Close()
	return nil
}
