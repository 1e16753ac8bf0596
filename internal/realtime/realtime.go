// Package realtime delivers hospital response inserts as they happen.
//
// A Feed opens one subscription per observed emergency. Each subscription owns its own
// connection handle and reports its state through a StatusHandler; the caller decides what
// to do when the feed is degraded. A Publisher is the writer side used by the hub after a
// reply has been committed to the store.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"sehat-saathi/internal/config"
	"sehat-saathi/internal/models"

	"go.uber.org/zap"
)

type InsertHandler func(models.HospitalResponse)

type StatusHandler func(models.ConnectionStatus)

type Subscription interface {
	Unsubscribe() error
}

type Feed interface {
	// Subscribe starts delivering inserts for emergencyID. A returned error means the
	// subscription could not be established at all; later failures go through onStatus.
	Subscribe(ctx context.Context, emergencyID string, onInsert InsertHandler, onStatus StatusHandler) (Subscription, error)
}

type Publisher interface {
	PublishInsert(ctx context.Context, resp models.HospitalResponse) error
	Close() error
}

// NewFeed builds the feed selected by REALTIME_BACKEND.
func NewFeed(cfg *config.Config, logger *zap.Logger) (Feed, error) {
	switch cfg.RealtimeBackend {
	case "mqtt", "":
		return NewMQTTFeed(MQTTOptions{
			Broker:         cfg.MQTTBroker,
			ClientID:       cfg.MQTTClientID,
			Username:       cfg.MQTTUsername,
			Password:       cfg.MQTTPassword,
			TopicPrefix:    cfg.MQTTTopicPrefix,
			ConnectTimeout: cfg.SubscribeTimeout,
		}, logger), nil
	case "redis":
		return NewRedisFeed(newRedisClient(cfg), cfg.RedisStreamPrefix, logger), nil
	case "kafka":
		return NewKafkaFeed(KafkaOptions{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.ResponsesTopic,
			GroupPrefix:   cfg.ConsumerGroup,
			AssignTimeout: cfg.SubscribeTimeout,
		}, logger), nil
	}
	return nil, fmt.Errorf("unknown realtime backend %q", cfg.RealtimeBackend)
}

// NewPublisher builds the writer side matching NewFeed.
func NewPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Publisher, error) {
	switch cfg.RealtimeBackend {
	case "mqtt", "":
		return NewMQTTPublisher(MQTTOptions{
			Broker:         cfg.MQTTBroker,
			ClientID:       cfg.MQTTClientID + "-hub",
			Username:       cfg.MQTTUsername,
			Password:       cfg.MQTTPassword,
			TopicPrefix:    cfg.MQTTTopicPrefix,
			ConnectTimeout: cfg.SubscribeTimeout,
		}, logger)
	case "redis":
		client := newRedisClient(cfg)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisPublisher(client, cfg.RedisStreamPrefix, logger), nil
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.ResponsesTopic, logger)
	}
	return nil, fmt.Errorf("unknown realtime backend %q", cfg.RealtimeBackend)
}

func encodeInsert(resp models.HospitalResponse) ([]byte, error) {
	return json.Marshal(resp)
}

// decodeInsert parses an insert event and reports whether it belongs to emergencyID.
func decodeInsert(data []byte, emergencyID string) (models.HospitalResponse, bool, error) {
	var resp models.HospitalResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, false, err
	}
	return resp, resp.EmergencyID == emergencyID, nil
}
