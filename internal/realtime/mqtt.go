package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sehat-saathi/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type MQTTOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	ConnectTimeout time.Duration
}

func (o MQTTOptions) topic(emergencyID string) string {
	return strings.TrimSuffix(o.TopicPrefix, "/") + "/" + emergencyID
}

func (o MQTTOptions) clientOptions(clientID string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(clientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	return opts
}

// MQTTFeed subscribes to one topic per emergency. Every subscription gets its own client.
type MQTTFeed struct {
	opts   MQTTOptions
	logger *zap.Logger
}

func NewMQTTFeed(opts MQTTOptions, logger *zap.Logger) *MQTTFeed {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &MQTTFeed{opts: opts, logger: logger}
}

type mqttSubscription struct {
	client mqtt.Client
	topic  string
	once   sync.Once
}

func (s *mqttSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		if s.client.IsConnectionOpen() {
			token := s.client.Unsubscribe(s.topic)
			if token.WaitTimeout(time.Second) && token.Error() != nil {
				err = fmt.Errorf("failed to unsubscribe from %s: %w", s.topic, token.Error())
			}
		}
		s.client.Disconnect(250)
	})
	return err
}

func (f *MQTTFeed) Subscribe(ctx context.Context, emergencyID string, onInsert InsertHandler, onStatus StatusHandler) (Subscription, error) {
	topic := f.opts.topic(emergencyID)
	logger := f.logger.With(zap.String("emergency_id", emergencyID), zap.String("topic", topic))
	handler := newMessageHandler(emergencyID, onInsert, logger)

	opts := f.opts.clientOptions(fmt.Sprintf("%s-%s", f.opts.ClientID, uuid.NewString()[:8]))
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	// Runs on the first connect and again after every automatic reconnect.
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		token := client.Subscribe(topic, 1, handler)
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Error("MQTT subscribe failed", zap.Error(err))
			onStatus(models.StatusError)
			return
		}
		logger.Info("Subscribed to hospital responses")
		onStatus(models.StatusSubscribed)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
		onStatus(models.StatusClosed)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		onStatus(models.StatusConnecting)
	})

	onStatus(models.StatusConnecting)
	client := mqtt.NewClient(opts)
	sub := &mqttSubscription{client: client, topic: topic}
	token := client.Connect()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			client.Disconnect(0)
			return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", f.opts.Broker, err)
		}
	case <-time.After(f.opts.ConnectTimeout):
		// The client keeps retrying in the background; OnConnect reports subscribed once it gets through.
		logger.Warn("MQTT connect timed out, still retrying", zap.Duration("timeout", f.opts.ConnectTimeout))
		onStatus(models.StatusTimedOut)
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	return sub, nil
}

func newMessageHandler(emergencyID string, onInsert InsertHandler, logger *zap.Logger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		resp, ok, err := decodeInsert(msg.Payload(), emergencyID)
		if err != nil {
			logger.Warn("Dropping malformed response event", zap.Error(err), zap.ByteString("payload", msg.Payload()))
			return
		}
		if !ok {
			logger.Debug("Dropping response for another emergency", zap.String("response_emergency_id", resp.EmergencyID))
			return
		}
		onInsert(resp)
	}
}

// MQTTPublisher is the hub's long lived client for announcing inserts.
type MQTTPublisher struct {
	client mqtt.Client
	opts   MQTTOptions
	logger *zap.Logger
}

func NewMQTTPublisher(opts MQTTOptions, logger *zap.Logger) (*MQTTPublisher, error) {
	co := opts.clientOptions(opts.ClientID)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT publisher connection lost", zap.Error(err))
	})
	client := mqtt.NewClient(co)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	logger.Info("Connected to MQTT broker", zap.String("broker", opts.Broker))
	return &MQTTPublisher{client: client, opts: opts, logger: logger}, nil
}

func (p *MQTTPublisher) PublishInsert(ctx context.Context, resp models.HospitalResponse) error {
	payload, err := encodeInsert(resp)
	if err != nil {
		return err
	}
	topic := p.opts.topic(resp.EmergencyID)
	token := p.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
