package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sehat-saathi/internal/config"
	"sehat-saathi/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	redisReadBlock    = 500 * time.Millisecond
	redisRetryDelay   = time.Second
	redisStreamMaxLen = 1000
)

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func streamKey(prefix, emergencyID string) string {
	return prefix + ":" + emergencyID
}

// RedisFeed reads one Redis stream per emergency with XREAD.
type RedisFeed struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisFeed(client *redis.Client, prefix string, logger *zap.Logger) *RedisFeed {
	return &RedisFeed{client: client, prefix: prefix, logger: logger}
}

type redisSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *redisSubscription) Unsubscribe() error {
	s.cancel()
	// XREAD is not interrupted by cancellation, so the loop may need one more block period.
	select {
	case <-s.done:
	case <-time.After(2 * redisReadBlock):
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, emergencyID string, onInsert InsertHandler, onStatus StatusHandler) (Subscription, error) {
	stream := streamKey(f.prefix, emergencyID)
	logger := f.logger.With(zap.String("emergency_id", emergencyID), zap.String("stream", stream))

	// The read loop outlives Subscribe's ctx; only Unsubscribe ends it.
	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{cancel: cancel, done: make(chan struct{})}

	onStatus(models.StatusConnecting)
	go func() {
		defer close(sub.done)
		f.readLoop(loopCtx, stream, emergencyID, onInsert, onStatus, logger)
	}()
	return sub, nil
}

// tail returns the id of the newest entry so reads begin after everything already in the stream.
func (f *RedisFeed) tail(ctx context.Context, stream string) (string, error) {
	msgs, err := f.client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "0", nil
	}
	return msgs[0].ID, nil
}

func (f *RedisFeed) readLoop(ctx context.Context, stream, emergencyID string, onInsert InsertHandler, onStatus StatusHandler, logger *zap.Logger) {
	lastID := ""
	healthy := false
	for {
		if ctx.Err() != nil {
			return
		}
		if !healthy {
			if lastID == "" {
				id, err := f.tail(ctx, stream)
				if err != nil {
					f.degrade(ctx, logger, onStatus, err)
					continue
				}
				lastID = id
			} else if err := f.client.Ping(ctx).Err(); err != nil {
				f.degrade(ctx, logger, onStatus, err)
				continue
			}
			healthy = true
			logger.Info("Subscribed to hospital responses")
			onStatus(models.StatusSubscribed)
		}

		streams, err := f.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   50,
			Block:   redisReadBlock,
		}).Result()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			healthy = false
			f.degrade(ctx, logger, onStatus, err)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				lastID = msg.ID
				raw, _ := msg.Values["data"].(string)
				resp, ok, err := decodeInsert([]byte(raw), emergencyID)
				if err != nil {
					logger.Warn("Dropping malformed response event", zap.String("entry_id", msg.ID), zap.Error(err))
					continue
				}
				if !ok {
					continue
				}
				onInsert(resp)
			}
		}
	}
}

func (f *RedisFeed) degrade(ctx context.Context, logger *zap.Logger, onStatus StatusHandler, err error) {
	if ctx.Err() != nil {
		return
	}
	logger.Warn("Redis stream unavailable, retrying", zap.Error(err))
	onStatus(models.StatusError)
	select {
	case <-ctx.Done():
	case <-time.After(redisRetryDelay):
	}
}

type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisPublisher(client *redis.Client, prefix string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix, logger: logger}
}

func (p *RedisPublisher) PublishInsert(ctx context.Context, resp models.HospitalResponse) error {
	payload, err := encodeInsert(resp)
	if err != nil {
		return err
	}
	stream := streamKey(p.prefix, resp.EmergencyID)
	_, err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: redisStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":      string(payload),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add to stream %s: %w", stream, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
