package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"sehat-saathi/internal/config"
	"sehat-saathi/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu       sync.Mutex
	inserts  []models.HospitalResponse
	statuses []models.ConnectionStatus
}

func (r *recorder) onInsert(resp models.HospitalResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts = append(r.inserts, resp)
}

func (r *recorder) onStatus(s models.ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) insertIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.inserts))
	for _, resp := range r.inserts {
		ids = append(ids, resp.ID)
	}
	return ids
}

func (r *recorder) statusList() []models.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ConnectionStatus(nil), r.statuses...)
}

func (r *recorder) lastStatus() models.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDecodeInsert(t *testing.T) {
	resp, ok, err := decodeInsert([]byte(`{"id":"r1","emergency_id":"E1","hospital_name":"CHC","responded_at":"2026-03-01T10:30:00Z"}`), "E1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "r1", resp.ID)

	_, ok, err = decodeInsert([]byte(`{"id":"r1","emergency_id":"E2"}`), "E1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = decodeInsert([]byte(`not json`), "E1")
	assert.Error(t, err)
}

func TestRedisFeed_DeliversOnlyNewMatchingInserts(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	pub := NewRedisPublisher(client, "hospital_responses", zap.NewNop())

	// Already in the stream before subscribing: must not be replayed.
	require.NoError(t, pub.PublishInsert(ctx, models.HospitalResponse{ID: "r0", EmergencyID: "E1", RespondedAt: time.Now()}))

	rec := &recorder{}
	feed := NewRedisFeed(client, "hospital_responses", zap.NewNop())
	sub, err := feed.Subscribe(ctx, "E1", rec.onInsert, rec.onStatus)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return rec.lastStatus() == models.StatusSubscribed }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pub.PublishInsert(ctx, models.HospitalResponse{ID: "r1", EmergencyID: "E1", RespondedAt: time.Now()}))
	require.NoError(t, pub.PublishInsert(ctx, models.HospitalResponse{ID: "x1", EmergencyID: "E2", RespondedAt: time.Now()}))
	// Entry written to E1's stream but carrying a different emergency id.
	_, err = client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey("hospital_responses", "E1"),
		Values: map[string]interface{}{"data": `{"id":"stale","emergency_id":"E0"}`},
	}).Result()
	require.NoError(t, err)
	require.NoError(t, pub.PublishInsert(ctx, models.HospitalResponse{ID: "r2", EmergencyID: "E1", RespondedAt: time.Now()}))

	require.Eventually(t, func() bool { return len(rec.insertIDs()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"r1", "r2"}, rec.insertIDs())
}

func TestRedisFeed_UnsubscribeStopsDelivery(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	pub := NewRedisPublisher(client, "hospital_responses", zap.NewNop())

	rec := &recorder{}
	feed := NewRedisFeed(client, "hospital_responses", zap.NewNop())
	sub, err := feed.Subscribe(ctx, "E1", rec.onInsert, rec.onStatus)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.lastStatus() == models.StatusSubscribed }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, pub.PublishInsert(ctx, models.HospitalResponse{ID: "late", EmergencyID: "E1", RespondedAt: time.Now()}))

	time.Sleep(3 * redisReadBlock)
	assert.Empty(t, rec.insertIDs())
}

func TestRedisFeed_ReportsErrorWhenServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	rec := &recorder{}
	feed := NewRedisFeed(client, "hospital_responses", zap.NewNop())
	sub, err := feed.Subscribe(context.Background(), "E1", rec.onInsert, rec.onStatus)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return rec.lastStatus() == models.StatusError }, 3*time.Second, 10*time.Millisecond)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestMQTTMessageHandler_FiltersByEmergency(t *testing.T) {
	rec := &recorder{}
	handler := newMessageHandler("E1", rec.onInsert, zap.NewNop())

	handler(nil, fakeMessage{topic: "hospital_responses/insert/E1", payload: []byte(`{"id":"r1","emergency_id":"E1"}`)})
	handler(nil, fakeMessage{topic: "hospital_responses/insert/E1", payload: []byte(`{"id":"r2","emergency_id":"E9"}`)})
	handler(nil, fakeMessage{topic: "hospital_responses/insert/E1", payload: []byte(`{broken`)})

	assert.Equal(t, []string{"r1"}, rec.insertIDs())
}

// Nothing listens on port 1, so the first connect never completes.
const unreachableBroker = "tcp://127.0.0.1:1"

func TestMQTTFeed_ConnectTimeoutReportsTimedOut(t *testing.T) {
	rec := &recorder{}
	feed := NewMQTTFeed(MQTTOptions{
		Broker:         unreachableBroker,
		ClientID:       "sehatsaathi_test",
		TopicPrefix:    "hospital_responses/insert",
		ConnectTimeout: 100 * time.Millisecond,
	}, zap.NewNop())

	sub, err := feed.Subscribe(context.Background(), "E1", rec.onInsert, rec.onStatus)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, []models.ConnectionStatus{models.StatusConnecting, models.StatusTimedOut}, rec.statusList())

	done := make(chan error, 1)
	go func() { done <- sub.Unsubscribe() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Unsubscribe did not return")
	}
	assert.NoError(t, sub.Unsubscribe())
	assert.Empty(t, rec.insertIDs())
}

func TestMQTTFeed_SubscribeHonoursContext(t *testing.T) {
	rec := &recorder{}
	feed := NewMQTTFeed(MQTTOptions{
		Broker:         unreachableBroker,
		ClientID:       "sehatsaathi_test",
		TopicPrefix:    "hospital_responses/insert",
		ConnectTimeout: 5 * time.Second,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	sub, err := feed.Subscribe(ctx, "E1", rec.onInsert, rec.onStatus)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, sub)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []models.ConnectionStatus{models.StatusConnecting}, rec.statusList())
}

func TestMQTTOptions_Topic(t *testing.T) {
	assert.Equal(t, "hospital_responses/insert/E1", MQTTOptions{TopicPrefix: "hospital_responses/insert/"}.topic("E1"))
	assert.Equal(t, "hr/E1", MQTTOptions{TopicPrefix: "hr"}.topic("E1"))
}

func TestHandleKafkaMessage_FiltersByKeyAndBody(t *testing.T) {
	rec := &recorder{}
	logger := zap.NewNop()

	handleKafkaMessage(&kafka.Message{Key: []byte("E1"), Value: []byte(`{"id":"r1","emergency_id":"E1"}`)}, "E1", rec.onInsert, logger)
	handleKafkaMessage(&kafka.Message{Key: []byte("E2"), Value: []byte(`{"id":"x","emergency_id":"E2"}`)}, "E1", rec.onInsert, logger)
	handleKafkaMessage(&kafka.Message{Value: []byte(`{"id":"r2","emergency_id":"E1"}`)}, "E1", rec.onInsert, logger)
	handleKafkaMessage(&kafka.Message{Key: []byte("E1"), Value: []byte(`{"id":"y","emergency_id":"E3"}`)}, "E1", rec.onInsert, logger)

	assert.Equal(t, []string{"r1", "r2"}, rec.insertIDs())
}

func TestNewFeed_UnknownBackend(t *testing.T) {
	_, err := NewFeed(&config.Config{RealtimeBackend: "carrier-pigeon"}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewFeed_Redis(t *testing.T) {
	feed, err := NewFeed(&config.Config{RealtimeBackend: "redis", RedisAddr: "localhost:0", RedisStreamPrefix: "hr"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &RedisFeed{}, feed)
}
