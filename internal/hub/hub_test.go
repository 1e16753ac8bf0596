package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sehat-saathi/internal/database"
	"sehat-saathi/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []models.HospitalResponse
	err       error
}

func (p *fakePublisher) PublishInsert(ctx context.Context, resp models.HospitalResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, resp)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func setupHub(t *testing.T) (*Service, *fakePublisher, http.Handler) {
	gin.SetMode(gin.TestMode)
	repo, err := database.Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	pub := &fakePublisher{}
	svc := NewService(repo, pub, zap.NewNop())
	return svc, pub, SetupRouter(svc, zap.NewNop())
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func trigger(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/webhook/emergency-trigger", models.EmergencyPayload{
		Type:      "Accident",
		Name:      "Asha",
		Message:   "collision near the flyover",
		Location:  "28.6139, 77.209",
		Timestamp: "2026-03-01T10:30:00Z",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ack models.EmergencyAck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	require.NotEmpty(t, ack.ID)
	return ack.ID
}

func TestWebhook_StoresEmergency(t *testing.T) {
	_, _, h := setupHub(t)
	id := trigger(t, h)

	w := do(t, h, http.MethodGet, "/emergencies/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var ev models.EmergencyEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ev))
	assert.Equal(t, "Accident", ev.Type)
	assert.Equal(t, "Asha", ev.ReporterName)
	require.NotNil(t, ev.Location)
	assert.InDelta(t, 28.6139, ev.Location.Lat, 1e-9)
}

func TestWebhook_RejectsMissingType(t *testing.T) {
	_, _, h := setupHub(t)

	w := do(t, h, http.MethodPost, "/webhook/emergency-trigger", models.EmergencyPayload{Name: "Asha"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/webhook/emergency-trigger", models.EmergencyPayload{Type: "Fire", Location: "north of here"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEmergency_NotFound(t *testing.T) {
	_, _, h := setupHub(t)
	w := do(t, h, http.MethodGet, "/emergencies/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitResponse_PersistsAndPublishesOnce(t *testing.T) {
	_, pub, h := setupHub(t)
	id := trigger(t, h)

	lat, lng := 28.57, 77.21
	w := do(t, h, http.MethodPost, "/doctors", models.Doctor{ID: "doc-1", HospitalName: "AIIMS", Contact: "+91-11-2658-8500", Lat: &lat, Lng: &lng})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	bed := true
	w = do(t, h, http.MethodPost, "/emergencies/"+id+"/responses", models.ResponseSubmission{
		HospitalName:  "AIIMS",
		BedAvailable:  &bed,
		MedicalAdvice: "Keep the patient still",
		ETA:           "12 min",
		DoctorID:      "doc-1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	require.Len(t, pub.published, 1)
	published := pub.published[0]
	assert.Equal(t, id, published.EmergencyID)
	assert.Equal(t, models.AvailabilityAvailable, published.Availability())
	require.NotNil(t, published.Contact)
	assert.Equal(t, "+91-11-2658-8500", published.Contact.Contact)

	w = do(t, h, http.MethodGet, "/emergencies/"+id+"/responses", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rows []models.HospitalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, published.ID, rows[0].ID)
}

func TestSubmitResponse_LegacyStatus(t *testing.T) {
	svc, pub, h := setupHub(t)
	id := trigger(t, h)

	w := do(t, h, http.MethodPost, "/emergencies/"+id+"/responses", models.ResponseSubmission{HospitalName: "CHC", LegacyStatus: "HOSPITAL FULL"})
	require.Equal(t, http.StatusCreated, w.Code)

	require.Len(t, pub.published, 1)
	assert.Equal(t, models.AvailabilityFull, pub.published[0].Availability())
	assert.Nil(t, pub.published[0].Contact)
	assert.Equal(t, uint64(1), svc.Stats().Published)
}

func TestSubmitResponse_Validation(t *testing.T) {
	_, pub, h := setupHub(t)
	id := trigger(t, h)

	w := do(t, h, http.MethodPost, "/emergencies/"+id+"/responses", map[string]any{"medical_advice": "no name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/emergencies/unknown/responses", models.ResponseSubmission{HospitalName: "CHC"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, pub.published)
}

func TestSubmitResponse_PublishFailureStillStores(t *testing.T) {
	svc, pub, h := setupHub(t)
	pub.err = errors.New("broker down")
	id := trigger(t, h)

	w := do(t, h, http.MethodPost, "/emergencies/"+id+"/responses", models.ResponseSubmission{HospitalName: "CHC"})
	require.Equal(t, http.StatusCreated, w.Code)

	rows, err := svc.Responses(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, uint64(1), svc.Stats().Failed)
}

func TestHealthz(t *testing.T) {
	_, _, h := setupHub(t)
	w := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHousekeeping_PurgesAndReports(t *testing.T) {
	svc, _, h := setupHub(t)
	oldID := trigger(t, h)

	svc.now = func() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) }
	fresh, err := svc.TriggerEmergency(context.Background(), models.EmergencyPayload{Type: "Cardiac", Name: "Ravi"})
	require.NoError(t, err)

	report := svc.RunHousekeepingCycle(context.Background(), 72*time.Hour)

	assert.Contains(t, report, "Housekeeping Report")
	assert.Contains(t, report, fresh.ID)
	assert.Contains(t, report, "Purged 1 emergencies")

	_, err = svc.Emergency(context.Background(), oldID)
	assert.True(t, IsNotFound(err))
	_, err = svc.Emergency(context.Background(), fresh.ID)
	assert.NoError(t, err)

	report = svc.RunHousekeepingCycle(context.Background(), 72*time.Hour)
	assert.Contains(t, report, "No new emergencies since last cycle.")
}

func TestStartHousekeeping_InvalidSpec(t *testing.T) {
	svc, _, _ := setupHub(t)
	_, err := svc.StartHousekeeping("every tuesday", time.Hour)
	assert.Error(t, err)

	c, err := svc.StartHousekeeping("*/10 * * * *", time.Hour)
	require.NoError(t, err)
	c.Stop()
}
