package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestAvailability_BooleanWinsOverLegacyStatus(t *testing.T) {
	r := HospitalResponse{BedAvailable: boolPtr(false), LegacyStatus: LegacyStatusAvailable}
	assert.Equal(t, AvailabilityFull, r.Availability())

	r = HospitalResponse{BedAvailable: boolPtr(true), LegacyStatus: LegacyStatusFull}
	assert.Equal(t, AvailabilityAvailable, r.Availability())
}

func TestAvailability_LegacyFallback(t *testing.T) {
	assert.Equal(t, AvailabilityAvailable, HospitalResponse{LegacyStatus: "bed available"}.Availability())
	assert.Equal(t, AvailabilityFull, HospitalResponse{LegacyStatus: LegacyStatusFull}.Availability())
	assert.Equal(t, AvailabilityUnknown, HospitalResponse{}.Availability())
	assert.Equal(t, AvailabilityUnknown, HospitalResponse{LegacyStatus: "PENDING"}.Availability())
}

func TestIsSimulated(t *testing.T) {
	assert.True(t, IsSimulated("sim-1"))
	assert.False(t, IsSimulated("r1"))
	assert.False(t, IsSimulated("simulated"))
}

func TestEmergencyPayload(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	ev := EmergencyEvent{
		Type:         "Snake Bite",
		ReporterName: "Asha",
		Message:      "near the well",
		Location:     &GeoPoint{Lat: 25.5, Lng: 81.25},
		CreatedAt:    created,
	}

	p := ev.Payload()
	assert.Equal(t, "Snake Bite", p.Type)
	assert.Equal(t, "Asha", p.Name)
	assert.Equal(t, "25.5, 81.25", p.Location)
	assert.Equal(t, "2026-03-01T10:30:00Z", p.Timestamp)

	ev.Location = nil
	assert.Empty(t, ev.Payload().Location)
}

func TestParseLocation(t *testing.T) {
	g, err := ParseLocation("25.5, 81.25")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, 25.5, g.Lat)
	assert.Equal(t, 81.25, g.Lng)

	g, err = ParseLocation("null, null")
	require.NoError(t, err)
	assert.Nil(t, g)

	_, err = ParseLocation("somewhere")
	assert.Error(t, err)
}
