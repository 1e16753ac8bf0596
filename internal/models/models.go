package models

import (
	"fmt"
	"strings"
	"time"
)

// SimulatedPrefix marks hospital responses that were created locally and never came from the server.
const SimulatedPrefix = "sim-"

// Legacy status strings written by older hospital clients that predate bed_availability.
const (
	LegacyStatusAvailable = "BED AVAILABLE"
	LegacyStatusFull      = "HOSPITAL FULL"
)

// GeoPoint is a reporter's position at the time of the emergency.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// FormatLocation renders the point the way the emergency webhook expects it.
func (g GeoPoint) FormatLocation() string {
	return fmt.Sprintf("%v, %v", g.Lat, g.Lng)
}

// EmergencyEvent is created once by the submitter and never modified afterwards.
type EmergencyEvent struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Message      string    `json:"message"`
	ReporterName string    `json:"name"`
	Location     *GeoPoint `json:"location,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// --- Wire payloads for the emergency webhook ---

type EmergencyPayload struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	Location  string `json:"location,omitempty"`
	Timestamp string `json:"timestamp"`
}

type EmergencyAck struct {
	ID string `json:"id,omitempty"`
}

// Payload builds the webhook body for the event.
func (e EmergencyEvent) Payload() EmergencyPayload {
	p := EmergencyPayload{
		Type:      e.Type,
		Name:      e.ReporterName,
		Message:   e.Message,
		Timestamp: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.Location != nil {
		p.Location = e.Location.FormatLocation()
	}
	return p
}

// ParseLocation is the inverse of GeoPoint.FormatLocation. Empty or "null, null" yields nil.
func ParseLocation(s string) (*GeoPoint, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null, null" {
		return nil, nil
	}
	var g GeoPoint
	if _, err := fmt.Sscanf(s, "%g, %g", &g.Lat, &g.Lng); err != nil {
		return nil, fmt.Errorf("invalid location %q: %w", s, err)
	}
	return &g, nil
}

// DoctorContact is the optional record joined onto a response for calling and navigation.
type DoctorContact struct {
	Contact string   `json:"contact,omitempty"`
	Lat     *float64 `json:"loc_lat,omitempty"`
	Lng     *float64 `json:"loc_long,omitempty"`
}

// Availability is the resolved bed state of a hospital response.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityFull      Availability = "full"
	AvailabilityUnknown   Availability = "unknown"
)

// HospitalResponse is one hospital's reply to an emergency.
type HospitalResponse struct {
	ID            string         `json:"id"`
	EmergencyID   string         `json:"emergency_id"`
	HospitalName  string         `json:"hospital_name"`
	BedAvailable  *bool          `json:"bed_availability,omitempty"`
	LegacyStatus  string         `json:"status,omitempty"`
	MedicalAdvice string         `json:"medical_advice"`
	RespondedAt   time.Time      `json:"responded_at"`
	ETA           string         `json:"eta,omitempty"`
	Contact       *DoctorContact `json:"doctor,omitempty"`
}

// Availability prefers the boolean column and only falls back to the legacy status string.
func (r HospitalResponse) Availability() Availability {
	if r.BedAvailable != nil {
		if *r.BedAvailable {
			return AvailabilityAvailable
		}
		return AvailabilityFull
	}
	switch strings.ToUpper(strings.TrimSpace(r.LegacyStatus)) {
	case LegacyStatusAvailable:
		return AvailabilityAvailable
	case LegacyStatusFull:
		return AvailabilityFull
	}
	return AvailabilityUnknown
}

func (r HospitalResponse) IsSimulated() bool {
	return IsSimulated(r.ID)
}

func IsSimulated(id string) bool {
	return strings.HasPrefix(id, SimulatedPrefix)
}

// ConnectionStatus is the state reported by a realtime subscription.
type ConnectionStatus string

const (
	StatusConnecting ConnectionStatus = "connecting"
	StatusSubscribed ConnectionStatus = "subscribed"
	StatusError      ConnectionStatus = "error"
	StatusClosed     ConnectionStatus = "closed"
	StatusTimedOut   ConnectionStatus = "timed_out"
)

// Doctor is a hospital contact that replies can be linked to.
type Doctor struct {
	ID           string   `json:"id"`
	HospitalName string   `json:"hospital_name"`
	Contact      string   `json:"contact"`
	Lat          *float64 `json:"loc_lat,omitempty"`
	Lng          *float64 `json:"loc_long,omitempty"`
}

// ResponseSubmission is the body a hospital posts when replying to an emergency.
type ResponseSubmission struct {
	HospitalName  string `json:"hospital_name" binding:"required"`
	BedAvailable  *bool  `json:"bed_availability"`
	LegacyStatus  string `json:"status"`
	MedicalAdvice string `json:"medical_advice"`
	ETA           string `json:"eta"`
	DoctorID      string `json:"doctor_id"`
}
