// Package hub is the server side of SehatSaathi: it accepts emergencies from the SOS
// webhook, stores hospital replies and announces each new reply on the realtime feed.
package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sehat-saathi/internal/database"
	"sehat-saathi/internal/models"
	"sehat-saathi/internal/realtime"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidEmergency = errors.New("invalid emergency")

// Store is the part of database.Repository the hub writes through.
type Store interface {
	SaveEmergency(ctx context.Context, ev models.EmergencyEvent) error
	GetEmergency(ctx context.Context, id string) (models.EmergencyEvent, error)
	UpsertDoctor(ctx context.Context, d models.Doctor) error
	InsertResponse(ctx context.Context, resp models.HospitalResponse, doctorID string) (bool, error)
	FetchResponses(ctx context.Context, emergencyID string) ([]models.HospitalResponse, error)
	PurgeEmergencies(ctx context.Context, before time.Time) (int64, error)
	CountOpenEmergencies(ctx context.Context) (int, error)
}

type Stats struct {
	Emergencies uint64
	Published   uint64
	Failed      uint64
}

type Service struct {
	store     Store
	publisher realtime.Publisher
	logger    *zap.Logger
	now       func() time.Time

	emergencies atomic.Uint64
	published   atomic.Uint64
	failed      atomic.Uint64

	// emergencies seen since the last housekeeping report
	recentMu sync.Mutex
	recent   map[string]string
}

func NewService(store Store, publisher realtime.Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		recent:    make(map[string]string),
	}
}

// TriggerEmergency stores an emergency posted by the SOS webhook and returns its new id.
func (s *Service) TriggerEmergency(ctx context.Context, p models.EmergencyPayload) (models.EmergencyEvent, error) {
	if strings.TrimSpace(p.Type) == "" {
		return models.EmergencyEvent{}, fmt.Errorf("%w: type is required", ErrInvalidEmergency)
	}
	location, err := models.ParseLocation(p.Location)
	if err != nil {
		return models.EmergencyEvent{}, fmt.Errorf("%w: %v", ErrInvalidEmergency, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		createdAt = s.now()
	}

	ev := models.EmergencyEvent{
		ID:           uuid.NewString(),
		Type:         p.Type,
		Message:      p.Message,
		ReporterName: p.Name,
		Location:     location,
		CreatedAt:    createdAt,
	}
	if err := s.store.SaveEmergency(ctx, ev); err != nil {
		return ev, fmt.Errorf("failed to save emergency: %w", err)
	}
	s.emergencies.Add(1)
	s.recentMu.Lock()
	s.recent[ev.ID] = ev.Type
	s.recentMu.Unlock()

	s.logger.Info("Emergency received",
		zap.String("emergency_id", ev.ID),
		zap.String("type", ev.Type),
		zap.Bool("has_location", location != nil),
	)
	return ev, nil
}

func (s *Service) Emergency(ctx context.Context, id string) (models.EmergencyEvent, error) {
	return s.store.GetEmergency(ctx, id)
}

func (s *Service) Responses(ctx context.Context, emergencyID string) ([]models.HospitalResponse, error) {
	return s.store.FetchResponses(ctx, emergencyID)
}

// SubmitResponse records a hospital's reply and publishes it once. Publishing is best
// effort: clients whose feed misses it still pick it up by polling.
func (s *Service) SubmitResponse(ctx context.Context, emergencyID string, sub models.ResponseSubmission) (models.HospitalResponse, error) {
	if _, err := s.store.GetEmergency(ctx, emergencyID); err != nil {
		return models.HospitalResponse{}, err
	}

	resp := models.HospitalResponse{
		ID:            uuid.NewString(),
		EmergencyID:   emergencyID,
		HospitalName:  sub.HospitalName,
		BedAvailable:  sub.BedAvailable,
		LegacyStatus:  sub.LegacyStatus,
		MedicalAdvice: sub.MedicalAdvice,
		ETA:           sub.ETA,
		RespondedAt:   s.now(),
	}
	inserted, err := s.store.InsertResponse(ctx, resp, sub.DoctorID)
	if err != nil {
		return resp, fmt.Errorf("failed to save response: %w", err)
	}
	if !inserted {
		return resp, nil
	}

	// Re-read so the published row carries the joined doctor contact.
	if rows, err := s.store.FetchResponses(ctx, emergencyID); err == nil {
		for _, r := range rows {
			if r.ID == resp.ID {
				resp = r
				break
			}
		}
	}

	if err := s.publisher.PublishInsert(ctx, resp); err != nil {
		s.failed.Add(1)
		s.logger.Warn("Failed to publish hospital response",
			zap.String("emergency_id", emergencyID),
			zap.String("response_id", resp.ID),
			zap.Error(err),
		)
	} else {
		s.published.Add(1)
	}

	s.logger.Info("Hospital response recorded",
		zap.String("emergency_id", emergencyID),
		zap.String("response_id", resp.ID),
		zap.String("hospital", resp.HospitalName),
		zap.String("availability", string(resp.Availability())),
	)
	return resp, nil
}

func (s *Service) UpsertDoctor(ctx context.Context, d models.Doctor) (models.Doctor, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if err := s.store.UpsertDoctor(ctx, d); err != nil {
		return d, fmt.Errorf("failed to save doctor: %w", err)
	}
	return d, nil
}

func (s *Service) Stats() Stats {
	return Stats{
		Emergencies: s.emergencies.Load(),
		Published:   s.published.Load(),
		Failed:      s.failed.Load(),
	}
}

// IsNotFound reports whether err means the emergency does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}
