// Package client holds the HTTP clients used by the SOS app: the emergency webhook
// submitter and a response store backed by the hub API.
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sehat-saathi/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// LocalEmergencyPrefix marks ids minted on the device when the webhook accepted the event
// but did not return an id.
const LocalEmergencyPrefix = "local-"

var ErrSubmissionFailed = errors.New("emergency submission failed")

func IsLocalEmergencyID(id string) bool {
	return strings.HasPrefix(id, LocalEmergencyPrefix)
}

// Submitter posts emergencies to the webhook. It never retries; a failed submission is
// reported to the caller, who decides whether to try again.
type Submitter struct {
	httpClient *resty.Client
	webhookURL string
	logger     *zap.Logger
	now        func() time.Time
}

func NewSubmitter(webhookURL string, timeout time.Duration, logger *zap.Logger) *Submitter {
	// Redirects are not followed; the caller sees them as failures.
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.NoRedirectPolicy()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Submitter{
		httpClient: client,
		webhookURL: webhookURL,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit sends ev once and returns it with the id to observe.
func (s *Submitter) Submit(ctx context.Context, ev models.EmergencyEvent) (models.EmergencyEvent, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}

	s.logger.Info("Submitting emergency",
		zap.String("type", ev.Type),
		zap.Bool("has_location", ev.Location != nil),
	)

	var ack models.EmergencyAck
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(ev.Payload()).
		SetResult(&ack).
		Post(s.webhookURL)
	if err != nil {
		s.logger.Error("Emergency webhook unreachable", zap.Error(err))
		return ev, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	if !resp.IsSuccess() {
		s.logger.Error("Emergency webhook rejected submission",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return ev, fmt.Errorf("%w: status %d", ErrSubmissionFailed, resp.StatusCode())
	}

	ev.ID = strings.TrimSpace(ack.ID)
	if ev.ID == "" {
		ev.ID = LocalEmergencyPrefix + strconv.FormatInt(s.now().UnixMilli(), 10)
		s.logger.Warn("Webhook returned no id, using local id", zap.String("emergency_id", ev.ID))
	}

	s.logger.Info("Emergency submitted",
		zap.String("emergency_id", ev.ID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return ev, nil
}
