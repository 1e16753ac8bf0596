package client

import (
	"context"
	"fmt"
	"time"

	"sehat-saathi/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ResponseClient reads hospital replies through the hub instead of the database.
type ResponseClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewResponseClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ResponseClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &ResponseClient{httpClient: client, logger: logger}
}

func (c *ResponseClient) FetchResponses(ctx context.Context, emergencyID string) ([]models.HospitalResponse, error) {
	var rows []models.HospitalResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", emergencyID).
		SetResult(&rows).
		Get("/emergencies/{id}/responses")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch responses for %s: %w", emergencyID, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("failed to fetch responses for %s: status %d", emergencyID, resp.StatusCode())
	}

	c.logger.Debug("Fetched hospital responses",
		zap.String("emergency_id", emergencyID),
		zap.Int("count", len(rows)),
	)
	return rows, nil
}
