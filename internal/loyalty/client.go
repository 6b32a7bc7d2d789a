// Package loyalty awards bonus points for placed orders.
package loyalty

import (
	"context"
	"errors"
	"strings"

	"github.com/noah-isme/brennholz-api/internal/pricing"
	"github.com/noah-isme/brennholz-api/internal/resilience"
)

// ErrRejected is returned when the loyalty service answers success=false.
var ErrRejected = errors.New("loyalty: award rejected")

// Line is an order line considered for the award.
type Line struct {
	ProductID string        `json:"product_id"`
	Quantity  int           `json:"quantity"`
	Total     pricing.Money `json:"total"`
}

// Result mirrors the loyalty service response.
type Result struct {
	Success       bool   `json:"success"`
	PointsAwarded int    `json:"points_awarded"`
	Error         string `json:"error,omitempty"`
}

// Client awards points.
type Client interface {
	AwardPoints(ctx context.Context, customerNumber, orderNumber string, total pricing.Money, lines []Line) (Result, error)
}

// HTTPClient talks to the loyalty service over JSON.
type HTTPClient struct {
	HTTP    resilience.HTTPClient
	BaseURL string
	APIKey  string
}

type awardRequest struct {
	CustomerNumber string        `json:"customer_number"`
	OrderNumber    string        `json:"order_number"`
	Total          pricing.Money `json:"total"`
	Lines          []Line        `json:"lines"`
}

// AwardPoints implements Client.
func (c HTTPClient) AwardPoints(ctx context.Context, customerNumber, orderNumber string, total pricing.Money, lines []Line) (Result, error) {
	if c.BaseURL == "" {
		return Result{}, errors.New("loyalty: base url not configured")
	}
	var res Result
	err := c.HTTP.PostJSON(ctx, resilience.SignedRequest{
		URL:            strings.TrimRight(c.BaseURL, "/") + "/v1/loyalty/awards",
		IdempotencyKey: orderNumber,
		Headers:        map[string]string{"Authorization": "Bearer " + c.APIKey},
		Body: awardRequest{
			CustomerNumber: customerNumber,
			OrderNumber:    orderNumber,
			Total:          total,
			Lines:          lines,
		},
	}, &res)
	if err != nil {
		return Result{}, err
	}
	if !res.Success {
		if res.Error != "" {
			return res, errors.Join(ErrRejected, errors.New(res.Error))
		}
		return res, ErrRejected
	}
	return res, nil
}
