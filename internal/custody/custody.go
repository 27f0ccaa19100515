// Package custody talks to the value-transfer service that holds the actual
// collateral. The escrow core never implements asset custody itself; it
// instructs this collaborator to pull a party's stake into escrow
// (DepositFrom) or release funds out of it (PayTo), and treats any failure
// as grounds to abort the surrounding lifecycle operation.
package custody

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"betvault/internal/config"
	"betvault/pkg/types"
)

// Transferor moves collateral between party accounts and the escrow pool.
type Transferor interface {
	// DepositFrom pulls amount of asset from identity into escrow. Fails
	// with ErrInsufficientFunds when the identity's balance or allowance
	// cannot cover it.
	DepositFrom(ctx context.Context, identity, asset string, amount int64) error

	// PayTo releases amount of asset from escrow to identity.
	PayTo(ctx context.Context, identity, asset string, amount int64) error
}

// Client is the REST client for the custody service.
// It wraps a resty HTTP client with retry and timeout.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates a custody client with retry on transient failures.
// Transfer requests are not retried on 4xx: a rejected transfer is final.
func NewClient(cfg config.CustodyConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey)

	return &Client{
		http:   httpClient,
		logger: logger.With("component", "custody"),
	}
}

// transferRequest is the JSON body for both transfer directions.
type transferRequest struct {
	Identity string `json:"identity"`
	Asset    string `json:"asset"`
	Amount   int64  `json:"amount"`
}

// DepositFrom pulls a party's stake into the escrow pool.
func (c *Client) DepositFrom(ctx context.Context, identity, asset string, amount int64) error {
	return c.transfer(ctx, "/transfers/deposits", identity, asset, amount)
}

// PayTo releases escrowed funds to a party.
func (c *Client) PayTo(ctx context.Context, identity, asset string, amount int64) error {
	return c.transfer(ctx, "/transfers/payouts", identity, asset, amount)
}

func (c *Client) transfer(ctx context.Context, path, identity, asset string, amount int64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(transferRequest{Identity: identity, Asset: asset, Amount: amount}).
		Post(path)
	if err != nil {
		return fmt.Errorf("custody: %s: %w", path, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusPaymentRequired, http.StatusConflict:
		return fmt.Errorf("custody: %s rejected for %s: %w", path, identity, types.ErrInsufficientFunds)
	default:
		return fmt.Errorf("custody: %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
}
