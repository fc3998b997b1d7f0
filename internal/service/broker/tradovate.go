package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"MirrorTrader/internal/domain/repository"
	httpkit "MirrorTrader/pkg/http"
	"MirrorTrader/pkg/logger"
	"MirrorTrader/pkg/util"
)

// Config holds brokerage credentials and endpoints.
type Config struct {
	BaseURL  string        `yaml:"base_url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Account  string        `yaml:"account"`
	Timeout  time.Duration `yaml:"timeout"`
	DryRun   bool          `yaml:"dry_run"`
}

// Client places orders on the brokerage REST API. Access tokens are cached
// and renewed ahead of expiry. With DryRun set, orders are acknowledged
// locally and never leave the process.
type Client struct {
	cfg    Config
	client *httpkit.Client
	log    *logger.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// New creates a broker client.
func New(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: httpkit.NewClient(httpkit.WithTimeout(timeout)),
		log:    log,
	}
}

type tokenResponse struct {
	AccessToken    string `json:"accessToken"`
	ExpirationTime string `json:"expirationTime"`
	ErrorText      string `json:"errorText"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Until(c.expiresAt) > time.Minute {
		return c.accessToken, nil
	}

	var resp tokenResponse
	err := c.client.SendAndParse(ctx, &httpkit.RequestOptions{
		Method: httpkit.MethodPost,
		URL:    c.cfg.BaseURL + "/auth/accesstokenrequest",
		Body: map[string]interface{}{
			"name":     c.cfg.Username,
			"password": c.cfg.Password,
			"appId":    "MirrorTrader",
		},
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("broker auth: %w", err)
	}
	if resp.ErrorText != "" {
		return "", fmt.Errorf("broker auth rejected: %s", resp.ErrorText)
	}

	c.accessToken = resp.AccessToken
	c.expiresAt = util.ParseTimeDefault(resp.ExpirationTime, time.Now().Add(75*time.Minute))
	return c.accessToken, nil
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	FailureReason string `json:"failureReason"`
	FailureText   string `json:"failureText"`
}

// PlaceMarketOrder submits a market order and returns the broker receipt.
func (c *Client) PlaceMarketOrder(ctx context.Context, contract string, side repository.OrderSide, quantity int) (*repository.OrderReceipt, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	if c.cfg.DryRun {
		c.log.Info("dry-run order",
			logger.String("contract", contract),
			logger.String("side", string(side)),
			logger.Int("quantity", quantity),
		)
		return &repository.OrderReceipt{
			OrderID:  "dry-" + uuid.NewString(),
			Contract: contract,
			Side:     side,
			Quantity: quantity,
		}, nil
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	action := "Buy"
	if side == repository.SideSell {
		action = "Sell"
	}
	var resp orderResponse
	err = c.client.SendAndParse(ctx, &httpkit.RequestOptions{
		Method: httpkit.MethodPost,
		URL:    c.cfg.BaseURL + "/order/placeorder",
		Headers: map[string]string{
			"Authorization": "Bearer " + token,
		},
		Body: map[string]interface{}{
			"accountSpec": c.cfg.Account,
			"action":      action,
			"symbol":      contract,
			"orderQty":    quantity,
			"orderType":   "Market",
			"isAutomated": true,
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	if resp.FailureReason != "" {
		return nil, fmt.Errorf("order rejected by broker: %s %s", resp.FailureReason, resp.FailureText)
	}

	return &repository.OrderReceipt{
		OrderID:  fmt.Sprintf("%d", resp.OrderID),
		Contract: contract,
		Side:     side,
		Quantity: quantity,
	}, nil
}
