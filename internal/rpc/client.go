package rpc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"yield-rebalance-agent/internal/config"
)

const (
	headerAPIKey    = "X-API-KEY"
	headerSignature = "X-SIGNATURE"
	headerTimestamp = "X-TIMESTAMP"
)

// Client is a rate-limited JSON client for the agent's HTTP collaborators.
type Client struct {
	client     *resty.Client
	apiKey     string
	secretKey  string
	maxRetries int
	logger     *zap.Logger
	limiter    *rate.Limiter
}

// NewClient creates a new client for the endpoint described by cfg.
func NewClient(cfg *config.Endpoint, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json")

	if cfg.ApiKey != "" {
		client.SetHeader(headerAPIKey, cfg.ApiKey)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:     client,
		apiKey:     cfg.ApiKey,
		secretKey:  cfg.SecretKey,
		maxRetries: maxRetries,
		logger:     logger,
		limiter:    limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *Client) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// Get decodes the JSON body of GET path into result.
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	req := c.client.R().SetResult(result)
	_, err := c.doRequest(ctx, http.MethodGet, path, req)
	return err
}

// Post sends body as JSON and decodes the response into result, which may be nil.
// When a secret key is configured the body is signed together with a timestamp.
func (c *Client) Post(ctx context.Context, path string, body []byte, result interface{}) error {
	req := c.client.R().SetBody(body)
	if result != nil {
		req.SetResult(result)
	}
	if c.secretKey != "" {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.SetHeader(headerTimestamp, ts)
		req.SetHeader(headerSignature, c.sign(ts+string(body)))
	}
	_, err := c.doRequest(ctx, http.MethodPost, path, req)
	return err
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	req.SetContext(ctx)

	for i := 0; i < c.maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
			err = fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		} else {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			shouldRetry = true
		}

		if !shouldRetry || i == c.maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request %s %s failed: %w", method, url, err)
}
