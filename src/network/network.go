package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"keeper-oracle/src/helpers"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
)

const defaultUserAgent = "keeper-oracle/1.0"

type AsyncNetworkManager struct {
	Config *models.MNetworkConfig
	Client *http.Client
	Logger *logger.Logger

	// retryDelay is multiplied by attempt² between retries.
	retryDelay time.Duration
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MNetworkConfig, log *logger.Logger) *AsyncNetworkManager {
	if cfg == nil {
		cfg = &models.MNetworkConfig{}
	}
	if log == nil {
		log = logger.NewLogger(nil, "Network")
	}

	nm := &AsyncNetworkManager{
		Config:     cfg,
		Logger:     log,
		retryDelay: time.Second,
	}
	nm.Client = nm.createClient()
	return nm
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) createClient() *http.Client {
	timeout := time.Duration(nm.Config.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
		Timeout:   timeout,
	}
}

func (nm *AsyncNetworkManager) userAgent() string {
	if nm.Config.UserAgent != "" {
		return nm.Config.UserAgent
	}
	return defaultUserAgent
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries.
func (nm *AsyncNetworkManager) Get(ctx context.Context, urlStr string, params map[string]string) ([]byte, error) {
	reqUrl, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}

	q := reqUrl.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	reqUrl.RawQuery = q.Encode()
	finalUrl := reqUrl.String()

	return nm.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, finalUrl, nil)
	})
}

// -----------------------------------------------------------------------------

// PostJSON sends body as JSON with retries.
func (nm *AsyncNetworkManager) PostJSON(ctx context.Context, urlStr string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	return nm.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	maxRetries := nm.Config.MaxRetries
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			if err := helpers.SleepContext(ctx, time.Duration(i*i)*nm.retryDelay); err != nil {
				return nil, err
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", nm.userAgent())

		body, status, err := nm.roundTrip(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			nm.Logger.Info("Request failed (attempt %d/%d): %v", i+1, maxRetries+1, err)
			continue
		}

		if status == http.StatusTooManyRequests || status >= 500 {
			lastErr = fmt.Errorf("bad status: %d", status)
			nm.Logger.Info("Retryable status %d from %s", status, req.URL.Host)
			continue
		}
		if status != http.StatusOK {
			return nil, helpers.NewNetworkError(fmt.Sprintf("bad status %d from %s", status, req.URL.Host),
				fmt.Errorf("%s", truncate(body, 256)))
		}
		return body, nil
	}

	return nil, helpers.NewNetworkError("max retries exceeded", lastErr)
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) roundTrip(req *http.Request) ([]byte, int, error) {
	resp, err := nm.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
