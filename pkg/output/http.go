package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"pulsegate/pkg/config"
	"pulsegate/pkg/logging"
	"pulsegate/pkg/model"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// ErrNoAPIKey is reported when delivery is attempted without a key.
var ErrNoAPIKey = errors.New("API key not configured")

// Client posts batches to the ingestion API.
type Client struct {
	baseURL string
	key     string
	cfg     *config.Config
	client  *http.Client
	log     *logrus.Entry
	now     func() time.Time
}

func NewClient(cfg *config.Config, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		key:     cfg.Key,
		cfg:     cfg,
		client:  &http.Client{},
		log:     logging.Component(log, "client"),
		now:     time.Now,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

// Send implements engine.Sender. It never returns an error: transport
// problems are reported as status 0.
func (c *Client) Send(ctx context.Context, f model.Feature, items []map[string]any) model.BatchResult {
	if c.key == "" {
		return model.BatchResult{Status: 0, Error: ErrNoAPIKey.Error()}
	}

	payload, err := json.Marshal(map[string]any{f.PayloadField(): items})
	if err != nil {
		return model.BatchResult{Status: 0, Error: fmt.Sprintf("encode batch: %v", err)}
	}

	timeout := c.cfg.Feature(f).Timeout
	if len(items) > 1 {
		timeout *= 2
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s/store-batch", c.baseURL, f.Endpoint())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return model.BatchResult{Status: 0, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("User-Agent", "pulsegate/"+f.Endpoint()+"-batch")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("feature", f).Debug("Batch request failed")
		return model.BatchResult{Status: 0, Error: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.log.WithError(err).WithField("feature", f).Warn("Failed to read response body")
	}

	return model.BatchResult{
		Status:     resp.StatusCode,
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		Body:       jsonObject(raw),
		RetryAfter: c.retryAfter(resp.Header.Get("Retry-After")),
	}
}

// jsonObject returns raw when it is a JSON object and {} otherwise.
func jsonObject(raw []byte) json.RawMessage {
	if gjson.ValidBytes(raw) && gjson.ParseBytes(raw).IsObject() {
		return raw
	}
	return json.RawMessage(`{}`)
}

// retryAfter parses delta-seconds or an HTTP-date into whole seconds.
func (c *Client) retryAfter(h string) *int {
	h = strings.TrimSpace(h)
	if h == "" {
		return nil
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return nil
		}
		return &secs
	}
	if t, err := http.ParseTime(h); err == nil {
		secs := int(t.Sub(c.now()).Round(time.Second) / time.Second)
		if secs < 0 {
			secs = 0
		}
		return &secs
	}
	return nil
}
