package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/thetooth/ping-agent/sample"
)

// Batch is the payload accepted by the collector.
type Batch struct {
	ID      uuid.UUID                  `json:"batch_id"`
	Token   string                     `json:"token"`
	Targets map[string][]sample.Sample `json:"targets"`
}

// Submitter ships a batch to the collector.
type Submitter interface {
	Submit(ctx context.Context, b Batch) error
}

// Client posts batches as JSON over HTTP.
type Client struct {
	Endpoint string
	HTTP     *http.Client
}

// NewClient returns a client with the given request timeout.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		Endpoint: endpoint,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) Submit(ctx context.Context, b Batch) error {
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", b.ID.String())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector responded %s: %s", resp.Status, bytes.TrimSpace(respBody))
	}
	logrus.Debug("Collector response: ", string(bytes.TrimSpace(respBody)))

	return nil
}
