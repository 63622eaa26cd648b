// internal/remote/client.go
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/config"
)

// ErrUnexpectedStatus is returned when the predict endpoint answers with a non-200 status.
var ErrUnexpectedStatus = errors.New("unexpected status from predict endpoint")

// maxResponseBytes caps how much of a prediction response is read.
const maxResponseBytes = 1 << 20

// Prediction is the body returned by the predict endpoint.
type Prediction struct {
	InsectType string `json:"insect_type"`
}

// Client classifies bite images through a remote predict endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a predict client. Outbound requests are rate limited so a
// burst of uploads cannot overwhelm the endpoint.
func NewClient(cfg config.RemoteConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote endpoint is required for network mode")
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.Named("remote"),
	}, nil
}

// Detect uploads img with the classification prompt and returns the raw insect label.
func (c *Client) Detect(ctx context.Context, img *schemas.Image, prompt string) (string, error) {
	if img == nil || len(img.Data) == 0 {
		return "", fmt.Errorf("an image is required for remote detection")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	body, contentType, err := encodePredictBody(img, prompt)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/predict", body)
	if err != nil {
		return "", fmt.Errorf("failed to build predict request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read predict response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var prediction Prediction
	if err := jsoniter.Unmarshal(raw, &prediction); err != nil {
		return "", fmt.Errorf("failed to decode predict response: %w", err)
	}
	c.logger.Debug("Remote prediction received",
		zap.String("insect_type", prediction.InsectType),
		zap.Int("image_bytes", len(img.Data)),
		zap.Duration("duration", time.Since(start)))
	return prediction.InsectType, nil
}

// encodePredictBody builds the multipart form: a "file" part holding the
// image and a "system_prompt" part holding the prompt.
func encodePredictBody(img *schemas.Image, prompt string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	fileHeader := make(textproto.MIMEHeader)
	fileHeader.Set("Content-Disposition", `form-data; name="file"; filename="bite.jpg"`)
	fileHeader.Set("Content-Type", mimeType)
	part, err := w.CreatePart(fileHeader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write file part: %w", err)
	}

	promptHeader := make(textproto.MIMEHeader)
	promptHeader.Set("Content-Disposition", `form-data; name="system_prompt"`)
	promptHeader.Set("Content-Type", "text/plain; charset=utf-8")
	part, err = w.CreatePart(promptHeader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create prompt part: %w", err)
	}
	if _, err := io.WriteString(part, prompt); err != nil {
		return nil, "", fmt.Errorf("failed to write prompt part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
