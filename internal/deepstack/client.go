package deepstack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/fruits-recognition/internal/classifier"
)

const (
	imageFormField   = "image"
	previewSizeBytes = 500
	maxBodyBytes     = 1 << 20
)

// Client calls a DeepStack-style custom-model endpoint over HTTP and decodes
// the response into raw predictions.
type Client struct {
	httpClient *http.Client
	endpoint   string
	logger     *zap.Logger
}

// NewClient builds a classification client for one custom model route.
func NewClient(baseURL, modelName string, timeout time.Duration, logger *zap.Logger) *Client {
	endpoint := fmt.Sprintf("%s/v1/vision/custom/%s", strings.TrimRight(baseURL, "/"), modelName)
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		logger:     logger.Named("deepstack"),
	}
}

// Endpoint returns the full custom-model URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// responsePayload is the wire shape of a DeepStack vision response. Custom
// endpoints return a predictions list; built-in endpoints return a single
// label/confidence pair at the top level.
type responsePayload struct {
	Success     *bool    `json:"success"`
	Error       string   `json:"error"`
	Label       string   `json:"label"`
	Confidence  *float64 `json:"confidence"`
	Predictions []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	} `json:"predictions"`
}

// Infer sends the image as multipart form data and classifies the outcome.
// A single attempt is made; the caller owns any fallback strategy.
func (c *Client) Infer(ctx context.Context, imageBytes []byte) ([]classifier.RawPrediction, error) {
	body, contentType, err := buildMultipartBody(imageBytes)
	if err != nil {
		return nil, classifier.NewBackendError(classifier.KindUnreachable, c.endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, classifier.NewBackendError(classifier.KindUnreachable, c.endpoint, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := classifier.KindUnreachable
		if isTimeout(err) {
			kind = classifier.KindTimeout
		}
		c.logger.Warn("deepstack request failed",
			zap.String("endpoint", c.endpoint),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, classifier.NewBackendError(kind, c.endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifier.NewBackendError(classifier.KindMalformedResponse, c.endpoint, err)
	}
	preview := bodyPreview(raw)

	c.logger.Info("deepstack response",
		zap.Int("status", resp.StatusCode),
		zap.String("endpoint", c.endpoint),
		zap.String("preview", preview))

	if resp.StatusCode == http.StatusNotFound {
		// Expected with DeepStack builds that do not expose custom ONNX routes.
		return nil, classifier.NewBackendError(classifier.KindEndpointUnsupported, c.endpoint,
			fmt.Errorf("custom endpoint not found: %s", preview))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifier.NewBackendError(classifier.KindMalformedResponse, c.endpoint,
			fmt.Errorf("deepstack returned HTTP %d: %s", resp.StatusCode, preview))
	}

	var payload responsePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, classifier.NewBackendError(classifier.KindMalformedResponse, c.endpoint,
			fmt.Errorf("non-JSON response: %s", preview))
	}

	if payload.Error != "" {
		return nil, classifier.NewBackendError(classifier.KindModelNotFound, c.endpoint,
			fmt.Errorf("deepstack reported an error: %s", payload.Error))
	}

	predictions := decodePredictions(payload)
	if len(predictions) == 0 {
		return nil, classifier.NewBackendError(classifier.KindMalformedResponse, c.endpoint,
			errors.New("deepstack returned no predictions"))
	}
	return predictions, nil
}

func decodePredictions(payload responsePayload) []classifier.RawPrediction {
	predictions := make([]classifier.RawPrediction, 0, len(payload.Predictions)+1)
	if payload.Label != "" {
		var confidence float64
		if payload.Confidence != nil {
			confidence = *payload.Confidence
		}
		predictions = append(predictions, classifier.RawPrediction{Label: payload.Label, Confidence: confidence})
	}
	for _, item := range payload.Predictions {
		predictions = append(predictions, classifier.RawPrediction{Label: item.Label, Confidence: item.Confidence})
	}
	return predictions
}

func buildMultipartBody(imageBytes []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, imageFormField, "upload"))
	header.Set("Content-Type", http.DetectContentType(imageBytes))

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(imageBytes); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func bodyPreview(raw []byte) string {
	preview := raw
	if len(preview) > previewSizeBytes {
		preview = preview[:previewSizeBytes]
	}
	return strings.TrimSpace(strings.ReplaceAll(string(preview), "\n", " "))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
