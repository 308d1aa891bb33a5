package classifier

import (
	"context"
	"fmt"
)

// RawPrediction is a single class score exactly as the producing backend reported it.
type RawPrediction struct {
	Label      string
	Confidence float64
}

// Classifier is the capability shared by the remote backend and the local fallback.
type Classifier interface {
	// Infer scores the image and returns raw, un-normalized class predictions.
	Infer(ctx context.Context, imageBytes []byte) ([]RawPrediction, error)
	// Endpoint identifies where predictions come from, for logs and responses.
	Endpoint() string
}

// FailureKind classifies why a backend call produced no usable predictions.
type FailureKind string

const (
	KindUnreachable         FailureKind = "unreachable"
	KindTimeout             FailureKind = "timeout"
	KindModelNotFound       FailureKind = "model_not_found"
	KindEndpointUnsupported FailureKind = "endpoint_unsupported"
	KindMalformedResponse   FailureKind = "malformed_response"
)

// BackendError is the decoded outcome of a failed backend call. It is produced
// once at the backend boundary so callers can branch on Kind instead of
// inspecting transport errors.
type BackendError struct {
	Kind     FailureKind
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Endpoint)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewBackendError wraps a transport or decoding error with its failure kind.
func NewBackendError(kind FailureKind, endpoint string, err error) *BackendError {
	return &BackendError{Kind: kind, Endpoint: endpoint, Err: err}
}
