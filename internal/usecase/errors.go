package usecase

import (
	"fmt"

	"github.com/example/fruits-recognition/internal/classifier"
)

// ErrorKind categorizes terminal classification failures. Every kind maps to a
// JSON error response at the HTTP layer, never a crash.
type ErrorKind string

const (
	KindInvalidInput              ErrorKind = "invalid_input"
	KindRemoteUnreachable         ErrorKind = "remote_unreachable"
	KindRemoteEndpointUnsupported ErrorKind = "remote_endpoint_unsupported"
	KindRemoteModelNotFound       ErrorKind = "remote_model_not_found"
	KindRemoteMalformedResponse   ErrorKind = "remote_malformed_response"
	KindInferenceUnavailable      ErrorKind = "inference_unavailable"
)

// ClassifyError is a terminal failure of the classification flow.
type ClassifyError struct {
	Kind ErrorKind
	// FallbackDisabled marks remote failures that would have been recovered
	// by the local fallback had it been enabled.
	FallbackDisabled bool
	Err              error
}

// Error implements the error interface.
func (e *ClassifyError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ClassifyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Message returns the user-facing description of the failure.
func (e *ClassifyError) Message() string {
	var message string
	switch e.Kind {
	case KindInvalidInput:
		if e.Err != nil {
			return e.Err.Error()
		}
		message = "The uploaded image could not be accepted."
	case KindRemoteUnreachable:
		message = "Could not reach DeepStack service."
	case KindRemoteEndpointUnsupported:
		message = "DeepStack custom endpoint was not found."
	case KindRemoteModelNotFound:
		message = "DeepStack does not serve the requested model."
	case KindRemoteMalformedResponse:
		message = "DeepStack returned an invalid response."
	case KindInferenceUnavailable:
		message = "No inference backend is available for this request."
	default:
		message = "Unexpected classification failure."
	}
	if e.FallbackDisabled {
		message += " Local fallback is disabled."
	}
	return message
}

// terminalKind maps a decoded backend failure onto the terminal error taxonomy.
func terminalKind(kind classifier.FailureKind) ErrorKind {
	switch kind {
	case classifier.KindUnreachable, classifier.KindTimeout:
		return KindRemoteUnreachable
	case classifier.KindEndpointUnsupported:
		return KindRemoteEndpointUnsupported
	case classifier.KindModelNotFound:
		return KindRemoteModelNotFound
	default:
		return KindRemoteMalformedResponse
	}
}

// fallbackWarning describes the remote failure that forced the local fallback.
func fallbackWarning(kind classifier.FailureKind) string {
	switch kind {
	case classifier.KindEndpointUnsupported:
		return "DeepStack custom endpoint was not found. Used local fallback model."
	case classifier.KindTimeout:
		return "DeepStack call timed out. Used local fallback model."
	case classifier.KindModelNotFound:
		return "DeepStack does not serve the requested model. Used local fallback model."
	case classifier.KindMalformedResponse:
		return "DeepStack returned an unusable response. Used local fallback model."
	default:
		return "DeepStack service was unreachable. Used local fallback model."
	}
}
