package deepstack

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/fruits-recognition/internal/classifier"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "FruitsRecognition", 2*time.Second, zap.NewNop()), server
}

func TestInferDecodesPredictionList(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/v1/vision/custom/FruitsRecognition") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			t.Errorf("image form field missing: %v", err)
		} else {
			file.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"predictions":[{"label":"Apple","confidence":0.97},{"label":"Tomato","confidence":0.02}]}`))
	})

	predictions, err := client.Infer(context.Background(), []byte("fake-image"))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(predictions) != 2 {
		t.Fatalf("expected 2 predictions, got %d", len(predictions))
	}
	if predictions[0].Label != "Apple" || predictions[0].Confidence != 0.97 {
		t.Fatalf("unexpected top prediction: %+v", predictions[0])
	}
}

func TestInferAcceptsSingleLabelForm(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"label":"Banana","confidence":0.81}`))
	})

	predictions, err := client.Infer(context.Background(), []byte("fake-image"))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(predictions) != 1 || predictions[0].Label != "Banana" {
		t.Fatalf("unexpected predictions: %+v", predictions)
	}
}

func TestInferClassifies404AsEndpointUnsupported(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := client.Infer(context.Background(), []byte("fake-image"))
	assertKind(t, err, classifier.KindEndpointUnsupported)
}

func TestInferClassifiesErrorPayloadAsModelNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"model FruitsRecognition not found"}`))
	})

	_, err := client.Infer(context.Background(), []byte("fake-image"))
	assertKind(t, err, classifier.KindModelNotFound)
}

func TestInferClassifiesNonJSONAsMalformed(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>oops</html>"))
	})

	_, err := client.Infer(context.Background(), []byte("fake-image"))
	assertKind(t, err, classifier.KindMalformedResponse)
}

func TestInferClassifiesEmptyPredictionsAsMalformed(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"predictions":[]}`))
	})

	_, err := client.Infer(context.Background(), []byte("fake-image"))
	assertKind(t, err, classifier.KindMalformedResponse)
}

func TestInferClassifiesServerErrorAsMalformed(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.Infer(context.Background(), []byte("fake-image"))
	assertKind(t, err, classifier.KindMalformedResponse)
}

func TestInferClassifiesConnectionRefusedAsUnreachable(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.Infer(context.Background(), []byte("fake-image"))
	assertKind(t, err, classifier.KindUnreachable)
}

func TestInferClassifiesDeadlineAsTimeout(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Infer(ctx, []byte("fake-image"))
	assertKind(t, err, classifier.KindTimeout)
}

func assertKind(t *testing.T, err error, kind classifier.FailureKind) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var backendErr *classifier.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected BackendError, got %T: %v", err, err)
	}
	if backendErr.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, backendErr.Kind, err)
	}
}
