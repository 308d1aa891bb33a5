package localmodel

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/example/fruits-recognition/internal/classifier"
)

// Model wraps an ONNX session for the embedded fallback classifier. It is
// loaded once at startup and safe for concurrent use; session runs are
// serialized because the tensors are owned by the session.
type Model struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	cfg          ModelConfig
	labels       []string
	endpoint     string
	logger       *zap.Logger

	mu sync.Mutex
}

// Load reads the sidecar config, initializes the ONNX runtime, and creates a
// session bound to fixed input/output tensors.
func Load(modelPath, configPath string, logger *zap.Logger) (*Model, error) {
	rawConfig, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}
	cfg, err := parseConfig(rawConfig)
	if err != nil {
		return nil, err
	}

	labels := labelSlice(cfg.Labels)
	if len(labels) == 0 {
		return nil, fmt.Errorf("model config %s has no class label map", configPath)
	}

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("local model file: %w", err)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize ONNX environment: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.Height), int64(cfg.Width)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(labels))))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create ONNX session: %w", err)
	}

	logger.Info("local fallback model loaded",
		zap.String("model", modelPath),
		zap.Int("classes", len(labels)),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height))

	return &Model{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		cfg:          cfg,
		labels:       labels,
		endpoint:     "local://onnx/" + filepath.Base(modelPath),
		logger:       logger.Named("localmodel"),
	}, nil
}

// Endpoint identifies the embedded model for logs and responses.
func (m *Model) Endpoint() string {
	return m.endpoint
}

// Infer decodes and preprocesses the image, runs the session, and returns the
// softmax probabilities for every class, highest first.
func (m *Model) Infer(ctx context.Context, imageBytes []byte) ([]classifier.RawPrediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("decode image for local inference: %w", err)
	}
	m.logger.Debug("running local inference",
		zap.String("format", format),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	input := chwTensor(img, m.cfg)

	m.mu.Lock()
	copy(m.inputTensor.GetData(), input)
	runErr := m.session.Run()
	output := append([]float32(nil), m.outputTensor.GetData()...)
	m.mu.Unlock()

	if runErr != nil {
		return nil, fmt.Errorf("local ONNX inference failed: %w", runErr)
	}

	probabilities := softmax(output)
	predictions := make([]classifier.RawPrediction, 0, len(probabilities))
	for _, index := range sortByConfidence(probabilities) {
		predictions = append(predictions, classifier.RawPrediction{
			Label:      m.labels[index],
			Confidence: probabilities[index],
		})
	}
	return predictions, nil
}

// Close releases the session and tensors. Call once at process shutdown.
func (m *Model) Close() {
	if m.inputTensor != nil {
		m.inputTensor.Destroy()
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
	}
	if m.session != nil {
		m.session.Destroy()
	}
	ort.DestroyEnvironment()
}
