package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/fruits-recognition/internal/classifier"
	"github.com/example/fruits-recognition/internal/logging"
)

// Metrics records classification outcomes for monitoring. A nil recorder is
// replaced with a no-op implementation.
type Metrics interface {
	ObserveClassification(source, outcome string, seconds float64)
	RecordRemoteFailure(kind string)
	RecordCacheHit()
}

type nopMetrics struct{}

func (nopMetrics) ObserveClassification(string, string, float64) {}
func (nopMetrics) RecordRemoteFailure(string)                    {}
func (nopMetrics) RecordCacheHit()                               {}

// RouterConfig carries the configuration values the router consumes.
type RouterConfig struct {
	ModelName      string
	CallTimeout    time.Duration
	MaxUploadBytes int64
	Thresholds     ConfidenceThresholds
	CacheTTL       time.Duration
}

// Outcome is a successful classification plus degradation metadata.
type Outcome struct {
	Record       *PredictionRecord `json:"record"`
	FallbackUsed bool              `json:"fallback_used"`
	Warning      string            `json:"warning,omitempty"`
}

// PredictionUseCase routes one image through the remote backend, falls back to
// the local classifier on expected remote failures, and normalizes either
// backend's output into a PredictionRecord.
type PredictionUseCase struct {
	remote  classifier.Classifier
	local   classifier.Classifier // nil when the fallback is disabled
	cache   Cache                 // nil when the response cache is disabled
	metrics Metrics
	logger  *zap.Logger
	cfg     RouterConfig

	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// NewPredictionUseCase constructs the router. local may be nil to disable the
// fallback path and cache may be nil to disable the response cache.
func NewPredictionUseCase(remote, local classifier.Classifier, cache Cache, metrics Metrics, cfg RouterConfig, logger *zap.Logger) *PredictionUseCase {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &PredictionUseCase{
		remote:         remote,
		local:          local,
		cache:          cache,
		metrics:        metrics,
		logger:         logger.Named("prediction_usecase"),
		cfg:            cfg,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            time.Now,
	}
}

// Classify runs the full routing flow for one uploaded image. It returns a
// structured *ClassifyError on terminal failure, never panics.
func (uc *PredictionUseCase) Classify(ctx context.Context, imageBytes []byte) (*Outcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.classify", requestID)
	start := uc.now()

	if len(imageBytes) == 0 {
		return nil, &ClassifyError{Kind: KindInvalidInput, Err: errors.New("empty image payload")}
	}
	if uc.cfg.MaxUploadBytes > 0 && int64(len(imageBytes)) > uc.cfg.MaxUploadBytes {
		return nil, &ClassifyError{
			Kind: KindInvalidInput,
			Err:  fmt.Errorf("image is %d bytes, limit is %d", len(imageBytes), uc.cfg.MaxUploadBytes),
		}
	}

	cacheKey := ""
	if uc.cache != nil {
		digest := sha1.Sum(imageBytes)
		cacheKey = "prediction:" + hex.EncodeToString(digest[:])
		if outcome, ok := uc.cachedOutcome(ctx, requestID, cacheKey); ok {
			uc.metrics.RecordCacheHit()
			opLogger.Info("served from cache", zap.String("fruit", outcome.Record.Fruit))
			return outcome, nil
		}
	}

	callCtx := ctx
	if uc.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, uc.cfg.CallTimeout)
		defer cancel()
	}

	raw, err := uc.remote.Infer(callCtx, imageBytes)
	if err == nil {
		record := buildRecord(raw, uc.cfg.ModelName, uc.remote.Endpoint(), SourceRemote, uc.cfg.Thresholds, uc.now())
		if record == nil {
			err = classifier.NewBackendError(classifier.KindMalformedResponse, uc.remote.Endpoint(),
				errors.New("remote backend returned no predictions"))
		} else {
			outcome := &Outcome{Record: record}
			uc.storeOutcome(ctx, requestID, cacheKey, outcome)
			uc.metrics.ObserveClassification(SourceRemote, "success", uc.now().Sub(start).Seconds())
			opLogger.Info("remote classification succeeded",
				zap.String("fruit", record.Fruit),
				zap.Float64("confidence_percent", record.ConfidencePercent))
			return outcome, nil
		}
	}

	var backendErr *classifier.BackendError
	if !errors.As(err, &backendErr) {
		backendErr = classifier.NewBackendError(classifier.KindUnreachable, uc.remote.Endpoint(), err)
	}
	uc.metrics.RecordRemoteFailure(string(backendErr.Kind))
	opLogger.Warn("remote classification failed",
		zap.String("kind", string(backendErr.Kind)),
		zap.Error(backendErr))

	if uc.local == nil {
		uc.metrics.ObserveClassification("none", "error", uc.now().Sub(start).Seconds())
		return nil, &ClassifyError{
			Kind:             terminalKind(backendErr.Kind),
			FallbackDisabled: true,
			Err:              backendErr,
		}
	}

	raw, localErr := uc.local.Infer(ctx, imageBytes)
	if localErr != nil {
		uc.metrics.ObserveClassification("none", "error", uc.now().Sub(start).Seconds())
		wrapped := logging.NewOperationError("usecase.local_fallback", requestID, localErr)
		opLogger.Error("local fallback failed", zap.Error(wrapped))
		return nil, &ClassifyError{Kind: KindInferenceUnavailable, Err: wrapped}
	}

	record := buildRecord(raw, uc.cfg.ModelName, uc.local.Endpoint(), SourceLocalFallback, uc.cfg.Thresholds, uc.now())
	if record == nil {
		uc.metrics.ObserveClassification("none", "error", uc.now().Sub(start).Seconds())
		return nil, &ClassifyError{
			Kind: KindInferenceUnavailable,
			Err:  errors.New("local fallback returned no predictions"),
		}
	}

	outcome := &Outcome{
		Record:       record,
		FallbackUsed: true,
		Warning:      fallbackWarning(backendErr.Kind),
	}
	uc.storeOutcome(ctx, requestID, cacheKey, outcome)
	uc.metrics.ObserveClassification(SourceLocalFallback, "success", uc.now().Sub(start).Seconds())
	opLogger.Info("local fallback classification succeeded",
		zap.String("fruit", record.Fruit),
		zap.String("remote_failure", string(backendErr.Kind)))
	return outcome, nil
}

// cachedOutcome looks up a previously computed outcome; any cache problem is
// treated as a miss.
func (uc *PredictionUseCase) cachedOutcome(ctx context.Context, requestID, cacheKey string) (*Outcome, bool) {
	serialized, err := uc.withCacheGet(ctx, requestID, "cache.get.prediction", cacheKey)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "usecase.cached_outcome", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}

	var outcome Outcome
	if err := json.Unmarshal([]byte(serialized), &outcome); err != nil || outcome.Record == nil {
		logging.WithOperation(uc.logger, "usecase.cached_outcome", requestID).Warn("failed to decode cached outcome", zap.Error(err))
		return nil, false
	}
	return &outcome, true
}

// storeOutcome writes the outcome to the cache; failures are logged, never
// surfaced to the caller.
func (uc *PredictionUseCase) storeOutcome(ctx context.Context, requestID, cacheKey string, outcome *Outcome) {
	if uc.cache == nil || cacheKey == "" {
		return
	}

	serialized, err := json.Marshal(outcome)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.store_outcome", requestID).Warn("failed to serialize outcome", zap.Error(err))
		return
	}
	if err := uc.withCacheRetry(ctx, requestID, "cache.set.prediction", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), uc.cfg.CacheTTL)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.store_outcome", requestID).Warn("failed to cache outcome", zap.Error(err))
	}
}

func (uc *PredictionUseCase) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *PredictionUseCase) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
