package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/fruits-recognition/internal/classifier"
	"github.com/example/fruits-recognition/internal/config"
	"github.com/example/fruits-recognition/internal/deepstack"
	"github.com/example/fruits-recognition/internal/handlers"
	"github.com/example/fruits-recognition/internal/localmodel"
	"github.com/example/fruits-recognition/internal/logging"
	"github.com/example/fruits-recognition/internal/metrics"
	"github.com/example/fruits-recognition/internal/usecase"
)

func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	remote := deepstack.NewClient(cfg.DeepstackBaseURL, cfg.ModelName, cfg.Timeout(), logger)

	var local classifier.Classifier
	if cfg.FallbackEnabled {
		model, err := localmodel.Load(cfg.LocalModelPath, cfg.LocalModelConfigPath, logger)
		if err != nil {
			logger.Fatal("failed to load local fallback model", zap.Error(err))
		}
		defer model.Close()
		local = model
	} else {
		logger.Info("local fallback disabled")
	}

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
		redisCancel()
		defer redisClient.Close()
		cache = usecase.NewRedisCache(redisClient)
	}

	recorder := metrics.NewRecorder()

	uc := usecase.NewPredictionUseCase(remote, local, cache, recorder, usecase.RouterConfig{
		ModelName:      cfg.ModelName,
		CallTimeout:    cfg.Timeout(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Thresholds: usecase.ConfidenceThresholds{
			High:   cfg.HighThreshold,
			Medium: cfg.MediumThreshold,
		},
		CacheTTL: cfg.CacheTTL(),
	}, logger)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes()

	handlers.RegisterRoutes(r, uc, handlers.Options{
		DeepstackBaseURL: cfg.DeepstackBaseURL,
		ModelName:        cfg.ModelName,
		MaxUploadMB:      cfg.MaxUploadMB,
		MaxUploadBytes:   cfg.MaxUploadBytes(),
		FallbackEnabled:  cfg.FallbackEnabled,
		MetricsHandler:   recorder.Handler(),
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	logger.Info("fruits recognition API listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("deepstack_base_url", cfg.DeepstackBaseURL),
		zap.String("model_name", cfg.ModelName),
		zap.Bool("fallback_enabled", cfg.FallbackEnabled))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
