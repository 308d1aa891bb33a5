package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/fruits-recognition/internal/usecase"
)

const (
	// ServiceName identifies this service in health and descriptor responses.
	ServiceName = "fruits-recognition-app"

	fileFormField     = "file"
	allowedMIMEPrefix = "image/"
)

var allowedExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"bmp":  true,
	"gif":  true,
	"webp": true,
}

// Router runs the classification flow for one uploaded image.
type Router interface {
	Classify(ctx context.Context, imageBytes []byte) (*usecase.Outcome, error)
}

// Options carries the configuration the HTTP layer surfaces to clients.
type Options struct {
	DeepstackBaseURL string
	ModelName        string
	MaxUploadMB      int
	MaxUploadBytes   int64
	FallbackEnabled  bool
	MetricsHandler   http.Handler
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc Router, opts Options) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":                ServiceName,
			"deepstack_base_url":     opts.DeepstackBaseURL,
			"model_name":             opts.ModelName,
			"max_upload_mb":          opts.MaxUploadMB,
			"allowed_extensions":     extensionList(),
			"local_fallback_enabled": opts.FallbackEnabled,
		})
	})

	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success":                true,
			"service":                ServiceName,
			"deepstack_base_url":     opts.DeepstackBaseURL,
			"model_name":             opts.ModelName,
			"local_fallback_enabled": opts.FallbackEnabled,
		})
	})

	predict := predictHandler(uc, opts)
	router.POST("/api/predict", predict)
	// Backward compatibility route. Clients should use /api/predict.
	router.POST("/submit", predict)

	if opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}
}

func predictHandler(uc Router, opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := c.FormFile(fileFormField)
		if err != nil {
			badRequest(c, "No file was uploaded.")
			return
		}

		if message := validateUpload(file.Filename, file.Header.Get("Content-Type")); message != "" {
			badRequest(c, message)
			return
		}

		if opts.MaxUploadBytes > 0 && file.Size > opts.MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"error":   fmt.Sprintf("File is larger than the %d MB limit.", opts.MaxUploadMB),
			})
			return
		}

		src, err := file.Open()
		if err != nil {
			badRequest(c, "Unable to open the uploaded file.")
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to read the uploaded file."})
			return
		}

		outcome, err := uc.Classify(c.Request.Context(), data)
		if err != nil {
			status, message := mapClassifyError(err)
			c.JSON(status, gin.H{"success": false, "error": message})
			return
		}

		response := gin.H{"success": true, "data": outcome.Record}
		if outcome.FallbackUsed {
			response["fallback"] = true
			response["warning"] = outcome.Warning
		}
		c.JSON(http.StatusOK, response)
	}
}

// validateUpload checks filename extension and declared MIME type. It returns
// an empty string when the upload looks acceptable.
func validateUpload(filename, mimeType string) string {
	name := strings.TrimSpace(filepath.Base(filename))
	if name == "" || name == "." {
		return "Please choose an image file first."
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return "Uploaded file has no extension."
	}
	if !allowedExtensions[ext] {
		return fmt.Sprintf("Unsupported file type '%s'. Allowed: %s.", ext, strings.Join(extensionList(), ", "))
	}

	if mimeType != "" && !strings.HasPrefix(mimeType, allowedMIMEPrefix) {
		return fmt.Sprintf("Invalid file MIME type '%s'. Only images are supported.", mimeType)
	}
	return ""
}

func mapClassifyError(err error) (int, string) {
	var classifyErr *usecase.ClassifyError
	if !errors.As(err, &classifyErr) {
		return http.StatusInternalServerError, "Unexpected server error while processing the prediction."
	}

	switch classifyErr.Kind {
	case usecase.KindInvalidInput:
		return http.StatusBadRequest, classifyErr.Message()
	case usecase.KindRemoteUnreachable, usecase.KindInferenceUnavailable:
		return http.StatusServiceUnavailable, classifyErr.Message()
	case usecase.KindRemoteEndpointUnsupported:
		return http.StatusNotFound, classifyErr.Message()
	case usecase.KindRemoteModelNotFound, usecase.KindRemoteMalformedResponse:
		return http.StatusBadGateway, classifyErr.Message()
	default:
		return http.StatusInternalServerError, classifyErr.Message()
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": message})
}

func extensionList() []string {
	list := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		list = append(list, ext)
	}
	sort.Strings(list)
	return list
}
