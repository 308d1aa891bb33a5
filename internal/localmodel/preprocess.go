package localmodel

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
	"sort"
	"strconv"

	"github.com/nfnt/resize"
)

const (
	defaultImageSize = 224
	defaultMean      = 0.5
	defaultStd       = 255
)

// ModelConfig is the resolved sidecar configuration shipped next to the ONNX
// artifact: input geometry, normalization constants, and the class label map.
type ModelConfig struct {
	Width  int
	Height int
	Mean   float64
	Std    float64
	Labels map[string]string
}

type modelConfigFile struct {
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Mean   *float64          `json:"mean"`
	Std    *float64          `json:"std"`
	Labels map[string]string `json:"map"`
}

func parseConfig(raw []byte) (ModelConfig, error) {
	var file modelConfigFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return ModelConfig{}, fmt.Errorf("parse model config: %w", err)
	}

	cfg := ModelConfig{
		Width:  file.Width,
		Height: file.Height,
		Mean:   defaultMean,
		Std:    defaultStd,
		Labels: file.Labels,
	}
	if cfg.Width <= 0 {
		cfg.Width = defaultImageSize
	}
	if cfg.Height <= 0 {
		cfg.Height = defaultImageSize
	}
	if file.Mean != nil {
		cfg.Mean = *file.Mean
	}
	if file.Std != nil && *file.Std != 0 {
		cfg.Std = *file.Std
	}
	return cfg, nil
}

// labelSlice converts the index-keyed label map into a dense slice, filling
// gaps with generated class names.
func labelSlice(labels map[string]string) []string {
	maxIndex := -1
	indexed := make(map[int]string, len(labels))
	for key, label := range labels {
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 {
			continue
		}
		indexed[index] = label
		if index > maxIndex {
			maxIndex = index
		}
	}
	if maxIndex < 0 {
		return nil
	}

	out := make([]string, maxIndex+1)
	for i := range out {
		if label, ok := indexed[i]; ok && label != "" {
			out[i] = label
		} else {
			out[i] = "class_" + strconv.Itoa(i)
		}
	}
	return out
}

// chwTensor resizes the image and lays it out as normalized CHW float32 data.
// Exported classification models with std >= 10 and a fractional mean expect
// [-1,1] style normalization; everything else gets plain (x-mean)/std.
func chwTensor(img image.Image, cfg ModelConfig) []float32 {
	resized := resize.Resize(uint(cfg.Width), uint(cfg.Height), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			index := y*width + x
			data[index] = normalizePixel(float64(r>>8), cfg.Mean, cfg.Std)
			data[plane+index] = normalizePixel(float64(g>>8), cfg.Mean, cfg.Std)
			data[2*plane+index] = normalizePixel(float64(b>>8), cfg.Mean, cfg.Std)
		}
	}
	return data
}

func normalizePixel(value, mean, std float64) float32 {
	if std >= 10 && mean > 0 && mean < 1 {
		return float32((value/std - mean) / mean)
	}
	return float32((value - mean) / std)
}

// softmax converts raw logits into a probability distribution, shifted for
// numerical stability.
func softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}

	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}

	exps := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		exps[i] = math.Exp(float64(v) - maxLogit)
		sum += exps[i]
	}
	if sum <= 0 {
		return make([]float64, len(logits))
	}

	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

// sortByConfidence orders indices by descending probability.
func sortByConfidence(probabilities []float64) []int {
	order := make([]int, len(probabilities))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return probabilities[order[a]] > probabilities[order[b]]
	})
	return order
}
