package usecase

import (
	"math"
	"sort"
	"time"

	"github.com/example/fruits-recognition/internal/classifier"
)

// Prediction sources.
const (
	SourceRemote        = "remote"
	SourceLocalFallback = "local_fallback"
)

const maxPredictions = 5

// PredictionEntry is one normalized class score.
type PredictionEntry struct {
	Label             string  `json:"label"`
	Confidence        float64 `json:"confidence"`
	ConfidencePercent float64 `json:"confidence_percent"`
}

// PredictionRecord is the unified prediction contract produced from either
// backend's raw output.
type PredictionRecord struct {
	ModelName             string            `json:"model_name"`
	Endpoint              string            `json:"endpoint"`
	Fruit                 string            `json:"fruit"`
	Confidence            float64           `json:"confidence"`
	ConfidencePercent     float64           `json:"confidence_percent"`
	ConfidenceLevel       string            `json:"confidence_level"`
	ConfidenceBarClass    string            `json:"confidence_bar_class"`
	ConfidenceExplanation string            `json:"confidence_explanation"`
	Predictions           []PredictionEntry `json:"predictions"`
	TimestampUTC          string            `json:"timestamp_utc"`
	Source                string            `json:"source"`
}

// ConfidenceThresholds drive the coarse low/medium/high bucketing. The two
// backends may report confidence on different practical scales, so these are
// configuration values rather than constants.
type ConfidenceThresholds struct {
	High   float64
	Medium float64
}

type confidenceProfile struct {
	level       string
	barClass    string
	explanation string
}

func (t ConfidenceThresholds) profile(percent float64) confidenceProfile {
	if percent >= t.High {
		return confidenceProfile{
			level:       "high",
			barClass:    "success",
			explanation: "Very strong match. The model is highly confident in this fruit label.",
		}
	}
	if percent >= t.Medium {
		return confidenceProfile{
			level:       "medium",
			barClass:    "warning",
			explanation: "Moderate confidence. The prediction is plausible but not definitive.",
		}
	}
	return confidenceProfile{
		level:       "low",
		barClass:    "danger",
		explanation: "Low confidence. The image may be unclear or outside model training patterns.",
	}
}

// normalizeConfidence turns a raw backend score into a 0..1 score and a 0..100
// percentage. Values above 1 are interpreted as already-percent.
func normalizeConfidence(raw float64) (score, percent float64) {
	if math.IsNaN(raw) || raw < 0 {
		raw = 0
	}
	if raw > 1 {
		percent = math.Min(raw, 100)
		score = percent / 100
	} else {
		score = raw
		percent = raw * 100
	}
	return round(score, 4), round(percent, 2)
}

func round(value float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(value*shift) / shift
}

// buildRecord normalizes raw backend scores into the unified contract.
func buildRecord(raw []classifier.RawPrediction, modelName, endpoint, source string, thresholds ConfidenceThresholds, now time.Time) *PredictionRecord {
	entries := make([]PredictionEntry, 0, len(raw))
	for _, prediction := range raw {
		label := prediction.Label
		if label == "" {
			label = "Unknown"
		}
		score, percent := normalizeConfidence(prediction.Confidence)
		entries = append(entries, PredictionEntry{
			Label:             label,
			Confidence:        score,
			ConfidencePercent: percent,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ConfidencePercent > entries[j].ConfidencePercent
	})
	if len(entries) > maxPredictions {
		entries = entries[:maxPredictions]
	}
	if len(entries) == 0 {
		return nil
	}

	top := entries[0]
	profile := thresholds.profile(top.ConfidencePercent)

	return &PredictionRecord{
		ModelName:             modelName,
		Endpoint:              endpoint,
		Fruit:                 top.Label,
		Confidence:            top.Confidence,
		ConfidencePercent:     top.ConfidencePercent,
		ConfidenceLevel:       profile.level,
		ConfidenceBarClass:    profile.barClass,
		ConfidenceExplanation: profile.explanation,
		Predictions:           entries,
		TimestampUTC:          now.UTC().Format(time.RFC3339),
		Source:                source,
	}
}
