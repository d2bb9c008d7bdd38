package speechgate

import (
	"context"
	"time"
)

// Provider is the interface that speech-assessment provider adapters must
// implement. Assess blocks until the provider responds or ctx is done.
type Provider interface {
	// Name returns the provider identifier (e.g. "azurespeech", "mock").
	Name() string

	// Assess scores the sample's pronunciation against its reference text.
	Assess(ctx context.Context, sample Sample) (RawResult, error)
}

// Auth holds authentication credentials for a provider account.
type Auth struct {
	APIKey string `yaml:"api_key" json:"api_key"`
	Region string `yaml:"region" json:"region"`
}

// Sample is the audio payload sent to a provider adapter.
type Sample struct {
	Audio         []byte
	ReferenceText string
	Locale        string
}

// RawResult is the provider's scoring of one sample.
type RawResult struct {
	Recognized    string
	Accuracy      float64
	Fluency       float64
	Completeness  float64
	Pronunciation float64
	Words         []WordScore
	AudioDuration time.Duration

	// NoMatch is set when the recognizer could not match the audio to the
	// reference text. This is a billable zero-score result, not an error.
	NoMatch bool
}

// WordScore is the per-word accuracy breakdown.
type WordScore struct {
	Word      string
	Accuracy  float64
	ErrorType string
}

// BilledSeconds returns the base-unit cost of the result, rounded up so a
// partial final second is still attributed.
func (r RawResult) BilledSeconds() int64 {
	d := r.AudioDuration
	secs := int64(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
