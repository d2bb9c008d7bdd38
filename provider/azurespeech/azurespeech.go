// Package azurespeech adapts the Azure Speech pronunciation-assessment REST
// API to the speechgate Provider interface.
package azurespeech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/edukit/speechgate"
)

const defaultLocale = "en-US"

// Provider is an Azure Speech pronunciation-assessment adapter.
type Provider struct {
	auth       speechgate.Auth
	baseURL    string
	httpClient *http.Client
}

var _ speechgate.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithBaseURL overrides the regional endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// New creates an Azure Speech provider for the given credentials. The
// endpoint is derived from auth.Region unless overridden.
func New(auth speechgate.Auth, opts ...Option) *Provider {
	p := &Provider{
		auth:       auth,
		baseURL:    fmt.Sprintf("https://%s.stt.speech.microsoft.com", auth.Region),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "azurespeech" }

// assessmentParams is the Pronunciation-Assessment header payload.
type assessmentParams struct {
	ReferenceText string `json:"ReferenceText"`
	GradingSystem string `json:"GradingSystem"`
	Granularity   string `json:"Granularity"`
}

// apiResponse is the recognition response format.
type apiResponse struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	Duration          int64  `json:"Duration"` // 100ns ticks
	NBest             []struct {
		AccuracyScore     float64 `json:"AccuracyScore"`
		FluencyScore      float64 `json:"FluencyScore"`
		CompletenessScore float64 `json:"CompletenessScore"`
		PronScore         float64 `json:"PronScore"`
		Words             []struct {
			Word          string  `json:"Word"`
			AccuracyScore float64 `json:"AccuracyScore"`
			ErrorType     string  `json:"ErrorType"`
		} `json:"Words"`
	} `json:"NBest"`
}

// Assess posts the sample and maps the recognition response. HTTP 429 is
// reported as a 429 ProviderError for the admission controller to classify.
func (p *Provider) Assess(ctx context.Context, sample speechgate.Sample) (speechgate.RawResult, error) {
	locale := sample.Locale
	if locale == "" {
		locale = defaultLocale
	}

	params, err := json.Marshal(assessmentParams{
		ReferenceText: sample.ReferenceText,
		GradingSystem: "HundredMark",
		Granularity:   "Word",
	})
	if err != nil {
		return speechgate.RawResult{}, fmt.Errorf("azurespeech: marshal params: %w", err)
	}

	endpoint := fmt.Sprintf("%s/speech/recognition/conversation/cognitiveservices/v1?language=%s",
		p.baseURL, url.QueryEscape(locale))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(sample.Audio))
	if err != nil {
		return speechgate.RawResult{}, fmt.Errorf("azurespeech: build request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", p.auth.APIKey)
	httpReq.Header.Set("Pronunciation-Assessment", base64.StdEncoding.EncodeToString(params))
	httpReq.Header.Set("Content-Type", "audio/wav; codecs=audio/pcm; samplerate=16000")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return speechgate.RawResult{}, fmt.Errorf("azurespeech: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return speechgate.RawResult{}, fmt.Errorf("azurespeech: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return speechgate.RawResult{}, &speechgate.ProviderError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("azurespeech: status %d: %s", resp.StatusCode, truncate(body, 200)),
		}
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return speechgate.RawResult{}, fmt.Errorf("azurespeech: parse response: %w", err)
	}

	result := speechgate.RawResult{
		Recognized:    api.DisplayText,
		AudioDuration: time.Duration(api.Duration * 100),
	}

	if api.RecognitionStatus != "Success" {
		// NoMatch and friends are billable zero-score results.
		result.NoMatch = true
		return result, nil
	}

	if len(api.NBest) > 0 {
		best := api.NBest[0]
		result.Accuracy = best.AccuracyScore
		result.Fluency = best.FluencyScore
		result.Completeness = best.CompletenessScore
		result.Pronunciation = best.PronScore
		for _, w := range best.Words {
			result.Words = append(result.Words, speechgate.WordScore{
				Word:      w.Word,
				Accuracy:  w.AccuracyScore,
				ErrorType: w.ErrorType,
			})
		}
	}

	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
