package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/altify/altify/internal/domain"
)

// HTTPInferencer calls an HTTP vision-language backend (e.g. an
// ollama-compatible /api/generate endpoint serving a multimodal model) once
// per requested candidate, varying the sampling temperature across calls so
// the pair is observably distinct per spec §4.2 step 5. Grounded on
// internal/planner/provider.go's HTTPProvider: context-scoped POST with a
// bearer token and a hard timeout mapped to Unavailable/Timeout.
type HTTPInferencer struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	timeout  time.Duration
}

func NewHTTPInferencer(endpoint, model, apiKey string, timeout time.Duration) *HTTPInferencer {
	if timeout <= 0 {
		timeout = 60 * time.Second // T_inf default, spec §5
	}
	return &HTTPInferencer{
		endpoint: strings.TrimSpace(endpoint),
		model:    model,
		apiKey:   strings.TrimSpace(apiKey),
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
	}
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Images      []string `json:"images"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// candidateTemperatures gives each candidate request a distinct sampling
// temperature for up to four candidates; k=2 is the only value the worker
// loop exercises. For k above four the index wraps, so later candidates
// reuse a temperature.
var candidateTemperatures = []float64{0.2, 0.9, 0.5, 0.7}

func (h *HTTPInferencer) Generate(ctx context.Context, image []byte, contextText string, k int) ([]string, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be >= 1: %w", ErrWrongCandidateCount)
	}
	encoded := base64.StdEncoding.EncodeToString(image)
	prompt := buildPrompt(contextText)

	out := make([]string, 0, k)
	for i := 0; i < k; i++ {
		temp := candidateTemperatures[i%len(candidateTemperatures)]
		text, err := h.generateOne(ctx, encoded, prompt, temp)
		if err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, nil
}

func (h *HTTPInferencer) generateOne(ctx context.Context, imageB64, prompt string, temperature float64) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:       h.model,
		Prompt:      prompt,
		Images:      []string{imageB64},
		Temperature: temperature,
		Stream:      false,
	})
	if err != nil {
		return "", classify("internal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", classify("internal", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", classify("timeout", err)
		}
		return "", fmt.Errorf("inference backend unreachable: %w", domain.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return "", classify("oom", fmt.Errorf("backend returned %s", resp.Status))
	}
	if resp.StatusCode >= 300 {
		return "", classify("internal", fmt.Errorf("backend returned %s", resp.Status))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", classify("decode_error", err)
	}
	if decoded.Error != "" {
		return "", classify("decode_error", fmt.Errorf("%s", decoded.Error))
	}
	text := strings.TrimSpace(decoded.Response)
	if text == "" {
		return "", classify("decode_error", fmt.Errorf("empty candidate text"))
	}
	return text, nil
}

func buildPrompt(contextText string) string {
	p := "Describe this image in one short sentence suitable as HTML alt text."
	if contextText != "" {
		p += " Surrounding page context: " + contextText
	}
	return p
}
