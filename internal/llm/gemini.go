package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Defaults for the Gemini generateContent call.
const (
	DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel    = "gemini-1.5-flash"

	// maxResponseSize limits the response body read from the API.
	maxResponseSize = 4 << 20
)

// GenerationConfig mirrors the Gemini generationConfig object.
type GenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP"`
	TopK             int     `json:"topK"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

// DefaultGenerationConfig favours complete, varied answers so that a retry
// can fill fields a previous reply left out.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:      1,
		TopP:             0.95,
		TopK:             40,
		MaxOutputTokens:  8192,
		ResponseMimeType: "text/plain",
	}
}

// GeminiExtractor implements Extractor against the Gemini REST API.
type GeminiExtractor struct {
	APIKey     string
	Model      string
	Endpoint   string
	Generation GenerationConfig
	HTTP       *http.Client
}

// NewGeminiExtractor returns an extractor with default model, endpoint and
// generation settings. Empty arguments select the defaults.
func NewGeminiExtractor(apiKey, model, endpoint string, timeout time.Duration) *GeminiExtractor {
	if model == "" {
		model = DefaultGeminiModel
	}
	if endpoint == "" {
		endpoint = DefaultGeminiEndpoint
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiExtractor{
		APIKey:     apiKey,
		Model:      model,
		Endpoint:   strings.TrimSuffix(endpoint, "/"),
		Generation: DefaultGenerationConfig(),
		HTTP:       &http.Client{Timeout: timeout},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Extract sends the extraction prompt and parses the reply. Network errors,
// 429 and 5xx responses are returned as transient errors.
func (g *GeminiExtractor) Extract(ctx context.Context, content, formatHint string) (Metadata, error) {
	tr := otel.Tracer("llm/GeminiExtractor")
	ctx, span := tr.Start(ctx, "Extract",
		trace.WithAttributes(
			attribute.String("llm.model", g.Model),
			attribute.String("script.format", formatHint),
			attribute.Int("script.bytes", len(content)),
		),
	)
	defer span.End()

	if strings.TrimSpace(g.APIKey) == "" {
		return nil, ErrNotConfigured
	}

	text, err := g.generate(ctx, Prompt(content, formatHint))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	md := Parse(text)
	span.SetAttributes(attribute.Int("llm.missing_fields", len(md.Missing())))
	return md, nil
}

func (g *GeminiExtractor) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: g.Generation,
	})
	if err != nil {
		return "", fmt.Errorf("encode gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.Endpoint, g.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.APIKey)

	client := g.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", NewTransientError(fmt.Errorf("gemini request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", NewTransientError(fmt.Errorf("read gemini response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", NewTransientError(fmt.Errorf("gemini status %d", resp.StatusCode))
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if out.Error != nil {
			return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("gemini status %d", resp.StatusCode)
	}
	if len(out.Candidates) == 0 {
		// Blocked or empty replies parse as missing fields.
		return "", nil
	}

	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}
