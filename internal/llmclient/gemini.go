// internal/llmclient/gemini.go
package llmclient

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/config"
)

// geminiModels is the subset of *genai.Models the backend calls.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// GeminiBackend creates sessions against the Gemini API.
type GeminiBackend struct {
	models geminiModels
	model  string
	logger *zap.Logger
}

// NewGeminiBackend initializes a genai client from cfg.
func NewGeminiBackend(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newGeminiBackend(client.Models, cfg.Model, logger), nil
}

func newGeminiBackend(models geminiModels, model string, logger *zap.Logger) *GeminiBackend {
	return &GeminiBackend{
		models: models,
		model:  model,
		logger: logger.Named("llm_client.gemini"),
	}
}

// NewSession implements Backend.
func (b *GeminiBackend) NewSession(context.Context) (Session, error) {
	return &geminiSession{backend: b}, nil
}

// Close implements Backend. The genai client holds no resources of its own.
func (b *GeminiBackend) Close() error { return nil }

type geminiSession struct {
	backend *GeminiBackend
	closed  atomic.Bool
}

func (s *geminiSession) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if s.closed.Load() {
		return "", ErrSessionClosed
	}
	start := time.Now()
	resp, err := s.backend.models.GenerateContent(ctx, s.backend.model, buildGeminiContents(req), buildGeminiConfig(req.Options))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if err := checkGeminiResponse(resp); err != nil {
		return "", err
	}

	fields := []zap.Field{zap.Duration("duration", time.Since(start))}
	if u := resp.UsageMetadata; u != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", u.PromptTokenCount),
			zap.Int32("completion_tokens", u.CandidatesTokenCount),
			zap.Int32("total_tokens", u.TotalTokenCount))
	}
	s.backend.logger.Info("LLM generation complete (Gemini)", fields...)
	return resp.Text(), nil
}

func (s *geminiSession) GenerateStream(ctx context.Context, req schemas.GenerationRequest, fn schemas.FragmentFunc) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	for resp, err := range s.backend.models.GenerateContentStream(ctx, s.backend.model, buildGeminiContents(req), buildGeminiConfig(req.Options)) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if s.closed.Load() {
			return ErrSessionClosed
		}
		if text := resp.Text(); text != "" {
			fn(text, false)
		}
	}
	fn("", true)
	return nil
}

func (s *geminiSession) Close() error {
	s.closed.Store(true)
	return nil
}

func buildGeminiContents(req schemas.GenerationRequest) []*genai.Content {
	parts := make([]*genai.Part, 0, 2)
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func buildGeminiConfig(opts schemas.GenerationOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(opts.Temperature),
	}
	if opts.TopP > 0 {
		cfg.TopP = genai.Ptr(opts.TopP)
	}
	if opts.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(opts.TopK))
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.ForceJSONFormat {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// checkGeminiResponse turns blocked or empty candidates into errors.
func checkGeminiResponse(resp *genai.GenerateContentResponse) error {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return fmt.Errorf("gemini API blocked the prompt (Reason: %s)", resp.PromptFeedback.BlockReason)
		}
		return fmt.Errorf("gemini API returned no candidates")
	}
	c := resp.Candidates[0]
	if c.Content == nil || len(c.Content.Parts) == 0 {
		return fmt.Errorf("gemini API returned empty content parts (Reason: %s)", c.FinishReason)
	}
	return nil
}
