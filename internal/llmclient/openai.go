// internal/llmclient/openai.go
package llmclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/config"
)

// OpenAIBackend creates sessions against any OpenAI-compatible chat
// completions endpoint, including locally hosted vision models.
type OpenAIBackend struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIBackend builds a client from cfg. An empty endpoint targets api.openai.com.
func NewOpenAIBackend(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIBackend, error) {
	if cfg.APIKey == "" && cfg.Endpoint == "" {
		return nil, fmt.Errorf("openai API key is required when no custom endpoint is configured")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.APITimeout}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger.Named("llm_client.openai"),
	}, nil
}

// NewSession implements Backend.
func (b *OpenAIBackend) NewSession(context.Context) (Session, error) {
	return &openaiSession{backend: b}, nil
}

// Close implements Backend.
func (b *OpenAIBackend) Close() error { return nil }

type openaiSession struct {
	backend *OpenAIBackend
	closed  atomic.Bool
}

func (s *openaiSession) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if s.closed.Load() {
		return "", ErrSessionClosed
	}
	start := time.Now()
	resp, err := s.backend.client.CreateChatCompletion(ctx, s.backend.buildRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai API returned no choices")
	}

	s.backend.logger.Info("LLM generation complete (OpenAI)",
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

func (s *openaiSession) GenerateStream(ctx context.Context, req schemas.GenerationRequest, fn schemas.FragmentFunc) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	stream, err := s.backend.client.CreateChatCompletionStream(ctx, s.backend.buildRequest(req, true))
	if err != nil {
		return fmt.Errorf("failed to create chat completion stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("openai stream: %w", err)
		}
		if s.closed.Load() {
			return ErrSessionClosed
		}
		if len(resp.Choices) > 0 {
			if text := resp.Choices[0].Delta.Content; text != "" {
				fn(text, false)
			}
		}
	}
	fn("", true)
	return nil
}

func (s *openaiSession) Close() error {
	s.closed.Store(true)
	return nil
}

func (b *OpenAIBackend) buildRequest(req schemas.GenerationRequest, stream bool) openai.ChatCompletionRequest {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if req.Image != nil && len(req.Image.Data) > 0 {
		msg.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURI(req.Image),
					Detail: openai.ImageURLDetailAuto,
				},
			},
		}
	} else {
		msg.Content = req.Prompt
	}

	out := openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    []openai.ChatCompletionMessage{msg},
		Stream:      stream,
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
		MaxTokens:   req.Options.MaxTokens,
	}
	if req.Options.ForceJSONFormat {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

func dataURI(img *schemas.Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data))
}
