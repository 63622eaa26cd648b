package llmclient

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/config"
)

// mockModels is a testify mock of the genai model surface.
type mockModels struct {
	mock.Mock
}

func (m *mockModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	args := m.Called(ctx, model, contents, cfg)
	resp, _ := args.Get(0).(*genai.GenerateContentResponse)
	return resp, args.Error(1)
}

func (m *mockModels) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	args := m.Called(ctx, model, contents, cfg)
	return args.Get(0).(iter.Seq2[*genai.GenerateContentResponse, error])
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}
}

func streamOf(items ...any) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, it := range items {
			var ok bool
			switch v := it.(type) {
			case string:
				ok = yield(textResponse(v), nil)
			case error:
				ok = yield(nil, v)
			}
			if !ok {
				return
			}
		}
	}
}

func TestGeminiSession_Generate(t *testing.T) {
	logger, _ := setupTestLogger(t)
	models := new(mockModels)
	backend := newGeminiBackend(models, "gemini-test", logger)

	img := &schemas.Image{Data: []byte{1, 2, 3}, MIMEType: "image/jpeg"}
	req := schemas.GenerationRequest{
		Prompt:  "classify",
		Image:   img,
		Options: schemas.GenerationOptions{Temperature: 0, TopK: 40, MaxTokens: 256},
	}

	models.On("GenerateContent", mock.Anything, "gemini-test",
		mock.MatchedBy(func(c []*genai.Content) bool {
			return len(c) == 1 && len(c[0].Parts) == 2 &&
				c[0].Parts[0].InlineData != nil && c[0].Parts[0].InlineData.MIMEType == "image/jpeg" &&
				c[0].Parts[1].Text == "classify"
		}),
		mock.MatchedBy(func(cfg *genai.GenerateContentConfig) bool {
			return cfg.Temperature != nil && *cfg.Temperature == 0 &&
				cfg.TopK != nil && *cfg.TopK == 40 &&
				cfg.MaxOutputTokens == 256 && cfg.ResponseMIMEType == ""
		}),
	).Return(textResponse("tick"), nil).Once()

	session, err := backend.NewSession(context.Background())
	require.NoError(t, err)
	text, err := session.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "tick", text)
	models.AssertExpectations(t)
}

func TestGeminiSession_GenerateErrors(t *testing.T) {
	logger, _ := setupTestLogger(t)

	t.Run("should wrap api errors", func(t *testing.T) {
		models := new(mockModels)
		boom := errors.New("quota exceeded")
		models.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, boom)

		session, _ := newGeminiBackend(models, "m", logger).NewSession(context.Background())
		_, err := session.Generate(context.Background(), schemas.GenerationRequest{Prompt: "p"})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("should reject responses without candidates", func(t *testing.T) {
		models := new(mockModels)
		models.On("GenerateContent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(&genai.GenerateContentResponse{}, nil)

		session, _ := newGeminiBackend(models, "m", logger).NewSession(context.Background())
		_, err := session.Generate(context.Background(), schemas.GenerationRequest{Prompt: "p"})
		assert.ErrorContains(t, err, "no candidates")
	})

	t.Run("should refuse a closed session", func(t *testing.T) {
		session, _ := newGeminiBackend(new(mockModels), "m", logger).NewSession(context.Background())
		require.NoError(t, session.Close())
		_, err := session.Generate(context.Background(), schemas.GenerationRequest{Prompt: "p"})
		assert.ErrorIs(t, err, ErrSessionClosed)
	})
}

func TestGeminiSession_GenerateStream(t *testing.T) {
	logger, _ := setupTestLogger(t)

	t.Run("should deliver chunks then done", func(t *testing.T) {
		models := new(mockModels)
		models.On("GenerateContentStream", mock.Anything, "m", mock.Anything,
			mock.MatchedBy(func(cfg *genai.GenerateContentConfig) bool { return cfg.ResponseMIMEType == "application/json" }),
		).Return(streamOf(`{"severity":`, `"High"}`))

		session, _ := newGeminiBackend(models, "m", logger).NewSession(context.Background())
		var got []string
		done := false
		err := session.GenerateStream(context.Background(),
			schemas.GenerationRequest{Prompt: "p", Options: schemas.GenerationOptions{ForceJSONFormat: true}},
			func(text string, isDone bool) {
				if isDone {
					done = true
					return
				}
				got = append(got, text)
			})
		require.NoError(t, err)
		assert.Equal(t, []string{`{"severity":`, `"High"}`}, got)
		assert.True(t, done)
	})

	t.Run("should stop on a stream error without signalling done", func(t *testing.T) {
		models := new(mockModels)
		boom := errors.New("connection reset")
		models.On("GenerateContentStream", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(streamOf("partial", boom, "never"))

		session, _ := newGeminiBackend(models, "m", logger).NewSession(context.Background())
		var got []string
		done := false
		err := session.GenerateStream(context.Background(), schemas.GenerationRequest{Prompt: "p"}, func(text string, isDone bool) {
			if isDone {
				done = true
				return
			}
			got = append(got, text)
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []string{"partial"}, got)
		assert.False(t, done)
	})
}

func TestNewGeminiBackend_RequiresKey(t *testing.T) {
	logger, _ := setupTestLogger(t)
	_, err := NewGeminiBackend(context.Background(), config.LLMConfig{Provider: config.ProviderGemini, Model: "m"}, logger)
	assert.ErrorContains(t, err, "API key is required")
}
