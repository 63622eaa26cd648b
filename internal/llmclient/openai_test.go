package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/config"
)

// chatServer fakes the chat completions endpoint. Streaming requests receive
// chunks as server-sent events; other requests get one JSON completion.
func chatServer(t *testing.T, chunks []string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		if captured != nil {
			*captured = req
		}

		if stream, _ := req["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, c := range chunks {
				payload, _ := json.Marshal(map[string]any{
					"id":      "chatcmpl-1",
					"object":  "chat.completion.chunk",
					"created": 1,
					"model":   "test",
					"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": c}}},
				})
				fmt.Fprintf(w, "data: %s\n\n", payload)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		full := ""
		for _, c := range chunks {
			full += c
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": full},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOpenAIBackend(t *testing.T, url string) *OpenAIBackend {
	t.Helper()
	logger, _ := setupTestLogger(t)
	b, err := NewOpenAIBackend(config.LLMConfig{
		Provider:   config.ProviderOpenAI,
		Model:      "test",
		APIKey:     "sk-test",
		Endpoint:   url + "/v1",
		APITimeout: 5 * time.Second,
	}, logger)
	require.NoError(t, err)
	return b
}

func TestOpenAISession_Generate(t *testing.T) {
	var captured map[string]any
	srv := chatServer(t, []string{"bed bugs"}, &captured)
	backend := newTestOpenAIBackend(t, srv.URL)

	session, err := backend.NewSession(context.Background())
	require.NoError(t, err)

	img := &schemas.Image{Data: []byte("jpeg"), MIMEType: "image/jpeg"}
	text, err := session.Generate(context.Background(), schemas.GenerationRequest{Prompt: "classify", Image: img})
	require.NoError(t, err)
	assert.Equal(t, "bed bugs", text)

	messages := captured["messages"].([]any)
	require.Len(t, messages, 1)
	parts := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "classify", parts[0].(map[string]any)["text"])
	imageURL := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.Equal(t, "data:image/jpeg;base64,anBlZw==", imageURL)
}

func TestOpenAISession_GenerateStream(t *testing.T) {
	var captured map[string]any
	srv := chatServer(t, []string{`{"severity"`, `:"Low"}`}, &captured)
	backend := newTestOpenAIBackend(t, srv.URL)

	session, err := backend.NewSession(context.Background())
	require.NoError(t, err)

	var got []string
	var done bool
	err = session.GenerateStream(context.Background(),
		schemas.GenerationRequest{Prompt: "elaborate", Options: schemas.GenerationOptions{ForceJSONFormat: true}},
		func(text string, isDone bool) {
			if isDone {
				done = true
				return
			}
			got = append(got, text)
		})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"severity"`, `:"Low"}`}, got)
	assert.True(t, done)

	assert.Equal(t, "elaborate", captured["messages"].([]any)[0].(map[string]any)["content"])
	assert.Equal(t, "json_object", captured["response_format"].(map[string]any)["type"])
}

func TestOpenAISession_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	session, err := newTestOpenAIBackend(t, srv.URL).NewSession(context.Background())
	require.NoError(t, err)
	_, err = session.Generate(context.Background(), schemas.GenerationRequest{Prompt: "p"})
	assert.ErrorContains(t, err, "failed to create chat completion")
}

func TestNewBackend(t *testing.T) {
	logger, _ := setupTestLogger(t)
	ctx := context.Background()

	t.Run("should build an openai backend", func(t *testing.T) {
		b, err := NewBackend(ctx, config.LLMConfig{Provider: config.ProviderOpenAI, Model: "m", APIKey: "k"}, logger)
		require.NoError(t, err)
		assert.IsType(t, &OpenAIBackend{}, b)
	})

	t.Run("should reject unknown providers", func(t *testing.T) {
		_, err := NewBackend(ctx, config.LLMConfig{Provider: "ollama"}, logger)
		assert.ErrorContains(t, err, "unsupported LLM provider")
	})

	t.Run("should derive per-request options", func(t *testing.T) {
		opts := OptionsFromConfig(config.LLMConfig{Temperature: 0.4, TopP: 0.9, MaxTokens: 512})
		assert.Zero(t, opts.Detect.Temperature)
		assert.True(t, opts.Elaborate.ForceJSONFormat)
		assert.False(t, opts.Chat.ForceJSONFormat)
		assert.InDelta(t, 0.4, opts.Chat.Temperature, 1e-6)
		assert.Equal(t, 512, opts.Elaborate.MaxTokens)
	})
}
