// internal/llmclient/session.go
package llmclient

import (
	"context"
	"errors"

	"github.com/xkilldash9x/bitesense/api/schemas"
)

var (
	// ErrNotInitialized is returned by Manager operations before Init or after Teardown.
	ErrNotInitialized = errors.New("llmclient: session manager is not initialized")
	// ErrEmptyResponse is returned when a generation produced no text.
	ErrEmptyResponse = errors.New("llmclient: model returned an empty response")
	// ErrSessionClosed is returned when a discarded session is used.
	ErrSessionClosed = errors.New("llmclient: session is closed")
)

// Session is a single-use conversation with the model. A fresh session is
// created for every request so unrelated prompts never share context.
type Session interface {
	// Generate returns the full response for the request.
	Generate(ctx context.Context, req schemas.GenerationRequest) (string, error)
	// GenerateStream delivers the response in fragments, followed by one call
	// with done set to true when generation finished successfully.
	GenerateStream(ctx context.Context, req schemas.GenerationRequest, fn schemas.FragmentFunc) error
	// Close releases the session.
	Close() error
}

// Backend creates sessions against one model provider.
type Backend interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// BackendFactory builds a Backend. The Manager calls it from Init.
type BackendFactory func(ctx context.Context) (Backend, error)
