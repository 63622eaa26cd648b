// internal/llmclient/manager.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
)

// Manager owns the model backend and the one session that may be generating
// at any time. Callers share a single Manager; requests are serialized and
// each one runs in a freshly created session.
type Manager struct {
	factory BackendFactory
	logger  *zap.Logger

	detectOpts    schemas.GenerationOptions
	elaborateOpts schemas.GenerationOptions
	chatOpts      schemas.GenerationOptions

	// slot holds at most one token: the right to run a generation.
	slot chan struct{}

	mu      sync.Mutex // guards backend and session
	backend Backend
	session Session
}

// ManagerOptions tunes sampling for each kind of request.
type ManagerOptions struct {
	Detect    schemas.GenerationOptions
	Elaborate schemas.GenerationOptions
	Chat      schemas.GenerationOptions
}

// NewManager creates an uninitialized Manager. Call Init before use.
func NewManager(factory BackendFactory, opts ManagerOptions, logger *zap.Logger) *Manager {
	return &Manager{
		factory:       factory,
		logger:        logger.Named("session_manager"),
		detectOpts:    opts.Detect,
		elaborateOpts: opts.Elaborate,
		chatOpts:      opts.Chat,
		slot:          make(chan struct{}, 1),
	}
}

// Init creates the backend. Calling it again while initialized is a no-op.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backend != nil {
		return nil
	}

	start := time.Now()
	backend, err := m.factory(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize model backend: %w", err)
	}
	m.backend = backend
	m.logger.Info("Model backend initialized", zap.Duration("duration", time.Since(start)))
	return nil
}

// Initialized reports whether Init has succeeded and Teardown has not run since.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend != nil
}

// Teardown closes the current session and the backend. Later calls fail with
// ErrNotInitialized until Init runs again. Teardown is idempotent.
func (m *Manager) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backend == nil {
		return nil
	}

	var errs []error
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			errs = append(errs, err)
		}
		m.session = nil
	}
	if err := m.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	m.backend = nil
	m.logger.Info("Model backend torn down")
	return errors.Join(errs...)
}

// -- Generation --

// Detect asks the model to classify an image. The answer is returned as-is.
func (m *Manager) Detect(ctx context.Context, img *schemas.Image, prompt string) (string, error) {
	req := schemas.GenerationRequest{Prompt: prompt, Image: img, Options: m.detectOpts}
	return m.generate(ctx, req)
}

// Elaborate requests a full text-only response.
func (m *Manager) Elaborate(ctx context.Context, prompt string) (string, error) {
	req := schemas.GenerationRequest{Prompt: prompt, Options: m.elaborateOpts}
	return m.generate(ctx, req)
}

// ElaborateStream requests a text-only response delivered in fragments.
func (m *Manager) ElaborateStream(ctx context.Context, prompt string, fn schemas.FragmentFunc) error {
	req := schemas.GenerationRequest{Prompt: prompt, Options: m.elaborateOpts}
	_, err := m.stream(ctx, req, fn)
	return err
}

// Converse streams a conversational reply, optionally grounded on an image,
// and returns the full reply once generation is done.
func (m *Manager) Converse(ctx context.Context, prompt string, img *schemas.Image, fn schemas.FragmentFunc) (string, error) {
	req := schemas.GenerationRequest{Prompt: prompt, Image: img, Options: m.chatOpts}
	return m.stream(ctx, req, fn)
}

func (m *Manager) generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	session, release, err := m.begin(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	start := time.Now()
	text, err := session.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	m.logger.Debug("Generation complete",
		zap.Bool("with_image", req.Image != nil),
		zap.Int("response_length", len(text)),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}

func (m *Manager) stream(ctx context.Context, req schemas.GenerationRequest, fn schemas.FragmentFunc) (string, error) {
	session, release, err := m.begin(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	start := time.Now()
	var (
		sb        strings.Builder
		fragments int
	)
	err = session.GenerateStream(ctx, req, func(text string, done bool) {
		if !done {
			sb.WriteString(text)
			fragments++
		}
		if fn != nil {
			fn(text, done)
		}
	})
	if err != nil {
		return sb.String(), fmt.Errorf("streaming generation failed: %w", err)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	m.logger.Debug("Streaming generation complete",
		zap.Int("fragments", fragments),
		zap.Int("response_length", sb.Len()),
		zap.Duration("duration", time.Since(start)))
	return sb.String(), nil
}

// begin waits for the generation slot, discards the previous session and
// opens a fresh one. The returned release func frees the slot.
func (m *Manager) begin(ctx context.Context) (Session, func(), error) {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	release := func() { <-m.slot }

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backend == nil {
		release()
		return nil, nil, ErrNotInitialized
	}
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			m.logger.Warn("Failed to close previous session", zap.Error(err))
		}
		m.session = nil
	}

	session, err := m.backend.NewSession(ctx)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	m.session = session
	return session, release, nil
}
