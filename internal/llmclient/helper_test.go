package llmclient

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/bitesense/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// setupTestLogger creates a logger backed by an observer so tests can assert on entries.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// fakeSession replays scripted fragments and records what it was asked.
type fakeSession struct {
	mu        sync.Mutex
	id        int
	fragments []string
	err       error
	requests  []schemas.GenerationRequest
	closed    bool
	// block, when set, is closed by the test to let a generation finish.
	block chan struct{}
	// started is signalled when a generation begins.
	started chan struct{}
}

func (s *fakeSession) record(ctx context.Context, req schemas.GenerationRequest) error {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (s *fakeSession) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := s.record(ctx, req); err != nil {
		return "", err
	}
	var out string
	for _, f := range s.fragments {
		out += f
	}
	return out, nil
}

func (s *fakeSession) GenerateStream(ctx context.Context, req schemas.GenerationRequest, fn schemas.FragmentFunc) error {
	if err := s.record(ctx, req); err != nil {
		return err
	}
	for _, f := range s.fragments {
		fn(f, false)
	}
	fn("", true)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeBackend hands out sessions built by newSession.
type fakeBackend struct {
	mu         sync.Mutex
	sessions   []*fakeSession
	newSession func(id int) *fakeSession
	closed     bool
}

func (b *fakeBackend) NewSession(context.Context) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := len(b.sessions)
	s := &fakeSession{fragments: []string{"ok"}}
	if b.newSession != nil {
		s = b.newSession(id)
	}
	s.id = id
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBackend) session(i int) *fakeSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[i]
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
