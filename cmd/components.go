package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/analysis"
	"github.com/xkilldash9x/bitesense/internal/chat"
	"github.com/xkilldash9x/bitesense/internal/config"
	"github.com/xkilldash9x/bitesense/internal/history"
	"github.com/xkilldash9x/bitesense/internal/imageprep"
	"github.com/xkilldash9x/bitesense/internal/imagestore"
	"github.com/xkilldash9x/bitesense/internal/llmclient"
	"github.com/xkilldash9x/bitesense/internal/observability"
	"github.com/xkilldash9x/bitesense/internal/remote"
)

// Analyzer runs and reopens analyses.
type Analyzer interface {
	Analyze(ctx context.Context, img *schemas.Image, opts analysis.RunOptions) analysis.Outcome
	Open(ctx context.Context, recordID string) (analysis.Outcome, error)
}

// ChatSender answers follow-up questions about a record.
type ChatSender interface {
	Send(ctx context.Context, conv *chat.Conversation, text string, onFragment func(string)) (chat.Message, error)
}

// components holds everything a command needs. Fields a command did not ask
// for are nil.
type components struct {
	History  history.Store
	Analyzer Analyzer
	Chat     ChatSender
	Prep     *imageprep.Preparer

	closers []func() error
}

// Shutdown releases components in reverse order of creation.
func (c *components) Shutdown() {
	logger := observability.GetLogger().Named("components")
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Warn("Error during component shutdown", zap.Error(err))
		}
	}
	c.closers = nil
}

// componentProvider builds the components for one command. withModel is false
// for commands that only touch the history.
type componentProvider func(ctx context.Context, cfg *config.Config, withModel bool) (*components, error)

var defaultProvider componentProvider = initializeComponents

// initializeComponents handles dependency injection. On error, everything
// created so far is already released.
func initializeComponents(ctx context.Context, cfg *config.Config, withModel bool) (_ *components, err error) {
	logger := observability.GetLogger()
	c := &components{}
	defer func() {
		if err != nil {
			c.Shutdown()
		}
	}()

	// 1. History store
	store, err := history.NewStore(ctx, cfg.History, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}
	c.History = store
	c.closers = append(c.closers, store.Close)

	if !withModel {
		return c, nil
	}

	// 2. Image storage. The "none" backend leaves images nil.
	images, err := imagestore.New(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image storage: %w", err)
	}

	// 3. Model session manager
	manager := llmclient.NewManagerFromConfig(cfg.LLM, logger)
	if err := manager.Init(ctx); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, manager.Teardown)

	// 4. Orchestrator. The model detects in local mode; network mode needs
	// a predict endpoint.
	opts := []analysis.Option{analysis.WithDetector(config.ModeLocal, manager)}
	if cfg.Remote.Endpoint != "" {
		client, err := remote.NewClient(cfg.Remote, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, analysis.WithDetector(config.ModeNetwork, client))
	} else if cfg.Analysis.DefaultMode == config.ModeNetwork {
		return nil, errors.New("analysis.default_mode is network but remote.endpoint is not set")
	}
	if images != nil {
		opts = append(opts, analysis.WithImageStore(images))
	}
	orch, err := analysis.New(cfg.Analysis, manager, store, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	c.Analyzer = orch

	// 5. Chat and image preparation
	var source chat.ImageSource
	if images != nil {
		source = images
	}
	c.Chat = chat.NewAssistant(manager, source, logger)
	c.Prep = imageprep.New(cfg.Image)
	return c, nil
}
