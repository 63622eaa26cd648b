// File: internal/telegram/bot.go
// Description: Telegram front end. Photos are analyzed with live progress
// edits; text messages continue a chat about the chat's latest analysis.

package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/analysis"
	"github.com/xkilldash9x/bitesense/internal/chat"
	"github.com/xkilldash9x/bitesense/internal/config"
	"github.com/xkilldash9x/bitesense/internal/imageprep"
)

const (
	pollTimeout          = 30 // seconds, long polling
	maxConcurrentUpdates = 8
	maxPhotoBytes        = 20 << 20
	retryBaseDelay       = time.Second
	retryMaxDelay        = 15 * time.Second
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// Analyzer runs one bite analysis.
type Analyzer interface {
	Analyze(ctx context.Context, img *schemas.Image, opts analysis.RunOptions) analysis.Outcome
}

// History lists and clears stored records.
type History interface {
	List(ctx context.Context) ([]schemas.BiteRecord, error)
	Clear(ctx context.Context) error
}

// ChatSender answers follow-up questions.
type ChatSender interface {
	Send(ctx context.Context, conv *chat.Conversation, text string, onFragment func(string)) (chat.Message, error)
}

type chatState struct {
	mu   sync.Mutex
	conv *chat.Conversation
}

// Bot handles Telegram updates.
type Bot struct {
	api          API
	analyzer     Analyzer
	history      History
	chat         ChatSender
	prep         *imageprep.Preparer
	editInterval time.Duration
	streaming    bool
	client       *http.Client
	logger       *zap.Logger

	mu    sync.Mutex
	chats map[int64]*chatState
}

// New creates a Bot. streaming controls whether progress messages are
// edited with partial analyses.
func New(api API, cfg config.TelegramConfig, streaming bool, analyzer Analyzer, history History, chatSender ChatSender, prep *imageprep.Preparer, logger *zap.Logger) *Bot {
	interval := cfg.EditInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Bot{
		api:          api,
		analyzer:     analyzer,
		history:      history,
		chat:         chatSender,
		prep:         prep,
		editInterval: interval,
		streaming:    streaming,
		client:       &http.Client{Timeout: 60 * time.Second},
		logger:       logger.Named("telegram"),
		chats:        make(map[int64]*chatState),
	}
}

// Dial connects to the Bot API with the configured token.
func Dial(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	return api, nil
}

// Run long-polls for updates until ctx is done. Updates are handled
// concurrently, with a bounded number in flight.
func (b *Bot) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUpdates)

	b.logger.Info("Telegram bot polling")
	offset := 0
	delay := retryBaseDelay
	for ctx.Err() == nil {
		u := tgbotapi.NewUpdate(offset)
		u.Timeout = pollTimeout
		updates, err := b.api.GetUpdates(u)
		if err != nil {
			b.logger.Warn("Polling failed", zap.Error(err), zap.Duration("retry_in", delay))
			if sleep(ctx, delay) != nil {
				break
			}
			delay = min(delay*2, retryMaxDelay)
			continue
		}
		delay = retryBaseDelay

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			g.Go(func() error {
				b.Handle(gctx, upd)
				return nil
			})
		}
	}
	b.logger.Info("Telegram bot stopping")
	return g.Wait()
}

// Handle processes a single update.
func (b *Bot) Handle(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID

	switch {
	case msg.IsCommand():
		b.handleCommand(ctx, chatID, msg.Command())
	case len(msg.Photo) > 0:
		b.handlePhoto(ctx, chatID, msg.Photo[len(msg.Photo)-1].FileID)
	case strings.TrimSpace(msg.Text) != "":
		b.handleText(ctx, chatID, msg.Text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, command string) {
	switch command {
	case "start", "help":
		b.send(chatID, textStart)
	case "history":
		records, err := b.history.List(ctx)
		if err != nil {
			b.logger.Error("Failed to list history", zap.Error(err))
			b.send(chatID, "Could not load your history. Please try again.")
			return
		}
		b.send(chatID, RenderHistory(records))
	case "clear":
		if err := b.history.Clear(ctx); err != nil {
			b.logger.Error("Failed to clear history", zap.Error(err))
			b.send(chatID, "Could not clear your history. Please try again.")
			return
		}
		b.mu.Lock()
		clear(b.chats)
		b.mu.Unlock()
		b.send(chatID, textCleared)
	default:
		b.send(chatID, textUnknownCmd)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, chatID int64, fileID string) {
	logger := b.logger.With(zap.Int64("chat_id", chatID))

	data, err := b.download(ctx, fileID)
	if err != nil {
		logger.Error("Failed to download photo", zap.Error(err))
		b.send(chatID, analysis.MsgAnalysisFailed)
		return
	}
	img, err := b.prep.Prepare(data)
	if err != nil {
		logger.Info("Rejected photo", zap.Error(err))
		b.send(chatID, textBadImage)
		return
	}

	progress, err := b.api.Send(tgbotapi.NewMessage(chatID, textAnalyzing))
	if err != nil {
		logger.Error("Failed to send progress message", zap.Error(err))
		return
	}
	ed := newEditor(b, chatID, progress.MessageID, b.editInterval)

	opts := analysis.RunOptions{
		OnInsectDetected: func(insectType string) {
			if insectType != schemas.NoBites {
				ed.force(RenderDetected(insectType))
			}
		},
	}
	if b.streaming {
		opts.OnPartialUpdate = func(p schemas.PartialAnalysis) {
			ed.throttled(RenderPartial(p))
		}
	}

	out := b.analyzer.Analyze(ctx, img, opts)
	switch out.Status {
	case analysis.StatusCompleted:
		text := RenderAnalysis(*out.Analysis)
		if out.SaveErr != nil {
			text += "\n\n(" + analysis.MsgSaveFailed + ")"
		}
		ed.force(truncate(text + "\n\n" + textAskFollowUp))
		b.startConversation(chatID, out.Record, out.Analysis)
	case analysis.StatusNoBites:
		ed.force(textNoBites)
	case analysis.StatusCanceled:
	default:
		ed.force(out.Message)
	}
}

func (b *Bot) handleText(ctx context.Context, chatID int64, text string) {
	b.mu.Lock()
	state, ok := b.chats[chatID]
	b.mu.Unlock()
	if !ok {
		b.send(chatID, textSendPhoto)
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	reply, err := b.chat.Send(ctx, state.conv, text, nil)
	if errors.Is(err, chat.ErrEmptyMessage) {
		return
	}
	b.send(chatID, truncate(reply.Text))
}

// startConversation makes the finished analysis the subject of follow-up
// text messages in this chat.
func (b *Bot) startConversation(chatID int64, rec *schemas.BiteRecord, a *schemas.BiteAnalysis) {
	if rec == nil {
		// Not persisted; chat about the analysis anyway.
		rec = &schemas.BiteRecord{Analysis: a.Clone()}
	}
	b.mu.Lock()
	b.chats[chatID] = &chatState{conv: chat.NewConversation(rec)}
	b.mu.Unlock()
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
}

func (b *Bot) send(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// editor rewrites the progress message. Telegram throttles edits, so
// intermediate snapshots are rate limited and identical text is skipped.
type editor struct {
	bot       *Bot
	chatID    int64
	messageID int
	limiter   *rate.Limiter
	last      string
}

func newEditor(b *Bot, chatID int64, messageID int, interval time.Duration) *editor {
	return &editor{
		bot:       b,
		chatID:    chatID,
		messageID: messageID,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		last:      textAnalyzing,
	}
}

func (e *editor) throttled(text string) {
	if !e.limiter.Allow() {
		return
	}
	e.force(text)
}

func (e *editor) force(text string) {
	if text == "" || text == e.last {
		return
	}
	if _, err := e.bot.api.Send(tgbotapi.NewEditMessageText(e.chatID, e.messageID, text)); err != nil {
		e.bot.logger.Warn("Failed to edit progress message", zap.Error(err))
		return
	}
	e.last = text
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
