// File: internal/chat/chat.go
// Description: Follow-up conversation about a bite record, grounded on the
// stored analysis and optionally on the original photo.

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/llmutil"
)

const (
	// HistoryWindow is how many prior messages are replayed into each prompt.
	HistoryWindow = 5

	// PlainTextSuffix is appended to every chat prompt.
	PlainTextSuffix = "Do not generate markdown or HTML, just plain text."

	// ErrorReply is the assistant message recorded when generation fails.
	ErrorReply = "Sorry, I encountered an error. Please try again."

	genericGreeting = "Hello! I'm BiteSense AI. How can I help you with your insect bite today?"
	persona         = "You are BiteSense AI, an expert assistant for insect bite identification and treatment."
	closing         = "Provide a helpful, accurate response. If discussing the analyzed bite, reference the context provided. Keep responses concise and friendly."
)

// ErrEmptyMessage is returned when the user message is blank.
var ErrEmptyMessage = errors.New("message is empty")

// Role identifies who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Conversation holds the messages exchanged about one record. A nil Record
// means a general conversation with no analysis context.
type Conversation struct {
	Record   *schemas.BiteRecord `json:"record,omitempty"`
	Messages []Message          `json:"messages"`
}

// NewConversation starts a conversation seeded with the assistant greeting.
func NewConversation(record *schemas.BiteRecord) *Conversation {
	return &Conversation{
		Record:   record,
		Messages: []Message{{Role: RoleAssistant, Text: Greeting(record)}},
	}
}

// Greeting returns the first assistant message for a conversation.
func Greeting(record *schemas.BiteRecord) string {
	if record == nil {
		return genericGreeting
	}
	bug := schemas.DisplayName(record.Analysis.InsectType)
	return fmt.Sprintf("I'm here to help with your %s bite. What would you like to know?", bug)
}

// BuildPrompt composes the model prompt for the next user message. Only the
// last HistoryWindow entries of history are included.
func BuildPrompt(record *schemas.BiteRecord, history []Message, userMessage string) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n")

	if record != nil {
		a := record.Analysis
		b.WriteString("\nCurrent bite analysis context:\n")
		fmt.Fprintf(&b, "- Insect type: %s\n", schemas.DisplayName(a.InsectType))
		fmt.Fprintf(&b, "- Severity: %s\n", a.Severity)
		fmt.Fprintf(&b, "- Expected duration: %s\n", a.ExpectedDuration)
		fmt.Fprintf(&b, "- Characteristics: %s\n", strings.Join(a.Characteristics, ", "))
		fmt.Fprintf(&b, "- Recommended treatments: %s\n", strings.Join(a.Treatments, ", "))
	}

	b.WriteString("\nConversation history:\n")
	start := max(0, len(history)-HistoryWindow)
	for _, m := range history[start:] {
		if m.Role == RoleUser {
			fmt.Fprintf(&b, "User: %s\n", m.Text)
		} else {
			fmt.Fprintf(&b, "Assistant: %s\n", m.Text)
		}
	}

	fmt.Fprintf(&b, "\nUser: %s\n", userMessage)
	b.WriteString("\n")
	b.WriteString(closing)
	b.WriteString("\n")
	return b.String()
}

// Converser streams a reply to a prompt.
type Converser interface {
	Converse(ctx context.Context, prompt string, img *schemas.Image, fn schemas.FragmentFunc) (string, error)
}

// ImageSource loads the photo a record refers to.
type ImageSource interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Assistant answers user messages within a Conversation.
type Assistant struct {
	llm    Converser
	images ImageSource
	logger *zap.Logger
}

// NewAssistant creates an Assistant. images may be nil, in which case
// replies are grounded on the stored analysis only.
func NewAssistant(llm Converser, images ImageSource, logger *zap.Logger) *Assistant {
	return &Assistant{llm: llm, images: images, logger: logger.Named("chat")}
}

// Send appends the user message, streams the reply through onFragment and
// appends the final reply to the conversation. On failure the conversation
// receives ErrorReply and the error is returned alongside it.
func (a *Assistant) Send(ctx context.Context, conv *Conversation, text string, onFragment func(string)) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	prompt := BuildPrompt(conv.Record, conv.Messages, text) + "\n" + PlainTextSuffix
	conv.Messages = append(conv.Messages, Message{Role: RoleUser, Text: text})

	reply, err := a.llm.Converse(ctx, prompt, a.recordImage(ctx, conv.Record), func(fragment string, done bool) {
		if done || fragment == "" || onFragment == nil || ctx.Err() != nil {
			return
		}
		onFragment(fragment)
	})
	if err != nil {
		a.logger.Error("Failed to generate chat reply", zap.Error(err))
		msg := Message{Role: RoleAssistant, Text: ErrorReply}
		conv.Messages = append(conv.Messages, msg)
		return msg, err
	}

	msg := Message{Role: RoleAssistant, Text: llmutil.PlainText(reply)}
	conv.Messages = append(conv.Messages, msg)
	return msg, nil
}

func (a *Assistant) recordImage(ctx context.Context, record *schemas.BiteRecord) *schemas.Image {
	if a.images == nil || record == nil || record.ImageRef == "" {
		return nil
	}
	data, err := a.images.Get(ctx, record.ImageRef)
	if err != nil {
		a.logger.Warn("Chatting without the record image", zap.String("ref", record.ImageRef), zap.Error(err))
		return nil
	}
	return &schemas.Image{Data: data, MIMEType: "image/jpeg"}
}
