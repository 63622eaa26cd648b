// File: internal/server/types.go
package server

import (
	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/analysis"
	"github.com/xkilldash9x/bitesense/internal/chat"
)

// Event names used on analysis and chat event streams.
const (
	EventDetected = "detected"
	EventPartial  = "partial"
	EventResult   = "result"
	EventNoBites  = "no_bites"
	EventFailed   = "failed"
	EventFragment = "fragment"
	EventDone     = "done"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Status string      `json:"status"` // "success" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// OutcomeView is the wire form of an analysis outcome.
type OutcomeView struct {
	Status     analysis.Status       `json:"status"`
	InsectType string                `json:"insectType,omitempty"`
	Analysis   *schemas.BiteAnalysis `json:"analysis,omitempty"`
	Record     *schemas.BiteRecord   `json:"record,omitempty"`
	Message    string                `json:"message,omitempty"`
}

func newOutcomeView(out analysis.Outcome) OutcomeView {
	return OutcomeView{
		Status:     out.Status,
		InsectType: out.InsectType,
		Analysis:   out.Analysis,
		Record:     out.Record,
		Message:    out.Message,
	}
}

// DetectedEvent announces the detected insect before elaboration starts.
type DetectedEvent struct {
	InsectType string `json:"insectType"`
}

// HistoryView lists stored records, newest first.
type HistoryView struct {
	Count   int                  `json:"count"`
	Records []schemas.BiteRecord `json:"records"`
}

// ChatRequest is the body of a stateless chat turn. Messages carries the
// conversation so far; when empty the conversation starts with the greeting.
type ChatRequest struct {
	Message  string         `json:"message"`
	Messages []chat.Message `json:"messages"`
}

// FragmentEvent carries one piece of a streamed chat reply.
type FragmentEvent struct {
	Text string `json:"text"`
}

// ChatDoneEvent closes a chat stream.
type ChatDoneEvent struct {
	Reply    chat.Message   `json:"reply"`
	Messages []chat.Message `json:"messages"`
	Error    string         `json:"error,omitempty"`
}
