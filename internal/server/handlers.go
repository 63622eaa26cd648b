// File: internal/server/handlers.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/analysis"
	"github.com/xkilldash9x/bitesense/internal/chat"
	"github.com/xkilldash9x/bitesense/internal/config"
	"github.com/xkilldash9x/bitesense/internal/imageprep"
)

// handleHealthCheck confirms the server is responsive.
func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleAnalyze runs one analysis of the uploaded image. Clients that accept
// text/event-stream receive progress events; others get the final outcome.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Image exceeds %d bytes.", tooLarge.Limit))
			return
		}
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid multipart body: %v", err))
		return
	}

	var mode config.Mode
	if raw := r.FormValue("mode"); raw != "" {
		m, err := config.ParseMode(raw)
		if err != nil {
			s.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = m
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Missing 'image' file field.")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read image: %v", err))
		return
	}

	img, err := s.prep.Prepare(data)
	if err != nil {
		if errors.Is(err, imageprep.ErrUnsupportedFormat) {
			s.respondWithError(w, http.StatusUnsupportedMediaType, "Unsupported image format.")
			return
		}
		s.respondWithError(w, http.StatusInternalServerError, "Failed to prepare image.")
		return
	}

	ctx := r.Context()
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	if acceptsEventStream(r) {
		s.streamAnalysis(ctx, w, r, img, mode)
		return
	}

	out := s.analyzer.Analyze(ctx, img, analysis.RunOptions{Mode: mode})
	switch out.Status {
	case analysis.StatusCompleted, analysis.StatusNoBites:
		s.respondWithSuccess(w, http.StatusOK, newOutcomeView(out))
	case analysis.StatusCanceled:
		if r.Context().Err() == nil {
			s.respondWithError(w, http.StatusGatewayTimeout, "Analysis timed out.")
		}
	default:
		s.respondWithError(w, http.StatusBadGateway, out.Message)
	}
}

func (s *Server) streamAnalysis(ctx context.Context, w http.ResponseWriter, r *http.Request, img *schemas.Image, mode config.Mode) {
	es, ok := newEventStream(w)
	if !ok {
		s.respondWithError(w, http.StatusInternalServerError, "Streaming unsupported.")
		return
	}
	logger := s.logger.With(zap.String("request_id", requestID(r)))

	out := s.analyzer.Analyze(ctx, img, analysis.RunOptions{
		Mode: mode,
		OnInsectDetected: func(insectType string) {
			if insectType == schemas.NoBites {
				return
			}
			es.send(EventDetected, DetectedEvent{InsectType: insectType})
		},
		OnPartialUpdate: func(p schemas.PartialAnalysis) {
			es.send(EventPartial, p)
		},
	})

	var err error
	switch out.Status {
	case analysis.StatusCompleted:
		err = es.send(EventResult, newOutcomeView(out))
	case analysis.StatusNoBites:
		err = es.send(EventNoBites, newOutcomeView(out))
	case analysis.StatusCanceled:
		if r.Context().Err() == nil {
			err = es.send(EventFailed, OutcomeView{Status: analysis.StatusFailed, Message: "Analysis timed out."})
		}
	default:
		err = es.send(EventFailed, newOutcomeView(out))
	}
	if err != nil {
		logger.Warn("Failed to deliver final analysis event", zap.Error(err))
	}
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.List(r.Context())
	if err != nil {
		s.logger.Error("Failed to list history", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Internal error retrieving history.")
		return
	}
	if records == nil {
		records = []schemas.BiteRecord{}
	}
	s.respondWithSuccess(w, http.StatusOK, HistoryView{Count: len(records), Records: records})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Clear(r.Context()); err != nil {
		s.logger.Error("Failed to clear history", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Internal error clearing history.")
		return
	}
	s.respondWithSuccess(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	out, ok := s.openRecord(w, r)
	if !ok {
		return
	}
	s.respondWithSuccess(w, http.StatusOK, newOutcomeView(out))
}

// handleChat answers one chat turn about a record as an event stream of
// fragments followed by a done event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.respondWithError(w, http.StatusBadRequest, "Message is required.")
		return
	}

	out, ok := s.openRecord(w, r)
	if !ok {
		return
	}
	conv := &chat.Conversation{Record: out.Record, Messages: req.Messages}
	if len(conv.Messages) == 0 {
		conv = chat.NewConversation(out.Record)
	}

	es, ok := newEventStream(w)
	if !ok {
		s.respondWithError(w, http.StatusInternalServerError, "Streaming unsupported.")
		return
	}

	reply, err := s.chat.Send(r.Context(), conv, req.Message, func(fragment string) {
		es.send(EventFragment, FragmentEvent{Text: fragment})
	})
	done := ChatDoneEvent{Reply: reply, Messages: conv.Messages}
	if err != nil {
		done.Error = reply.Text
	}
	if r.Context().Err() == nil {
		if err := es.send(EventDone, done); err != nil {
			s.logger.Warn("Failed to deliver chat reply", zap.Error(err))
		}
	}
}

// openRecord loads the record named in the URL and writes the error reply
// itself when that fails.
func (s *Server) openRecord(w http.ResponseWriter, r *http.Request) (analysis.Outcome, bool) {
	id := chi.URLParam(r, "id")
	out, err := s.analyzer.Open(r.Context(), id)
	if errors.Is(err, analysis.ErrRecordNotFound) {
		s.respondWithError(w, http.StatusNotFound, analysis.MsgNotFound)
		return out, false
	}
	if err != nil {
		s.logger.Error("Failed to load record", zap.String("record_id", id), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Internal error retrieving record.")
		return out, false
	}
	return out, true
}

// respondWithError sends a standardized JSON error response.
func (s *Server) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	s.respond(w, statusCode, Response{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (s *Server) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	s.respond(w, statusCode, Response{Status: "success", Data: data})
}

func (s *Server) respond(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
