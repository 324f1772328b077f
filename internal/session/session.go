package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ollama-chat-bridge/internal/backend"
	"ollama-chat-bridge/internal/store"
	"ollama-chat-bridge/internal/telemetry"
	"ollama-chat-bridge/internal/types"
)

const (
	thinkingNotice  = "Thinking..."
	cancelledNotice = "Response stopped"
	busyMessage     = "a response is already being generated; cancel it or wait for it to finish"
)

var tracer = otel.Tracer(telemetry.InstrumentationName)

// State is the generation lifecycle of a session. A generation that ends in
// done, cancelled or error returns the session straight to Idle.
type State int32

const (
	StateIdle State = iota
	StateThinking
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateThinking:
		return "thinking"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Conn is the client-facing duplex channel. *websocket.Conn satisfies it.
// WriteJSON is never called concurrently; Close may be.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Session is the server-side state bound to one client channel.
//
// generating and cancelRequested are written by the channel's read loop and
// read by the relay goroutine once per delta, so a cancel is observed at the
// latest on the delta after the one in flight when it arrived.
type Session struct {
	ID        string
	CreatedAt time.Time

	conn    Conn
	writeMu sync.Mutex

	generating      atomic.Bool
	cancelRequested atomic.Bool
	state           atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	manager *Manager
	logger  *slog.Logger
}

func (s *Session) State() State { return State(s.state.Load()) }

// Generating reports whether a generation is active.
func (s *Session) Generating() bool { return s.generating.Load() }

// CancelRequested is only meaningful while Generating is true.
func (s *Session) CancelRequested() bool { return s.cancelRequested.Load() }

func (s *Session) send(frame types.OutboundFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

// finish returns the session to Idle and writes the terminal frame (if any)
// while holding the write lock. The session accepts a new chat before the
// client can see the terminal frame, and the next thinking frame still waits
// for the lock.
func (s *Session) finish(frame *types.OutboundFrame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.state.Store(int32(StateIdle))
	s.generating.Store(false)
	if frame != nil {
		if err := s.conn.WriteJSON(*frame); err != nil {
			s.logger.Debug("failed to write terminal frame", "type", frame.Type, "error", err)
		}
	}
}

func (s *Session) requestCancel() {
	s.cancelRequested.Store(true)
	if err := s.send(types.OutboundFrame{Type: types.FrameCancelled}); err != nil {
		s.logger.Debug("failed to acknowledge cancel", "error", err)
	}
}

// startGeneration runs on the read loop. It emits the thinking frame itself
// so that frame always precedes anything the relay goroutine writes.
func (s *Session) startGeneration(frame types.InboundFrame) {
	if !s.generating.CompareAndSwap(false, true) {
		_ = s.send(types.OutboundFrame{Type: types.FrameError, Content: busyMessage})
		return
	}
	s.cancelRequested.Store(false)
	s.state.Store(int32(StateThinking))

	model := strings.TrimSpace(frame.Model)
	if model == "" {
		model = s.manager.defaultModel
	}
	messages := types.BuildMessages(frame.SystemPrompt, frame.Messages)

	if err := s.send(types.OutboundFrame{Type: types.FrameThinking, Content: thinkingNotice}); err != nil {
		s.finish(nil)
		return
	}

	s.wg.Add(1)
	go s.generate(model, messages)
}

type relayResult struct {
	outcome string
	frame   *types.OutboundFrame
	chunks  int
	chars   int
	err     error
}

func (s *Session) generate(model string, messages []types.Message) {
	defer s.wg.Done()

	started := time.Now()
	ctx, span := tracer.Start(s.ctx, "chat.generation", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("model", model),
		attribute.Int("messages", len(messages)),
	))
	defer span.End()

	res := s.relay(ctx, model, messages)
	elapsed := time.Since(started)

	span.SetAttributes(
		attribute.String("outcome", res.outcome),
		attribute.Int("chunks", res.chunks),
	)
	rec := store.Generation{
		ID:            uuid.NewString(),
		SessionID:     s.ID,
		Model:         model,
		Outcome:       res.outcome,
		Chunks:        res.chunks,
		ResponseChars: res.chars,
		StartedAt:     started,
		DurationMS:    elapsed.Milliseconds(),
	}
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		rec.Error = res.err.Error()
		s.logger.Warn("generation failed", "model", model, "outcome", res.outcome, "error", res.err)
	} else {
		s.logger.Info("generation finished", "model", model, "outcome", res.outcome,
			"chunks", res.chunks, "duration_ms", rec.DurationMS)
	}

	s.manager.metrics.GenerationFinished(context.Background(), model, res.outcome, elapsed)
	s.manager.record(rec)
	s.finish(res.frame)
}

func (s *Session) relay(ctx context.Context, model string, messages []types.Message) relayResult {
	stream, err := s.manager.backend.ChatStream(ctx, model, messages)
	if err != nil {
		return s.failed(err, 0, 0)
	}
	defer stream.Close()
	s.state.Store(int32(StateStreaming))

	var full strings.Builder
	chunks := 0
	for {
		delta, err := stream.Next()
		if err != nil && !errors.Is(err, io.EOF) {
			return s.failed(err, chunks, full.Len())
		}
		if s.cancelRequested.Load() {
			return cancelledResult(chunks, full.Len())
		}
		if err != nil {
			break
		}
		if delta.Content != "" {
			full.WriteString(delta.Content)
			chunks++
			if err := s.send(types.OutboundFrame{Type: types.FrameChunk, Content: delta.Content}); err != nil {
				return relayResult{outcome: store.OutcomeAbandoned, chunks: chunks, chars: full.Len(), err: err}
			}
			s.manager.metrics.Chunk(ctx)
		}
		if delta.Done {
			break
		}
	}

	text := full.String()
	return relayResult{
		outcome: store.OutcomeDone,
		frame:   &types.OutboundFrame{Type: types.FrameDone, Content: text},
		chunks:  chunks,
		chars:   len(text),
	}
}

func cancelledResult(chunks, chars int) relayResult {
	return relayResult{
		outcome: store.OutcomeCancelled,
		frame:   &types.OutboundFrame{Type: types.FrameCancelled, Content: cancelledNotice},
		chunks:  chunks,
		chars:   chars,
	}
}

// failed maps a backend failure to an error frame, or to a silent abandon
// when the failure was caused by the channel closing.
func (s *Session) failed(err error, chunks, chars int) relayResult {
	if s.ctx.Err() != nil {
		return relayResult{outcome: store.OutcomeAbandoned, chunks: chunks, chars: chars, err: err}
	}
	return relayResult{
		outcome: store.OutcomeError,
		frame:   &types.OutboundFrame{Type: types.FrameError, Content: errorMessage(err)},
		chunks:  chunks,
		chars:   chars,
		err:     err,
	}
}

func errorMessage(err error) string {
	var be *backend.Error
	if errors.As(err, &be) {
		switch be.Kind {
		case backend.KindStatus:
			return fmt.Sprintf("error communicating with the model server: status %d", be.StatusCode)
		case backend.KindConnect:
			return fmt.Sprintf("could not reach the model server: %v", be.Err)
		}
	}
	return fmt.Sprintf("error communicating with the model: %v", err)
}
