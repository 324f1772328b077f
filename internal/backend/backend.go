package backend

import (
	"context"
	"fmt"

	"ollama-chat-bridge/internal/config"
	"ollama-chat-bridge/internal/types"
)

// Delta is one incremental fragment of generated text.
type Delta struct {
	Content string
	Done    bool
}

// Stream is a lazy, finite sequence of deltas. Next returns io.EOF once the
// sequence has ended. Close releases the underlying connection and may be
// called before the sequence is exhausted.
type Stream interface {
	Next() (Delta, error)
	Close() error
}

// Client opens chat completion streams against an inference backend.
type Client interface {
	ChatStream(ctx context.Context, model string, messages []types.Message) (Stream, error)
}

// ErrorKind distinguishes where a backend exchange failed.
type ErrorKind int

const (
	// KindConnect: the request never produced a response (refused, DNS, timeout).
	KindConnect ErrorKind = iota + 1
	// KindStatus: the backend answered with a non-success status.
	KindStatus
	// KindRead: the stream broke or the backend reported an error mid-stream.
	KindRead
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindStatus:
		return "status"
	case KindRead:
		return "read"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Err != nil {
			return fmt.Sprintf("backend returned status %d: %v", e.StatusCode, e.Err)
		}
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	case KindConnect:
		return fmt.Sprintf("backend connection failed: %v", e.Err)
	default:
		return fmt.Sprintf("backend stream failed: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds the client selected by cfg.BackendAPI.
func New(cfg config.Config) Client {
	httpClient := NewHTTPClient(cfg.BackendTimeout)
	if cfg.BackendAPI == config.BackendOpenAI {
		return NewOpenAIClient(cfg.OllamaHost, cfg.BackendAPIKey, httpClient)
	}
	return NewOllamaClient(cfg.OllamaHost, httpClient)
}
