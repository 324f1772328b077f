package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// slowOllama streams n content lines, pausing gap between them, then either
// finishes or stalls until the client goes away.
func slowOllama(t *testing.T, n int, gap time.Duration, stall bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for i := 0; i < n; i++ {
			select {
			case <-time.After(gap):
			case <-r.Context().Done():
				return
			}
			fmt.Fprintf(w, "{\"message\":{\"content\":\"%d\"}}\n", i)
			flusher.Flush()
		}
		if stall {
			select {
			case <-time.After(5 * time.Second):
			case <-r.Context().Done():
			}
			return
		}
		fmt.Fprintln(w, `{"done":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamOutlivesTimeoutWhileDataFlows(t *testing.T) {
	srv := slowOllama(t, 10, 50*time.Millisecond, false)
	c := NewOllamaClient(srv.URL, NewHTTPClient(200*time.Millisecond))

	stream, err := c.ChatStream(context.Background(), "m", nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer stream.Close()

	deltas := collect(t, stream)
	if len(deltas) != 11 || !deltas[10].Done {
		t.Fatalf("got %d deltas, want 10 chunks and a done marker", len(deltas))
	}
}

func TestStreamFailsAfterIdleTimeout(t *testing.T) {
	srv := slowOllama(t, 1, 10*time.Millisecond, true)
	c := NewOllamaClient(srv.URL, NewHTTPClient(200*time.Millisecond))

	stream, err := c.ChatStream(context.Background(), "m", nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer stream.Close()

	if d, err := stream.Next(); err != nil || d.Content != "0" {
		t.Fatalf("first Next = %+v, %v", d, err)
	}
	start := time.Now()
	_, err = stream.Next()
	if !errors.Is(err, ErrIdleTimeout) {
		t.Fatalf("Next err = %v, want idle timeout", err)
	}
	var be *Error
	if !errors.As(err, &be) || be.Kind != KindRead {
		t.Fatalf("err = %#v, want KindRead", err)
	}
	if waited := time.Since(start); waited > 2*time.Second {
		t.Fatalf("idle timeout took %v", waited)
	}
}
