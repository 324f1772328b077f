package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ollama-chat-bridge/internal/types"
)

func collect(t *testing.T, s Stream) []Delta {
	t.Helper()
	var out []Delta
	for {
		d, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, d)
	}
}

func TestOllamaChatStream(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"He"}}`)
		fmt.Fprintln(w, `not json at all`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"message":{"content":"llo"},"done":false}`)
		fmt.Fprintln(w, `{"done":true}`)
		fmt.Fprintln(w, `{"message":{"content":"ignored after done"}}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/", srv.Client())
	msgs := []types.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}}
	stream, err := c.ChatStream(context.Background(), "m", msgs)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer stream.Close()

	deltas := collect(t, stream)
	want := []Delta{{Content: "He"}, {Content: "llo"}, {Done: true}}
	if len(deltas) != len(want) {
		t.Fatalf("deltas=%+v, want %+v", deltas, want)
	}
	for i := range want {
		if deltas[i] != want[i] {
			t.Fatalf("delta %d = %+v, want %+v", i, deltas[i], want[i])
		}
	}

	if got.Model != "m" || !got.Stream {
		t.Errorf("request = %+v, want model m and stream=true", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hi" {
		t.Errorf("request messages = %+v", got.Messages)
	}
}

func TestOllamaChatStreamEndsWithoutDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial"}}`)
	}))
	defer srv.Close()

	stream, err := NewOllamaClient(srv.URL, srv.Client()).ChatStream(context.Background(), "m", nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer stream.Close()

	deltas := collect(t, stream)
	if len(deltas) != 1 || deltas[0].Content != "partial" || deltas[0].Done {
		t.Fatalf("deltas=%+v", deltas)
	}
	if _, err := stream.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next after end = %v, want io.EOF", err)
	}
}

func TestOllamaChatStreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"server busy"}`)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, srv.Client()).ChatStream(context.Background(), "m", nil)
	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("err=%v, want *Error", err)
	}
	if be.Kind != KindStatus || be.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err=%+v, want status 503", be)
	}
	if !strings.Contains(be.Error(), "503") || !strings.Contains(be.Error(), "server busy") {
		t.Fatalf("message=%q", be.Error())
	}
}

func TestOllamaChatStreamConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewOllamaClient("http://"+addr, &http.Client{Timeout: 2 * time.Second}).ChatStream(context.Background(), "m", nil)
	var be *Error
	if !errors.As(err, &be) || be.Kind != KindConnect {
		t.Fatalf("err=%v, want connect error", err)
	}
}

func TestOllamaChatStreamMidStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"a"}}`)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	}))
	defer srv.Close()

	stream, err := NewOllamaClient(srv.URL, srv.Client()).ChatStream(context.Background(), "m", nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer stream.Close()

	if d, err := stream.Next(); err != nil || d.Content != "a" {
		t.Fatalf("first Next = %+v, %v", d, err)
	}
	_, err = stream.Next()
	var be *Error
	if !errors.As(err, &be) || be.Kind != KindRead || !strings.Contains(be.Error(), "model crashed") {
		t.Fatalf("err=%v, want read error carrying backend message", err)
	}
}

func TestOllamaListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"models":[{"name":"qwen3:latest"},{"name":"llama3:8b"}]}`)
	}))
	defer srv.Close()

	names, err := NewOllamaClient(srv.URL, srv.Client()).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(names) != 2 || names[0] != "qwen3:latest" {
		t.Fatalf("names=%v", names)
	}
}

func TestErrorKindString(t *testing.T) {
	if KindConnect.String() != "connect" || KindStatus.String() != "status" || KindRead.String() != "read" {
		t.Fatal("unexpected kind names")
	}
	if ErrorKind(0).String() != "unknown" {
		t.Fatal("zero kind should be unknown")
	}
}
