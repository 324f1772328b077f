package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ollama-chat-bridge/internal/types"
)

const maxLineSize = 1 << 20

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []types.Message `json:"messages"`
	Stream   bool            `json:"stream"`
}

// ollamaChatChunk is one line of the /api/chat NDJSON response.
type ollamaChatChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaClient talks to Ollama's native chat API.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewOllamaClient(baseURL string, httpClient *http.Client) *OllamaClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaClient{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *OllamaClient) ChatStream(ctx context.Context, model string, messages []types.Message) (Stream, error) {
	if messages == nil {
		messages = []types.Message{}
	}
	b, err := json.Marshal(ollamaChatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return nil, &Error{Kind: KindConnect, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindConnect, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var detail error
		if msg := errorDetail(bb); msg != "" {
			detail = errors.New(msg)
		}
		return nil, &Error{Kind: KindStatus, StatusCode: resp.StatusCode, Err: detail}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &ollamaStream{body: resp.Body, scanner: scanner}, nil
}

// ListModels returns the names of locally installed models from /api/tags.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindConnect, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Kind: KindStatus, StatusCode: resp.StatusCode}
	}
	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &Error{Kind: KindRead, Err: err}
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

type ollamaStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *ollamaStream) Next() (Delta, error) {
	if s.done {
		return Delta{}, io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			s.done = true
			return Delta{}, &Error{Kind: KindRead, Err: errors.New(chunk.Error)}
		}
		if chunk.Done {
			s.done = true
		}
		return Delta{Content: chunk.Message.Content, Done: chunk.Done}, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return Delta{}, &Error{Kind: KindRead, Err: err}
	}
	return Delta{}, io.EOF
}

func (s *ollamaStream) Close() error {
	s.done = true
	return s.body.Close()
}

// errorDetail extracts Ollama's {"error": "..."} body, falling back to the raw text.
func errorDetail(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
