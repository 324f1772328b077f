package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"ollama-chat-bridge/internal/types"
)

// OpenAIClient streams through the OpenAI-compatible endpoint that Ollama
// (and most local inference servers) expose under /v1.
type OpenAIClient struct {
	client *openai.Client
}

func NewOpenAIClient(baseURL, apiKey string, httpClient *http.Client) *OpenAIClient {
	if apiKey == "" {
		// Ollama ignores the key but go-openai always sends the header.
		apiKey = "ollama"
	}
	cfg := openai.DefaultConfig(apiKey)
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	cfg.BaseURL = base
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) ChatStream(ctx context.Context, model string, messages []types.Message) (Stream, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	done   bool
}

func (s *openAIStream) Next() (Delta, error) {
	if s.done {
		return Delta{}, io.EOF
	}
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			// [DONE] marker: surface it as the completion delta.
			s.done = true
			return Delta{Done: true}, nil
		}
		if err != nil {
			s.done = true
			return Delta{}, &Error{Kind: KindRead, Err: err}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		return Delta{Content: resp.Choices[0].Delta.Content}, nil
	}
}

func (s *openAIStream) Close() error {
	s.done = true
	s.stream.Close()
	return nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &Error{Kind: KindStatus, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &Error{Kind: KindStatus, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &Error{Kind: KindConnect, Err: err}
}
