package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/binnykanjur/caption-zen/internal/providers"
)

// Client streams completions from a local or remote Ollama server.
type Client struct {
	client *api.Client
	model  string
}

func New(baseURL, model string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ollama base url is required")
	}
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		client: api.NewClient(parsed, httpClient),
		model:  model,
	}, nil
}

var _ providers.Transport = (*Client)(nil)

func (c *Client) StreamChat(ctx context.Context, msgs []providers.Message, onDelta func(text string) error) error {
	stream := true
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: convertMessages(msgs),
		Stream:   &stream,
	}

	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content == "" {
			return nil
		}
		return onDelta(resp.Message.Content)
	})
	if err != nil {
		return err
	}
	return nil
}

func convertMessages(msgs []providers.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, api.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
