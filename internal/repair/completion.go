package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/codefence/codefence/internal/httpclient"
)

// Completer produces a corrected version of failing code from a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// HTTPCompleter calls a completion service over JSON.
type HTTPCompleter struct {
	client   *httpclient.Client
	endpoint string
	timeout  time.Duration
}

type completionRequest struct {
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Text string `json:"text"`
}

// NewHTTPCompleter creates a completer for the given endpoint.
func NewHTTPCompleter(endpoint string, timeout time.Duration) *HTTPCompleter {
	opts := httpclient.DefaultOptions("repair-completion")
	opts.Timeout = timeout
	return &HTTPCompleter{
		client:   httpclient.New(opts),
		endpoint: endpoint,
		timeout:  timeout,
	}
}

func (h *HTTPCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var resp completionResponse
	if err := h.client.PostJSON(ctx, h.endpoint, completionRequest{Prompt: prompt}, &resp); err != nil {
		return "", fmt.Errorf("repair: completion call: %w", err)
	}
	if resp.Text == "" {
		return "", fmt.Errorf("repair: completion service returned empty text")
	}
	return resp.Text, nil
}
