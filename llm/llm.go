// Package llm defines the minimal text-completion interface BotForge needs
// from a language model provider.
package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Client makes a single completion call: a system prompt plus a user prompt
// in, the model's text out. Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Func adapts a plain function to the Client interface.
type Func func(ctx context.Context, system, user string) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// APIError is returned when a provider answers with a non-200 status.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

// Do sends req with client and returns the response body, or an APIError for
// any status other than 200.
func Do(client *http.Client, provider string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
