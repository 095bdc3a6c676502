// Package gemini implements llm.Client using the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jxucoder/botforge/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Client implements llm.Client using the Gemini REST API.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	client      *http.Client
}

// New creates a client for the Gemini API.
// Model defaults to "gemini-2.5-pro" if empty.
func New(apiKey, model string) *Client {
	if model == "" {
		model = "gemini-2.5-pro"
	}
	return &Client{
		apiKey:      apiKey,
		model:       model,
		baseURL:     defaultBaseURL,
		temperature: 0.2,
		client:      http.DefaultClient,
	}
}

// WithBaseURL points the client at a different endpoint (tests, proxies).
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	body := map[string]any{
		"contents": []content{{Role: "user", Parts: []part{{Text: user}}}},
		"generationConfig": map[string]any{
			"temperature": c.temperature,
		},
	}
	if system != "" {
		body["systemInstruction"] = content{Parts: []part{{Text: system}}}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := llm.Do(c.client, "gemini", req)
	if err != nil {
		return "", err
	}

	var result struct {
		Candidates []struct {
			Content content `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	var sb strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text content in response")
	}
	return sb.String(), nil
}
