package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// ContentClient generates message copy from an OpenAI-compatible chat
// completion endpoint. The engine only depends on the abstract generator
// contract; this is the production implementation.
type ContentClient struct {
	client *fasthttp.Client
	apiURL string
	apiKey string
	model  string
}

func NewContentClient(apiURL, apiKey string) *ContentClient {
	return &ContentClient{
		client: &fasthttp.Client{
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		apiURL: apiURL,
		apiKey: apiKey,
		model:  "gpt-4o-mini",
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *ContentClient) Generate(ctx context.Context, spec string) (string, error) {
	if c.apiURL == "" {
		return "", fmt.Errorf("content API not configured")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"model": c.model,
		"messages": []chatMessage{
			{Role: "system", Content: "You write short marketing copy for small businesses."},
			{Role: "user", Content: spec},
		},
	})
	if err != nil {
		return "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.apiURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.SetBody(payload)

	deadline := time.Now().Add(60 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return "", fmt.Errorf("content API request failed: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return "", fmt.Errorf("content API returned status %d", resp.StatusCode())
	}

	var result struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("content API response malformed: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("content API returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}
