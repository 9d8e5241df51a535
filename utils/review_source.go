package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"naviai/models"
	"naviai/worker"

	"github.com/valyala/fasthttp"
)

// ReviewFetcher pulls reviews from a connected platform's REST API. Platform
// APIs offer no reliable webhooks, so the poller re-fetches a recent window
// and relies on the (source, review id) dedup key.
type ReviewFetcher struct {
	client *fasthttp.Client
}

func NewReviewFetcher() *ReviewFetcher {
	return &ReviewFetcher{
		client: &fasthttp.Client{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

type reviewPayload struct {
	ID           string    `json:"id"`
	ReviewerName string    `json:"reviewer_name"`
	Rating       int       `json:"rating"`
	Comment      string    `json:"comment"`
	CreatedAt    time.Time `json:"created_at"`
}

func (f *ReviewFetcher) Fetch(ctx context.Context, src models.PollSource, since time.Time) ([]worker.ExternalItem, error) {
	if src.Endpoint == "" {
		return nil, fmt.Errorf("review source %d has no endpoint", src.ID)
	}

	uri := fmt.Sprintf("%s?platform=%s", src.Endpoint, src.Platform)
	if !since.IsZero() {
		uri += "&since=" + since.UTC().Format(time.RFC3339)
	}

	body, status, err := f.get(ctx, uri, src.AccessToken)
	if err != nil {
		return nil, err
	}
	if status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden {
		return nil, fmt.Errorf("%w: platform returned status %d", worker.ErrSourceAuth, status)
	}
	if status >= 300 {
		return nil, fmt.Errorf("review API returned status %d", status)
	}

	var payload struct {
		Reviews []reviewPayload `json:"reviews"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("review API response malformed: %w", err)
	}

	items := make([]worker.ExternalItem, 0, len(payload.Reviews))
	for _, r := range payload.Reviews {
		items = append(items, worker.ExternalItem{
			ExternalID: r.ID,
			OccurredAt: r.CreatedAt,
			Fields: map[string]string{
				"reviewer": r.ReviewerName,
				"rating":   fmt.Sprint(r.Rating),
				"comment":  r.Comment,
			},
		})
	}
	return items, nil
}

func (f *ReviewFetcher) get(ctx context.Context, uri, token string) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := f.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, 0, fmt.Errorf("review API request failed: %w", err)
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, resp.StatusCode(), nil
}
