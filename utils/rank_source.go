package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"naviai/models"
	"naviai/worker"

	"github.com/likexian/whois"
	"github.com/valyala/fasthttp"
)

// RankFetcher captures daily keyword rank snapshots for a tracked domain and
// enriches them with a whois-based domain audit. Snapshots are keyed by
// keyword plus capture date, so the daily poll is naturally idempotent.
type RankFetcher struct {
	client *fasthttp.Client
}

func NewRankFetcher() *RankFetcher {
	return &RankFetcher{
		client: &fasthttp.Client{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (f *RankFetcher) Fetch(ctx context.Context, src models.PollSource, since time.Time) ([]worker.ExternalItem, error) {
	if src.Endpoint == "" || src.Domain == "" {
		return nil, fmt.Errorf("rank source %d is missing endpoint or domain", src.ID)
	}

	positions, err := f.fetchPositions(ctx, src)
	if err != nil {
		return nil, err
	}

	registrar, expiresAt := f.auditDomain(src.Domain)

	now := time.Now().UTC()
	day := now.Format("2006-01-02")

	items := make([]worker.ExternalItem, 0, len(positions))
	for keyword, position := range positions {
		fields := map[string]string{
			"keyword":   keyword,
			"position":  fmt.Sprint(position),
			"registrar": registrar,
		}
		if expiresAt != nil {
			fields["domain_expires_at"] = expiresAt.Format(time.RFC3339)
		}
		items = append(items, worker.ExternalItem{
			ExternalID: keyword + ":" + day,
			OccurredAt: now,
			Fields:     fields,
		})
	}
	return items, nil
}

func (f *RankFetcher) fetchPositions(ctx context.Context, src models.PollSource) (map[string]int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := fmt.Sprintf("%s?domain=%s&keywords=%s", src.Endpoint, src.Domain, strings.ReplaceAll(src.Keywords, " ", ""))
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	if src.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+src.AccessToken)
	}

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := f.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("rank API request failed: %w", err)
	}
	if resp.StatusCode() == fasthttp.StatusUnauthorized || resp.StatusCode() == fasthttp.StatusForbidden {
		return nil, fmt.Errorf("%w: rank API returned status %d", worker.ErrSourceAuth, resp.StatusCode())
	}
	if resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("rank API returned status %d", resp.StatusCode())
	}

	var payload struct {
		Positions map[string]int `json:"positions"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("rank API response malformed: %w", err)
	}
	return payload.Positions, nil
}

// auditDomain does a best-effort whois lookup. Lookup failures degrade to an
// unenriched snapshot rather than failing the poll.
func (f *RankFetcher) auditDomain(domain string) (string, *time.Time) {
	raw, err := whois.Whois(domain)
	if err != nil {
		return "", nil
	}

	var registrar string
	var expiresAt *time.Time
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if registrar == "" && strings.HasPrefix(lower, "registrar:") {
			registrar = strings.TrimSpace(line[len("registrar:"):])
		}
		if expiresAt == nil {
			for _, prefix := range []string{"registry expiry date:", "expiration date:", "expiry date:"} {
				if strings.HasPrefix(lower, prefix) {
					raw := strings.TrimSpace(line[len(prefix):])
					if t, err := time.Parse(time.RFC3339, raw); err == nil {
						expiresAt = &t
					}
					break
				}
			}
		}
	}
	return registrar, expiresAt
}
