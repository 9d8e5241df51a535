package utils

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// SMSSender delivers SMS through an HTTP gateway (Twilio-style REST API).
type SMSSender struct {
	client     *fasthttp.Client
	gatewayURL string
	authToken  string
	fromNumber string
}

func NewSMSSender(gatewayURL, authToken, fromNumber string) *SMSSender {
	return &SMSSender{
		client: &fasthttp.Client{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		gatewayURL: gatewayURL,
		authToken:  authToken,
		fromNumber: fromNumber,
	}
}

// Send delivers one SMS and returns the gateway's message SID. Numbers must
// be E.164-ish; anything without a leading + and digits is permanent.
func (s *SMSSender) Send(to, body string) (string, error) {
	if !validPhoneNumber(to) {
		return "", fmt.Errorf("%w: %s", ErrInvalidRecipient, to)
	}

	payload, err := json.Marshal(map[string]string{
		"from": s.fromNumber,
		"to":   to,
		"body": body,
	})
	if err != nil {
		return "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.gatewayURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+s.authToken)
	req.SetBody(payload)

	if err := s.client.Do(req, resp); err != nil {
		return "", fmt.Errorf("sms gateway request failed: %w", err)
	}

	if resp.StatusCode() == fasthttp.StatusBadRequest || resp.StatusCode() == fasthttp.StatusUnprocessableEntity {
		return "", fmt.Errorf("%w: gateway rejected %s", ErrInvalidRecipient, to)
	}
	if resp.StatusCode() >= 300 {
		return "", fmt.Errorf("sms gateway returned status %d", resp.StatusCode())
	}

	var result struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil || result.SID == "" {
		return uuid.New().String(), nil
	}
	return result.SID, nil
}

func validPhoneNumber(number string) bool {
	if !strings.HasPrefix(number, "+") || len(number) < 8 {
		return false
	}
	for _, r := range number[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
