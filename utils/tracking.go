package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// GenerateTrackingPixelURL generates a tracking pixel URL for email opens
func GenerateTrackingPixelURL(baseURL, messageID string) string {
	return fmt.Sprintf("%s/track/open/%s/%s", baseURL, url.PathEscape(messageID), trackingToken(messageID))
}

// GenerateClickTrackURL generates a tracked URL for links
func GenerateClickTrackURL(baseURL, messageID, originalURL string) string {
	encodedURL := url.QueryEscape(originalURL)
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s", baseURL, url.PathEscape(messageID), trackingToken(messageID), encodedURL)
}

// GenerateUnsubscribeURL builds the one-click unsubscribe link embedded in
// every outbound email.
func GenerateUnsubscribeURL(baseURL string, contactID uint) string {
	return fmt.Sprintf("%s/track/unsubscribe/%d/%s", baseURL, contactID, trackingToken(fmt.Sprint(contactID)))
}

// InjectTracking injects open and click tracking into email content
func InjectTracking(htmlContent, baseURL, messageID string) string {
	pixelURL := GenerateTrackingPixelURL(baseURL, messageID)
	trackingPixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	modifiedHTML := injectClickTracking(htmlContent, baseURL, messageID)

	return modifiedHTML + trackingPixel
}

func injectClickTracking(html, baseURL, messageID string) string {
	startTag := "<a href=\""
	endTag := "\""
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		trackedURL := GenerateClickTrackURL(baseURL, messageID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}

// TrackingInjector decorates outbound email bodies with the open pixel,
// click-tracking redirects and the unsubscribe footer. It backs the broadcast
// send path; without it opens and clicks would never reach the tracking
// endpoints.
type TrackingInjector struct {
	BaseURL string
}

func NewTrackingInjector(baseURL string) *TrackingInjector {
	return &TrackingInjector{BaseURL: baseURL}
}

// Decorate rewrites the body for one recipient. The unsubscribe footer is
// appended after click injection so it stays a direct link.
func (t *TrackingInjector) Decorate(body, messageID string, contactID uint) string {
	body = InjectTracking(body, t.BaseURL, messageID)
	unsubscribeURL := GenerateUnsubscribeURL(t.BaseURL, contactID)
	footer := fmt.Sprintf(`<p style="font-size:12px;color:#999"><a href="%s">Unsubscribe</a></p>`, unsubscribeURL)
	return body + footer
}

// VerifyTrackingToken reports whether a tracking URL token matches the
// message ID it was derived from.
func VerifyTrackingToken(messageID, token string) bool {
	return trackingToken(messageID) == token
}

// trackingToken derives a stable, URL-safe token from the message ID so
// tracking links survive restarts and cannot be trivially enumerated.
func trackingToken(messageID string) string {
	hash := sha256.Sum256([]byte("naviai-track:" + messageID))
	return base64.URLEncoding.EncodeToString(hash[:])[:20]
}
