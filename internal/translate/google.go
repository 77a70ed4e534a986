package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const googleEndpoint = "https://translate.googleapis.com/translate_a/single"

// GoogleFreeProvider uses the unauthenticated web endpoint. It is rate
// limited aggressively upstream, so throttling responses put it into a fixed
// cooldown instead of being retried immediately.
type GoogleFreeProvider struct {
	cooldown
	targetLang string
	interval   time.Duration
	client     *http.Client
	endpoint   string
}

func NewGoogleFreeProvider(targetLang string, interval time.Duration) *GoogleFreeProvider {
	if targetLang == "" {
		targetLang = "ja"
	}
	return &GoogleFreeProvider{
		targetLang: targetLang,
		interval:   interval,
		client:     &http.Client{},
		endpoint:   googleEndpoint,
	}
}

func (p *GoogleFreeProvider) Name() string { return "google-free" }

func (p *GoogleFreeProvider) Available() bool { return !p.active() }

func (p *GoogleFreeProvider) PaceInterval() time.Duration { return p.interval }

func (p *GoogleFreeProvider) Translate(ctx context.Context, text string) (string, error) {
	query := url.Values{}
	query.Set("client", "gtx")
	query.Set("dt", "t")
	query.Set("sl", "auto")
	query.Set("tl", p.targetLang)
	query.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("google translate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		p.enterFor(manualInterventionWindow)
		return "", &ProviderError{Code: fmt.Sprintf("%d", resp.StatusCode), Message: "rate limited"}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{Code: fmt.Sprintf("%d", resp.StatusCode), Message: "unexpected status"}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return parseGoogleResponse(body)
}

// parseGoogleResponse extracts the translated segments from the endpoint's
// nested array response: [[["segment","source",...],...],...].
func parseGoogleResponse(body []byte) (string, error) {
	var root []interface{}
	if err := json.Unmarshal(body, &root); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(root) == 0 {
		return "", &ProviderError{Message: "empty response"}
	}
	segments, ok := root[0].([]interface{})
	if !ok {
		return "", &ProviderError{Message: "unexpected response shape"}
	}

	var sb strings.Builder
	for _, seg := range segments {
		parts, ok := seg.([]interface{})
		if !ok || len(parts) == 0 {
			continue
		}
		if s, ok := parts[0].(string); ok {
			sb.WriteString(s)
		}
	}
	return sb.String(), nil
}
