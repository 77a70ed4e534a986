package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrBanned signals that the profile endpoint is refusing us (anti-crawl
// ban). The service stops fetching for a while when it sees this.
var ErrBanned = errors.New("avatar endpoint refused the request")

const profileEndpoint = "https://api.bilibili.com/x/space/acc/info"

// Fetcher fetches an avatar URL from the platform.
type Fetcher interface {
	FetchAvatarURL(ctx context.Context, uid int64) (string, error)
}

// HTTPFetcher resolves avatars through the public profile endpoint.
type HTTPFetcher struct {
	client   *http.Client
	endpoint string
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: profileEndpoint,
	}
}

func (f *HTTPFetcher) FetchAvatarURL(ctx context.Context, uid int64) (string, error) {
	url := fmt.Sprintf("%s?mid=%d", f.endpoint, uid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build profile request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call profile endpoint: %w", err)
	}
	defer resp.Body.Close()

	// 412 is the platform's anti-crawl response.
	if resp.StatusCode == http.StatusPreconditionFailed {
		return "", ErrBanned
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("profile endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		Code int `json:"code"`
		Data struct {
			Face string `json:"face"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode profile response: %w", err)
	}
	if body.Code != 0 {
		return "", fmt.Errorf("profile endpoint returned code %d", body.Code)
	}
	if body.Data.Face == "" {
		return "", fmt.Errorf("profile response carries no avatar")
	}
	return body.Data.Face, nil
}
