package translate

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MimeLyc/live-chat-relay/pkg/icron"
	"github.com/MimeLyc/live-chat-relay/pkg/log"
)

const (
	tencentHost    = "tmt.tencentcloudapi.com"
	tencentService = "tmt"
	tencentAction  = "TextTranslate"
	tencentVersion = "2018-03-21"

	// Free quota resets at the start of each month.
	tencentQuotaResetCron = "0 0 0 1 * *"
)

// TencentProvider calls the Tencent Cloud machine translation API with
// TC3-HMAC-SHA256 request signing. Quota exhaustion puts it into cooldown
// until the next billing period boundary.
type TencentProvider struct {
	cooldown
	secretID   string
	secretKey  string
	region     string
	targetLang string
	interval   time.Duration
	client     *http.Client
	endpoint   string
}

func NewTencentProvider(secretID, secretKey, region, targetLang string, interval time.Duration) *TencentProvider {
	if region == "" {
		region = "ap-shanghai"
	}
	if targetLang == "" {
		targetLang = "ja"
	}
	return &TencentProvider{
		secretID:   secretID,
		secretKey:  secretKey,
		region:     region,
		targetLang: targetLang,
		interval:   interval,
		client:     &http.Client{},
		endpoint:   "https://" + tencentHost,
	}
}

func (p *TencentProvider) Name() string { return "tencent" }

func (p *TencentProvider) Available() bool { return !p.active() }

func (p *TencentProvider) PaceInterval() time.Duration { return p.interval }

type tencentResponse struct {
	Response struct {
		TargetText string `json:"TargetText"`
		RequestID  string `json:"RequestId"`
		Error      *struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		} `json:"Error"`
	} `json:"Response"`
}

func (p *TencentProvider) Translate(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"SourceText": text,
		"Source":     "auto",
		"Target":     p.targetLang,
		"ProjectId":  0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	now := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Host", tencentHost)
	req.Header.Set("X-TC-Action", tencentAction)
	req.Header.Set("X-TC-Version", tencentVersion)
	req.Header.Set("X-TC-Region", p.region)
	req.Header.Set("X-TC-Timestamp", fmt.Sprintf("%d", now.Unix()))
	req.Header.Set("Authorization", p.authorization(now, payload))

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tencent translate request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed tencentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if apiErr := parsed.Response.Error; apiErr != nil {
		p.applyCooldown(apiErr.Code)
		return "", &ProviderError{Code: apiErr.Code, Message: apiErr.Message}
	}
	return parsed.Response.TargetText, nil
}

// applyCooldown maps provider error codes onto unavailability windows.
func (p *TencentProvider) applyCooldown(code string) {
	switch {
	case code == "FailedOperation.NoFreeAmount", code == "ResourceUnavailable.InArrears":
		// Out of quota until the next billing period.
		info, err := icron.GetTriggerInfo(tencentQuotaResetCron, time.Now())
		if err != nil {
			p.enterFor(24 * time.Hour)
			return
		}
		log.Warn("tencent translate quota exhausted, cooling down until %v", info.Next)
		p.enterUntil(info.Next)
	case strings.HasPrefix(code, "AuthFailure"), code == "UnauthorizedOperation":
		p.enterFor(manualInterventionWindow)
	case code == "RequestLimitExceeded":
		p.enterFor(10 * p.interval)
	}
}

// authorization builds the TC3-HMAC-SHA256 Authorization header.
func (p *TencentProvider) authorization(now time.Time, payload []byte) string {
	date := now.UTC().Format("2006-01-02")

	hashedPayload := sha256hex(payload)
	canonicalRequest := strings.Join([]string{
		"POST",
		"/",
		"",
		"content-type:application/json\nhost:" + tencentHost + "\n",
		"content-type;host",
		hashedPayload,
	}, "\n")

	credentialScope := date + "/" + tencentService + "/tc3_request"
	stringToSign := strings.Join([]string{
		"TC3-HMAC-SHA256",
		fmt.Sprintf("%d", now.Unix()),
		credentialScope,
		sha256hex([]byte(canonicalRequest)),
	}, "\n")

	secretDate := hmacSHA256([]byte("TC3"+p.secretKey), date)
	secretService := hmacSHA256(secretDate, tencentService)
	secretSigning := hmacSHA256(secretService, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	return fmt.Sprintf("TC3-HMAC-SHA256 Credential=%s/%s, SignedHeaders=content-type;host, Signature=%s",
		p.secretID, credentialScope, signature)
}

func sha256hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
