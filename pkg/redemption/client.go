/**
 * @description
 * This package provides a client for the upstream activation-code redemption
 * API. Requests are form-encoded POSTs carrying a md5 signature computed over
 * the sorted query and body parameters plus a shared secret.
 *
 * @dependencies
 * - context, crypto/md5, net/http, net/url: Standard Go libraries.
 */
package redemption

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redeemworks/redeem-service/internal/domain"
)

const activationPath = "/osfingerauth/activation/checkActivationCode.json"

// Client params fixed by the upstream web client build.
const (
	clientVersionName = "2.48.20"
	clientVersionCode = "200480020"
)

// Client submits activation codes to the redemption API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new redemption API client.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiResponse is the upstream envelope; only the message matters for outcome
// classification.
type apiResponse struct {
	ResultCode int    `json:"resultCode"`
	ResultMsg  string `json:"resultMsg"`
}

// Submit attempts one redemption of code against the given region endpoint and
// platform version. It returns the raw upstream result message; transport and
// decode failures come back as errors and are retried by the caller.
func (c *Client) Submit(ctx context.Context, session domain.Session, code, regionEndpoint, platformVersion string) (string, error) {
	goodsJSON, err := json.Marshal(map[string]string{
		"rom_version": platformVersion,
		"idc_code":    regionEndpoint,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal goods options: %w", err)
	}

	params := map[string]string{
		"lang":         "en_US",
		"client":       "web",
		"uuid":         session.DeviceUUID,
		"versionName":  clientVersionName,
		"versionCode":  clientVersionCode,
		"languageType": "en_US",
		"sessionId":    session.SessionID,
		"userId":       session.UserID,
		"channelCode":  "web",
		"serverNode":   "tw",
		"timestamp":    strconv.FormatInt(time.Now().UnixMilli(), 10),
		"userSource":   "web",
		"medium":       "organic",
		"campaign":     "organic",
	}

	data := map[string]string{
		"code":                      code,
		"bizType":                   "0",
		"goodsOptionsTypeValueJson": string(goodsJSON),
	}

	params["sign"] = sign(params, data, c.SecretKey)

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	form := url.Values{}
	for k, v := range data {
		form.Set(k, v)
	}

	endpoint := c.BaseURL + activationPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create redemption request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute redemption request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read redemption response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to decode redemption response (status %d): %w", resp.StatusCode, err)
	}
	return apiResp.ResultMsg, nil
}

// sign computes the md5 request signature: all non-empty query and body
// parameters sorted by key, joined as k=v&..., with the secret appended.
func sign(params, data map[string]string, secret string) string {
	pairs := make([][2]string, 0, len(params)+len(data))
	for k, v := range params {
		if v != "" {
			pairs = append(pairs, [2]string{k, v})
		}
	}
	for k, v := range data {
		if v != "" {
			pairs = append(pairs, [2]string{k, v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p[0]+"="+p[1])
	}
	sum := md5.Sum([]byte(strings.Join(parts, "&") + secret))
	return hex.EncodeToString(sum[:])
}
