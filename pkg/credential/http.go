package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/resilience"
)

// DefaultTokenPath is where the token backend serves credentials.
const DefaultTokenPath = "/api/Voice/get-speech-token"

const maxTokenBody = 64 << 10

// HTTPFetcher reads credentials from the token endpoint.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

func NewHTTPFetcher(url string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	return &HTTPFetcher{url: url, client: client}
}

// tokenResponse also accepts authToken, which some token backends use.
type tokenResponse struct {
	Token     string `json:"token"`
	AuthToken string `json:"authToken"`
	Region    string `json:"region"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return Credential{}, &errorsx.AuthError{Op: "fetch", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Credential{}, &errorsx.AuthError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody))
	if err != nil {
		return Credential{}, &errorsx.AuthError{Op: "fetch", Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		rl := resilience.RateLimitError{
			Endpoint:   f.url,
			Message:    resp.Status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		return Credential{}, &errorsx.AuthError{Op: "fetch", Reason: errorsx.ReasonAuthRateLimit, Err: rl}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, &errorsx.AuthError{
			Op:  "fetch",
			Err: fmt.Errorf("token endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Credential{}, &errorsx.AuthError{Op: "decode", Reason: errorsx.ReasonAuthPayload, Err: err}
	}
	token := strings.TrimSpace(parsed.Token)
	if token == "" {
		token = strings.TrimSpace(parsed.AuthToken)
	}
	if token == "" || strings.TrimSpace(parsed.Region) == "" {
		return Credential{}, &errorsx.AuthError{Op: "decode", Reason: errorsx.ReasonAuthPayload, Err: errors.New("token and region are required")}
	}

	cred := Credential{Token: token, Region: strings.TrimSpace(parsed.Region)}
	if exp, ok := TokenExpiry(token); ok {
		cred.ExpiresAt = exp
	}
	return cred, nil
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// The token is opaque to this module; the engine vendor verifies it.
func TokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

var _ Fetcher = (*HTTPFetcher)(nil)
