package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/resilience"
)

func TestHTTPFetcherDecodesToken(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultTokenPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"` + token + `","region":"westeurope"}`))
	}))
	defer srv.Close()

	cred, err := NewHTTPFetcher(srv.URL+DefaultTokenPath, srv.Client()).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if cred.Region != "westeurope" || cred.Token != token {
		t.Fatalf("unexpected credential %+v", cred)
	}
	if !cred.ExpiresAt.Equal(exp) {
		t.Fatalf("expected expiry from exp claim %v, got %v", exp, cred.ExpiresAt)
	}
}

func TestHTTPFetcherAcceptsAuthTokenField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"authToken":"opaque","region":"eastus"}`))
	}))
	defer srv.Close()

	cred, err := NewHTTPFetcher(srv.URL, srv.Client()).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if cred.Token != "opaque" || !cred.ExpiresAt.IsZero() {
		t.Fatalf("expected opaque token without expiry, got %+v", cred)
	}
}

func TestHTTPFetcherFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		reason errorsx.ReasonCode
	}{
		{"server error", http.StatusInternalServerError, "boom", errorsx.ReasonAuthFetch},
		{"malformed", http.StatusOK, "{not json", errorsx.ReasonAuthPayload},
		{"missing region", http.StatusOK, `{"token":"t"}`, errorsx.ReasonAuthPayload},
		{"rate limited", http.StatusTooManyRequests, "slow down", errorsx.ReasonAuthRateLimit},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tc.status == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "7")
			}
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		_, err := NewHTTPFetcher(srv.URL, srv.Client()).Fetch(context.Background())
		srv.Close()

		var ae *errorsx.AuthError
		if !errors.As(err, &ae) {
			t.Fatalf("%s: expected AuthError, got %v", tc.name, err)
		}
		if got := errorsx.Reason(err); got != tc.reason {
			t.Fatalf("%s: expected reason %s, got %s", tc.name, tc.reason, got)
		}
		if tc.status == http.StatusTooManyRequests {
			var rl resilience.RateLimitError
			if !errors.As(err, &rl) || rl.RetryAfter != 7*time.Second {
				t.Fatalf("%s: expected RateLimitError with retry-after, got %v", tc.name, err)
			}
		}
	}
}

func TestHTTPFetcherUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPFetcher(url, nil).Fetch(context.Background())
	var ae *errorsx.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError for unreachable backend, got %v", err)
	}
}

func TestTokenExpiryIgnoresOpaqueTokens(t *testing.T) {
	if _, ok := TokenExpiry("not-a-jwt"); ok {
		t.Fatalf("expected no expiry for opaque token")
	}
}
