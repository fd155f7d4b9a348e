package credential

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/metrics"
	"github.com/harunnryd/tutur/pkg/redact"
	"github.com/harunnryd/tutur/pkg/resilience"
)

const (
	DefaultSkew         = time.Minute
	DefaultTTL          = 10 * time.Minute
	DefaultFetchTimeout = 5 * time.Second
)

const flightKey = "credential"

type Options struct {
	// Skew is subtracted from the expiry when deciding whether the cache is fresh.
	Skew time.Duration
	// DefaultTTL applies when the fetcher does not report an expiry.
	DefaultTTL   time.Duration
	FetchTimeout time.Duration
	Store        Store
	Breaker      *resilience.CircuitBreaker
	Observer     metrics.Observer
	Logger       *slog.Logger
	Now          func() time.Time
}

// Provider hands out the shared credential, refreshing it lazily.
// Concurrent refreshes are coalesced into one fetch.
type Provider struct {
	fetcher Fetcher
	opts    Options
	group   singleflight.Group
	logger  *slog.Logger
}

func NewProvider(fetcher Fetcher, opts Options) *Provider {
	if opts.Skew < 0 {
		opts.Skew = 0
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Provider{
		fetcher: fetcher,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "credential_provider"),
	}
}

// GetCredential returns the cached credential while it is fresh, otherwise
// joins (or starts) the single in-flight refresh. Cancelling ctx abandons
// only this caller's wait.
func (p *Provider) GetCredential(ctx context.Context) (Credential, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cred, ok := p.cached(ctx); ok {
		return cred, nil
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(flightKey, func() (any, error) {
		return p.refresh(flightCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	case <-ctx.Done():
		return Credential{}, &errorsx.AuthError{Op: "fetch", Err: ctx.Err()}
	}
}

// Invalidate drops the cached credential so the next call refetches.
func (p *Provider) Invalidate(ctx context.Context) error {
	return p.opts.Store.Clear(ctx)
}

func (p *Provider) cached(ctx context.Context) (Credential, bool) {
	cred, ok, err := p.opts.Store.Load(ctx)
	if err != nil {
		p.logger.Warn("credential_store_load_failed", slog.String("error", err.Error()))
		return Credential{}, false
	}
	if !ok || !cred.Usable(p.opts.Now(), p.opts.Skew) {
		return Credential{}, false
	}
	return cred, true
}

func (p *Provider) refresh(ctx context.Context) (Credential, error) {
	// A flight that finished just before this one started may have refreshed already.
	if cred, ok := p.cached(ctx); ok {
		return cred, nil
	}
	if !p.opts.Breaker.Allow() {
		err := &errorsx.AuthError{Op: "fetch", Reason: errorsx.ReasonAuthCircuitOpen, Err: errors.New("token endpoint rate limited")}
		p.record(Credential{}, err)
		return Credential{}, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()
	started := p.opts.Now()
	cred, err := p.fetcher.Fetch(fetchCtx)
	if err != nil {
		p.opts.Breaker.OnError(err)
		err = asAuthError(err)
		p.logger.Error("credential_fetch_failed", slog.String("error", err.Error()))
		p.record(Credential{}, err)
		return Credential{}, err
	}
	p.opts.Breaker.OnSuccess()

	now := p.opts.Now()
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = started.Add(p.opts.DefaultTTL)
	}
	if err := validate(cred, now); err != nil {
		p.record(Credential{}, err)
		return Credential{}, err
	}
	if err := p.opts.Store.Save(ctx, cred); err != nil {
		p.logger.Warn("credential_store_save_failed", slog.String("error", err.Error()))
	}
	p.logger.Info("credential_refreshed",
		slog.String("region", cred.Region),
		slog.String("token", redact.Token(cred.Token)),
		slog.Time("expires_at", cred.ExpiresAt))
	p.record(cred, nil)
	return cred, nil
}

func (p *Provider) record(cred Credential, err error) {
	fields := map[string]any{}
	tags := map[string]string{}
	if err != nil {
		fields["error"] = err.Error()
		tags["reason"] = string(errorsx.Reason(err))
	} else {
		tags["region"] = cred.Region
		fields["expires_in_ms"] = cred.ExpiresAt.Sub(p.opts.Now()).Milliseconds()
	}
	p.opts.Observer.RecordEvent(metrics.MetricsEvent{
		Name:   metrics.EventCredentialRefresh,
		Time:   p.opts.Now(),
		Tags:   tags,
		Fields: fields,
	})
}

func validate(cred Credential, now time.Time) error {
	switch {
	case cred.Token == "":
		return &errorsx.AuthError{Op: "validate", Reason: errorsx.ReasonAuthPayload, Err: errors.New("empty token")}
	case cred.Region == "":
		return &errorsx.AuthError{Op: "validate", Reason: errorsx.ReasonAuthPayload, Err: errors.New("empty region")}
	case cred.Expired(now):
		return &errorsx.AuthError{Op: "validate", Reason: errorsx.ReasonAuthPayload, Err: errors.New("token already expired")}
	}
	return nil
}

func asAuthError(err error) error {
	var ae *errorsx.AuthError
	if errors.As(err, &ae) {
		return err
	}
	if resilience.IsRateLimit(err) {
		return &errorsx.AuthError{Op: "fetch", Reason: errorsx.ReasonAuthRateLimit, Err: err}
	}
	return &errorsx.AuthError{Op: "fetch", Reason: errorsx.ReasonAuthFetch, Err: err}
}
