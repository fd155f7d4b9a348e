package tutur

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harunnryd/tutur/pkg/audio"
	"github.com/harunnryd/tutur/pkg/credential"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/metrics"
	"github.com/harunnryd/tutur/pkg/observers"
	"github.com/harunnryd/tutur/pkg/redact"
	"github.com/harunnryd/tutur/pkg/resilience"
	"github.com/harunnryd/tutur/pkg/results"
	"github.com/harunnryd/tutur/pkg/session"
)

// Options carries the process-level pieces NewApp cannot derive from Config.
type Options struct {
	Logger   *slog.Logger
	Registry *ProviderRegistry
	// Source opens the audio input for recognition. Nil disables recognition.
	Source SourceOpener
	// Player receives synthesized audio. Nil disables synthesis.
	Player     *audio.Player
	HTTPClient *http.Client
}

// App is a wired coordinator with its credential provider, sink and observers.
type App struct {
	Config      Config
	Logger      *slog.Logger
	Credentials *credential.Provider
	Sink        *results.Sink
	Coordinator *session.Coordinator

	observer *metrics.AsyncObserver
	timeline *observers.TimelineObserver
	redis    *redis.Client
}

func NewApp(cfg Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	app := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	app.observer = metrics.NewAsyncObserver(app.buildObservers(), cfg.Observability.AsyncBuffer)

	creds, err := app.buildCredentials(opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	app.Credentials = creds

	retention, err := results.ParseRetention(cfg.Sink.Retention)
	if err != nil {
		return nil, err
	}
	app.Sink = results.NewSink(retention)

	reg := opts.Registry
	if reg == nil {
		reg = NewProviderRegistry()
		RegisterDefaultProviders(reg)
	}
	sessOpts := session.Options{
		Credentials:  creds,
		Sink:         app.Sink,
		StartTimeout: ms(cfg.Session.StartTimeoutMS),
		StopTimeout:  ms(cfg.Session.StopTimeoutMS),
		Observer:     app.observer,
		Logger:       logger,
	}
	if opts.Source != nil {
		sessOpts.Recognizers, err = reg.BuildRecognizerFactory(cfg.Vendors.Recognition.Provider, cfg, opts.Source)
		if err != nil {
			return nil, err
		}
	}
	if opts.Player != nil {
		sessOpts.Synthesizers, err = reg.BuildSynthesizerFactory(cfg.Vendors.Synthesis.Provider, cfg, opts.Player)
		if err != nil {
			return nil, err
		}
	}
	app.Coordinator, err = session.NewCoordinator(sessOpts)
	if err != nil {
		return nil, err
	}
	ok = true
	return app, nil
}

func (a *App) buildObservers() metrics.Observer {
	list := []metrics.Observer{observers.NewLoggerObserver(a.Logger)}
	dir := strings.TrimSpace(a.Config.Observability.ArtifactsDir)
	if dir != "" {
		if days := a.Config.Observability.RetentionDays; days > 0 {
			removed, err := observers.PurgeTimelines(dir, time.Duration(days)*24*time.Hour)
			if err != nil {
				a.Logger.Warn("timeline_purge_failed", slog.String("dir", dir), slog.String("error", err.Error()))
			} else if removed > 0 {
				a.Logger.Info("timeline_purged", slog.String("dir", dir), slog.Int("removed", removed))
			}
		}
		a.timeline = observers.NewTimelineObserver(dir)
		list = append(list, a.timeline)
	}
	return observers.NewMultiObserver(list...)
}

func (a *App) buildCredentials(client *http.Client) (*credential.Provider, error) {
	cc := a.Config.Credential
	var fetcher credential.Fetcher
	switch strings.ToLower(strings.TrimSpace(cc.Source)) {
	case "static":
		token, region := cc.Token, cc.Region
		fetcher = credential.FetcherFunc(func(context.Context) (credential.Credential, error) {
			return credential.Credential{Token: token, Region: region}, nil
		})
	default:
		if client == nil {
			client = &http.Client{Timeout: ms(cc.FetchTimeoutMS)}
		}
		fetcher = credential.NewHTTPFetcher(cc.URL, client)
	}

	opts := credential.Options{
		Skew:         ms(cc.SkewMS),
		DefaultTTL:   ms(cc.DefaultTTLMS),
		FetchTimeout: ms(cc.FetchTimeoutMS),
		Observer:     a.observer,
		Logger:       a.Logger,
	}
	if cc.Breaker.Threshold > 0 {
		opts.Breaker = resilience.NewCircuitBreaker(cc.Breaker.Threshold, ms(cc.Breaker.CooldownMS))
	}
	if strings.EqualFold(strings.TrimSpace(cc.Store.Provider), "redis") {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cc.Store.Redis.Addr,
			Password: cc.Store.Redis.Password,
			DB:       cc.Store.Redis.DB,
		})
		opts.Store = credential.NewRedisStore(a.redis, cc.Store.Redis.Key)
	}
	return credential.NewProvider(fetcher, opts), nil
}

// Close stops the live session and flushes every sink and observer.
func (a *App) Close() error {
	if a.Coordinator != nil {
		_ = a.Coordinator.Close()
	}
	if a.Sink != nil {
		a.Sink.Close()
	}
	if a.observer != nil {
		a.observer.Close()
	}
	var firstErr error
	if a.timeline != nil {
		if err := a.timeline.Close(); err != nil {
			firstErr = fmt.Errorf("close timeline: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close redis: %w", err)
		}
	}
	return firstErr
}

// NewLoggerFromConfig builds the process logger described by cfg.
func NewLoggerFromConfig(cfg Config, w io.Writer) *slog.Logger {
	return logging.NewLogger(w, logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
}
