// Package tokenserver is a development stand-in for the speech token backend.
// It mints short-lived HS256 tokens carrying the configured region.
package tokenserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/harunnryd/tutur/pkg/credential"
	"github.com/harunnryd/tutur/pkg/logging"
	"github.com/harunnryd/tutur/pkg/redact"
)

const DefaultTTL = 10 * time.Minute

type Config struct {
	Addr           string
	Secret         string
	Region         string
	TTL            time.Duration
	AllowedOrigins []string
	Logger         *slog.Logger
	Now            func() time.Time
}

type Claims struct {
	Region string `json:"region"`
	jwt.RegisteredClaims
}

type tokenResponse struct {
	Token  string `json:"token"`
	Region string `json:"region"`
}

type Server struct {
	cfg    Config
	secret []byte
	logger *slog.Logger
	router chi.Router

	mu  sync.Mutex
	srv *http.Server
}

func New(cfg Config) (*Server, error) {
	if cfg.Secret == "" {
		return nil, errors.New("tokenserver: secret is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("tokenserver: region is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		cfg:    cfg,
		secret: []byte(cfg.Secret),
		logger: logging.NewComponentLogger(cfg.Logger, "token_server"),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get(credential.DefaultTokenPath, s.getSpeechToken)
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

// Issue mints a token valid for the configured TTL.
func (s *Server) Issue() (string, time.Time, error) {
	now := s.cfg.Now()
	exp := now.Add(s.cfg.TTL)
	claims := Claims{
		Region: s.cfg.Region,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   "speech",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses a token minted by this server.
func (s *Server) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.cfg.Now))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (s *Server) getSpeechToken(w http.ResponseWriter, r *http.Request) {
	token, exp, err := s.Issue()
	if err != nil {
		s.logger.Error("token_issue_failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	s.logger.Info("token_issued",
		slog.String("request_id", chimiddleware.GetReqID(r.Context())),
		slog.String("token", redact.Token(token)),
		slog.Time("expires_at", exp))
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, Region: s.cfg.Region})
}

// Serve listens on cfg.Addr until Drain is called.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ln)
}

func (s *Server) ServeListener(ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	s.logger.Info("token_server_listening", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Drain stops accepting requests and waits for in-flight ones.
func (s *Server) Drain() error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
