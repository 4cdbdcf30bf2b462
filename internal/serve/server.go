// Package serve provides the HTTP prediction service: an HTML form, a health
// check and KServe-compatible inference endpoints backed by the trained model
// artifact.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapml/internal/model"
	"github.com/leapstack-labs/leapml/internal/objectstore"
)

// DefaultModelName is the name the KServe routes are published under.
const DefaultModelName = "stock-regressor"

// ErrModelNotLoaded is returned by prediction calls before a model is loaded.
var ErrModelNotLoaded = errors.New("model not loaded")

// ErrNonFinitePrediction is returned when the inputs drive the model to
// infinity or NaN.
var ErrNonFinitePrediction = errors.New("prediction is not a finite number")

// Config holds configuration for the prediction server.
type Config struct {
	ModelName     string
	Port          int
	ModelPath     string
	ModelKey      string
	Store         objectstore.Store
	SessionSecret string
	Watch         bool
	// ShutdownTimeout bounds graceful shutdown; defaults to 5s.
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Server serves predictions from the currently loaded model.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	sessions sessions.Store

	mu    sync.RWMutex
	model *model.Artifact
}

// New creates a server. It does not load the model; call Load or Serve.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModelName
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = "leapml-dev-secret-change-in-prod"
	}

	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.MaxAge(86400 * 30)
	sessionStore.Options.Path = "/"
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.SameSite = http.SameSiteLaxMode

	return &Server{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: sessionStore,
	}
}

// Model returns the loaded model, or nil.
func (s *Server) Model() *model.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// SetModel swaps the served model.
func (s *Server) SetModel(a *model.Artifact) {
	s.mu.Lock()
	s.model = a
	s.mu.Unlock()
}

// Predict runs the loaded model on one feature vector.
func (s *Server) Predict(features []float64) (float64, *model.Artifact, error) {
	a := s.Model()
	if a == nil {
		return 0, nil, ErrModelNotLoaded
	}
	y, err := a.Predict(features)
	if err != nil {
		return 0, a, err
	}
	if math.IsInf(y, 0) || math.IsNaN(y) {
		return 0, a, ErrNonFinitePrediction
	}
	return y, a, nil
}

// Load fetches the model. When a model key and object store are configured
// the artifact is downloaded, to ModelPath if one is set. Otherwise it is
// read from ModelPath.
func (s *Server) Load(ctx context.Context) error {
	var (
		a   *model.Artifact
		err error
	)
	switch {
	case s.cfg.Store != nil && s.cfg.ModelKey != "" && s.cfg.ModelPath != "":
		if err := objectstore.GetFile(ctx, s.cfg.Store, s.cfg.ModelKey, s.cfg.ModelPath); err != nil {
			return err
		}
		a, err = model.Load(s.cfg.ModelPath)
	case s.cfg.Store != nil && s.cfg.ModelKey != "":
		a, err = s.fetch(ctx)
	case s.cfg.ModelPath != "":
		a, err = model.Load(s.cfg.ModelPath)
	default:
		return errors.New("no model source configured: set serve.model_key or serve.model_path")
	}
	if err != nil {
		return err
	}

	s.SetModel(a)
	s.logger.Info("model loaded",
		slog.String("name", a.Name),
		slog.String("version", a.Version),
		slog.Float64("r2", a.Metrics.R2),
	)
	return nil
}

func (s *Server) fetch(ctx context.Context) (*model.Artifact, error) {
	rc, err := s.cfg.Store.Get(ctx, s.cfg.ModelKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model %s: %w", s.cfg.Store.URI(s.cfg.ModelKey), err)
	}
	defer func() { _ = rc.Close() }()
	return model.Decode(rc)
}

// Handler builds the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(middleware.Logger, middleware.Recoverer, middleware.Compress(5))

	h := &handlers{server: s}
	r.Get("/", h.index)
	r.Post("/predict", h.predictForm)
	r.Get("/health", h.health)

	base := "/v1/models/" + s.cfg.ModelName
	r.Get(base, h.metadata)
	r.Post(base+":predict", h.kservePredict)
	r.Post(base+"/infer", h.kserveInfer)

	return r
}

// Serve loads the model and serves HTTP until ctx is cancelled. A model that
// fails to load is logged and the server starts without one; /health
// reports it.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		s.logger.Warn("starting without a model", slog.String("error", err.Error()))
	}

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		BaseContext:       func(net.Listener) context.Context { return egctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		s.logger.Info("starting prediction server", slog.String("addr", srv.Addr), slog.String("model", s.cfg.ModelName))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if s.cfg.Watch && s.cfg.ModelPath != "" {
		eg.Go(func() error {
			return s.watchModel(egctx)
		})
	}

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(egctx), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
