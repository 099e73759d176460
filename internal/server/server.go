// Package server wires the portfolio pages, rewrites and admin area onto a
// gin engine.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ja-portfolio/portfolio-site/internal/analytics"
	"github.com/ja-portfolio/portfolio-site/internal/config"
	"github.com/ja-portfolio/portfolio-site/internal/content"
	"github.com/ja-portfolio/portfolio-site/internal/rewrite"
	"github.com/ja-portfolio/portfolio-site/web"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg      config.Config
	site     *content.Site
	store    *analytics.Store
	proxy    *rewrite.Proxy
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *httpMetrics

	proxyOpts  []rewrite.Option
	adminToken string
	engine     *gin.Engine
}

type Option func(*Server)

// WithRegistry collects metrics into reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithProxyOptions passes extra options to the rewrite proxy.
func WithProxyOptions(opts ...rewrite.Option) Option {
	return func(s *Server) { s.proxyOpts = append(s.proxyOpts, opts...) }
}

func New(cfg config.Config, site *content.Site, store *analytics.Store, log *zap.Logger, opts ...Option) (*Server, error) {
	table, err := rewrite.NewTable(site.Rewrites)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:   cfg,
		site:  site,
		store: store,
		log:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = newHTTPMetrics(s.registry)

	proxyOpts := append([]rewrite.Option{
		rewrite.WithLogger(log.Named("rewrite")),
		rewrite.WithMetrics(rewrite.NewMetrics(s.registry)),
		rewrite.WithTimeout(cfg.ProxyTimeout),
	}, s.proxyOpts...)
	s.proxy = rewrite.NewProxy(table, proxyOpts...)

	if cfg.AdminEnabled() {
		if s.adminToken, err = newToken(); err != nil {
			return nil, err
		}
	} else {
		log.Warn("admin area disabled: set ADMIN_USERNAME and ADMIN_PASSWORD to enable it")
	}

	if err := s.setupEngine(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupEngine() error {
	tmpl, err := web.Templates(template.FuncMap{
		"year":     func() int { return time.Now().Year() },
		"datetime": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
	})
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(s.cfg.TrustedProxies); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	r.SetHTMLTemplate(tmpl)
	r.Use(
		requestID(),
		s.requestLogger(),
		s.metrics.middleware(),
		gin.CustomRecovery(s.handlePanic),
		s.store.Middleware(func(r *http.Request) bool { return s.proxy.Handles(r) }),
	)

	r.StaticFS("/static", http.FS(web.Static()))

	s.setupRoutes(r)
	if s.cfg.AdminEnabled() {
		s.setupAdminRoutes(r)
	}
	r.NoRoute(s.fallback)

	s.engine = r
	return nil
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handlePanic(c *gin.Context, err any) {
	s.log.Error("panic serving request",
		zap.Any("panic", err),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", c.GetString(requestIDKey)),
	)
	s.renderError(c, http.StatusInternalServerError, "Something went wrong.")
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate admin token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
