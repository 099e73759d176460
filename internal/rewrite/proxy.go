package rewrite

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type targetKey struct{}

// Proxy forwards requests matched by a Table to their external destination.
type Proxy struct {
	table   *Table
	log     *zap.Logger
	metrics *Metrics
	rp      *httputil.ReverseProxy
}

type Option func(*Proxy)

func WithLogger(log *zap.Logger) Option {
	return func(p *Proxy) { p.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Proxy) { p.metrics = m }
}

// WithTransport replaces the upstream round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) { p.rp.Transport = rt }
}

// WithTimeout bounds how long to wait for upstream response headers.
func WithTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = d
		p.rp.Transport = tr
	}
}

func NewProxy(table *Table, opts ...Option) *Proxy {
	p := &Proxy{table: table, log: zap.NewNop()}
	p.rp = &httputil.ReverseProxy{
		Rewrite:      p.rewrite,
		ErrorHandler: p.handleError,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handles reports whether the request path is covered by a rewrite.
func (p *Proxy) Handles(r *http.Request) bool {
	return p.table.Matches(r.URL.EscapedPath())
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rule, target, ok := p.table.Resolve(r.URL.EscapedPath(), r.URL.RawQuery)
	if !ok {
		http.NotFound(w, r)
		return
	}

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	ctx := context.WithValue(r.Context(), targetKey{}, target)
	p.rp.ServeHTTP(rec, r.WithContext(ctx))

	if p.metrics != nil {
		p.metrics.Requests.WithLabelValues(rule.Source, strconv.Itoa(rec.status)).Inc()
		p.metrics.Duration.WithLabelValues(rule.Source).Observe(time.Since(start).Seconds())
	}
	p.log.Debug("rewrite forwarded",
		zap.String("rule", rule.Source),
		zap.String("target", target.String()),
		zap.Int("status", rec.status),
	)
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	target, _ := pr.In.Context().Value(targetKey{}).(*url.URL)
	if target == nil {
		return
	}
	u := *target
	pr.Out.URL = &u
	pr.Out.Host = ""
	pr.SetXForwarded()
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	target, _ := r.Context().Value(targetKey{}).(*url.URL)
	fields := []zap.Field{zap.String("path", r.URL.Path), zap.Error(err)}
	if target != nil {
		fields = append(fields, zap.String("target", target.String()))
	}
	p.log.Warn("rewrite upstream failed", fields...)
	w.WriteHeader(http.StatusBadGateway)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach Flush and Hijack on the
// underlying writer, which upgraded connections need.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
