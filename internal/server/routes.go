package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ja-portfolio/portfolio-site/internal/content"
)

// card is a project as rendered on the home page.
type card struct {
	content.Project
	Href string
}

// pageMethods are accepted by the HTML pages so uptime checks and link
// previews can send HEAD.
var pageMethods = []string{http.MethodGet, http.MethodHead}

func (s *Server) setupRoutes(r *gin.Engine) {
	// Home page route
	r.Match(pageMethods, "/", func(c *gin.Context) {
		s.render(c, http.StatusOK, "index.html", s.site.Title, gin.H{
			"BodyClass": "dark",
			"Heading":   s.site.Heading,
			"Cards":     s.cards(),
		})
	})

	r.Match(pageMethods, "/projects", func(c *gin.Context) {
		s.render(c, http.StatusOK, "projects.html", s.site.ProjectsHeading, gin.H{
			"Heading": s.site.ProjectsHeading,
			"Embeds":  s.site.Embeds,
		})
	})

	// Outbound project link; counts the click and sends the visitor on.
	r.GET("/go/:slug", func(c *gin.Context) {
		p, err := s.site.Project(c.Param("slug"))
		if err != nil {
			if !errors.Is(err, content.ErrUnknownProject) {
				s.log.Error("project lookup failed", zap.Error(err))
			}
			s.renderError(c, http.StatusNotFound, "That project does not exist.")
			return
		}
		if err := s.store.RecordClick(c.Request.Context(), p.Slug); err != nil {
			s.log.Warn("error recording click", zap.String("slug", p.Slug), zap.Error(err))
		}
		c.Redirect(http.StatusFound, p.Link)
	})

	r.Match(pageMethods, "/privacy", func(c *gin.Context) {
		s.render(c, http.StatusOK, "privacy.html", "Privacy Policy", gin.H{
			"Retention": retentionText(s.cfg.VisitorRetention.Hours()),
		})
	})

	r.GET("/healthz", func(c *gin.Context) {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

// fallback serves rewrites for paths no route claims, and 404s the rest.
func (s *Server) fallback(c *gin.Context) {
	if s.proxy.Handles(c.Request) {
		s.proxy.ServeHTTP(c.Writer, c.Request)
		return
	}
	s.renderError(c, http.StatusNotFound, "Page not found.")
}

func (s *Server) cards() []card {
	cards := make([]card, len(s.site.Projects))
	for i, p := range s.site.Projects {
		href := p.Link
		if s.cfg.TrackOutbound {
			href = "/go/" + p.Slug
		}
		cards[i] = card{Project: p, Href: href}
	}
	return cards
}

func (s *Server) render(c *gin.Context, code int, name, title string, data gin.H) {
	if _, ok := data["BodyClass"]; !ok {
		data["BodyClass"] = ""
	}
	data["PageTitle"] = title
	data["SiteTitle"] = s.site.Title
	c.HTML(code, name, data)
}

func (s *Server) renderError(c *gin.Context, code int, msg string) {
	s.render(c, code, "error.html", http.StatusText(code), gin.H{
		"Status": fmt.Sprintf("%d %s", code, http.StatusText(code)),
		"Error":  msg,
	})
	c.Abort()
}

func retentionText(hours float64) string {
	days := int(hours / 24)
	switch {
	case days >= 365 && days%365 == 0:
		if days == 365 {
			return "12 months"
		}
		return fmt.Sprintf("%d years", days/365)
	case days == 1:
		return "1 day"
	case days > 1:
		return fmt.Sprintf("%d days", days)
	default:
		return fmt.Sprintf("%d hours", int(hours))
	}
}
