package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	adminCookie     = "admin_token"
	adminCookieAge  = 24 * time.Hour
	visitorPageSize = 200
)

// adminAuth redirects to the login page unless the admin cookie matches.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(adminCookie)
		if err != nil || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			c.Redirect(http.StatusFound, "/admin/login")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) validCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.AdminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.AdminPassword)) == 1
	return userOK && passOK
}

func (s *Server) setupAdminRoutes(r *gin.Engine) {
	r.GET("/admin/login", func(c *gin.Context) {
		s.render(c, http.StatusOK, "admin-login.html", "Admin Login", gin.H{})
	})

	r.POST("/admin/login", func(c *gin.Context) {
		visitor := s.store.HashIP(c.ClientIP())
		if !s.validCredentials(c.PostForm("username"), c.PostForm("password")) {
			s.log.Warn("failed admin login attempt", zap.String("visitor", visitor))
			s.render(c, http.StatusUnauthorized, "admin-login.html", "Admin Login", gin.H{
				"Error": "Invalid credentials",
			})
			return
		}

		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(adminCookie, s.adminToken, int(adminCookieAge.Seconds()), "/admin", "", s.cfg.SecureCookies, true)
		s.log.Info("admin login", zap.String("visitor", visitor))
		c.Redirect(http.StatusFound, "/admin/dashboard")
	})

	r.GET("/admin/logout", func(c *gin.Context) {
		c.SetCookie(adminCookie, "", -1, "/admin", "", s.cfg.SecureCookies, true)
		c.Redirect(http.StatusFound, "/admin/login")
	})

	admin := r.Group("/admin")
	admin.Use(s.adminAuth())

	admin.GET("/dashboard", func(c *gin.Context) {
		stats, err := s.store.Stats(c.Request.Context())
		if err != nil {
			s.log.Error("error loading admin stats", zap.Error(err))
			s.renderError(c, http.StatusInternalServerError, "Failed to load statistics")
			return
		}
		s.render(c, http.StatusOK, "admin-dashboard.html", "Dashboard", gin.H{"Stats": stats})
	})

	admin.GET("/api/stats", func(c *gin.Context) {
		stats, err := s.store.Stats(c.Request.Context())
		if err != nil {
			s.log.Error("error loading admin stats", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load statistics"})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	admin.GET("/visitors", func(c *gin.Context) {
		visitors, err := s.store.RecentVisitors(c.Request.Context(), visitorPageSize)
		if err != nil {
			s.log.Error("error loading visitors", zap.Error(err))
			s.renderError(c, http.StatusInternalServerError, "Failed to load visitors")
			return
		}
		s.render(c, http.StatusOK, "admin-visitors.html", "Visitors", gin.H{"Visitors": visitors})
	})

	admin.DELETE("/clicks/:slug", func(c *gin.Context) {
		slug := c.Param("slug")
		n, err := s.store.ResetClicks(c.Request.Context(), slug)
		if err != nil {
			s.log.Error("error resetting clicks", zap.String("slug", slug), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset clicks"})
			return
		}
		if n == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no clicks recorded for project"})
			return
		}
		s.log.Info("clicks reset", zap.String("slug", slug), zap.Int64("removed", n))
		c.JSON(http.StatusOK, gin.H{"removed": n})
	})

	admin.POST("/privacy/cleanup", func(c *gin.Context) {
		n, err := s.store.Cleanup(c.Request.Context(), s.cfg.VisitorRetention)
		if err != nil {
			s.log.Error("error cleaning up visitor data", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": n})
	})

	admin.GET("/export/stats", func(c *gin.Context) {
		stats, err := s.store.Stats(c.Request.Context())
		if err != nil {
			s.log.Error("error exporting stats", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load statistics"})
			return
		}
		c.Header("Content-Disposition", "attachment; filename=admin-stats.json")
		c.JSON(http.StatusOK, stats)
	})
}
