package analytics

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var untrackedPrefixes = []string{
	"/static/",
	"/admin",
	"/favicon",
	"/privacy",
	"/metrics",
	"/healthz",
	"/go/",
}

// Middleware records a visit for every tracked request. Requests carrying
// "DNT: 1", static assets, admin pages and requests for which skip returns
// true are not recorded. Writes happen in the background.
func (s *Store) Middleware(skip func(r *http.Request) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if !s.tracked(path, c.GetHeader("DNT")) || (skip != nil && skip(c.Request)) {
			c.Next()
			return
		}

		ip, ua := c.ClientIP(), c.GetHeader("User-Agent")
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			if err := s.RecordVisit(context.Background(), ip, ua, path); err != nil {
				s.log.Warn("error recording visitor", zap.Error(err))
			}
		}()
		c.Next()
	}
}

func (s *Store) tracked(path, dnt string) bool {
	if dnt == "1" {
		return false
	}
	for _, prefix := range untrackedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
