package agent

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StartLocalAPI serves the operator-facing endpoints: the request journal
// and a basic health view. Read-only; no effect on the serving path.
func (a *Agent) StartLocalAPI() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		a.mu.Lock()
		connected := a.connected
		lastPing := a.lastPingRecv
		a.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{
			"connected":     connected,
			"last_ping_at":  lastPing,
			"cache_entries": a.cache.Len(),
			"wallet":        a.identity.Address(),
			"time":          time.Now(),
		})
	})
	router.GET("/journal", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"requests": a.journal.Snapshot()})
	})

	a.logger.Info("starting local api", zap.String("addr", a.cfg.ListenAddr))
	return router.Run(a.cfg.ListenAddr)
}
