package endpoint

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshkit/version"
)

var processStart = time.Now()

// BuildInfo is the body of /info.
type BuildInfo struct {
	Service string `json:"service"`
	version.Info
	Release bool   `json:"release"`
	Uptime  string `json:"uptime"`
}

// Info reports the binary's build and uptime.
func Info(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v := version.Get()
		c.JSON(http.StatusOK, BuildInfo{
			Service: serviceName,
			Info:    v,
			Release: v.IsRelease(),
			Uptime:  time.Since(processStart).Truncate(time.Second).String(),
		})
	}
}
