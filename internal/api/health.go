package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Checker probes one dependency.
type Checker func(ctx context.Context) error

// healthTimeout bounds each dependency probe.
const healthTimeout = 2 * time.Second

// HealthHandler reports healthy only when every checker passes.
func HealthHandler(checkers map[string]Checker) gin.HandlerFunc {
	names := make([]string, 0, len(checkers))
	for name := range checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		status := http.StatusOK
		checks := make(map[string]string, len(checkers))

		for _, name := range names {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			err := checkers[name](ctx)
			cancel()

			if err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{"status": state, "checks": checks})
	}
}
