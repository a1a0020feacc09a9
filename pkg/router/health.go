package router

import (
	"runtime"
)

// setupHealthRoutes registers health check endpoints
func (r *Router) setupHealthRoutes() {
	r.Container.Health.RegisterGaugeCheck("memory", "MB allocated", func() int {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		return int(memStats.Alloc / 1024 / 1024)
	})

	// Register both health endpoint paths for compatibility
	handler := r.Container.Health.GinHandler()
	r.Engine.GET("/health", handler)
	r.Engine.GET("/api/health", handler)
}
