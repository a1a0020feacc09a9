package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"campusconnect/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

const checkTimeout = 5 * time.Second

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	Critical    bool      `json:"critical"`
	LastChecked time.Time `json:"last_checked"`
}

// Check represents a health check function
type Check func(ctx context.Context) (Status, string, error)

type registered struct {
	check    Check
	critical bool
}

// Checker manages health checks for the system
type Checker struct {
	mu          sync.RWMutex
	checks      map[string]registered
	components  map[string]*Component
	checkPeriod time.Duration
	log         *logger.Logger
	onChange    []func(healthy bool)
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	if checkPeriod <= 0 {
		checkPeriod = 30 * time.Second
	}

	checker := &Checker{
		checks:      make(map[string]registered),
		components:  make(map[string]*Component),
		checkPeriod: checkPeriod,
		log:         log,
		stop:        make(chan struct{}),
	}

	checker.RegisterCheck("self", false, func(context.Context) (Status, string, error) {
		return StatusUp, "Health checker is running", nil
	})

	return checker
}

// RegisterCheck registers a new health check. A critical component that is
// down makes the whole system unhealthy.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = registered{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Description: "Not checked yet",
		Critical:    critical,
	}
}

// OnChange registers a callback invoked after every run with the overall health
func (c *Checker) OnChange(fn func(healthy bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onChange = append(c.onChange, fn)
}

// RunChecks executes all registered health checks
func (c *Checker) RunChecks(ctx context.Context) {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mu.RUnlock()

	results := make(map[string]Component, len(checks))
	for name, r := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		status, description, err := r.check(checkCtx)
		cancel()

		component := Component{
			Name:        name,
			Status:      status,
			Description: description,
			Critical:    r.critical,
			LastChecked: time.Now(),
		}
		if err != nil {
			component.Error = err.Error()
			c.log.Error("Health check failed",
				"component", name,
				"status", string(status),
				"error", err.Error(),
			)
		}
		results[name] = component
	}

	c.mu.Lock()
	for name, component := range results {
		component := component
		c.components[name] = &component
	}
	listeners := append([]func(bool){}, c.onChange...)
	c.mu.Unlock()

	healthy := c.IsSystemHealthy()
	for _, fn := range listeners {
		fn(healthy)
	}
}

// Start begins periodic health checks until Stop is called
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.RunChecks(ctx)
			}
		}
	}()
}

// Stop ends the periodic checks
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// GetStatus returns a copy of the current component states
func (c *Checker) GetStatus() map[string]Component {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]Component, len(c.components))
	for k, v := range c.components {
		result[k] = *v
	}

	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}

	return true
}

// GinHandler serves the health report
func (c *Checker) GinHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		code := http.StatusOK
		status := "ok"
		if !c.IsSystemHealthy() {
			code = http.StatusServiceUnavailable
			status = "unhealthy"
		}

		ctx.JSON(code, gin.H{
			"status":     status,
			"timestamp":  time.Now(),
			"components": c.GetStatus(),
		})
	}
}

// RegisterDatabaseCheck registers the message store check
func (c *Checker) RegisterDatabaseCheck(ping func(ctx context.Context) error) {
	c.RegisterCheck("database", true, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDown, "Database connection failed", err
		}
		return StatusUp, "Database connection is established", nil
	})
}

// RegisterBrokerCheck registers the live channel check. Messaging keeps
// working without live delivery, so a failure only degrades the system.
func (c *Checker) RegisterBrokerCheck(name string, ping func(ctx context.Context) error) {
	c.RegisterCheck(name, false, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDegraded, "Live delivery unavailable", err
		}
		return StatusUp, "Live delivery is available", nil
	})
}

// RegisterGaugeCheck reports a numeric gauge, such as open websocket connections
func (c *Checker) RegisterGaugeCheck(name, unit string, gauge func() int) {
	c.RegisterCheck(name, false, func(context.Context) (Status, string, error) {
		return StatusUp, fmt.Sprintf("%d %s", gauge(), unit), nil
	})
}
