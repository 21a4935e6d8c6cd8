package health

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/CUXIDUMDUM/qpid/store"
	"github.com/CUXIDUMDUM/qpid/topology"
)

// StoreChecker checks that the store answers reads
type StoreChecker struct {
	store  store.Recoverable
	slow   time.Duration
	logger *slog.Logger
}

// NewStoreChecker creates a store checker. Reads slower than slow report a
// degraded store; zero disables the threshold.
func NewStoreChecker(s store.Recoverable, slow time.Duration, logger *slog.Logger) *StoreChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreChecker{store: s, slow: slow, logger: logger}
}

func (c *StoreChecker) Name() string {
	return "store"
}

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	exchanges, err := c.store.Exchanges(ctx)
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	if err != nil {
		c.logger.Warn("store health check failed", "error", err)
		result.Status = StatusUnhealthy
		result.Message = "store read failed"
		result.Error = err.Error()
		return result
	}

	result.Details["durable_exchanges"] = len(exchanges)
	if c.slow > 0 && result.Duration > c.slow {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("store read took %s", result.Duration)
		return result
	}
	result.Status = StatusHealthy
	result.Message = "store is readable"
	return result
}

// VirtualHostChecker checks that a virtual host still holds its default
// exchanges and reports its namespace sizes.
type VirtualHostChecker struct {
	vhost *topology.VirtualHost
}

// NewVirtualHostChecker creates a checker for vh
func NewVirtualHostChecker(vh *topology.VirtualHost) *VirtualHostChecker {
	return &VirtualHostChecker{vhost: vh}
}

func (c *VirtualHostChecker) Name() string {
	return fmt.Sprintf("vhost_%s", c.vhost.Name())
}

func (c *VirtualHostChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	var missing []string
	for _, name := range topology.DefaultExchangeNames() {
		if _, ok := c.vhost.GetExchange(name); !ok {
			missing = append(missing, name)
		}
	}

	result.Details["exchanges"] = len(c.vhost.Exchanges())
	result.Details["queues"] = len(c.vhost.Queues())
	result.Duration = time.Since(start)

	if len(missing) > 0 {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("default exchanges missing: %v", missing)
		return result
	}
	result.Status = StatusHealthy
	result.Message = "virtual host is serving"
	return result
}

// MemoryChecker reports memory use and flags goroutine build-up
type MemoryChecker struct {
	warningGoroutines  int
	criticalGoroutines int
}

// NewMemoryChecker creates a memory checker with goroutine thresholds
func NewMemoryChecker(warningGoroutines, criticalGoroutines int) *MemoryChecker {
	return &MemoryChecker{
		warningGoroutines:  warningGoroutines,
		criticalGoroutines: criticalGoroutines,
	}
}

func (c *MemoryChecker) Name() string {
	return "memory"
}

func (c *MemoryChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()
	result.Details["memory_used_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC
	result.Details["goroutines"] = goroutines

	switch {
	case goroutines > c.criticalGoroutines:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("too many goroutines: %d", goroutines)
	case goroutines > c.warningGoroutines:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "memory usage is normal"
	}

	result.Duration = time.Since(start)
	return result
}

// ComponentChecker adapts a function for checking a custom component
type ComponentChecker struct {
	name    string
	checker func(ctx context.Context) (Status, string, map[string]interface{}, error)
}

// NewComponentChecker creates a checker for custom components
func NewComponentChecker(name string, checker func(ctx context.Context) (Status, string, map[string]interface{}, error)) *ComponentChecker {
	return &ComponentChecker{
		name:    name,
		checker: checker,
	}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	status, message, details, err := c.checker(ctx)
	result.Status = status
	result.Message = message
	if details != nil {
		result.Details = details
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)

	return result
}
