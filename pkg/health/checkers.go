package health

import (
	"context"
	"time"

	"github.com/nimburion/docservice/pkg/eventbus"
)

// Checkable is implemented by the MongoDB adapter and the event producers.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker reports a Checkable unhealthy when its HealthCheck fails
// or outlasts the timeout.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a new health checker for an adapter
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

// NewDatabaseChecker checks the document database.
func NewDatabaseChecker(db Checkable) *AdapterChecker {
	return NewAdapterChecker("database", db, 5*time.Second)
}

// NewEventBusChecker checks the event bus producer.
func NewEventBusChecker(bus Checkable) *AdapterChecker {
	return NewAdapterChecker("eventbus", bus, 5*time.Second)
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.adapter.HealthCheck(checkCtx)
	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = ""
		result.Error = err.Error()
	}
	return result
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// PingChecker always reports healthy. Used for liveness.
type PingChecker struct {
	name string
}

// NewPingChecker creates a new ping checker
func NewPingChecker(name string) *PingChecker {
	return &PingChecker{name: name}
}

// Check always returns healthy status
func (c *PingChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "Service is alive",
		Timestamp: time.Now(),
	}
}

// Name returns the name of the health check
func (c *PingChecker) Name() string {
	return c.name
}

// ChangeFeedChecker reports the change feed unhealthy while it is not
// running. active is polled on every check.
type ChangeFeedChecker struct {
	active func() bool
}

// NewChangeFeedChecker creates a checker named "changefeed".
func NewChangeFeedChecker(active func() bool) *ChangeFeedChecker {
	return &ChangeFeedChecker{active: active}
}

// Check reports whether the feed is open.
func (c *ChangeFeedChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Status: StatusHealthy, Message: "change feed running", Timestamp: time.Now()}
	if !c.active() {
		result.Status = StatusUnhealthy
		result.Error = "change feed is not running"
		result.Message = ""
	}
	return result
}

// Name returns "changefeed".
func (c *ChangeFeedChecker) Name() string { return "changefeed" }

// ForwarderStats is the view of an event forwarder the checker reads.
type ForwarderStats interface {
	Pending() int
	Dropped() uint64
	BreakerState() eventbus.BreakerState
}

// ForwarderChecker reports the forwarder degraded while its breaker is not
// closed or its queue is above backlog. Events are still accepted in both
// cases, so it never reports unhealthy.
type ForwarderChecker struct {
	fwd     ForwarderStats
	backlog int
}

// NewForwarderChecker creates a checker named "forwarder".
func NewForwarderChecker(fwd ForwarderStats, backlog int) *ForwarderChecker {
	return &ForwarderChecker{fwd: fwd, backlog: backlog}
}

// Check reads the forwarder counters.
func (c *ForwarderChecker) Check(ctx context.Context) CheckResult {
	state := c.fwd.BreakerState()
	pending := c.fwd.Pending()
	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"pending": pending,
			"dropped": c.fwd.Dropped(),
			"breaker": state.String(),
		},
	}
	switch {
	case state != eventbus.BreakerClosed:
		result.Status = StatusDegraded
		result.Message = "publishing suspended, breaker " + state.String()
	case c.backlog > 0 && pending > c.backlog:
		result.Status = StatusDegraded
		result.Message = "event backlog above threshold"
	}
	return result
}

// Name returns "forwarder".
func (c *ForwarderChecker) Name() string { return "forwarder" }
