package channelchecker

import (
	"context"
	"log/slog"

	"github.com/memohai/modmail/internal/healthcheck"
)

const checkTypeTransportConnection = "transport.connection"

// ConnectionObserver reports whether the platform gateway is connected.
type ConnectionObserver interface {
	Connected() bool
}

// Checker evaluates transport connection health.
type Checker struct {
	logger   *slog.Logger
	observer ConnectionObserver
	name     string
}

// NewChecker creates a transport health checker. name labels the platform, e.g. "discord".
func NewChecker(log *slog.Logger, observer ConnectionObserver, name string) *Checker {
	if log == nil {
		log = slog.Default()
	}
	if name == "" {
		name = "transport"
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_channel")),
		observer: observer,
		name:     name,
	}
}

// ListChecks reports the connection state of the transport.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	item := healthcheck.CheckResult{
		ID:       checkTypeTransportConnection + "." + c.name,
		Type:     checkTypeTransportConnection,
		Status:   healthcheck.StatusError,
		Summary:  "Transport " + c.name + " is disconnected.",
		Metadata: map[string]any{"platform": c.name},
	}
	if c.observer == nil {
		c.logger.Warn("channel healthcheck dependency is unavailable", slog.String("platform", c.name))
		item.Status = healthcheck.StatusWarn
		item.Summary = "Transport checker is not available."
		item.Detail = "connection observer is nil"
		return []healthcheck.CheckResult{item}
	}
	if c.observer.Connected() {
		item.Status = healthcheck.StatusOK
		item.Summary = "Transport " + c.name + " is connected."
	}
	item.Metadata["connected"] = item.Status == healthcheck.StatusOK
	return []healthcheck.CheckResult{item}
}
