package registrychecker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/memohai/modmail/internal/healthcheck"
)

const (
	checkTypeRegistry   = "registry.populated"
	checkTypeStore      = "registry.store"
	defaultCheckTimeout = 3 * time.Second
)

// Registry exposes the thread registry state.
type Registry interface {
	Populated() bool
	Len() int
}

// Pinger checks the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker evaluates the thread registry and its store.
type Checker struct {
	logger   *slog.Logger
	registry Registry
	store    Pinger
	timeout  time.Duration
}

// NewChecker creates a registry checker. store may be nil.
func NewChecker(log *slog.Logger, registry Registry, store Pinger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_registry")),
		registry: registry,
		store:    store,
		timeout:  defaultCheckTimeout,
	}
}

// ListChecks reports whether the registry was restored and the store answers.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	checks := make([]healthcheck.CheckResult, 0, 2)

	reg := healthcheck.CheckResult{
		ID:      checkTypeRegistry,
		Type:    checkTypeRegistry,
		Status:  healthcheck.StatusWarn,
		Summary: "Thread registry has not been restored yet.",
	}
	if c.registry != nil && c.registry.Populated() {
		reg.Status = healthcheck.StatusOK
		reg.Summary = fmt.Sprintf("Thread registry holds %d threads.", c.registry.Len())
		reg.Metadata = map[string]any{"threads": c.registry.Len()}
	}
	checks = append(checks, reg)

	if c.store == nil {
		return checks
	}
	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	item := healthcheck.CheckResult{
		ID:      checkTypeStore,
		Type:    checkTypeStore,
		Status:  healthcheck.StatusOK,
		Summary: "Store is reachable.",
	}
	if err := c.store.Ping(pingCtx); err != nil {
		c.logger.Warn("store ping failed", slog.Any("error", err))
		item.Status = healthcheck.StatusError
		item.Summary = "Store is unreachable."
		item.Detail = err.Error()
	}
	return append(checks, item)
}
