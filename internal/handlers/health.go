package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memohai/modmail/internal/healthcheck"
)

// HealthHandler serves runtime checks and Prometheus metrics.
type HealthHandler struct {
	checks *healthcheck.Aggregator
	logger *slog.Logger
}

func NewHealthHandler(log *slog.Logger, checks *healthcheck.Aggregator) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{checks: checks, logger: log.With(slog.String("handler", "health"))}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

type healthResponse struct {
	Status string                    `json:"status"`
	Checks []healthcheck.CheckResult `json:"checks"`
}

// Health reports every check. A failing check answers 503.
func (h *HealthHandler) Health(c echo.Context) error {
	items := h.checks.ListChecks(c.Request().Context())
	status := healthcheck.Overall(items)
	code := http.StatusOK
	if status == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
		h.logger.Warn("health check failing", slog.Int("checks", len(items)))
	}
	return c.JSON(code, healthResponse{Status: status, Checks: items})
}

func (h *HealthHandler) HealthHead(c echo.Context) error {
	if healthcheck.Overall(h.checks.ListChecks(c.Request().Context())) == healthcheck.StatusError {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}
