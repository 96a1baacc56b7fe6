package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/acme/pharmacy-outreach/internal/metrics"
	callsvc "github.com/acme/pharmacy-outreach/internal/service/call"
	schedulesvc "github.com/acme/pharmacy-outreach/internal/service/schedule"
	"github.com/acme/pharmacy-outreach/internal/webhook"
	apperrors "github.com/acme/pharmacy-outreach/pkg/errors"
)

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

// Dependencies are the services the HTTP surface exposes.
type Dependencies struct {
	Calls       *callsvc.Service
	Schedules   *schedulesvc.Service
	Webhooks    *webhook.Dispatcher
	Verifier    *webhook.Verifier
	Metrics     *metrics.Metrics
	MetricsPath string
	Checks      map[string]HealthCheck
	Logger      *zap.Logger
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	calls       *callsvc.Service
	schedules   *schedulesvc.Service
	webhooks    *webhook.Dispatcher
	verifier    *webhook.Verifier
	metrics     *metrics.Metrics
	metricsPath string
	checks      map[string]HealthCheck
	logger      *zap.Logger
	validate    *validator.Validate
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(deps Dependencies) *HandlerSet {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandlerSet{
		calls:       deps.Calls,
		schedules:   deps.Schedules,
		webhooks:    deps.Webhooks,
		verifier:    deps.Verifier,
		metrics:     deps.Metrics,
		metricsPath: deps.MetricsPath,
		checks:      deps.Checks,
		logger:      logger,
		validate:    validator.New(),
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)
	if h.metrics != nil && h.metricsPath != "" {
		app.Get(h.metricsPath, adaptor.HTTPHandler(promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")
	api.Post("/voice/webhook", h.voiceWebhook)

	v1 := api.Group("/v1")

	calls := v1.Group("/calls")
	calls.Post("/", h.createCall)
	calls.Get("/", h.listCalls)
	calls.Get("/:id", h.getCall)
	calls.Patch("/:id/status", h.updateCallStatus)
	calls.Post("/:id/cancel", h.cancelCall)

	schedules := v1.Group("/schedules")
	schedules.Post("/", h.createSchedule)
	schedules.Get("/", h.listSchedules)
	schedules.Get("/:id", h.getSchedule)
	schedules.Post("/:id/cancel", h.cancelSchedule)

	v1.Get("/stats/daily", h.dailyStats)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", ctx.Path()), zap.Error(err))
		message = "internal server error"
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.checks {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}

// bind parses the JSON body into req and runs its validate tags.
func (h *HandlerSet) bind(ctx *fiber.Ctx, req any) error {
	if err := ctx.BodyParser(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", apperrors.ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	return nil
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}

func optionalUUID(value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func queryInt(ctx *fiber.Ctx, key string, fallback int) (int, error) {
	raw := ctx.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fiber.NewError(http.StatusBadRequest, "invalid "+key)
	}
	return n, nil
}
