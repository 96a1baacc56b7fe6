package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/pharmacy-outreach/internal/domain"
	callsvc "github.com/acme/pharmacy-outreach/internal/service/call"
)

// createCallRequest starts an ad hoc call. Campaign attempts are created by
// the scheduler only, so no campaign id is accepted here.
type createCallRequest struct {
	PatientID string `json:"patient_id" validate:"required,uuid"`
}

type updateCallStatusRequest struct {
	Status         string         `json:"status" validate:"required,oneof=completed failed cancelled"`
	Summary        *string        `json:"summary"`
	StructuredData map[string]any `json:"structured_data"`
	ProviderCallID string         `json:"provider_call_id" validate:"omitempty,max=255"`
}

type callResponse struct {
	ID              uuid.UUID         `json:"id"`
	PatientID       uuid.UUID         `json:"patient_id"`
	Status          domain.CallStatus `json:"status"`
	ProviderCallID  string            `json:"provider_call_id,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	StructuredData  map[string]any    `json:"structured_data,omitempty"`
	ScheduledCallID *uuid.UUID        `json:"scheduled_call_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

type callLogResponse struct {
	ID        uuid.UUID      `json:"id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type callDetailsResponse struct {
	callResponse
	Logs     []callLogResponse `json:"logs"`
	NextPage string            `json:"next_page_token,omitempty"`
}

type listCallsResponse struct {
	Calls []callResponse `json:"calls"`
}

type dailyStatsResponse struct {
	Date            string  `json:"date"`
	TotalCalls      int64   `json:"total_calls"`
	PendingCalls    int64   `json:"pending_calls"`
	InProgressCalls int64   `json:"in_progress_calls"`
	CompletedCalls  int64   `json:"completed_calls"`
	FailedCalls     int64   `json:"failed_calls"`
	CancelledCalls  int64   `json:"cancelled_calls"`
	SuccessRate     float64 `json:"success_rate"`
}

func (h *HandlerSet) createCall(ctx *fiber.Ctx) error {
	var req createCallRequest
	if err := h.bind(ctx, &req); err != nil {
		return translateError(err)
	}

	patientID, err := parseUUID(req.PatientID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid patient id")
	}
	call, err := h.calls.CreateAndDispatch(ctx.UserContext(), patientID, nil)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toCallResponse(call))
}

func (h *HandlerSet) listCalls(ctx *fiber.Ctx) error {
	patientID, err := optionalUUID(ctx.Query("patient_id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid patient id")
	}
	limit, err := queryInt(ctx, "limit", 0)
	if err != nil {
		return err
	}
	offset, err := queryInt(ctx, "offset", 0)
	if err != nil {
		return err
	}

	calls, err := h.calls.ListCalls(ctx.UserContext(), callsvc.ListCallsInput{
		PatientID: patientID,
		Status:    domain.CallStatus(ctx.Query("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return translateError(err)
	}

	resp := listCallsResponse{Calls: make([]callResponse, 0, len(calls))}
	for i := range calls {
		resp.Calls = append(resp.Calls, toCallResponse(&calls[i]))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getCall(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}
	logLimit, err := queryInt(ctx, "log_limit", 0)
	if err != nil {
		return err
	}

	details, err := h.calls.GetCall(ctx.UserContext(), id, logLimit, ctx.Query("page_token"))
	if err != nil {
		return translateError(err)
	}

	resp := callDetailsResponse{
		callResponse: toCallResponse(details.Call),
		Logs:         make([]callLogResponse, 0, len(details.Logs)),
		NextPage:     details.NextPageToken,
	}
	for _, entry := range details.Logs {
		resp.Logs = append(resp.Logs, callLogResponse{
			ID:        entry.ID,
			EventType: entry.EventType,
			Data:      entry.Data,
			Timestamp: entry.Timestamp,
		})
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) updateCallStatus(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	var req updateCallStatusRequest
	if err := h.bind(ctx, &req); err != nil {
		return translateError(err)
	}

	call, err := h.calls.UpdateStatus(ctx.UserContext(), id, callsvc.UpdateStatusInput{
		Status:         domain.CallStatus(req.Status),
		Summary:        req.Summary,
		StructuredData: req.StructuredData,
		ProviderCallID: req.ProviderCallID,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCallResponse(call))
}

func (h *HandlerSet) cancelCall(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call id")
	}

	call, err := h.calls.Cancel(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCallResponse(call))
}

func (h *HandlerSet) dailyStats(ctx *fiber.Ctx) error {
	day := time.Now().UTC()
	if raw := ctx.Query("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		day = parsed
	}

	stats, err := h.calls.DailyStats(ctx.UserContext(), day)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(dailyStatsResponse{
		Date:            stats.Day.Format(time.DateOnly),
		TotalCalls:      stats.TotalCalls,
		PendingCalls:    stats.PendingCalls,
		InProgressCalls: stats.InProgressCalls,
		CompletedCalls:  stats.CompletedCalls,
		FailedCalls:     stats.FailedCalls,
		CancelledCalls:  stats.CancelledCalls,
		SuccessRate:     stats.SuccessRate(),
	})
}

func toCallResponse(call *domain.Call) callResponse {
	return callResponse{
		ID:              call.ID,
		PatientID:       call.PatientID,
		Status:          call.Status,
		ProviderCallID:  call.ProviderCallID,
		Summary:         call.Summary,
		StructuredData:  call.StructuredData,
		ScheduledCallID: call.ScheduledCallID,
		CreatedAt:       call.CreatedAt,
		UpdatedAt:       call.UpdatedAt,
		CompletedAt:     call.CompletedAt,
	}
}
