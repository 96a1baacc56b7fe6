package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/pharmacy-outreach/internal/domain"
	schedulesvc "github.com/acme/pharmacy-outreach/internal/service/schedule"
)

type createScheduleRequest struct {
	PatientID            string    `json:"patient_id" validate:"required,uuid"`
	StartAt              time.Time `json:"start_at" validate:"required"`
	RetryIntervalMinutes int       `json:"retry_interval_minutes" validate:"omitempty,min=5,max=1440"`
	MaxAttempts          int       `json:"max_attempts" validate:"omitempty,min=1,max=10"`
	VoicemailTemplate    string    `json:"voicemail_template" validate:"max=2000"`
}

type scheduleResponse struct {
	ID                   uuid.UUID             `json:"id"`
	PatientID            uuid.UUID             `json:"patient_id"`
	Status               domain.ScheduleStatus `json:"status"`
	StartAt              time.Time             `json:"start_at"`
	RetryIntervalMinutes int                   `json:"retry_interval_minutes"`
	MaxAttempts          int                   `json:"max_attempts"`
	AttemptsMade         int                   `json:"attempts_made"`
	NextAttemptAt        *time.Time            `json:"next_attempt_at,omitempty"`
	VoicemailTemplate    string                `json:"voicemail_template,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

type attemptResponse struct {
	ID            uuid.UUID             `json:"id"`
	AttemptNumber int                   `json:"attempt_number"`
	CallID        uuid.UUID             `json:"call_id"`
	Outcome       domain.AttemptOutcome `json:"outcome"`
	CreatedAt     time.Time             `json:"created_at"`
	EndedAt       *time.Time            `json:"ended_at,omitempty"`
}

type scheduleDetailsResponse struct {
	scheduleResponse
	Attempts []attemptResponse `json:"attempts"`
}

type listSchedulesResponse struct {
	Schedules []scheduleResponse `json:"schedules"`
}

func (h *HandlerSet) createSchedule(ctx *fiber.Ctx) error {
	var req createScheduleRequest
	if err := h.bind(ctx, &req); err != nil {
		return translateError(err)
	}

	patientID, err := parseUUID(req.PatientID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid patient id")
	}

	sc, err := h.schedules.Create(ctx.UserContext(), schedulesvc.CreateInput{
		PatientID:            patientID,
		StartAt:              req.StartAt,
		RetryIntervalMinutes: req.RetryIntervalMinutes,
		MaxAttempts:          req.MaxAttempts,
		VoicemailTemplate:    req.VoicemailTemplate,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toScheduleResponse(sc))
}

func (h *HandlerSet) listSchedules(ctx *fiber.Ctx) error {
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

	schedules, err := h.schedules.List(ctx.UserContext(), schedulesvc.ListInput{
		PatientID: patientID,
		Status:    domain.ScheduleStatus(ctx.Query("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return translateError(err)
	}

	resp := listSchedulesResponse{Schedules: make([]scheduleResponse, 0, len(schedules))}
	for _, sc := range schedules {
		resp.Schedules = append(resp.Schedules, toScheduleResponse(sc))
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) getSchedule(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid schedule id")
	}

	details, err := h.schedules.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	resp := scheduleDetailsResponse{
		scheduleResponse: toScheduleResponse(details.Schedule),
		Attempts:         make([]attemptResponse, 0, len(details.Attempts)),
	}
	for _, a := range details.Attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			ID:            a.ID,
			AttemptNumber: a.AttemptNumber,
			CallID:        a.CallID,
			Outcome:       a.Outcome,
			CreatedAt:     a.CreatedAt,
			EndedAt:       a.EndedAt,
		})
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) cancelSchedule(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid schedule id")
	}

	sc, err := h.schedules.Cancel(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toScheduleResponse(sc))
}

func toScheduleResponse(sc *domain.ScheduledCall) scheduleResponse {
	return scheduleResponse{
		ID:                   sc.ID,
		PatientID:            sc.PatientID,
		Status:               sc.Status,
		StartAt:              sc.StartAt,
		RetryIntervalMinutes: sc.RetryIntervalMinutes,
		MaxAttempts:          sc.MaxAttempts,
		AttemptsMade:         sc.AttemptsMade,
		NextAttemptAt:        sc.NextAttemptAt,
		VoicemailTemplate:    sc.VoicemailTemplate,
		CreatedAt:            sc.CreatedAt,
		UpdatedAt:            sc.UpdatedAt,
	}
}
