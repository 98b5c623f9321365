package handler

import (
	"errors"
	"log"
	"time"

	"casewatch/internal/changedetect"
	"casewatch/internal/delivery/http/dto"
	"casewatch/internal/domain/caserecord"
	"casewatch/internal/health"
	"casewatch/internal/pkg/response"
	"casewatch/internal/realtime"
	"casewatch/internal/scheduler"
	"casewatch/internal/source"

	"github.com/gofiber/fiber/v3"
)

type PipelineHandler struct {
	scheduler *scheduler.Service
	manager   *source.Manager
	detector  *changedetect.Service
	hub       *realtime.Hub
	monitor   *health.Monitor
	logger    *log.Logger
}

func NewPipelineHandler(sched *scheduler.Service, manager *source.Manager, detector *changedetect.Service, hub *realtime.Hub, monitor *health.Monitor, logger *log.Logger) *PipelineHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &PipelineHandler{scheduler: sched, manager: manager, detector: detector, hub: hub, monitor: monitor, logger: logger}
}

func (h *PipelineHandler) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	if r == nil {
		return
	}
	r.Get("/pipeline/status", h.GetStatus)
	if auth != nil {
		r.Post("/pipeline/trigger", h.Trigger, auth)
	} else {
		r.Post("/pipeline/trigger", h.Trigger)
	}
}

func (h *PipelineHandler) GetStatus(c fiber.Ctx) error {
	data := dto.PipelineStatusResponseData{
		Health:      h.monitor.Current(),
		Scheduler:   h.scheduler.GetStatistics(),
		Sources:     h.manager.GetAllStatus(),
		Processing:  h.detector.GetProcessingStats(),
		Failed:      h.detector.FailedRecords(),
		Subscribers: h.hub.ClientCount(),
		LastUpdated: time.Now().UTC(),
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, data)
}

// Trigger starts a manual collection. Critical and high priority requests
// run immediately; the rest queue behind the per-source schedule.
func (h *PipelineHandler) Trigger(c fiber.Ctx) error {
	var body dto.TriggerRequestBody
	if err := c.Bind().Body(&body); err != nil {
		return response.Error(c, fiber.StatusBadRequest, "malformed trigger request", nil)
	}

	req := scheduler.TriggerRequest{
		Type:     scheduler.TriggerType(body.Type),
		Priority: caserecord.Priority(body.Priority),
		Reason:   body.Reason,
	}
	if req.Type == "" {
		req.Type = scheduler.TriggerIncremental
	}
	if req.Priority == "" {
		req.Priority = caserecord.PriorityMedium
	}

	receipt, err := h.scheduler.Trigger(c.Context(), req)
	if err != nil {
		if errors.Is(err, scheduler.ErrDuplicateTrigger) {
			return response.Error(c, fiber.StatusConflict, "a trigger of this type is already in flight", nil)
		}
		return response.Error(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	h.logger.Printf("Manual trigger | id=%s type=%s priority=%s status=%s", receipt.ID, req.Type, req.Priority, receipt.Status)
	return response.Success(c, fiber.StatusAccepted, response.MessageAccepted, receipt)
}
