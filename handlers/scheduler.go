package handlers

import (
	"time"

	"fantasy-league-system/services"

	"github.com/gofiber/fiber/v2"
)

// SchedulerHandler exposes scheduler control to operators via the Gateway.
type SchedulerHandler struct {
	Scheduler *services.LeagueScheduler
}

func SetupSchedulerRoutes(app *fiber.App, h *SchedulerHandler) {
	app.Post("/scheduler/start", h.Start)
	app.Post("/scheduler/stop", h.Stop)
	app.Post("/scheduler/trigger", h.Trigger)
	app.Get("/scheduler/status", h.Status)
}

func (h *SchedulerHandler) Start(c *fiber.Ctx) error {
	if err := h.Scheduler.Start(); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to start scheduler"})
	}
	return c.JSON(h.Scheduler.GetStatus())
}

func (h *SchedulerHandler) Stop(c *fiber.Ctx) error {
	if err := h.Scheduler.Stop(); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to stop scheduler"})
	}
	return c.JSON(h.Scheduler.GetStatus())
}

// Trigger runs a cycle on demand. The caller can bound how long it waits via
// ?wait_ms=; a still-running cycle is reported, never aborted.
func (h *SchedulerHandler) Trigger(c *fiber.Ctx) error {
	wait := time.Duration(c.QueryInt("wait_ms")) * time.Millisecond
	outcome := h.Scheduler.TriggerManualCheck(wait)
	status := fiber.StatusOK
	if outcome.StillRunning {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(outcome)
}

func (h *SchedulerHandler) Status(c *fiber.Ctx) error {
	return c.JSON(h.Scheduler.GetStatus())
}
