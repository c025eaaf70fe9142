package handlers

import (
	"errors"
	"log"

	"fantasy-league-system/models"
	"fantasy-league-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LeagueHandler exposes the league core over the Gateway. The core services
// know nothing about HTTP; this layer only parses, calls, and maps errors.
type LeagueHandler struct {
	DB          *gorm.DB
	Oracle      services.OracleSource
	Lifecycle   *services.LifecycleService
	Provisioner *services.ProvisionerService
	Standings   *services.StandingsService
}

func SetupLeagueRoutes(app *fiber.App, h *LeagueHandler) {
	app.Get("/leagues", h.ListLeagues)
	app.Post("/leagues/provision", h.ProvisionNextGameweek)
	app.Post("/leagues/unlock", h.UnlockLeagues)
	app.Get("/leagues/:id", h.GetLeague)
	app.Get("/leagues/:id/standings", h.GetStandings)
	app.Post("/leagues/:id/evaluate", h.EvaluateLeague)
	app.Post("/leagues/:id/cancel", h.CancelLeague)

	app.Get("/gameweeks/current/ended", h.CurrentGameweekEnded)

	admin := app.Group("/admin")
	admin.Post("/templates", h.CreateTemplate)
	admin.Get("/templates", h.ListTemplates)
}

func (h *LeagueHandler) ListLeagues(c *fiber.Ctx) error {
	query := h.DB.Order("start_gameweek DESC, created_at DESC")
	if state := c.Query("state"); state != "" {
		query = query.Where("state = ?", state)
	}
	var leagues []models.League
	if err := query.Find(&leagues).Error; err != nil {
		log.Printf("ERROR fetching leagues: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch leagues"})
	}
	return c.JSON(leagues)
}

func (h *LeagueHandler) GetLeague(c *fiber.Ctx) error {
	id := c.Params("id")
	var league models.League
	err := h.DB.
		Preload("Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("rank ASC, created_at ASC")
		}).
		First(&league, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "league not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(league)
}

func (h *LeagueHandler) GetStandings(c *fiber.Ctx) error {
	result, err := h.Standings.GetStandings(c.Context(), c.Params("id"))
	if err != nil {
		return mapCoreError(c, err)
	}
	return c.JSON(result)
}

func (h *LeagueHandler) EvaluateLeague(c *fiber.Ctx) error {
	state, err := h.Lifecycle.EvaluateLeague(c.Context(), c.Params("id"))
	if err != nil {
		return mapCoreError(c, err)
	}
	return c.JSON(fiber.Map{"league_id": c.Params("id"), "state": state})
}

func (h *LeagueHandler) CancelLeague(c *fiber.Ctx) error {
	type Req struct {
		Reason string `json:"reason"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if err := h.Lifecycle.CancelLeague(c.Context(), c.Params("id"), req.Reason); err != nil {
		return mapCoreError(c, err)
	}
	return c.JSON(fiber.Map{"message": "league cancelled", "league_id": c.Params("id")})
}

func (h *LeagueHandler) ProvisionNextGameweek(c *fiber.Ctx) error {
	created, err := h.Provisioner.CreateLeaguesForNextGameweek(c.Context())
	if err != nil {
		return mapCoreError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"created": created})
}

func (h *LeagueHandler) UnlockLeagues(c *fiber.Ctx) error {
	force := c.QueryBool("force")
	unlocked, err := h.Provisioner.UnlockLeaguesForEntry(c.Context(), force)
	if err != nil {
		return mapCoreError(c, err)
	}
	return c.JSON(fiber.Map{"unlocked": unlocked, "forced": force})
}

func (h *LeagueHandler) CurrentGameweekEnded(c *fiber.Ctx) error {
	view, err := services.BuildGameweekView(c.Context(), h.Oracle, nil)
	if err != nil {
		return mapCoreError(c, err)
	}
	return c.JSON(fiber.Map{
		"gameweek_id": view.Current.ID,
		"ended":       view.Ended(),
	})
}

func (h *LeagueHandler) CreateTemplate(c *fiber.Ctx) error {
	var tpl models.LeagueTemplate
	if err := c.BodyParser(&tpl); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if tpl.Key == "" || tpl.NamePattern == "" {
		return c.Status(400).JSON(fiber.Map{"error": "key and name_pattern are required"})
	}
	if tpl.Format == "" {
		tpl.Format = models.FormatClassic
	}
	if tpl.PrizeDistribution == "" {
		tpl.PrizeDistribution = models.DistributionTop3
	}
	tpl.ID = uuid.NewString()
	tpl.Active = true
	if err := h.DB.Create(&tpl).Error; err != nil {
		log.Printf("ERROR creating template %s: %v", tpl.Key, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to create template"})
	}
	return c.Status(201).JSON(tpl)
}

func (h *LeagueHandler) ListTemplates(c *fiber.Ctx) error {
	var templates []models.LeagueTemplate
	if err := h.DB.Order("key ASC").Find(&templates).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch templates"})
	}
	return c.JSON(templates)
}

// mapCoreError translates the core error taxonomy to HTTP statuses.
func mapCoreError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrLeagueNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "league not found"})
	case errors.Is(err, services.ErrInvalidTransition):
		return c.Status(409).JSON(fiber.Map{"error": "invalid league state transition"})
	case errors.Is(err, services.ErrOracleUnavailable):
		return c.Status(503).JSON(fiber.Map{"error": "gameweek oracle unavailable"})
	default:
		log.Printf("ERROR: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "internal error"})
	}
}
