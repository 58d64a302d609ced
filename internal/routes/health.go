package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		checks := fiber.Map{"store": d.Cfg.StoreBackend}
		healthy := true

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			status := "ok"
			if err := d.DB.Ping(ctx); err != nil {
				status, healthy = err.Error(), false
			}
			checks["postgres"] = status
		}
		if d.Cache != nil {
			status := "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				status, healthy = err.Error(), false
			}
			checks["redis"] = status
		}
		if _, err := d.Wallet.Balance(ctx); err != nil {
			checks["wallet"], healthy = err.Error(), false
		} else {
			checks["wallet"] = "ok"
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":    checks,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
