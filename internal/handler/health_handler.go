package handler

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 2 * time.Second

var errQueueStalled = errors.New("health probes are not completing")

// QueueHealth reports whether health probes are making it through the task
// queue. service.HealthProber implements it.
type QueueHealth interface {
	Healthy() bool
}

// HealthCheck is one named readiness dependency.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

func PostgresCheck(db *sql.DB) HealthCheck {
	return HealthCheck{Name: "postgres", Probe: db.PingContext}
}

func RedisCheck(rdb *redis.Client) HealthCheck {
	return HealthCheck{Name: "redis", Probe: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
}

func QueueCheck(queue QueueHealth) HealthCheck {
	return HealthCheck{Name: "queue", Probe: func(context.Context) error {
		if !queue.Healthy() {
			return errQueueStalled
		}
		return nil
	}}
}

// RegisterHealthRoutes mounts /livez and a /readyz that runs every check.
func RegisterHealthRoutes(app fiber.Router, checks ...HealthCheck) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(checks...))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	}
}

// ReadyzHandler probes all checks concurrently under one deadline. A failed
// check reports its error text in place of "ok".
func ReadyzHandler(checks ...HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		var (
			mu      sync.Mutex
			results = make(fiber.Map, len(checks))
			ready   = true
		)
		var g errgroup.Group
		for _, check := range checks {
			g.Go(func() error {
				err := check.Probe(ctx)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					results[check.Name] = err.Error()
					ready = false
					return nil
				}
				results[check.Name] = "ok"
				return nil
			})
		}
		_ = g.Wait()

		status, code := "ready", fiber.StatusOK
		if !ready {
			status, code = "not_ready", fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}
