package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the JSON view of pgxpool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// HealthHandler pings the pool and every extra check (the catalog cache,
// for instance). Any failure turns the response into a 503.
func HealthHandler(pool *pgxpool.Pool, checks map[string]Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		components := make(map[string]string, len(checks)+1)
		healthy := true
		body := map[string]interface{}{"components": components}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				components["database"] = err.Error()
				healthy = false
			} else {
				components["database"] = "ok"
			}
			body["pool"] = GetPoolStats(pool)
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				components[name] = err.Error()
				healthy = false
				continue
			}
			components[name] = "ok"
		}

		if !healthy {
			body["status"] = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		body["status"] = "healthy"
		return c.JSON(http.StatusOK, body)
	}
}
