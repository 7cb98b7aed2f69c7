package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is a JSON view of pgxpool.Stat.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchemaChecker is satisfied by *Migrator.
type SchemaChecker interface {
	Pending(ctx context.Context) (int, error)
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

// HealthReport is the body of the database readiness probe.
type HealthReport struct {
	Status            string     `json:"status"`
	Pool              *PoolStats `json:"pool,omitempty"`
	PendingMigrations *int       `json:"pending_migrations,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// HealthHandler reports ready when the database answers a ping and, when
// schema is non-nil, no migration is pending. stats and schema may be nil.
func HealthHandler(p Pinger, stats func() *PoolStats, schema SchemaChecker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		report := HealthReport{Status: "healthy"}
		if stats != nil {
			report.Pool = stats()
		}

		if err := p.Ping(ctx); err != nil {
			report.Status = "unhealthy"
			report.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, report)
		}

		if schema != nil {
			pending, err := schema.Pending(ctx)
			if err != nil {
				report.Status = "unhealthy"
				report.Error = err.Error()
				return c.JSON(http.StatusServiceUnavailable, report)
			}
			report.PendingMigrations = &pending
			if pending > 0 {
				report.Status = "schema_outdated"
				return c.JSON(http.StatusServiceUnavailable, report)
			}
		}
		return c.JSON(http.StatusOK, report)
	}
}
