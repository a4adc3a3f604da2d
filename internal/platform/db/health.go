package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
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
		Healthy:         stat.TotalConns() > 0,
	}
}

// policyTables are the tables whose visibility depends on row-level security.
var policyTables = []string{"patients", "vital_signs", "diagnosis", "billing", "medical_history"}

// RowPolicyStatus reports, per table, whether row-level security is both
// enabled and forced.
type RowPolicyStatus map[string]bool

// Enforced is true when every policy table is protected.
func (s RowPolicyStatus) Enforced() bool {
	for _, name := range policyTables {
		if !s[name] {
			return false
		}
	}
	return true
}

func CheckRowPolicies(ctx context.Context, q queryable) (RowPolicyStatus, error) {
	rows, err := q.Query(ctx,
		`SELECT relname, relrowsecurity AND relforcerowsecurity
		 FROM pg_class WHERE relkind = 'r' AND relname = ANY($1)`, policyTables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	status := make(RowPolicyStatus, len(policyTables))
	for _, name := range policyTables {
		status[name] = false
	}
	for rows.Next() {
		var name string
		var on bool
		if err := rows.Scan(&name, &on); err != nil {
			return nil, err
		}
		status[name] = on
	}
	return status, rows.Err()
}

// HealthHandler returns a handler for the database health check endpoint.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stats := GetPoolStats(pool)
		if err := pool.Ping(ctx); err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats,
			})
		}

		body := map[string]interface{}{
			"status": "healthy",
			"pool":   stats,
		}
		if policies, err := CheckRowPolicies(ctx, pool); err == nil {
			body["row_policies"] = policies
			body["row_policies_enforced"] = policies.Enforced()
		}
		return c.JSON(http.StatusOK, body)
	}
}
