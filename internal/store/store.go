package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/plan"
)

// ErrNotFound is returned when no plan has the requested id.
var ErrNotFound = errors.New("plan not found")

// Repository persists saved plans.
type Repository interface {
	// Save inserts the plan or replaces the stored plan with the same id.
	Save(ctx context.Context, p *plan.Plan) error
	Get(ctx context.Context, id string) (*plan.Plan, error)
	// List returns every plan in the order it was first saved.
	List(ctx context.Context) ([]*plan.Plan, error)
	Delete(ctx context.Context, id string) error
	// Scheduled returns the plans that carry a scheduled time.
	Scheduled(ctx context.Context) ([]*plan.Plan, error)
	// ResetProgress moves a stored plan's cursor back to the first step.
	ResetProgress(ctx context.Context, id string) error
}

// Open builds the repository selected by cfg. The returned cleanup releases
// any connections and is safe to call once.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Repository, func(), error) {
	switch cfg.Type {
	case "", "file":
		repo, err := NewFile(cfg.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil

	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, nil, fmt.Errorf("postgres store selected but no URL is configured (DROIDPILOT_DATABASE_URL)")
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		repo := NewPostgres(pool, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		cleanup := func() {
			pool.Close()
			logger.Debug("Database connection pool closed.")
		}
		return repo, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// filterScheduled keeps plans with a scheduled time, preserving order.
func filterScheduled(plans []*plan.Plan) []*plan.Plan {
	out := []*plan.Plan{}
	for _, p := range plans {
		if p.ScheduledTime() != "" {
			out = append(out, p)
		}
	}
	return out
}
