package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/plan"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreatePlans = `
        CREATE TABLE IF NOT EXISTS plans (
            id             TEXT PRIMARY KEY,
            name           TEXT NOT NULL,
            scheduled_time TEXT,
            document       JSONB NOT NULL,
            created_at     TIMESTAMPTZ NOT NULL,
            updated_at     TIMESTAMPTZ NOT NULL
        );
    `
	sqlUpsertPlan = `
        INSERT INTO plans (id, name, scheduled_time, document, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            scheduled_time = EXCLUDED.scheduled_time,
            document = EXCLUDED.document,
            updated_at = EXCLUDED.updated_at;
    `
	sqlGetPlan = `
        SELECT document FROM plans WHERE id = $1;
    `
	sqlListPlans = `
        SELECT document FROM plans ORDER BY created_at ASC, id ASC;
    `
	sqlScheduledPlans = `
        SELECT document FROM plans WHERE scheduled_time IS NOT NULL ORDER BY created_at ASC, id ASC;
    `
	sqlDeletePlan = `
        DELETE FROM plans WHERE id = $1;
    `
	sqlResetPlan = `
        UPDATE plans
        SET document = jsonb_set(document, '{currentStepIndex}', '0'::jsonb), updated_at = $2
        WHERE id = $1;
    `
)

// Postgres keeps one row per plan with the persisted document as JSONB.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

var _ Repository = (*Postgres)(nil)

// NewPostgres wraps an open pool. Callers verify connectivity beforehand.
func NewPostgres(pool DBPool, logger *zap.Logger) *Postgres {
	return &Postgres{
		pool: pool,
		log:  logger.Named("store"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the plans table when it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreatePlans); err != nil {
		return fmt.Errorf("failed to create plans table: %w", err)
	}
	return nil
}

func (s *Postgres) Save(ctx context.Context, p *plan.Plan) error {
	doc, err := json.ConfigCompatibleWithStandardLibrary.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode plan %s: %w", p.ID(), err)
	}
	var scheduled *string
	if st := p.ScheduledTime(); st != "" {
		scheduled = &st
	}
	if _, err := s.pool.Exec(ctx, sqlUpsertPlan, p.ID(), p.Name(), scheduled, doc, s.now()); err != nil {
		return fmt.Errorf("failed to save plan %s: %w", p.ID(), err)
	}
	s.log.Debug("Plan saved.", zap.String("plan_id", p.ID()))
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*plan.Plan, error) {
	var doc []byte
	if err := s.pool.QueryRow(ctx, sqlGetPlan, id).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load plan %s: %w", id, err)
	}
	return decodePlan(doc)
}

func (s *Postgres) List(ctx context.Context) ([]*plan.Plan, error) {
	return s.query(ctx, sqlListPlans)
}

func (s *Postgres) Scheduled(ctx context.Context) ([]*plan.Plan, error) {
	return s.query(ctx, sqlScheduledPlans)
}

func (s *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, sqlDeletePlan, id)
	if err != nil {
		return fmt.Errorf("failed to delete plan %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Postgres) ResetProgress(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, sqlResetPlan, id, s.now())
	if err != nil {
		return fmt.Errorf("failed to reset plan %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Postgres) query(ctx context.Context, sql string) ([]*plan.Plan, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	plans := []*plan.Plan{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		p, err := decodePlan(doc)
		if err != nil {
			s.log.Warn("Skipping unreadable plan row.", zap.Error(err))
			continue
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return plans, nil
}

func decodePlan(doc []byte) (*plan.Plan, error) {
	var p plan.Plan
	if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("failed to decode plan document: %w", err)
	}
	return &p, nil
}
