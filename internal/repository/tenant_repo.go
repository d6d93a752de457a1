package repository

import (
	"context"
	"errors"
	"fmt"

	"billingsync/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantRepository reads handbooks and applies the "mark paid" transition.
type TenantRepository interface {
	// GetTenant returns nil, nil when the handbook does not exist.
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
	// GetMemberRole returns RoleNone when the user has no membership row.
	GetMemberRole(ctx context.Context, tenantID, userID string) (model.Role, error)
	// MarkTenantPaid clears trial_end_date. It reports whether a row changed;
	// calling it on an already-paid handbook is a no-op.
	MarkTenantPaid(ctx context.Context, tenantID string) (bool, error)
	// ListTrialTenantsWithActiveSubscription returns handbooks still carrying a
	// trial although an active subscription row exists for them.
	ListTrialTenantsWithActiveSubscription(ctx context.Context, limit int) ([]model.Tenant, error)
}

type tenantRepo struct {
	pool *pgxpool.Pool
}

func NewTenantRepo(pool *pgxpool.Pool) TenantRepository {
	return &tenantRepo{pool: pool}
}

func (r *tenantRepo) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	const q = `
        SELECT id, owner_id, title, trial_end_date, created_during_trial, created_at, updated_at
        FROM handbooks
        WHERE id = $1
    `
	var t model.Tenant
	err := r.pool.QueryRow(ctx, q, tenantID).Scan(
		&t.ID,
		&t.OwnerID,
		&t.Title,
		&t.TrialEndDate,
		&t.CreatedDuringTrial,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch handbook %s: %w", tenantID, err)
	}
	return &t, nil
}

func (r *tenantRepo) GetMemberRole(ctx context.Context, tenantID, userID string) (model.Role, error) {
	const q = `
        SELECT role
        FROM handbook_members
        WHERE handbook_id = $1 AND user_id = $2
    `
	var role string
	err := r.pool.QueryRow(ctx, q, tenantID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RoleNone, nil
		}
		return model.RoleNone, fmt.Errorf("fetch membership of %s in %s: %w", userID, tenantID, err)
	}
	return model.Role(role), nil
}

func (r *tenantRepo) MarkTenantPaid(ctx context.Context, tenantID string) (bool, error) {
	// The trial_end_date guard keeps replays from touching updated_at.
	const q = `
        UPDATE handbooks
        SET trial_end_date = NULL,
            updated_at = NOW()
        WHERE id = $1
          AND trial_end_date IS NOT NULL
    `
	tag, err := r.pool.Exec(ctx, q, tenantID)
	if err != nil {
		return false, fmt.Errorf("mark handbook %s paid: %w", tenantID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *tenantRepo) ListTrialTenantsWithActiveSubscription(ctx context.Context, limit int) ([]model.Tenant, error) {
	const q = `
        SELECT h.id, h.owner_id, h.title, h.trial_end_date, h.created_during_trial, h.created_at, h.updated_at
        FROM handbooks h
        JOIN subscriptions s ON s.handbook_id = h.id
        WHERE s.status = 'active'
          AND h.trial_end_date IS NOT NULL
        ORDER BY h.id
        LIMIT $1
    `
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphaned trial handbooks: %w", err)
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.TrialEndDate, &t.CreatedDuringTrial, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan orphaned trial handbook: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphaned trial handbooks: %w", err)
	}
	return tenants, nil
}
