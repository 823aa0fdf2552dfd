package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-railway/internal/models"
)

var (
	ErrReconciliationNotFound = errors.New("reconciliation flag not found")
	ErrAlreadyResolved        = errors.New("reconciliation flag already resolved")
)

func (d *DB) FlagReconciliation(ctx context.Context, r *models.LedgerReconciliation) error {
	_, err := d.Bun.NewInsert().Model(r).Exec(ctx)
	return err
}

// OpenReconciliations lists flags an operator has not resolved yet.
func (d *DB) OpenReconciliations(ctx context.Context) ([]*models.LedgerReconciliation, error) {
	var out []*models.LedgerReconciliation
	err := d.Bun.NewSelect().
		Model(&out).
		Where("resolved = ?", false).
		OrderExpr("created_at ASC").
		Scan(ctx)
	return out, err
}

func (d *DB) GetReconciliation(ctx context.Context, id string) (*models.LedgerReconciliation, error) {
	var r models.LedgerReconciliation
	err := d.Bun.NewSelect().Model(&r).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if notFound(err) {
			return nil, ErrReconciliationNotFound
		}
		return nil, err
	}
	return &r, nil
}

// ClaimReconciliation marks an open flag resolved. Of several concurrent
// claims only one succeeds; the rest get ErrAlreadyResolved.
func (d *DB) ClaimReconciliation(ctx context.Context, id, operator string, at time.Time) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.LedgerReconciliation)(nil)).
		Set("resolved = ?", true).
		Set("resolved_by = ?", operator).
		Set("resolved_at = ?", at).
		Where("id = ?", id).
		Where("resolved = ?", false).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("claim reconciliation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// ReopenReconciliation undoes a claim whose follow-up work failed.
func (d *DB) ReopenReconciliation(ctx context.Context, id string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.LedgerReconciliation)(nil)).
		Set("resolved = ?", false).
		Set("resolved_by = NULL").
		Set("resolved_at = NULL").
		Where("id = ?", id).
		Exec(ctx)
	return err
}
