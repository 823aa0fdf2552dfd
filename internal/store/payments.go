package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-railway/internal/models"
)

// CreatePayment records a payment. A second successful payment for the same PNR
// fails with ErrAlreadyPaid; the partial unique index catches concurrent writers.
func (d *DB) CreatePayment(ctx context.Context, p *models.Payment) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if p.Status == models.PaymentSuccess {
			exists, err := tx.NewSelect().
				Model((*models.Payment)(nil)).
				Where("pnr = ?", p.PNR).
				Where("status = ?", models.PaymentSuccess).
				Exists(ctx)
			if err != nil {
				return fmt.Errorf("check existing payment: %w", err)
			}
			if exists {
				return ErrAlreadyPaid
			}
		}

		if _, err := tx.NewInsert().Model(p).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyPaid
			}
			return fmt.Errorf("insert payment: %w", err)
		}
		return nil
	})
}

// SuccessfulPayment returns nil when the PNR has not been paid.
func (d *DB) SuccessfulPayment(ctx context.Context, pnr string) (*models.Payment, error) {
	var p models.Payment
	err := d.Bun.NewSelect().
		Model(&p).
		Where("pnr = ?", pnr).
		Where("status = ?", models.PaymentSuccess).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (d *DB) PaymentsByUser(ctx context.Context, userID string) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := d.Bun.NewSelect().
		Model(&payments).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return payments, nil
}
