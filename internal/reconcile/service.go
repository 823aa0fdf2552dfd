// Package reconcile gives operators a view of ledger counters that may have
// drifted from the tickets table, and a way to settle the flags left behind
// when a release could not be completed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-railway/internal/inventory"
	"ms-railway/internal/logger"
	"ms-railway/internal/models"
	"ms-railway/internal/store"
)

var (
	ErrNotFound        = errors.New("reconciliation flag not found")
	ErrAlreadyResolved = errors.New("reconciliation flag already resolved")
	ErrStorageFailure  = errors.New("reconciliation storage failure")
)

type Store interface {
	OpenReconciliations(ctx context.Context) ([]*models.LedgerReconciliation, error)
	GetReconciliation(ctx context.Context, id string) (*models.LedgerReconciliation, error)
	ClaimReconciliation(ctx context.Context, id, operator string, at time.Time) error
	ReopenReconciliation(ctx context.Context, id string) error
	ActiveSeats(ctx context.Context, key models.LedgerKey) (int, error)
}

type Ledger interface {
	inventory.Releaser
	Snapshot(ctx context.Context, key models.LedgerKey) (*models.SeatAvailability, error)
}

type AvailabilityCache interface {
	Invalidate(ctx context.Context, key models.LedgerKey) error
}

// Audit compares a ledger row with the seats held by booked tickets.
// Missing is positive when the ledger shows fewer free seats than it should.
// Bookings in flight count as missing until their ticket row is written.
type Audit struct {
	Key       models.LedgerKey `json:"key"`
	Total     int              `json:"total_seats"`
	Available int              `json:"available_seats"`
	Booked    int              `json:"booked_seats"`
	Missing   int              `json:"missing_seats"`
}

type Service struct {
	store  Store
	ledger Ledger
	cache  AvailabilityCache
	retry  inventory.RetryPolicy
	log    *logger.Logger
	now    func() time.Time
}

func NewService(s Store, l Ledger, c AvailabilityCache, retry inventory.RetryPolicy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{store: s, ledger: l, cache: c, retry: retry, log: log, now: time.Now}
}

func (s *Service) Open(ctx context.Context) ([]*models.LedgerReconciliation, error) {
	flags, err := s.store.OpenReconciliations(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return flags, nil
}

// Audit returns nil when the ledger row has not been created yet.
func (s *Service) Audit(ctx context.Context, key models.LedgerKey) (*Audit, error) {
	row, err := s.ledger.Snapshot(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if row == nil {
		return nil, nil
	}
	booked, err := s.store.ActiveSeats(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return &Audit{
		Key:       key,
		Total:     row.TotalSeats,
		Available: row.AvailableSeats,
		Booked:    booked,
		Missing:   row.TotalSeats - booked - row.AvailableSeats,
	}, nil
}

// Resolve closes a flag. With release set, the flagged seats go back to the
// ledger first; if that fails the flag stays open.
func (s *Service) Resolve(ctx context.Context, id, operator string, release bool) (*models.LedgerReconciliation, error) {
	flag, err := s.store.GetReconciliation(ctx, id)
	if errors.Is(err, store.ErrReconciliationNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	at := s.now().UTC()
	if err := s.store.ClaimReconciliation(ctx, id, operator, at); err != nil {
		if errors.Is(err, store.ErrAlreadyResolved) {
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	key := models.LedgerKey{TrainNo: flag.TrainNo, ClassID: flag.ClassID, TravelDate: flag.TravelDate}

	if release {
		ctx := context.WithoutCancel(ctx)
		err := inventory.ReleaseWithRetry(ctx, s.ledger, key, flag.Seats, s.retry, nil)
		if err != nil {
			if rerr := s.store.ReopenReconciliation(ctx, id); rerr != nil {
				s.log.Error("LEDGER", fmt.Sprintf("Cannot reopen %s after failed release: %v", id, rerr))
			}
			if errors.Is(err, inventory.ErrConsistencyViolation) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: release %d seats on %s: %v", ErrStorageFailure, flag.Seats, key, err)
		}
		if s.cache != nil {
			if err := s.cache.Invalidate(ctx, key); err != nil {
				s.log.Warn("CACHE", fmt.Sprintf("Invalidate %s failed: %v", key, err))
			}
		}
		s.log.LogLedger("RECONCILED", key.String(), fmt.Sprintf("%s released %d seats for %s", operator, flag.Seats, id))
	} else {
		s.log.LogLedger("DISMISSED", key.String(), fmt.Sprintf("%s dismissed %s", operator, id))
	}

	flag.Resolved = true
	flag.ResolvedBy = operator
	flag.ResolvedAt = at
	return flag, nil
}
