// Package query answers read-only questions: which trains run between two
// stations, how many seats are left, and what a user has booked and paid.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ms-railway/internal/catalog"
	"ms-railway/internal/fare"
	"ms-railway/internal/inventory"
	"ms-railway/internal/logger"
	"ms-railway/internal/models"
	"ms-railway/internal/store"
)

var (
	ErrInvalidDate    = errors.New("date must be YYYY-MM-DD")
	ErrNotFound       = errors.New("not found")
	ErrNotOwner       = errors.New("ticket belongs to another user")
	ErrStorageFailure = errors.New("storage failure")
)

type Catalog interface {
	TrainsBetween(ctx context.Context, source, destination string) ([]catalog.Candidate, error)
	Schedule(ctx context.Context, trainNo string) (*models.Schedule, error)
	Classes(ctx context.Context, trainNo string) ([]models.ScheduleClass, error)
}

type Ledger interface {
	Available(ctx context.Context, key models.LedgerKey) (int, error)
}

type Store interface {
	GetTicket(ctx context.Context, pnr string) (*models.Ticket, error)
	SuccessfulPayment(ctx context.Context, pnr string) (*models.Payment, error)
	GetCancellation(ctx context.Context, pnr string) (*models.Cancellation, error)
	TicketsByUser(ctx context.Context, userID string) ([]*models.Ticket, error)
	PaymentsByUser(ctx context.Context, userID string) ([]*models.Payment, error)
}

type AvailabilityCache interface {
	Get(ctx context.Context, key models.LedgerKey) (int, bool, error)
	Set(ctx context.Context, key models.LedgerKey, available int) error
}

type Deps struct {
	Catalog Catalog
	Ledger  Ledger
	Store   Store
	Cache   AvailabilityCache
	Fare    fare.Func
	Log     *logger.Logger
}

type Service struct {
	catalog Catalog
	ledger  Ledger
	store   Store
	cache   AvailabilityCache
	fare    fare.Func
	log     *logger.Logger
	retry   inventory.RetryPolicy
	now     func() time.Time
}

func NewService(d Deps, retry inventory.RetryPolicy) *Service {
	s := &Service{
		catalog: d.Catalog,
		ledger:  d.Ledger,
		store:   d.Store,
		cache:   d.Cache,
		fare:    d.Fare,
		log:     d.Log,
		retry:   retry,
		now:     time.Now,
	}
	if s.fare == nil {
		s.fare = fare.Default()
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.retry.Attempts == 0 {
		s.retry = inventory.DefaultRetry
	}
	return s
}

// Search lists trains that call at source and then destination on date, with
// per class availability and the fare for one passenger.
func (s *Service) Search(ctx context.Context, source, destination, date string) ([]models.TrainOption, error) {
	day, err := catalog.ParseDate(date)
	if err != nil {
		return nil, ErrInvalidDate
	}
	source = strings.ToUpper(strings.TrimSpace(source))
	destination = strings.ToUpper(strings.TrimSpace(destination))
	travelDate := day.Format(models.DateLayout)

	candidates, err := read(ctx, s.retry, func() ([]catalog.Candidate, error) {
		return s.catalog.TrainsBetween(ctx, source, destination)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search trains: %v", ErrStorageFailure, err)
	}

	options := make([]models.TrainOption, 0, len(candidates))
	for _, c := range candidates {
		schedule, err := s.catalog.Schedule(ctx, c.Train.TrainNo)
		if err != nil {
			if errors.Is(err, catalog.ErrScheduleNotFound) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		if !catalog.RunsOn(schedule, day) {
			continue
		}

		classes, err := s.catalog.Classes(ctx, c.Train.TrainNo)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}

		opt := models.TrainOption{
			TrainNo:       c.Train.TrainNo,
			TrainName:     c.Train.Name,
			TrainType:     c.Train.Type,
			Source:        c.Leg.From.StationID,
			Destination:   c.Leg.To.StationID,
			DepartureTime: firstNonEmpty(c.Leg.From.DepartureTime, schedule.DepartureTime),
			ArrivalTime:   firstNonEmpty(c.Leg.To.ArrivalTime, schedule.ArrivalTime),
			DepartureDay:  c.Leg.FromDay,
			ArrivalDay:    c.Leg.ToDay,
			DistanceKm:    c.Leg.Segment.DistanceKm,
			TravelDate:    travelDate,
			Classes:       make([]models.ClassOption, 0, len(classes)),
		}
		for _, class := range classes {
			key := models.LedgerKey{TrainNo: c.Train.TrainNo, ClassID: class.ClassID, TravelDate: travelDate}
			available, err := s.available(ctx, key)
			if err != nil {
				return nil, err
			}
			opt.Classes = append(opt.Classes, models.ClassOption{
				ClassID:        class.ClassID,
				ClassName:      class.ClassName,
				AvailableSeats: available,
				FarePerSeat:    s.fare(c.Train.BaseFareMultiplier, class.Multiplier, c.Leg.Segment),
			})
		}
		options = append(options, opt)
	}

	s.log.Debug("QUERY", fmt.Sprintf("Search %s-%s on %s: %d trains", source, destination, travelDate, len(options)))
	return options, nil
}

// Availability reports seats left for one class on one date.
func (s *Service) Availability(ctx context.Context, trainNo, classID, date string) (*models.AvailabilityResponse, error) {
	day, err := catalog.ParseDate(date)
	if err != nil {
		return nil, ErrInvalidDate
	}
	key := models.LedgerKey{TrainNo: trainNo, ClassID: classID, TravelDate: day.Format(models.DateLayout)}

	n, err := s.available(ctx, key)
	if err != nil {
		return nil, err
	}
	return &models.AvailabilityResponse{
		TrainNo:        key.TrainNo,
		ClassID:        key.ClassID,
		TravelDate:     key.TravelDate,
		AvailableSeats: n,
		CheckedAt:      s.now().UTC(),
	}, nil
}

// available prefers a fresh cached count. Cache errors are logged and the
// ledger is read instead.
func (s *Service) available(ctx context.Context, key models.LedgerKey) (int, error) {
	if s.cache != nil {
		n, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn("QUERY", fmt.Sprintf("Availability cache read failed for %s: %v", key, err))
		} else if ok {
			return n, nil
		}
	}

	n, err := read(ctx, s.retry, func() (int, error) {
		n, err := s.ledger.Available(ctx, key)
		if errors.Is(err, inventory.ErrUnknownClass) {
			return 0, backoff.Permanent(err)
		}
		return n, err
	})
	if err != nil {
		if errors.Is(err, inventory.ErrUnknownClass) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return 0, fmt.Errorf("%w: availability %s: %v", ErrStorageFailure, key, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, n); err != nil {
			s.log.Warn("QUERY", fmt.Sprintf("Availability cache write failed for %s: %v", key, err))
		}
	}
	return n, nil
}

// Ticket returns a ticket with its passengers, payment and cancellation. Only
// the owner or an admin may see it.
func (s *Service) Ticket(ctx context.Context, pnr, userID string, role models.Role) (*models.TicketDetails, error) {
	ticket, err := read(ctx, s.retry, func() (*models.Ticket, error) {
		t, err := s.store.GetTicket(ctx, pnr)
		if errors.Is(err, store.ErrTicketNotFound) {
			return nil, backoff.Permanent(err)
		}
		return t, err
	})
	if err != nil {
		if errors.Is(err, store.ErrTicketNotFound) {
			return nil, fmt.Errorf("%w: ticket %s", ErrNotFound, pnr)
		}
		return nil, fmt.Errorf("%w: load ticket %s: %v", ErrStorageFailure, pnr, err)
	}
	if ticket.UserID != userID && role != models.RoleAdmin {
		return nil, ErrNotOwner
	}

	details := &models.TicketDetails{Ticket: ticket}
	if details.Payment, err = s.store.SuccessfulPayment(ctx, pnr); err != nil {
		return nil, fmt.Errorf("%w: load payment %s: %v", ErrStorageFailure, pnr, err)
	}
	if ticket.Status == models.TicketCancelled {
		if details.Cancellation, err = s.store.GetCancellation(ctx, pnr); err != nil {
			return nil, fmt.Errorf("%w: load cancellation %s: %v", ErrStorageFailure, pnr, err)
		}
	}
	return details, nil
}

func (s *Service) TicketsForUser(ctx context.Context, userID string) ([]*models.Ticket, error) {
	tickets, err := read(ctx, s.retry, func() ([]*models.Ticket, error) {
		return s.store.TicketsByUser(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list tickets: %v", ErrStorageFailure, err)
	}
	return tickets, nil
}

func (s *Service) PaymentsForUser(ctx context.Context, userID string) ([]*models.Payment, error) {
	payments, err := read(ctx, s.retry, func() ([]*models.Payment, error) {
		return s.store.PaymentsByUser(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list payments: %v", ErrStorageFailure, err)
	}
	return payments, nil
}

// read retries an idempotent lookup.
func read[T any](ctx context.Context, p inventory.RetryPolicy, fn func() (T, error)) (T, error) {
	return backoff.RetryWithData(fn, p.BackOff(ctx))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
