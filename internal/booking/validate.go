package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ms-railway/internal/catalog"
	"ms-railway/internal/models"
)

const (
	MaxPassengers = 10
	maxAge        = 125
)

var genders = map[string]string{
	"M": "M", "MALE": "M",
	"F": "F", "FEMALE": "F",
	"O": "O", "OTHER": "O",
}

// plan is a validated request with everything pricing and persistence need.
type plan struct {
	train *models.Train
	class *models.ScheduleClass
	leg   *catalog.Leg
	key   models.LedgerKey
}

func (m *Manager) validate(ctx context.Context, req *models.BookingRequest) (*plan, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, newError(ReasonInvalidRequest, "user is required", nil)
	}
	if err := normalizePassengers(req.Passengers); err != nil {
		return nil, err
	}

	source := strings.ToUpper(strings.TrimSpace(req.Source))
	destination := strings.ToUpper(strings.TrimSpace(req.Destination))
	if source == "" || destination == "" {
		return nil, newError(ReasonInvalidRoute, "source and destination are required", nil)
	}
	if source == destination {
		return nil, newError(ReasonInvalidRoute, "source and destination must differ", nil)
	}
	req.Source, req.Destination = source, destination

	date, err := catalog.ParseDate(req.TravelDate)
	if err != nil {
		return nil, newError(ReasonInvalidSchedule, "travel date must be YYYY-MM-DD", err)
	}
	today := m.now().In(m.loc).Format(models.DateLayout)
	if date.Format(models.DateLayout) < today {
		return nil, newError(ReasonInvalidSchedule, "travel date is in the past", nil)
	}

	train, err := m.catalog.Train(ctx, req.TrainNo)
	if err != nil {
		return nil, catalogError(err, "train")
	}
	class, err := m.catalog.Class(ctx, train.TrainNo, req.ClassID)
	if err != nil {
		return nil, catalogError(err, "class")
	}
	schedule, err := m.catalog.Schedule(ctx, train.TrainNo)
	if err != nil {
		return nil, catalogError(err, "schedule")
	}
	if !catalog.RunsOn(schedule, date) {
		return nil, newError(ReasonInvalidSchedule,
			fmt.Sprintf("train %s does not run on %s", train.TrainNo, date.Weekday()), nil)
	}

	leg, err := m.catalog.Leg(ctx, train.RouteID, source, destination)
	if err != nil {
		return nil, catalogError(err, "route")
	}

	return &plan{
		train: train,
		class: class,
		leg:   leg,
		key: models.LedgerKey{
			TrainNo:    train.TrainNo,
			ClassID:    class.ClassID,
			TravelDate: date.Format(models.DateLayout),
		},
	}, nil
}

func normalizePassengers(ps []models.PassengerInfo) error {
	if len(ps) == 0 {
		return newError(ReasonInvalidRequest, "at least one passenger is required", nil)
	}
	if len(ps) > MaxPassengers {
		return newError(ReasonInvalidRequest, fmt.Sprintf("at most %d passengers per ticket", MaxPassengers), nil)
	}
	for i := range ps {
		p := &ps[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return newError(ReasonInvalidRequest, fmt.Sprintf("passenger %d: name is required", i+1), nil)
		}
		if p.Age < 0 || p.Age > maxAge {
			return newError(ReasonInvalidRequest, fmt.Sprintf("passenger %d: age out of range", i+1), nil)
		}
		g, ok := genders[strings.ToUpper(strings.TrimSpace(p.Gender))]
		if !ok {
			return newError(ReasonInvalidRequest, fmt.Sprintf("passenger %d: gender must be M, F or O", i+1), nil)
		}
		p.Gender = g
		p.BerthPreference = strings.ToUpper(strings.TrimSpace(p.BerthPreference))
	}
	return nil
}

func catalogError(err error, what string) error {
	switch {
	case errors.Is(err, catalog.ErrTrainNotFound),
		errors.Is(err, catalog.ErrClassNotFound),
		errors.Is(err, catalog.ErrScheduleNotFound):
		return newError(ReasonInvalidSchedule, what+" not found", err)
	case errors.Is(err, catalog.ErrStationNotOnRoute),
		errors.Is(err, catalog.ErrWrongDirection):
		return newError(ReasonInvalidRoute, "stations do not form a journey on this train", err)
	default:
		return newError(ReasonStorageFailure, "could not load "+what, err)
	}
}
