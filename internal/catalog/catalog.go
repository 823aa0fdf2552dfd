// Package catalog reads trains, classes, schedules and routes. These rows belong
// to the administrative side of the system; reservations only read them.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"ms-railway/internal/fare"
	"ms-railway/internal/models"
)

var (
	ErrTrainNotFound     = errors.New("train not found")
	ErrClassNotFound     = errors.New("class not offered on this train")
	ErrScheduleNotFound  = errors.New("train has no schedule")
	ErrStationNotOnRoute = errors.New("station is not on the train's route")
	ErrWrongDirection    = errors.New("destination comes before source on this route")
)

// Leg is the boarding and alighting stops of a journey plus the priced segment.
// FromDay and ToDay count days after the origin's departure date.
type Leg struct {
	From    models.RouteStation
	To      models.RouteStation
	FromDay int
	ToDay   int
	Segment fare.Segment
}

type Catalog struct {
	db bun.IDB
}

func New(db bun.IDB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) Train(ctx context.Context, trainNo string) (*models.Train, error) {
	var train models.Train
	err := c.db.NewSelect().Model(&train).Where("train_no = ?", trainNo).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTrainNotFound
		}
		return nil, fmt.Errorf("load train %s: %w", trainNo, err)
	}
	return &train, nil
}

func (c *Catalog) Class(ctx context.Context, trainNo, classID string) (*models.ScheduleClass, error) {
	var class models.ScheduleClass
	err := c.db.NewSelect().
		Model(&class).
		Where("train_no = ?", trainNo).
		Where("class_id = ?", classID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClassNotFound
		}
		return nil, fmt.Errorf("load class %s/%s: %w", trainNo, classID, err)
	}
	return &class, nil
}

func (c *Catalog) Classes(ctx context.Context, trainNo string) ([]models.ScheduleClass, error) {
	var classes []models.ScheduleClass
	err := c.db.NewSelect().
		Model(&classes).
		Where("train_no = ?", trainNo).
		OrderExpr("class_multiplier DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load classes for %s: %w", trainNo, err)
	}
	return classes, nil
}

func (c *Catalog) Schedule(ctx context.Context, trainNo string) (*models.Schedule, error) {
	var s models.Schedule
	err := c.db.NewSelect().Model(&s).Where("train_no = ?", trainNo).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("load schedule for %s: %w", trainNo, err)
	}
	return &s, nil
}

// Stops returns the route in travel order.
func (c *Catalog) Stops(ctx context.Context, routeID string) ([]models.RouteStation, error) {
	var stops []models.RouteStation
	err := c.db.NewSelect().
		Model(&stops).
		Where("route_id = ?", routeID).
		OrderExpr("stop_order ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load route %s: %w", routeID, err)
	}
	return stops, nil
}

// Leg resolves source and destination on a route.
func (c *Catalog) Leg(ctx context.Context, routeID, source, destination string) (*Leg, error) {
	stops, err := c.Stops(ctx, routeID)
	if err != nil {
		return nil, err
	}
	return LegOf(stops, source, destination)
}

// LegOf finds the leg in an ordered list of stops.
func LegOf(stops []models.RouteStation, source, destination string) (*Leg, error) {
	from, to := -1, -1
	for i, s := range stops {
		if strings.EqualFold(s.StationID, source) {
			from = i
		}
		if strings.EqualFold(s.StationID, destination) {
			to = i
		}
	}
	if from < 0 || to < 0 {
		return nil, ErrStationNotOnRoute
	}
	if from >= to {
		return nil, ErrWrongDirection
	}

	a, b := stops[from], stops[to]
	days := StopDays(stops)
	return &Leg{
		From:    a,
		To:      b,
		FromDay: days[from].Departure,
		ToDay:   days[to].Arrival,
		Segment: fare.Segment{
			DistanceKm: b.DistanceKm - a.DistanceKm,
			Legs:       b.StopOrder - a.StopOrder,
		},
	}, nil
}

// Candidate is a train that serves a station pair in the right order.
type Candidate struct {
	Train models.Train
	Leg   Leg
}

// TrainsBetween lists trains stopping at source and then destination. An empty
// source or destination matches any stop on that side.
func (c *Catalog) TrainsBetween(ctx context.Context, source, destination string) ([]Candidate, error) {
	var trains []models.Train
	if err := c.db.NewSelect().Model(&trains).OrderExpr("train_no ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("load trains: %w", err)
	}

	var out []Candidate
	for _, train := range trains {
		stops, err := c.Stops(ctx, train.RouteID)
		if err != nil {
			return nil, err
		}
		if len(stops) < 2 {
			continue
		}
		src, dst := source, destination
		if src == "" {
			src = stops[0].StationID
		}
		if dst == "" {
			dst = stops[len(stops)-1].StationID
		}
		leg, err := LegOf(stops, src, dst)
		if err != nil {
			continue
		}
		out = append(out, Candidate{Train: train, Leg: *leg})
	}
	return out, nil
}

// StopDay is how many days after leaving its origin a train reaches and
// leaves a stop.
type StopDay struct {
	Arrival   int
	Departure int
}

// StopDays walks an ordered route and moves to the next day whenever a
// time is earlier than the one before it. Stops are expected less than a
// day apart.
func StopDays(stops []models.RouteStation) []StopDay {
	out := make([]StopDay, len(stops))
	day, last := 0, -1
	tick := func(hhmm string) int {
		t, err := time.Parse("15:04", hhmm)
		if err != nil {
			return day
		}
		m := t.Hour()*60 + t.Minute()
		if last >= 0 && m < last {
			day++
		}
		last = m
		return day
	}
	for i, s := range stops {
		out[i].Arrival = tick(s.ArrivalTime)
		out[i].Departure = tick(s.DepartureTime)
	}
	return out
}

// Departure is the instant the train leaves station when it starts its run
// on date. The stop's own departure time wins over the schedule's origin
// time, and a stop reached after midnight falls on a later day.
func (c *Catalog) Departure(ctx context.Context, train *models.Train, station, date string, loc *time.Location) (time.Time, error) {
	hhmm, offset := "", 0
	stops, err := c.Stops(ctx, train.RouteID)
	if err != nil {
		return time.Time{}, err
	}
	days := StopDays(stops)
	for i, s := range stops {
		if strings.EqualFold(s.StationID, station) {
			hhmm, offset = s.DepartureTime, days[i].Departure
			break
		}
	}
	if hhmm == "" {
		schedule, err := c.Schedule(ctx, train.TrainNo)
		if err != nil {
			return time.Time{}, err
		}
		hhmm, offset = schedule.DepartureTime, 0
	}
	at, err := combine(date, hhmm, loc)
	if err != nil {
		return time.Time{}, err
	}
	return at.AddDate(0, 0, offset), nil
}

func combine(date, hhmm string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if hhmm == "" {
		hhmm = "00:00"
	}
	t, err := time.ParseInLocation(models.DateLayout+" 15:04", date+" "+hhmm, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse departure %s %s: %w", date, hhmm, err)
	}
	return t, nil
}
