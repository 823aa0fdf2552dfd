package models

import (
	"github.com/uptrace/bun"
)

type Station struct {
	bun.BaseModel `bun:"table:stations"`

	StationID string `bun:"station_id,pk" json:"station_id"`
	Name      string `bun:"station_name,notnull" json:"name"`
	City      string `bun:"city" json:"city"`
}

type Train struct {
	bun.BaseModel `bun:"table:trains"`

	TrainNo            string  `bun:"train_no,pk" json:"train_no"`
	Name               string  `bun:"train_name,notnull" json:"name"`
	Type               string  `bun:"train_type" json:"type"`
	BaseFareMultiplier float64 `bun:"base_fare_multiplier,notnull" json:"base_fare_multiplier"`
	RouteID            string  `bun:"route_id,notnull" json:"route_id"`
}

// RouteStation is one stop on a route. DistanceKm is measured from the origin.
type RouteStation struct {
	bun.BaseModel `bun:"table:route_stations"`

	RouteID       string  `bun:"route_id,pk" json:"route_id"`
	StationID     string  `bun:"station_id,pk" json:"station_id"`
	StopOrder     int     `bun:"stop_order,notnull" json:"stop_order"`
	DistanceKm    float64 `bun:"distance_km,notnull" json:"distance_km"`
	ArrivalTime   string  `bun:"arrival_time" json:"arrival_time,omitempty"`
	DepartureTime string  `bun:"departure_time" json:"departure_time,omitempty"`
}

// Schedule holds the running days of a train, either "Daily" or a list like "Mon,Wed,Fri".
type Schedule struct {
	bun.BaseModel `bun:"table:schedules"`

	ScheduleID    string `bun:"schedule_id,pk" json:"schedule_id"`
	TrainNo       string `bun:"train_no,notnull" json:"train_no"`
	DepartureTime string `bun:"departure_time,notnull" json:"departure_time"`
	ArrivalTime   string `bun:"arrival_time" json:"arrival_time"`
	RunningDays   string `bun:"running_days,notnull" json:"running_days"`
}

// ScheduleClass is a coach class offered on a train.
type ScheduleClass struct {
	bun.BaseModel `bun:"table:train_classes"`

	TrainNo       string  `bun:"train_no,pk" json:"train_no"`
	ClassID       string  `bun:"class_id,pk" json:"class_id"`
	ClassName     string  `bun:"class_name" json:"class_name"`
	CoachType     string  `bun:"coach_type" json:"coach_type"`
	CoachCount    int     `bun:"coach_count,notnull" json:"coach_count"`
	SeatsPerCoach int     `bun:"seats_per_coach,notnull" json:"seats_per_coach"`
	Multiplier    float64 `bun:"class_multiplier,notnull" json:"class_multiplier"`
}

// Capacity is the nominal seat count per travel date.
func (c *ScheduleClass) Capacity() int {
	return c.CoachCount * c.SeatsPerCoach
}
