// Package testutil builds in-memory SQLite databases with a small railway network.
package testutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-railway/internal/models"
	"ms-railway/internal/store"
)

// NewDB opens a fresh in-memory database with the full schema. A single
// connection keeps every goroutine on the same in-memory database.
func NewDB(t testing.TB) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	require.NoError(t, store.CreateSchema(context.Background(), db))
	return db
}

// Network describes the seeded trains.
//
//	T001 Rajdhani, daily, NDLS(0) -> AGC(200) -> BPL(700) -> MMCT(1380)
//	     class 2A: one coach of Capacity2A seats, class 3A: 2 coaches of 10
//	T002 Shatabdi, Mon/Wed/Fri, BPL(0) -> AGC(500) -> NDLS(700)
//	     class CC: 1 coach of 20 seats
type Network struct {
	Capacity2A int
	Berths2A   []string
}

// Seed writes the network. TravelDate of berths is berthDate.
func Seed(t testing.TB, db bun.IDB, n Network, berthDate string) {
	t.Helper()
	ctx := context.Background()

	stations := []*models.Station{
		{StationID: "NDLS", Name: "New Delhi", City: "Delhi"},
		{StationID: "AGC", Name: "Agra Cantt", City: "Agra"},
		{StationID: "BPL", Name: "Bhopal Jn", City: "Bhopal"},
		{StationID: "MMCT", Name: "Mumbai Central", City: "Mumbai"},
	}
	trains := []*models.Train{
		{TrainNo: "T001", Name: "Rajdhani Express", Type: "Superfast", BaseFareMultiplier: 1.5, RouteID: "R1"},
		{TrainNo: "T002", Name: "Shatabdi Express", Type: "Express", BaseFareMultiplier: 1.2, RouteID: "R2"},
	}
	stops := []*models.RouteStation{
		{RouteID: "R1", StationID: "NDLS", StopOrder: 1, DistanceKm: 0, DepartureTime: "16:30"},
		{RouteID: "R1", StationID: "AGC", StopOrder: 2, DistanceKm: 200, ArrivalTime: "19:05", DepartureTime: "19:10"},
		{RouteID: "R1", StationID: "BPL", StopOrder: 3, DistanceKm: 700, ArrivalTime: "23:40", DepartureTime: "23:50"},
		{RouteID: "R1", StationID: "MMCT", StopOrder: 4, DistanceKm: 1380, ArrivalTime: "08:35"},
		{RouteID: "R2", StationID: "BPL", StopOrder: 1, DistanceKm: 0, DepartureTime: "15:00"},
		{RouteID: "R2", StationID: "AGC", StopOrder: 2, DistanceKm: 500, ArrivalTime: "20:00", DepartureTime: "20:05"},
		{RouteID: "R2", StationID: "NDLS", StopOrder: 3, DistanceKm: 700, ArrivalTime: "22:30"},
	}
	schedules := []*models.Schedule{
		{ScheduleID: "S001", TrainNo: "T001", DepartureTime: "16:30", ArrivalTime: "08:35", RunningDays: "Daily"},
		{ScheduleID: "S002", TrainNo: "T002", DepartureTime: "15:00", ArrivalTime: "22:30", RunningDays: "Mon,Wed,Fri"},
	}
	classes := []*models.ScheduleClass{
		{TrainNo: "T001", ClassID: "2A", ClassName: "AC 2 Tier", CoachType: "A", CoachCount: 1, SeatsPerCoach: n.Capacity2A, Multiplier: 2.0},
		{TrainNo: "T001", ClassID: "3A", ClassName: "AC 3 Tier", CoachType: "B", CoachCount: 2, SeatsPerCoach: 10, Multiplier: 1.5},
		{TrainNo: "T002", ClassID: "CC", ClassName: "AC Chair Car", CoachType: "C", CoachCount: 1, SeatsPerCoach: 20, Multiplier: 1.2},
	}

	for _, rows := range []interface{}{&stations, &trains, &stops, &schedules, &classes} {
		_, err := db.NewInsert().Model(rows).Exec(ctx)
		require.NoError(t, err)
	}

	if len(n.Berths2A) > 0 {
		berths := make([]*models.Berth, 0, len(n.Berths2A))
		for i, label := range n.Berths2A {
			berths = append(berths, &models.Berth{
				BerthID:    fmt.Sprintf("B2A-%s-%02d", berthDate, i+1),
				TrainNo:    "T001",
				ClassID:    "2A",
				TravelDate: berthDate,
				Label:      label,
				Status:     models.BerthAvailable,
			})
		}
		require.NoError(t, store.New(db).CreateBerths(ctx, berths))
	}
}

// Available reads the raw ledger row, or -1 when it has not been materialized.
func Available(t testing.TB, db bun.IDB, key models.LedgerKey) int {
	t.Helper()
	var row models.SeatAvailability
	err := db.NewSelect().
		Model(&row).
		Where("train_no = ?", key.TrainNo).
		Where("class_id = ?", key.ClassID).
		Where("travel_date = ?", key.TravelDate).
		Scan(context.Background())
	if errors.Is(err, sql.ErrNoRows) {
		return -1
	}
	require.NoError(t, err)
	return row.AvailableSeats
}
