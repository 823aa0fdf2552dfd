// Command migrate prepares a Postgres database for the reservation service.
//
// By default it applies the SQL migrations. With -models the schema is built
// straight from the bun models instead, which is handy for throwaway databases.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-railway/internal/config"
	"ms-railway/internal/database/migrations"
	"ms-railway/internal/logger"
	"ms-railway/internal/models"
	"ms-railway/internal/store"
)

func main() {
	drop := flag.Bool("drop", false, "drop everything first")
	seed := flag.Bool("seed", false, "load the demo network")
	fromModels := flag.Bool("models", false, "create tables from the bun models instead of the SQL files")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.NewWithWriter(os.Stdout)

	ctx := context.Background()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN())))
	defer sqldb.Close()
	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to database: %v", err))
	}
	db := bun.NewDB(sqldb, pgdialect.New())

	if *fromModels {
		if err := bootstrap(ctx, db, *drop, *seed, log); err != nil {
			log.Fatal("MIGRATION", err.Error())
		}
		log.Info("MIGRATION", "Done")
		return
	}

	migCfg := cfg.Migration
	migCfg.Seed = *seed
	runner := migrations.NewRunner(db, migCfg, log)
	defer runner.Close()
	if *drop {
		if err := runner.Down(); err != nil {
			log.Fatal("MIGRATION", err.Error())
		}
	}
	if err := runner.Run(); err != nil {
		log.Fatal("MIGRATION", err.Error())
	}
	log.Info("MIGRATION", "Done")
}

func bootstrap(ctx context.Context, db *bun.DB, drop, seed bool, log *logger.Logger) error {
	if drop {
		log.Info("MIGRATION", "Dropping tables")
		if err := store.DropSchema(ctx, db); err != nil {
			return fmt.Errorf("drop schema: %w", err)
		}
	}
	log.Info("MIGRATION", "Creating tables")
	if err := store.CreateSchema(ctx, db); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if !seed {
		return nil
	}

	log.Info("MIGRATION", "Seeding demo network")
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		rows := []interface{}{
			&[]models.Station{
				{StationID: "NDLS", Name: "New Delhi", City: "Delhi"},
				{StationID: "AGC", Name: "Agra Cantt", City: "Agra"},
				{StationID: "BPL", Name: "Bhopal Jn", City: "Bhopal"},
			},
			&models.Train{TrainNo: "12002", Name: "Bhopal Shatabdi", Type: "Shatabdi", BaseFareMultiplier: 1.2, RouteID: "R12002"},
			&[]models.RouteStation{
				{RouteID: "R12002", StationID: "NDLS", StopOrder: 1, DistanceKm: 0, DepartureTime: "06:00"},
				{RouteID: "R12002", StationID: "AGC", StopOrder: 2, DistanceKm: 195, ArrivalTime: "07:50", DepartureTime: "07:55"},
				{RouteID: "R12002", StationID: "BPL", StopOrder: 3, DistanceKm: 701, ArrivalTime: "14:40"},
			},
			&models.Schedule{ScheduleID: "S12002", TrainNo: "12002", DepartureTime: "06:00", ArrivalTime: "14:40", RunningDays: "Daily"},
			&[]models.ScheduleClass{
				{TrainNo: "12002", ClassID: "EC", ClassName: "Executive Chair", CoachType: "E", CoachCount: 2, SeatsPerCoach: 56, Multiplier: 2.2},
				{TrainNo: "12002", ClassID: "CC", ClassName: "AC Chair Car", CoachType: "C", CoachCount: 10, SeatsPerCoach: 78, Multiplier: 1.2},
			},
		}
		for _, m := range rows {
			if _, err := tx.NewInsert().Model(m).Ignore().Exec(ctx); err != nil {
				return fmt.Errorf("seed %T: %w", m, err)
			}
		}
		return nil
	})
}
